// internal/data/parser.go
package data

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Keys that identify the reporting device, in lookup order.
var deviceIDKeys = []string{"deviceId", "device_id", "sensor_id", "device"}

// Keys of flat payloads that never carry a metric value.
var envelopeKeys = map[string]bool{
	"deviceId":  true,
	"device_id": true,
	"sensor_id": true,
	"device":    true,
	"timestamp": true,
	"topic":     true,
	"source":    true,
	"name":      true,
	"location":  true,
	"metrics":   true,
}

// timestampLayouts are tried in order for string timestamps.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02 15:04:05",
}

// Parse decodes a raw payload into a Reading.
//
// Two shapes are accepted: nested payloads carrying a "metrics" object, and the
// flat payloads emitted by simple sensors where every non-envelope key is a
// metric. Metric values may be numbers, numeric strings or {"value": n} objects.
// A missing or malformed timestamp is left zero; the engine substitutes the
// ingestion time.
func Parse(raw []byte) (*Reading, error) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &ValidationError{Reason: "payload is not a JSON object: " + err.Error()}
	}

	r := &Reading{Metrics: make(map[string]float64)}
	for _, key := range deviceIDKeys {
		if id, ok := payload[key].(string); ok && strings.TrimSpace(id) != "" {
			r.DeviceID = id
			break
		}
	}
	r.Timestamp = parseTimestamp(payload["timestamp"])

	if nested, ok := payload["metrics"].(map[string]any); ok {
		for name, v := range nested {
			f, err := metricValue(name, v)
			if err != nil {
				return nil, err
			}
			r.Metrics[name] = f
		}
	} else {
		for name, v := range payload {
			if envelopeKeys[name] {
				continue
			}
			f, err := metricValue(name, v)
			if err != nil {
				return nil, err
			}
			r.Metrics[name] = f
		}
	}

	if err := Validate(r); err != nil {
		return nil, err
	}
	return r, nil
}

func metricValue(name string, v any) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, &ValidationError{Field: "metrics." + name, Reason: "is not numeric"}
		}
		return f, nil
	case map[string]any:
		if inner, ok := val["value"]; ok {
			return metricValue(name, inner)
		}
	}
	return 0, &ValidationError{Field: "metrics." + name, Reason: "is not numeric"}
}

func parseTimestamp(v any) time.Time {
	switch ts := v.(type) {
	case string:
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, ts); err == nil {
				return t
			}
		}
	case float64:
		// Epoch milliseconds, as produced by Date.now() style clients.
		if ts > 0 {
			return time.UnixMilli(int64(ts)).UTC()
		}
	}
	return time.Time{}
}
