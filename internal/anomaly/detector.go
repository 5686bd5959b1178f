// internal/anomaly/detector.go
package anomaly

import (
	"math"
	"strings"

	"iot-telemetry-gateway/internal/config"
	"iot-telemetry-gateway/internal/data"
)

const DefaultStdDevs = 3.0

type Direction string

const (
	DirectionNone Direction = "none"
	DirectionHigh Direction = "high"
	DirectionLow  Direction = "low"
)

// Stats is the view of a rolling window the detector needs.
type Stats interface {
	Len() int
	Mean() float64
	StdDev() float64
}

// Result is the outcome of a statistical evaluation.
type Result struct {
	IsAnomaly bool
	Direction Direction
}

// Evaluate classifies value against the window. It is anomalous when the window
// holds at least two samples and |value-mean| > thresholdStdDevs*stdDev.
func Evaluate(value float64, stats Stats, thresholdStdDevs float64) Result {
	if stats == nil || stats.Len() < 2 {
		return Result{Direction: DirectionNone}
	}
	mean := stats.Mean()
	if math.Abs(value-mean) <= thresholdStdDevs*stats.StdDev() {
		return Result{Direction: DirectionNone}
	}
	if value > mean {
		return Result{IsAnomaly: true, Direction: DirectionHigh}
	}
	return Result{IsAnomaly: true, Direction: DirectionLow}
}

// Finding is one rule breach for one metric value.
type Finding struct {
	Kind      data.AlertKind
	Severity  data.Severity
	Direction Direction
	Limit     float64 // breached bound, or the std-dev threshold for statistical findings
}

type rule struct {
	statistical bool
	stdDevs     float64
	min, max    *float64
	severity    data.Severity
	lowKind     data.AlertKind
	highKind    data.AlertKind
}

type Detector struct {
	stdDevs float64
	rules   map[string]rule
}

func NewDetector(cfg config.AnomalyConfig) *Detector {
	d := &Detector{
		stdDevs: cfg.StdDevs,
		rules:   make(map[string]rule, len(cfg.Rules)),
	}
	if d.stdDevs <= 0 {
		d.stdDevs = DefaultStdDevs
	}
	for name, r := range cfg.Rules {
		compiled := rule{
			statistical: r.Statistical,
			stdDevs:     r.StdDevs,
			min:         r.Min,
			max:         r.Max,
			severity:    data.Severity(strings.ToLower(r.Severity)),
			lowKind:     data.AlertKind(strings.ToUpper(r.LowKind)),
			highKind:    data.AlertKind(strings.ToUpper(r.HighKind)),
		}
		if compiled.stdDevs <= 0 {
			compiled.stdDevs = d.stdDevs
		}
		if !compiled.severity.Valid() {
			compiled.severity = data.SeverityWarning
		}
		if !compiled.lowKind.Valid() {
			compiled.lowKind = data.KindThresholdLow
		}
		if !compiled.highKind.Valid() {
			compiled.highKind = data.KindThresholdHigh
		}
		d.rules[strings.ToLower(name)] = compiled
	}
	return d
}

// Check runs every rule configured for metric. Statistical and absolute
// findings are independent; both are returned when both fire.
func (d *Detector) Check(metric string, value float64, stats Stats) []Finding {
	r, ok := d.rules[strings.ToLower(metric)]
	if !ok {
		return nil
	}

	var findings []Finding
	if r.statistical {
		if res := Evaluate(value, stats, r.stdDevs); res.IsAnomaly {
			findings = append(findings, Finding{
				Kind:      data.KindStatisticalAnomaly,
				Severity:  data.SeverityWarning,
				Direction: res.Direction,
				Limit:     r.stdDevs,
			})
		}
	}
	if r.max != nil && value > *r.max {
		findings = append(findings, Finding{Kind: r.highKind, Severity: r.severity, Direction: DirectionHigh, Limit: *r.max})
	}
	if r.min != nil && value < *r.min {
		findings = append(findings, Finding{Kind: r.lowKind, Severity: r.severity, Direction: DirectionLow, Limit: *r.min})
	}
	return findings
}
