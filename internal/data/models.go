// internal/data/models.go
package data

import "time"

// Reading is one timestamped set of metric values reported by a device.
type Reading struct {
	DeviceID  string             `json:"deviceId" validate:"required,max=128"`
	Timestamp time.Time          `json:"timestamp"`
	Metrics   map[string]float64 `json:"metrics" validate:"required,min=1,dive,keys,required,endkeys"`
}

// Point is a single sample held in a rolling window.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// MetricSummary is the derived view of one metric of one device.
type MetricSummary struct {
	Value   float64 `json:"value"`
	Average float64 `json:"average"`
	StdDev  float64 `json:"stdDev"`
	Trend   float64 `json:"trend"` // current - previous
	Anomaly bool    `json:"anomaly"`
	Samples int     `json:"samples"`
}

type DeviceStatus string

const (
	StatusOnline DeviceStatus = "online"
	StatusStale  DeviceStatus = "stale"
)

// DeviceView is an immutable copy of a device's state. Views handed out by the
// engine share their Metrics map with other views and must not be modified.
type DeviceView struct {
	DeviceID  string                   `json:"deviceId"`
	Timestamp time.Time                `json:"timestamp"` // timestamp of the latest reading
	LastSeen  time.Time                `json:"lastSeen"`  // ingestion time of the latest reading
	Status    DeviceStatus             `json:"status,omitempty"`
	Metrics   map[string]MetricSummary `json:"metrics"`
}

type AlertKind string

const (
	KindThresholdHigh      AlertKind = "THRESHOLD_HIGH"
	KindThresholdLow       AlertKind = "THRESHOLD_LOW"
	KindStatisticalAnomaly AlertKind = "STATISTICAL_ANOMALY"
	KindBatteryLow         AlertKind = "BATTERY_LOW"
)

// Valid reports whether k is one of the known alert kinds.
func (k AlertKind) Valid() bool {
	switch k {
	case KindThresholdHigh, KindThresholdLow, KindStatisticalAnomaly, KindBatteryLow:
		return true
	}
	return false
}

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityDanger  Severity = "danger"
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityDanger:
		return true
	}
	return false
}

// Alert is emitted when a reading breaches a statistical or absolute rule.
// Alerts are immutable once created.
type Alert struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"deviceId"`
	Metric    string    `json:"metric"`
	Kind      AlertKind `json:"kind"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Average   float64   `json:"average"`
	StdDev    float64   `json:"stdDev"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is a point-in-time view of all devices and the most recent alerts.
type Snapshot struct {
	GeneratedAt time.Time    `json:"timestamp"`
	Devices     []DeviceView `json:"devices"`
	Alerts      []Alert      `json:"alerts"`
}
