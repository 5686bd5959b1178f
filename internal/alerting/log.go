package alerting

import (
	"time"

	"iot-telemetry-gateway/internal/data"
)

const (
	DefaultLogCapacity = 100
	DefaultCooldown    = 60 * time.Second
)

type dedupKey struct {
	deviceID string
	kind     data.AlertKind
}

// Log is a bounded ring of alerts, newest first. Repeated alerts of the same
// kind for the same device within the cool-down are suppressed.
//
// Log is not safe for concurrent use; the engine serializes access so dedup
// bookkeeping and the append happen in one critical section.
type Log struct {
	entries   []data.Alert
	next      int
	size      int
	cooldown  time.Duration
	lastFired map[dedupKey]time.Time
}

func NewLog(capacity int, cooldown time.Duration) *Log {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	if cooldown < 0 {
		cooldown = 0
	}
	return &Log{
		entries:   make([]data.Alert, capacity),
		cooldown:  cooldown,
		lastFired: make(map[dedupKey]time.Time),
	}
}

// Append stores alert at the head, evicting the oldest entry when full.
// It returns false when the alert is suppressed by the cool-down, that is
// when it lies less than one cool-down before or after the last emitted alert
// of the same kind for the device. A device clock that jumps back further
// than that starts a fresh cool-down.
func (l *Log) Append(alert data.Alert) bool {
	key := dedupKey{deviceID: alert.DeviceID, kind: alert.Kind}
	if last, ok := l.lastFired[key]; ok {
		if d := alert.Timestamp.Sub(last); d > -l.cooldown && d < l.cooldown {
			return false
		}
	}
	l.lastFired[key] = alert.Timestamp

	l.entries[l.next] = alert
	l.next = (l.next + 1) % len(l.entries)
	if l.size < len(l.entries) {
		l.size++
	}
	return true
}

// Recent returns up to k alerts, newest first.
func (l *Log) Recent(k int) []data.Alert {
	if k <= 0 || k > l.size {
		k = l.size
	}
	out := make([]data.Alert, k)
	for i := 0; i < k; i++ {
		idx := (l.next - 1 - i + len(l.entries)) % len(l.entries)
		out[i] = l.entries[idx]
	}
	return out
}

func (l *Log) Len() int { return l.size }

func (l *Log) Cap() int { return len(l.entries) }

// Forget drops the dedup state of a device that is no longer tracked.
func (l *Log) Forget(deviceID string) {
	for key := range l.lastFired {
		if key.deviceID == deviceID {
			delete(l.lastFired, key)
		}
	}
}
