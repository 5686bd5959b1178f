// internal/storage/window.go
package storage

import (
	"sync/atomic"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/rs/zerolog/log"

	"iot-telemetry-gateway/internal/data"
)

const DefaultWindowCapacity = 48 // one reading per ~30 min over 24h

var strictInvariants atomic.Bool

// SetStrictInvariants makes invariant violations panic instead of self-healing.
// Non-production builds turn this on.
func SetStrictInvariants(strict bool) {
	strictInvariants.Store(strict)
}

// RollingWindow is a fixed-capacity FIFO of (timestamp, value) points.
//
// Values occupy values[:count] in ring order; mean and standard deviation do
// not depend on order so they are computed over that slice directly.
// RollingWindow is not safe for concurrent use.
type RollingWindow struct {
	values []float64
	stamps []time.Time
	next   int // slot written by the next Push
	count  int
}

// NewRollingWindow returns an empty window holding at most capacity points.
func NewRollingWindow(capacity int) *RollingWindow {
	if capacity <= 0 {
		capacity = DefaultWindowCapacity
	}
	return &RollingWindow{
		values: make([]float64, capacity),
		stamps: make([]time.Time, capacity),
	}
}

// Push appends a point, evicting the oldest one when the window is full.
func (w *RollingWindow) Push(ts time.Time, value float64) {
	w.values[w.next] = value
	w.stamps[w.next] = ts
	w.next = (w.next + 1) % len(w.values)
	if w.count < len(w.values) {
		w.count++
	}
	w.checkBound()
}

func (w *RollingWindow) checkBound() {
	if w.count <= len(w.values) {
		return
	}
	if strictInvariants.Load() {
		panic("storage: rolling window length exceeds capacity")
	}
	log.Error().Int("len", w.count).Int("cap", len(w.values)).Msg("Rolling window overflow, truncating")
	w.count = len(w.values)
}

func (w *RollingWindow) Len() int { return w.count }

func (w *RollingWindow) Cap() int { return len(w.values) }

// Mean is the arithmetic mean of the window, or 0 when empty.
func (w *RollingWindow) Mean() float64 {
	if w.count == 0 {
		return 0
	}
	m, err := stats.Mean(w.values[:w.count])
	if err != nil {
		return 0
	}
	return m
}

// StdDev is the sample standard deviation with denominator max(count-1, 1),
// so a single-point window reports 0.
func (w *RollingWindow) StdDev() float64 {
	if w.count < 2 {
		return 0
	}
	sd, err := stats.StandardDeviationSample(w.values[:w.count])
	if err != nil {
		return 0
	}
	return sd
}

// Latest returns the most recently pushed value.
func (w *RollingWindow) Latest() (float64, bool) {
	return w.at(1)
}

// Previous returns the value pushed before Latest.
func (w *RollingWindow) Previous() (float64, bool) {
	return w.at(2)
}

// at returns the n-th newest value, 1-based.
func (w *RollingWindow) at(n int) (float64, bool) {
	if n > w.count {
		return 0, false
	}
	idx := (w.next - n + len(w.values)) % len(w.values)
	return w.values[idx], true
}

// Points copies the window contents, oldest first.
func (w *RollingWindow) Points() []data.Point {
	out := make([]data.Point, w.count)
	start := (w.next - w.count + len(w.values)) % len(w.values)
	for i := 0; i < w.count; i++ {
		idx := (start + i) % len(w.values)
		out[i] = data.Point{Timestamp: w.stamps[idx], Value: w.values[idx]}
	}
	return out
}
