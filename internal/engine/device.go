package engine

import (
	"container/list"
	"math"
	"time"

	"iot-telemetry-gateway/internal/data"
	"iot-telemetry-gateway/internal/storage"
)

// deviceState is the mutable record of one device. It is only touched while
// the engine's write lock is held; readers get the immutable view instead.
type deviceState struct {
	id       string
	lastSeen time.Time
	windows  map[string]*storage.RollingWindow
	view     *data.DeviceView
	lru      *list.Element
}

func newDeviceState(id string) *deviceState {
	return &deviceState{
		id:      id,
		windows: make(map[string]*storage.RollingWindow),
	}
}

func (d *deviceState) window(metric string, capacity int) *storage.RollingWindow {
	w, ok := d.windows[metric]
	if !ok {
		w = storage.NewRollingWindow(capacity)
		d.windows[metric] = w
	}
	return w
}

// summaries returns a fresh copy of the current summaries, ready to be
// modified and published in the next view.
func (d *deviceState) summaries() map[string]data.MetricSummary {
	if d.view == nil {
		return make(map[string]data.MetricSummary)
	}
	out := make(map[string]data.MetricSummary, len(d.view.Metrics)+1)
	for k, v := range d.view.Metrics {
		out[k] = v
	}
	return out
}

func (d *deviceState) publish(readingTime time.Time, metrics map[string]data.MetricSummary) {
	d.view = &data.DeviceView{
		DeviceID:  d.id,
		Timestamp: readingTime,
		LastSeen:  d.lastSeen,
		Metrics:   metrics,
	}
}

// summarize never publishes a non-finite number; snapshots must always
// encode as JSON.
func summarize(w *storage.RollingWindow) data.MetricSummary {
	current, _ := w.Latest()
	s := data.MetricSummary{
		Value:   finite(current),
		Average: finite(w.Mean()),
		StdDev:  finite(w.StdDev()),
		Samples: w.Len(),
	}
	if prev, ok := w.Previous(); ok {
		s.Trend = finite(current - prev)
	}
	return s
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
