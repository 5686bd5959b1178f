package engine

import (
	"container/list"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"iot-telemetry-gateway/internal/alerting"
	"iot-telemetry-gateway/internal/anomaly"
	"iot-telemetry-gateway/internal/config"
	"iot-telemetry-gateway/internal/data"
	"iot-telemetry-gateway/internal/metrics"
	"iot-telemetry-gateway/internal/storage"
)

const (
	DefaultSnapshotAlerts = 20
	DefaultStaleAfter     = 2 * time.Minute
)

// AlertSink is told about the alerts produced by each ingest, after the
// engine's lock has been released.
type AlertSink interface {
	NotifyAlerts(alerts []data.Alert)
}

type Options struct {
	WindowCapacity int
	AlertCapacity  int
	SnapshotAlerts int
	StaleAfter     time.Duration
	DedupCooldown  time.Duration
	MaxDevices     int      // 0 = unlimited
	Metrics        []string // recognized metrics; empty accepts all
}

// OptionsFromConfig maps the engine and anomaly config sections to Options.
func OptionsFromConfig(eng config.EngineConfig, an config.AnomalyConfig) Options {
	return Options{
		WindowCapacity: eng.WindowCapacity,
		AlertCapacity:  eng.AlertCapacity,
		SnapshotAlerts: eng.SnapshotAlerts,
		StaleAfter:     eng.StaleAfter,
		DedupCooldown:  an.DedupCooldown,
		MaxDevices:     eng.MaxDevices,
		Metrics:        eng.Metrics,
	}
}

type Option func(*Engine)

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithRecorder(r *metrics.Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

func WithAlertSink(s AlertSink) Option {
	return func(e *Engine) { e.sink = s }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Result is what one ingest changed: the device's new view and the alerts
// produced by this call only.
type Result struct {
	Device data.DeviceView
	Alerts []data.Alert
}

// Engine owns every device's telemetry state and the alert log. All mutation
// happens under a single lock; snapshots copy immutable per-device views.
type Engine struct {
	opts      Options
	detector  *anomaly.Detector
	logger    zerolog.Logger
	recorder  *metrics.Recorder
	sink      AlertSink
	now       func() time.Time
	recognize map[string]bool

	mu      sync.RWMutex
	devices map[string]*deviceState
	order   *list.List // front = most recently seen
	alerts  *alerting.Log
}

func New(opts Options, detector *anomaly.Detector, options ...Option) *Engine {
	if opts.WindowCapacity <= 0 {
		opts.WindowCapacity = storage.DefaultWindowCapacity
	}
	if opts.SnapshotAlerts <= 0 {
		opts.SnapshotAlerts = DefaultSnapshotAlerts
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if detector == nil {
		detector = anomaly.NewDetector(config.AnomalyConfig{})
	}

	e := &Engine{
		opts:     opts,
		detector: detector,
		logger:   zerolog.Nop(),
		now:      time.Now,
		devices:  make(map[string]*deviceState),
		order:    list.New(),
		alerts:   alerting.NewLog(opts.AlertCapacity, opts.DedupCooldown),
	}
	if len(opts.Metrics) > 0 {
		e.recognize = make(map[string]bool, len(opts.Metrics))
		for _, m := range opts.Metrics {
			e.recognize[strings.ToLower(strings.TrimSpace(m))] = true
		}
	}
	for _, o := range options {
		o(e)
	}
	return e
}

// Ingest applies one reading. Invalid readings are rejected with a
// *data.ValidationError and leave the engine untouched.
func (e *Engine) Ingest(r data.Reading) (Result, error) {
	start := time.Now()
	if err := data.Validate(&r); err != nil {
		return Result{}, err
	}

	now := e.now()
	ts := r.Timestamp
	if ts.IsZero() {
		ts = now
		e.recorder.TimestampFallback()
		e.logger.Warn().Str("device_id", r.DeviceID).Msg("Reading has no usable timestamp, using ingestion time")
	}

	names := make([]string, 0, len(r.Metrics))
	for name := range r.Metrics {
		if e.recognize == nil || e.recognize[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var (
		produced   []data.Alert
		suppressed []data.AlertKind
	)

	e.mu.Lock()
	dev, evicted := e.touch(r.DeviceID)
	dev.lastSeen = now
	summaries := dev.summaries()
	for _, name := range names {
		value := r.Metrics[name]
		w := dev.window(name, e.opts.WindowCapacity)
		w.Push(ts, value)

		summary := summarize(w)
		findings := e.detector.Check(name, value, w)
		summary.Anomaly = len(findings) > 0
		summaries[name] = summary

		for _, f := range findings {
			alert := newAlert(r.DeviceID, name, value, summary, f, ts)
			if e.alerts.Append(alert) {
				produced = append(produced, alert)
			} else {
				suppressed = append(suppressed, alert.Kind)
			}
		}
	}
	dev.publish(ts, summaries)
	view := *dev.view
	tracked := len(e.devices)
	e.mu.Unlock()

	e.recorder.ReadingIngested(time.Since(start))
	e.recorder.DevicesTracked(tracked)
	for _, id := range evicted {
		e.recorder.DeviceEvicted()
		e.logger.Warn().Str("device_id", id).Int("max_devices", e.opts.MaxDevices).Msg("Tracked-device cap reached, evicted least recently seen device")
	}
	for _, kind := range suppressed {
		e.recorder.AlertSuppressed(string(kind))
	}
	for _, a := range produced {
		e.recorder.AlertEmitted(string(a.Kind), string(a.Severity))
	}
	if len(names) == 0 {
		e.logger.Debug().Str("device_id", r.DeviceID).Msg("Reading carried no recognized metrics")
	}
	if len(produced) > 0 && e.sink != nil {
		e.sink.NotifyAlerts(produced)
	}

	view.Status = e.status(view.LastSeen, now)
	return Result{Device: view, Alerts: produced}, nil
}

// touch returns the device record, creating it and evicting the least recently
// seen devices beyond MaxDevices. Caller holds the write lock.
func (e *Engine) touch(id string) (*deviceState, []string) {
	if dev, ok := e.devices[id]; ok {
		e.order.MoveToFront(dev.lru)
		return dev, nil
	}

	dev := newDeviceState(id)
	dev.lru = e.order.PushFront(dev)
	e.devices[id] = dev

	var evicted []string
	for e.opts.MaxDevices > 0 && len(e.devices) > e.opts.MaxDevices {
		oldest := e.order.Back()
		victim := oldest.Value.(*deviceState)
		e.order.Remove(oldest)
		delete(e.devices, victim.id)
		e.alerts.Forget(victim.id)
		evicted = append(evicted, victim.id)
	}
	return dev, evicted
}

func newAlert(deviceID, metric string, value float64, s data.MetricSummary, f anomaly.Finding, ts time.Time) data.Alert {
	return data.Alert{
		ID:        uuid.NewString(),
		DeviceID:  deviceID,
		Metric:    metric,
		Kind:      f.Kind,
		Severity:  f.Severity,
		Message:   alertMessage(metric, value, s, f),
		Value:     value,
		Average:   s.Average,
		StdDev:    s.StdDev,
		Timestamp: ts,
	}
}

func alertMessage(metric string, value float64, s data.MetricSummary, f anomaly.Finding) string {
	switch f.Kind {
	case data.KindStatisticalAnomaly:
		return fmt.Sprintf("%s %.2f deviates more than %.1f std devs from average %.2f (std dev %.2f)",
			metric, value, f.Limit, s.Average, s.StdDev)
	case data.KindBatteryLow:
		return fmt.Sprintf("%s %.1f is below %.1f, schedule maintenance", metric, value, f.Limit)
	}
	if f.Direction == anomaly.DirectionLow {
		return fmt.Sprintf("%s %.2f is below %.2f", metric, value, f.Limit)
	}
	return fmt.Sprintf("%s %.2f is above %.2f", metric, value, f.Limit)
}

func (e *Engine) status(lastSeen, now time.Time) data.DeviceStatus {
	if now.Sub(lastSeen) > e.opts.StaleAfter {
		return data.StatusStale
	}
	return data.StatusOnline
}

// Snapshot returns a consistent copy of every device and the most recent
// alerts. Later ingests never change a snapshot already returned.
func (e *Engine) Snapshot() data.Snapshot {
	e.mu.RLock()
	views := make([]*data.DeviceView, 0, len(e.devices))
	for _, dev := range e.devices {
		views = append(views, dev.view)
	}
	alerts := e.alerts.Recent(e.opts.SnapshotAlerts)
	e.mu.RUnlock()

	now := e.now()
	devices := make([]data.DeviceView, len(views))
	for i, v := range views {
		devices[i] = *v
		devices[i].Status = e.status(v.LastSeen, now)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].DeviceID < devices[j].DeviceID })

	e.recorder.SnapshotGenerated()
	return data.Snapshot{GeneratedAt: now, Devices: devices, Alerts: alerts}
}

// Device returns the current view of one device.
func (e *Engine) Device(id string) (data.DeviceView, bool) {
	e.mu.RLock()
	dev, ok := e.devices[id]
	var view data.DeviceView
	if ok {
		view = *dev.view
	}
	e.mu.RUnlock()
	if !ok {
		return data.DeviceView{}, false
	}
	view.Status = e.status(view.LastSeen, e.now())
	return view, true
}

// History copies the rolling window of one device metric, oldest first.
func (e *Engine) History(id, metric string) ([]data.Point, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	dev, ok := e.devices[id]
	if !ok {
		return nil, false
	}
	w, ok := dev.windows[strings.ToLower(strings.TrimSpace(metric))]
	if !ok {
		return nil, false
	}
	return w.Points(), true
}

// RecentAlerts returns up to k alerts, newest first.
func (e *Engine) RecentAlerts(k int) []data.Alert {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.alerts.Recent(k)
}

func (e *Engine) DeviceCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.devices)
}
