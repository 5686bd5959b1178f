package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns the gateway's Prometheus collectors. Every method is safe on a
// nil receiver so components can run without metrics.
type Recorder struct {
	registry *prometheus.Registry

	readingsIngested  prometheus.Counter
	readingsRejected  *prometheus.CounterVec
	timestampFallback prometheus.Counter
	ingestDuration    prometheus.Histogram
	alertsEmitted     *prometheus.CounterVec
	alertsSuppressed  *prometheus.CounterVec
	alertsDropped     prometheus.Counter
	devicesTracked    prometheus.Gauge
	devicesEvicted    prometheus.Counter
	snapshotsServed   prometheus.Counter
	wsClients         prometheus.Gauge
}

func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		readingsIngested: f.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_readings_ingested_total",
			Help: "Total number of readings applied to the engine",
		}),
		readingsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_readings_rejected_total",
			Help: "Total number of readings rejected at the ingestion boundary",
		}, []string{"source"}),
		timestampFallback: f.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_readings_timestamp_fallback_total",
			Help: "Readings without a usable timestamp that were stamped with ingestion time",
		}),
		ingestDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "telemetry_ingest_duration_seconds",
			Help:    "Time spent applying one reading",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),
		alertsEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_alerts_emitted_total",
			Help: "Total number of alerts appended to the alert log",
		}, []string{"kind", "severity"}),
		alertsSuppressed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_alerts_suppressed_total",
			Help: "Alerts suppressed by the dedup cool-down",
		}, []string{"kind"}),
		alertsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_alert_push_dropped_total",
			Help: "Alert push notifications dropped because the queue was full",
		}),
		devicesTracked: f.NewGauge(prometheus.GaugeOpts{
			Name: "telemetry_devices_tracked",
			Help: "Number of devices currently held by the engine",
		}),
		devicesEvicted: f.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_devices_evicted_total",
			Help: "Devices evicted because the tracked-device cap was reached",
		}),
		snapshotsServed: f.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_snapshots_total",
			Help: "Total number of snapshots generated",
		}),
		wsClients: f.NewGauge(prometheus.GaugeOpts{
			Name: "telemetry_websocket_clients",
			Help: "Connected WebSocket observers",
		}),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) ReadingIngested(d time.Duration) {
	if r == nil {
		return
	}
	r.readingsIngested.Inc()
	r.ingestDuration.Observe(d.Seconds())
}

func (r *Recorder) ReadingRejected(source string) {
	if r == nil {
		return
	}
	r.readingsRejected.WithLabelValues(source).Inc()
}

func (r *Recorder) TimestampFallback() {
	if r == nil {
		return
	}
	r.timestampFallback.Inc()
}

func (r *Recorder) AlertEmitted(kind, severity string) {
	if r == nil {
		return
	}
	r.alertsEmitted.WithLabelValues(kind, severity).Inc()
}

func (r *Recorder) AlertSuppressed(kind string) {
	if r == nil {
		return
	}
	r.alertsSuppressed.WithLabelValues(kind).Inc()
}

func (r *Recorder) AlertDropped() {
	if r == nil {
		return
	}
	r.alertsDropped.Inc()
}

func (r *Recorder) DevicesTracked(n int) {
	if r == nil {
		return
	}
	r.devicesTracked.Set(float64(n))
}

func (r *Recorder) DeviceEvicted() {
	if r == nil {
		return
	}
	r.devicesEvicted.Inc()
}

func (r *Recorder) SnapshotGenerated() {
	if r == nil {
		return
	}
	r.snapshotsServed.Inc()
}

func (r *Recorder) WebSocketClients(n int) {
	if r == nil {
		return
	}
	r.wsClients.Set(float64(n))
}
