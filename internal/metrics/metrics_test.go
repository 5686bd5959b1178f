package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Counters(t *testing.T) {
	r := NewRecorder()

	r.ReadingIngested(time.Millisecond)
	r.ReadingIngested(time.Millisecond)
	r.ReadingRejected("http")
	r.AlertEmitted("BATTERY_LOW", "danger")
	r.AlertSuppressed("BATTERY_LOW")
	r.DevicesTracked(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.readingsIngested))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.readingsRejected.WithLabelValues("http")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.alertsEmitted.WithLabelValues("BATTERY_LOW", "danger")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.alertsSuppressed.WithLabelValues("BATTERY_LOW")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.devicesTracked))
}

func TestRecorder_NilSafe(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.ReadingIngested(time.Second)
		r.ReadingRejected("kafka")
		r.AlertDropped()
		r.DeviceEvicted()
		r.SnapshotGenerated()
		r.WebSocketClients(1)
	})
	assert.Nil(t, r.Registry())
}

func TestRecorder_Handler(t *testing.T) {
	r := NewRecorder()
	r.DeviceEvicted()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "telemetry_devices_evicted_total 1")
}
