package alerting

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"iot-telemetry-gateway/internal/data"
)

type recordingSink struct {
	mu     sync.Mutex
	alerts []data.Alert
	err    error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) PublishAlert(_ context.Context, alert data.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

type dropCounter struct{ n atomic.Int64 }

func (d *dropCounter) AlertDropped() { d.n.Add(1) }

func TestAlerter_DeliversToAllSinks(t *testing.T) {
	first := &recordingSink{}
	failing := &recordingSink{err: errors.New("broker down")}
	a := NewAlerter(zerolog.Nop(), nil, first)
	a.AddSink(failing)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	a.NotifyAlerts([]data.Alert{
		alertAt("1", "d1", data.KindBatteryLow, t0),
		alertAt("2", "d2", data.KindThresholdHigh, t0),
	})

	assert.Eventually(t, func() bool { return first.count() == 2 && failing.count() == 2 },
		2*time.Second, 10*time.Millisecond)
}

func TestAlerter_DropsWhenQueueFull(t *testing.T) {
	drops := &dropCounter{}
	a := NewAlerter(zerolog.Nop(), drops)

	// no worker running, so the queue fills up
	alerts := make([]data.Alert, defaultQueueSize+5)
	a.NotifyAlerts(alerts)

	assert.Equal(t, int64(5), drops.n.Load())
}
