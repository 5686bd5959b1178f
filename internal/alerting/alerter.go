// internal/alerting/alerter.go
package alerting

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"iot-telemetry-gateway/internal/data"
)

const defaultQueueSize = 256

// Sink receives every alert produced at ingest time.
type Sink interface {
	Name() string
	PublishAlert(ctx context.Context, alert data.Alert) error
}

// DropCounter is notified when the push queue overflows.
type DropCounter interface {
	AlertDropped()
}

// Alerter pushes freshly produced alerts to the configured sinks from a
// background worker. Push delivery is best effort: when the queue is full the
// notification is dropped, but the alert stays in the engine's log and in
// every later snapshot.
type Alerter struct {
	logger zerolog.Logger
	queue  chan data.Alert
	drops  DropCounter

	mu    sync.RWMutex
	sinks []Sink
}

func NewAlerter(logger zerolog.Logger, drops DropCounter, sinks ...Sink) *Alerter {
	return &Alerter{
		logger: logger.With().Str("component", "alerter").Logger(),
		queue:  make(chan data.Alert, defaultQueueSize),
		drops:  drops,
		sinks:  sinks,
	}
}

// AddSink registers another delivery channel.
func (a *Alerter) AddSink(s Sink) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sinks = append(a.sinks, s)
}

// NotifyAlerts queues alerts for delivery without blocking the caller.
func (a *Alerter) NotifyAlerts(alerts []data.Alert) {
	for _, alert := range alerts {
		select {
		case a.queue <- alert:
		default:
			a.logger.Warn().Str("alert_id", alert.ID).Str("device_id", alert.DeviceID).Msg("Alert queue full, dropping push notification")
			if a.drops != nil {
				a.drops.AlertDropped()
			}
		}
	}
}

// Run delivers queued alerts until ctx is cancelled.
func (a *Alerter) Run(ctx context.Context) error {
	a.logger.Info().Msg("Alert dispatcher started")
	for {
		select {
		case <-ctx.Done():
			a.logger.Info().Msg("Alert dispatcher stopped")
			return nil
		case alert := <-a.queue:
			a.deliver(ctx, alert)
		}
	}
}

func (a *Alerter) deliver(ctx context.Context, alert data.Alert) {
	a.mu.RLock()
	sinks := make([]Sink, len(a.sinks))
	copy(sinks, a.sinks)
	a.mu.RUnlock()

	a.logger.Info().
		Str("alert_id", alert.ID).
		Str("device_id", alert.DeviceID).
		Str("kind", string(alert.Kind)).
		Str("severity", string(alert.Severity)).
		Msg(alert.Message)

	for _, s := range sinks {
		if err := s.PublishAlert(ctx, alert); err != nil {
			a.logger.Error().Err(err).Str("sink", s.Name()).Str("alert_id", alert.ID).Msg("Alert delivery failed")
		}
	}
}
