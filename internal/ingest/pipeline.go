// Package ingest is the single path every ReadingSource goes through: the HTTP
// handler, the Kafka consumer and the simulator all call Pipeline.
package ingest

import (
	"github.com/rs/zerolog"

	"iot-telemetry-gateway/internal/data"
	"iot-telemetry-gateway/internal/engine"
	"iot-telemetry-gateway/internal/metrics"
)

const (
	SourceHTTP      = "http"
	SourceKafka     = "kafka"
	SourceSimulator = "simulator"
)

// DeviceSink is notified of every updated device view.
type DeviceSink interface {
	PublishDevice(view data.DeviceView)
}

type Pipeline struct {
	engine   *engine.Engine
	recorder *metrics.Recorder
	logger   zerolog.Logger
	sinks    []DeviceSink
}

func NewPipeline(e *engine.Engine, recorder *metrics.Recorder, logger zerolog.Logger, sinks ...DeviceSink) *Pipeline {
	return &Pipeline{
		engine:   e,
		recorder: recorder,
		logger:   logger.With().Str("component", "ingest").Logger(),
		sinks:    sinks,
	}
}

// Ingest applies one reading. Rejections are logged and counted; they never
// stop the calling producer.
func (p *Pipeline) Ingest(source string, r data.Reading) (engine.Result, error) {
	res, err := p.engine.Ingest(r)
	if err != nil {
		p.reject(source, r.DeviceID, err)
		return engine.Result{}, err
	}
	for _, s := range p.sinks {
		s.PublishDevice(res.Device)
	}
	return res, nil
}

// IngestRaw decodes a wire payload and applies it.
func (p *Pipeline) IngestRaw(source string, raw []byte) (engine.Result, error) {
	r, err := data.Parse(raw)
	if err != nil {
		p.reject(source, "", err)
		return engine.Result{}, err
	}
	return p.Ingest(source, *r)
}

func (p *Pipeline) reject(source, deviceID string, err error) {
	p.recorder.ReadingRejected(source)
	p.logger.Warn().Err(err).Str("source", source).Str("device_id", deviceID).Msg("Rejected reading")
}
