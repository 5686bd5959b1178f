package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iot-telemetry-gateway/internal/config"
	"iot-telemetry-gateway/internal/data"
	"iot-telemetry-gateway/internal/engine"
	"iot-telemetry-gateway/internal/metrics"
)

type deviceRecorder struct {
	mu    sync.Mutex
	views []data.DeviceView
}

func (d *deviceRecorder) PublishDevice(v data.DeviceView) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.views = append(d.views, v)
}

func newPipeline(t *testing.T) (*Pipeline, *engine.Engine, *metrics.Recorder, *deviceRecorder) {
	t.Helper()
	rec := metrics.NewRecorder()
	e := engine.New(engine.Options{}, nil, engine.WithRecorder(rec))
	devices := &deviceRecorder{}
	return NewPipeline(e, rec, zerolog.Nop(), devices), e, rec, devices
}

func TestPipeline_Ingest(t *testing.T) {
	p, e, _, devices := newPipeline(t)

	res, err := p.IngestRaw(SourceHTTP, []byte(`{"deviceId":"d1","metrics":{"temperature":21.5}}`))
	require.NoError(t, err)
	assert.Equal(t, "d1", res.Device.DeviceID)
	assert.Equal(t, 1, e.DeviceCount())
	require.Len(t, devices.views, 1)
	assert.Equal(t, 21.5, devices.views[0].Metrics["temperature"].Value)
}

func TestPipeline_RejectsAreCounted(t *testing.T) {
	p, e, rec, devices := newPipeline(t)

	_, err := p.IngestRaw(SourceHTTP, []byte(`{"metrics":{"temperature":21.5}}`))
	require.ErrorIs(t, err, data.ErrValidation)
	_, err = p.Ingest(SourceSimulator, data.Reading{DeviceID: "d1"})
	require.ErrorIs(t, err, data.ErrValidation)

	assert.Zero(t, e.DeviceCount())
	assert.Empty(t, devices.views)

	// One series per rejecting source.
	series, err := testutil.GatherAndCount(rec.Registry(), "telemetry_readings_rejected_total")
	require.NoError(t, err)
	assert.Equal(t, 2, series)
}

type fakeReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []int64
	fetchErr  error
	closed    bool
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if f.fetchErr != nil {
		err := f.fetchErr
		f.fetchErr = nil
		f.mu.Unlock()
		return kafka.Message{}, err
	}
	if len(f.messages) > 0 {
		msg := f.messages[0]
		f.messages = f.messages[1:]
		f.mu.Unlock()
		return msg, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeReader) committedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.committed)
}

func TestKafkaConsumer_Run(t *testing.T) {
	p, e, _, _ := newPipeline(t)
	reader := &fakeReader{
		fetchErr: errors.New("leader not available"),
		messages: []kafka.Message{
			{Offset: 1, Value: []byte(`{"deviceId":"edge-node-alpha","temperature":"23.4","battery":"91"}`)},
			{Offset: 2, Value: []byte(`not json`)},
			{Offset: 3, Value: []byte(`{"deviceId":"edge-node-bravo","metrics":{"temperature":28.1}}`)},
		},
	}
	c := newKafkaConsumer(reader, p, zerolog.Nop())
	c.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	assert.Eventually(t, func() bool { return reader.committedCount() == 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 2, e.DeviceCount())
	assert.Equal(t, []int64{1, 2, 3}, reader.committed)
	assert.True(t, reader.closed)
}

func TestNewKafkaConsumer_Validation(t *testing.T) {
	p, _, _, _ := newPipeline(t)
	_, err := NewKafkaConsumer(config.KafkaConfig{Topic: "sensors.data"}, p, zerolog.Nop())
	assert.Error(t, err)
	_, err = NewKafkaConsumer(config.KafkaConfig{Brokers: []string{"localhost:9092"}}, p, zerolog.Nop())
	assert.Error(t, err)
}
