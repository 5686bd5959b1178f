package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iot-telemetry-gateway/internal/config"
	"iot-telemetry-gateway/internal/data"
)

type fakeClient struct {
	sets      map[string][]byte
	ttls      map[string]time.Duration
	published map[string][][]byte
	err       error
	closed    bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		sets:      map[string][]byte{},
		ttls:      map[string]time.Duration{},
		published: map[string][][]byte{},
	}
}

func (f *fakeClient) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	if f.err != nil {
		return f.err
	}
	f.sets[key] = value.([]byte)
	f.ttls[key] = ttl
	return nil
}

func (f *fakeClient) Publish(_ context.Context, channel string, message interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.published[channel] = append(f.published[channel], message.([]byte))
	return nil
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

var testCfg = config.RedisConfig{
	SnapshotKey:  "telemetry:snapshot",
	SnapshotTTL:  30 * time.Second,
	AlertChannel: "telemetry:alerts",
}

func TestPublisher_PublishAlert(t *testing.T) {
	client := newFakeClient()
	p := NewPublisherWithClient(client, testCfg)

	alert := data.Alert{ID: "a1", DeviceID: "d1", Metric: "battery", Kind: data.KindBatteryLow, Severity: data.SeverityDanger, Value: 12}
	require.NoError(t, p.PublishAlert(context.Background(), alert))

	require.Len(t, client.published["telemetry:alerts"], 1)
	var got data.Alert
	require.NoError(t, json.Unmarshal(client.published["telemetry:alerts"][0], &got))
	assert.Equal(t, "a1", got.ID)
	assert.Equal(t, data.KindBatteryLow, got.Kind)
	assert.Equal(t, "redis", p.Name())
}

func TestPublisher_StoreSnapshot(t *testing.T) {
	client := newFakeClient()
	p := NewPublisherWithClient(client, testCfg)

	snap := data.Snapshot{
		GeneratedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Devices:     []data.DeviceView{{DeviceID: "d1"}},
		Alerts:      []data.Alert{},
	}
	require.NoError(t, p.StoreSnapshot(context.Background(), snap))

	assert.Equal(t, 30*time.Second, client.ttls["telemetry:snapshot"])
	var got map[string]any
	require.NoError(t, json.Unmarshal(client.sets["telemetry:snapshot"], &got))
	assert.Contains(t, got, "timestamp")
	assert.Len(t, got["devices"], 1)
}

func TestPublisher_WrapsClientErrors(t *testing.T) {
	client := newFakeClient()
	client.err = errors.New("connection refused")
	p := NewPublisherWithClient(client, testCfg)

	err := p.PublishAlert(context.Background(), data.Alert{ID: "a1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telemetry:alerts")
	assert.ErrorIs(t, err, client.err)

	require.NoError(t, p.Close())
	assert.True(t, client.closed)
}
