package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"iot-telemetry-gateway/internal/config"
	"iot-telemetry-gateway/internal/data"
)

// RedisClient is the subset of Redis operations the publisher uses
type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Publish(ctx context.Context, channel string, message interface{}) error
	Close() error
}

type redisClient struct {
	client *redis.Client
}

func (r *redisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return r.client.Set(ctx, key, value, expiration).Err()
}

func (r *redisClient) Publish(ctx context.Context, channel string, message interface{}) error {
	return r.client.Publish(ctx, channel, message).Err()
}

func (r *redisClient) Close() error {
	return r.client.Close()
}

// Publisher mirrors the latest snapshot into a Redis key and fans alerts out
// on a pub/sub channel so other services can follow the gateway.
type Publisher struct {
	client       RedisClient
	snapshotKey  string
	snapshotTTL  time.Duration
	alertChannel string
}

// NewPublisher connects to Redis and verifies the connection.
func NewPublisher(cfg config.RedisConfig) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "failed to connect to Redis")
	}

	return NewPublisherWithClient(&redisClient{client: client}, cfg), nil
}

func NewPublisherWithClient(client RedisClient, cfg config.RedisConfig) *Publisher {
	return &Publisher{
		client:       client,
		snapshotKey:  cfg.SnapshotKey,
		snapshotTTL:  cfg.SnapshotTTL,
		alertChannel: cfg.AlertChannel,
	}
}

func (p *Publisher) Name() string { return "redis" }

// PublishAlert sends one alert as JSON on the alert channel.
func (p *Publisher) PublishAlert(ctx context.Context, alert data.Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return errors.Wrap(err, "encode alert")
	}
	if err := p.client.Publish(ctx, p.alertChannel, body); err != nil {
		return errors.Wrapf(err, "publish alert to %s", p.alertChannel)
	}
	return nil
}

// StoreSnapshot replaces the cached snapshot. The key expires after the
// configured TTL so a stopped gateway does not leave stale state behind.
func (p *Publisher) StoreSnapshot(ctx context.Context, snap data.Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "encode snapshot")
	}
	if err := p.client.Set(ctx, p.snapshotKey, body, p.snapshotTTL); err != nil {
		return errors.Wrapf(err, "store snapshot at %s", p.snapshotKey)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.client.Close()
}
