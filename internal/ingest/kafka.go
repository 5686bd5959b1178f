package ingest

import (
	"context"
	"errors"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"iot-telemetry-gateway/internal/config"
	"iot-telemetry-gateway/internal/data"
)

// messageReader is the subset of *kafka.Reader the consumer needs.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer reads sensor payloads from a topic and feeds the pipeline.
// Offsets are committed after the reading is applied or rejected, so a
// restart redelivers at most the in-flight message.
type KafkaConsumer struct {
	reader   messageReader
	pipeline *Pipeline
	logger   zerolog.Logger
	backoff  time.Duration
}

func NewKafkaConsumer(cfg config.KafkaConfig, pipeline *Pipeline, logger zerolog.Logger) (*KafkaConsumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, pkgerrors.New("no kafka brokers configured")
	}
	if cfg.Topic == "" {
		return nil, pkgerrors.New("kafka topic must not be empty")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	return newKafkaConsumer(reader, pipeline, logger.With().Str("topic", cfg.Topic).Logger()), nil
}

func newKafkaConsumer(r messageReader, pipeline *Pipeline, logger zerolog.Logger) *KafkaConsumer {
	return &KafkaConsumer{
		reader:   r,
		pipeline: pipeline,
		logger:   logger.With().Str("component", "kafka").Logger(),
		backoff:  time.Second,
	}
}

// Run consumes until ctx is cancelled. Fetch errors are retried after a
// short backoff; malformed messages are committed and skipped.
func (c *KafkaConsumer) Run(ctx context.Context) error {
	defer func() {
		if err := c.reader.Close(); err != nil {
			c.logger.Error().Err(err).Msg("Kafka reader close failed")
		}
	}()
	c.logger.Info().Msg("Kafka consumer started")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.logger.Info().Msg("Kafka consumer stopped")
				return nil
			}
			c.logger.Error().Err(err).Msg("Kafka fetch failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
			continue
		}

		if _, err := c.pipeline.IngestRaw(SourceKafka, msg.Value); err != nil && !errors.Is(err, data.ErrValidation) {
			c.logger.Error().Err(err).Int64("offset", msg.Offset).Msg("Kafka message not applied")
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error().Err(err).Int64("offset", msg.Offset).Msg("Kafka commit failed")
		}
	}
}
