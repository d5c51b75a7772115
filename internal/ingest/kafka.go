package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer reads one import record per message and saves it through the
// Importer. Undecodable or rejected messages are logged and committed so a
// poison message never blocks the partition. Store failures are retried.
type KafkaConsumer struct {
	reader   messageReader
	importer *Importer
	logger   *zap.Logger
	topic    string

	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewKafkaConsumer(cfg KafkaConfig, importer *Importer, logger *zap.Logger) (*KafkaConsumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic must not be empty")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	return newKafkaConsumer(reader, cfg.Topic, importer, logger), nil
}

func newKafkaConsumer(reader messageReader, topic string, importer *Importer, logger *zap.Logger) *KafkaConsumer {
	return &KafkaConsumer{
		reader:     reader,
		importer:   importer,
		logger:     logger.With(zap.String("topic", topic)),
		topic:      topic,
		minBackoff: time.Second,
		maxBackoff: 10 * time.Second,
	}
}

// Run consumes until ctx is cancelled. Fetch errors and store failures back
// off up to maxBackoff; a message that failed to store is retried in place and
// its offset is only committed once it is written.
func (c *KafkaConsumer) Run(ctx context.Context) {
	defer func() {
		if err := c.reader.Close(); err != nil {
			c.logger.Error("closing kafka reader", zap.Error(err))
		}
		c.logger.Info("kafka consumer stopped")
	}()
	c.logger.Info("kafka consumer started")

	backoff := c.minBackoff
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				return
			}
			c.logger.Error("fetching message", zap.Error(err), zap.Duration("backoff", backoff))
			if !c.sleep(ctx, &backoff) {
				return
			}
			continue
		}
		backoff = c.minBackoff

		for {
			err := c.handle(ctx, msg)
			if err == nil {
				break
			}
			c.logger.Error("storing message, will retry",
				zap.Int("partition", msg.Partition), zap.Int64("offset", msg.Offset),
				zap.Duration("backoff", backoff), zap.Error(err))
			if !c.sleep(ctx, &backoff) {
				return
			}
		}
		backoff = c.minBackoff

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("committing offset", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

// sleep waits for *backoff and doubles it up to maxBackoff. It reports false
// when ctx ended first.
func (c *KafkaConsumer) sleep(ctx context.Context, backoff *time.Duration) bool {
	select {
	case <-time.After(*backoff):
		if *backoff < c.maxBackoff {
			*backoff *= 2
		}
		return true
	case <-ctx.Done():
		return false
	}
}

// handle decodes and stores one message. Undecodable or invalid records are
// logged and dropped (nil error) so they get committed. A non-nil error means
// the store failed and the message must be retried.
func (c *KafkaConsumer) handle(ctx context.Context, msg kafka.Message) error {
	var rec Record
	if err := json.Unmarshal(msg.Value, &rec); err != nil {
		importFailures.Inc()
		c.logger.Warn("dropping undecodable message",
			zap.Int("partition", msg.Partition), zap.Int64("offset", msg.Offset), zap.Error(err))
		return nil
	}
	m, err := Decode(rec, c.importer.now())
	if err != nil {
		importFailures.Inc()
		c.logger.Warn("dropping rejected message",
			zap.Int("partition", msg.Partition), zap.Int64("offset", msg.Offset), zap.Error(err))
		return nil
	}
	saved, err := c.importer.Save(ctx, m)
	if err != nil {
		return err
	}
	c.logger.Debug("ingested measurement", zap.Int64("id", saved.ID), zap.String("device_id", saved.DeviceID))
	return nil
}
