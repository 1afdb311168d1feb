// Package broker wraps segmentio/kafka-go for the four inbound topics
// with manual acknowledgement (explicit CommitMessages after
// a batch's records have been routed) and the high-water-mark
// backpressure: when the valuation queue is over the mark,
// FetchBatch is simply not called again until it drains.
package broker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Record is one decoded-from-wire message handed to the intake processor.
type Record struct {
	Key     string
	Value   []byte
	kafkaMsg kafka.Message
}

// Consumer wraps a kafka-go Reader for one topic with manual-ack batch
// consumption.
type Consumer struct {
	reader       *kafka.Reader
	topic        string
	fetchTimeout time.Duration
	log          zerolog.Logger
}

// Config configures a Consumer.
type Config struct {
	BootstrapServers string
	Topic            string
	GroupID          string
	FetchTimeout     time.Duration
}

// NewConsumer creates a Consumer for one topic.
func NewConsumer(cfg Config, log zerolog.Logger) *Consumer {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 5 * time.Second
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{cfg.BootstrapServers},
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Consumer{reader: reader, topic: cfg.Topic, fetchTimeout: cfg.FetchTimeout, log: log.With().Str("topic", cfg.Topic).Logger()}
}

// FetchBatch reads up to maxRecords messages, bounded by the configured
// per-fetch timeout. It does not commit —
// callers must call Commit after every record in the batch has been
// routed (including DLQ-routed ones) — "each batch is
// processed atomically for the purpose of acknowledgement".
func (c *Consumer) FetchBatch(ctx context.Context, maxRecords int) ([]Record, error) {
	records := make([]Record, 0, maxRecords)
	for i := 0; i < maxRecords; i++ {
		fetchCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
		msg, err := c.reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			if len(records) > 0 {
				// Partial batch: return what we have rather than
				// discarding progress on a timeout.
				return records, nil
			}
			return nil, err
		}
		records = append(records, Record{Key: string(msg.Key), Value: msg.Value, kafkaMsg: msg})
	}
	return records, nil
}

// Commit acknowledges every record in the batch.
func (c *Consumer) Commit(ctx context.Context, records []Record) error {
	msgs := make([]kafka.Message, 0, len(records))
	for _, r := range records {
		msgs = append(msgs, r.kafkaMsg)
	}
	if len(msgs) == 0 {
		return nil
	}
	return c.reader.CommitMessages(ctx, msgs...)
}

// Topic reports the topic this Consumer reads from.
func (c *Consumer) Topic() string {
	return c.topic
}

// Lag reports the current consumer group lag, for the consumer_lag_per_group gauge.
func (c *Consumer) Lag() int64 {
	stats := c.reader.Stats()
	return stats.Lag
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
