package broker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/aristath/rtve/internal/domain"
)

// dlqRecord is the wire shape of the DLQ outbound contract.
// Payload is base64-encoded (via json.Marshal's []byte handling) since
// the original record may not itself be valid JSON — that is often
// exactly why it ended up here.
type dlqRecord struct {
	RecordID      string    `json:"recordId"`
	OriginalTopic string    `json:"originalTopic"`
	Key           string    `json:"key"`
	Payload       []byte    `json:"payload"`
	ErrorMessage  string    `json:"errorMessage"`
	ErrorKind     string    `json:"errorKind"`
	Timestamp     time.Time `json:"timestamp"`
}

// DLQSink publishes dead-lettered records to a single DLQ topic,
// implementing domain.DeadLetterSink. Each offer is stamped with a
// uuid record ID, since a dead-lettered record has no natural key of
// its own.
type DLQSink struct {
	writer *kafka.Writer
	log    zerolog.Logger
}

// NewDLQSink creates a DLQSink writing to topic on bootstrapServers.
func NewDLQSink(bootstrapServers, topic string, log zerolog.Logger) *DLQSink {
	return &DLQSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(bootstrapServers),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 50 * time.Millisecond,
		},
		log: log.With().Str("component", "dlq").Logger(),
	}
}

// Offer implements domain.DeadLetterSink.
func (s *DLQSink) Offer(ctx context.Context, originalTopic, key string, payload []byte, cause error, kind domain.ErrorKind) error {
	rec := dlqRecord{
		RecordID:      uuid.New().String(),
		OriginalTopic: originalTopic,
		Key:           key,
		Payload:       payload,
		ErrorMessage:  cause.Error(),
		ErrorKind:     string(kind),
		Timestamp:     time.Now(),
	}
	encoded, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: encoded})
}

// Close closes the underlying writer.
func (s *DLQSink) Close() error {
	return s.writer.Close()
}
