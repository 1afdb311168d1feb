// Package subscriber provides the composition root's default
// domain.SubscriberSink: a structured-logging sink. The real
// WebSocket/STOMP subscriber transport is an external system; this
// package exists only so the conflation broadcaster has somewhere to
// flush to in tests and single-node runs.
package subscriber

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/aristath/rtve/internal/domain"
)

// LogSink emits each account's flushed valuations as a structured log
// line rather than over a real transport.
type LogSink struct {
	log zerolog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log.With().Str("component", "subscriber.logsink").Logger()}
}

// Emit implements domain.SubscriberSink / conflation.Sink.
func (s *LogSink) Emit(ctx context.Context, accountID int64, valuations []domain.Valuation) error {
	s.log.Debug().
		Int64("accountId", accountID).
		Int("count", len(valuations)).
		Msg("flushed valuations")
	return nil
}
