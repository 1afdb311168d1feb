// Package conflation implements the Conflation Broadcaster:
// a per-account mailbox that retains only the latest Valuation per
// (account, product) between flushes. The ticker-driven flush loop uses
// one dedicated time.Ticker with a select over ctx.Done()/ticker.C and a
// final flush on cancellation; the mailbox uses a detach-and-swap so a flush
// never holds its lock during the (potentially slow) sink Emit call. A
// sink Emit failure is a ProcessingError: retried with exponential
// backoff before the batch is offered to the dead-letter sink, the same
// retry shape internal/persistence uses for cold-store append failures.
package conflation

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/aristath/rtve/internal/domain"
)

// Sink is the per-account downstream — the external subscriber
// transport valuations are ultimately emitted to.
type Sink interface {
	Emit(ctx context.Context, accountID int64, valuations []domain.Valuation) error
}

// Metrics is the subset of counters the broadcaster increments.
type Metrics interface {
	IncValuationsDroppedByConflation(n int)
	SetMailboxDepth(n int)
}

// Broadcaster holds the per-account mailbox and drives the fixed-period
// flush.
type Broadcaster struct {
	mu      sync.Mutex
	mailbox map[int64]map[int64]domain.Valuation // accountId -> productId -> latest

	sink    Sink
	dlq     domain.DeadLetterSink
	metrics Metrics
	log     zerolog.Logger
	period  time.Duration
}

// New creates a Broadcaster. Call Run to start the flush ticker. A batch
// whose Emit exhausts its retries is offered to dlq rather than dropped.
func New(period time.Duration, sink Sink, dlq domain.DeadLetterSink, metrics Metrics, log zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		mailbox: make(map[int64]map[int64]domain.Valuation),
		sink:    sink,
		dlq:     dlq,
		metrics: metrics,
		log:     log.With().Str("component", "conflation").Logger(),
		period:  period,
	}
}

// Submit holds the broadcaster's single mutex for both the
// find-or-create of the account's inner map and the write into it, so
// submits for distinct accounts serialize on that one lock; it never
// waits on a sink Emit, since flush releases the lock before emitting.
// Within the window, a valuation for the same (account, product)
// replaces the held one unless its ComputedAt is earlier, in which case
// it is the one dropped; either way the drop is counted.
func (b *Broadcaster) Submit(v domain.Valuation) {
	b.mu.Lock()
	inner, ok := b.mailbox[v.AccountID]
	if !ok {
		inner = make(map[int64]domain.Valuation)
		b.mailbox[v.AccountID] = inner
	}
	existing, hadPrevious := inner[v.ProductID]
	if hadPrevious && v.ComputedAt.Before(existing.ComputedAt) {
		// A late, out-of-order valuation: the newer one already in the
		// mailbox wins, so this one is the one dropped.
		b.mu.Unlock()
		if b.metrics != nil {
			b.metrics.IncValuationsDroppedByConflation(1)
		}
		return
	}
	inner[v.ProductID] = v
	b.mu.Unlock()

	if hadPrevious && b.metrics != nil {
		b.metrics.IncValuationsDroppedByConflation(1)
	}
}

// Run drives the fixed-period flush until ctx is done.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			b.flush(ctx)
			return
		case <-ticker.C:
			b.flush(ctx)
		}
	}
}

// flush detaches every non-empty account mailbox and emits each batch
// concurrently. Distinct accounts may be emitted in any order; ordering
// within a batch is not guaranteed.
func (b *Broadcaster) flush(ctx context.Context) {
	b.mu.Lock()
	if len(b.mailbox) == 0 {
		b.mu.Unlock()
		return
	}
	detached := b.mailbox
	b.mailbox = make(map[int64]map[int64]domain.Valuation)
	b.mu.Unlock()

	var depth int
	for _, inner := range detached {
		depth += len(inner)
	}
	if b.metrics != nil {
		b.metrics.SetMailboxDepth(depth)
	}

	var wg sync.WaitGroup
	for accountID, inner := range detached {
		batch := make([]domain.Valuation, 0, len(inner))
		for _, v := range inner {
			batch = append(batch, v)
		}
		wg.Add(1)
		go func(accountID int64, batch []domain.Valuation) {
			defer wg.Done()
			b.emitWithRetry(ctx, accountID, batch)
		}(accountID, batch)
	}
	wg.Wait()
}

// emitWithRetry wraps Sink.Emit in an exponential backoff (base 500ms,
// ×2, cap 60s, 3 retries); a batch that still fails is offered to the
// dead-letter sink rather than dropped.
func (b *Broadcaster) emitWithRetry(ctx context.Context, accountID int64, batch []domain.Valuation) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.Multiplier = 2
	bo.MaxInterval = 60 * time.Second
	retrier := backoff.WithMaxRetries(bo, 3)

	err := backoff.Retry(func() error {
		return b.sink.Emit(ctx, accountID, batch)
	}, backoff.WithContext(retrier, ctx))

	if err == nil {
		return
	}

	b.log.Error().Err(err).Int64("accountId", accountID).Msg("subscriber emit failed after retries, offering to DLQ")
	if b.dlq == nil {
		return
	}
	payload, marshalErr := json.Marshal(batch)
	if marshalErr != nil {
		b.log.Error().Err(marshalErr).Int64("accountId", accountID).Msg("failed to marshal valuation batch for DLQ")
		return
	}
	if dlqErr := b.dlq.Offer(ctx, "conflation.emit", strconv.FormatInt(accountID, 10), payload, err, domain.ErrorKindProcessing); dlqErr != nil {
		b.log.Error().Err(dlqErr).Int64("accountId", accountID).Msg("DLQ offer itself failed")
	}
}

// Depth reports the current aggregate mailbox depth across all accounts,
// for diagnostics outside the metrics gauge.
func (b *Broadcaster) Depth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	depth := 0
	for _, inner := range b.mailbox {
		depth += len(inner)
	}
	return depth
}
