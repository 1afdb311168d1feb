// Package persistence implements the Persistence Flusher: a
// dirty productId set drained on a fixed cadence into a batched append
// to the cold price store. The ticker loop follows the same shape as
// internal/conflation; the append retry uses cenkalti/backoff to ride
// out transient cold-store failures.
package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/aristath/rtve/internal/domain"
)

// PriceCache is the subset of internal/pricecache.Cache the flusher reads.
type PriceCache interface {
	Get(productID int64) (domain.PriceTick, bool)
}

// Metrics is the subset of gauges/counters the flusher reports.
type Metrics interface {
	SetDirtyProducts(n int)
	IncPersistenceFailures()
	IncPersistenceAlert()
}

// Flusher drains the dirty set on a fixed cadence.
type Flusher struct {
	mu    sync.Mutex
	dirty map[int64]struct{}

	prices    PriceCache
	coldStore domain.ColdStore
	metrics   Metrics
	log       zerolog.Logger

	period      time.Duration
	appendTimeout time.Duration

	alertThreshold int
	alertWindow    time.Duration
	overThresholdSince time.Time
}

// Config configures a Flusher.
type Config struct {
	Period         time.Duration
	AppendTimeout  time.Duration
	AlertThreshold int           // dirty-set size considered sustained overload
	AlertWindow    time.Duration // how long it must stay over threshold before alerting
}

// New creates a Flusher. Call Run to start the drain ticker.
func New(cfg Config, prices PriceCache, coldStore domain.ColdStore, metrics Metrics, log zerolog.Logger) *Flusher {
	if cfg.AppendTimeout <= 0 {
		cfg.AppendTimeout = 5 * time.Second
	}
	return &Flusher{
		dirty:         make(map[int64]struct{}),
		prices:        prices,
		coldStore:     coldStore,
		metrics:       metrics,
		log:           log.With().Str("component", "persistence").Logger(),
		period:        cfg.Period,
		appendTimeout: cfg.AppendTimeout,
		alertThreshold: cfg.AlertThreshold,
		alertWindow:    cfg.AlertWindow,
	}
}

// Mark implements domain.DirtyMarker. Idempotent: marking an
// already-dirty id is a no-op.
func (f *Flusher) Mark(productID int64) {
	f.mu.Lock()
	f.dirty[productID] = struct{}{}
	f.mu.Unlock()
}

// Run drives the fixed-period drain until ctx is done.
func (f *Flusher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.drain(ctx)
		}
	}
}

func (f *Flusher) drain(ctx context.Context) {
	f.mu.Lock()
	if len(f.dirty) == 0 {
		f.mu.Unlock()
		return
	}
	ids := make([]int64, 0, len(f.dirty))
	for id := range f.dirty {
		ids = append(ids, id)
	}
	f.dirty = make(map[int64]struct{})
	f.mu.Unlock()

	ticks := make([]domain.PriceTick, 0, len(ids))
	for _, id := range ids {
		if tick, ok := f.prices.Get(id); ok {
			ticks = append(ticks, tick)
		}
	}

	if err := f.appendWithRetry(ctx, ticks); err != nil {
		f.log.Error().Err(err).Int("count", len(ids)).Msg("cold store append failed, reinserting ids")
		f.metrics.IncPersistenceFailures()
		f.reinsert(ids)
	}

	f.checkAlert()
}

// appendWithRetry wraps ColdStore.AppendBatch in an exponential backoff
// (base 500ms, ×2, cap 60s, 3 retries), bounded by a per-attempt timeout
// derived from f.appendTimeout.
func (f *Flusher) appendWithRetry(ctx context.Context, ticks []domain.PriceTick) error {
	if len(ticks) == 0 {
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.Multiplier = 2
	bo.MaxInterval = 60 * time.Second
	b := backoff.WithMaxRetries(bo, 3)
	return backoff.Retry(func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, f.appendTimeout)
		defer cancel()
		return f.coldStore.AppendBatch(attemptCtx, ticks)
	}, backoff.WithContext(b, ctx))
}

func (f *Flusher) reinsert(ids []int64) {
	f.mu.Lock()
	for _, id := range ids {
		f.dirty[id] = struct{}{}
	}
	f.mu.Unlock()
}

func (f *Flusher) checkAlert() {
	f.mu.Lock()
	size := len(f.dirty)
	f.mu.Unlock()

	f.metrics.SetDirtyProducts(size)

	if f.alertThreshold <= 0 {
		return
	}
	if size <= f.alertThreshold {
		f.overThresholdSince = time.Time{}
		return
	}
	if f.overThresholdSince.IsZero() {
		f.overThresholdSince = time.Now()
		return
	}
	if time.Since(f.overThresholdSince) > f.alertWindow {
		f.metrics.IncPersistenceAlert()
	}
}

// DirtyCount reports the current dirty-set size, for diagnostics.
func (f *Flusher) DirtyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dirty)
}
