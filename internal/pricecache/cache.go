// Package pricecache holds the hot productId→tick map. It is
// the single source of change notifications for the valuation work queue
// and the persistence dirty set.
package pricecache

import (
	"context"
	"sync"
	"time"

	"github.com/aristath/rtve/internal/domain"
)

// Cache is a mutex-guarded map from productId to its latest accepted tick.
// Entries are never evicted; staleness is surfaced on read and by a
// periodic scanner that promotes entries past their TTL in place.
type Cache struct {
	mu    sync.RWMutex
	ticks map[int64]domain.PriceTick

	staleness time.Duration
	workQueue domain.WorkEnqueuer
	dirty     domain.DirtyMarker
	staleGauge domain.StaleGauge
}

// New creates a Cache. workQueue and dirty are consulted by Put whenever a
// stored entry is replaced; staleGauge is consulted by ScanStale.
func New(staleness time.Duration, workQueue domain.WorkEnqueuer, dirty domain.DirtyMarker, staleGauge domain.StaleGauge) *Cache {
	return &Cache{
		ticks:      make(map[int64]domain.PriceTick),
		staleness:  staleness,
		workQueue:  workQueue,
		dirty:      dirty,
		staleGauge: staleGauge,
	}
}

// Put applies the acceptance rule of accepts: a tick with a later
// timestamp than the cached one supersedes it whatever its priority;
// ties (equal timestamp) are broken in favor of the higher-quality
// (lower-or-equal-numbered) source; an older tick supersedes the cached
// one only once the cached tick is older than the staleness threshold. On
// acceptance the productId is enqueued onto the work queue and marked
// dirty for persistence. Returns whether the tick was accepted.
func (c *Cache) Put(tick domain.PriceTick) bool {
	c.mu.Lock()
	existing, exists := c.ticks[tick.ProductID]
	if exists && !c.accepts(tick, existing) {
		c.mu.Unlock()
		return false
	}
	tick.Stale = time.Since(tick.Timestamp) > c.staleness
	c.ticks[tick.ProductID] = tick
	c.mu.Unlock()

	if c.workQueue != nil {
		c.workQueue.Enqueue(tick.ProductID)
	}
	if c.dirty != nil {
		c.dirty.Mark(tick.ProductID)
	}
	return true
}

// LoadTick stores tick directly, without the work-queue enqueue or dirty
// mark Put ripples on every accepted change — for the startup snapshot
// load, which is a cold fill of already-persisted state, not a new tick
// needing a recompute or a re-flush to the store it came from.
func (c *Cache) LoadTick(tick domain.PriceTick) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tick.Stale = time.Since(tick.Timestamp) > c.staleness
	c.ticks[tick.ProductID] = tick
}

// accepts reports whether candidate should replace existing per the
// (timestamp, -priority) ordering rule. Caller holds c.mu.
func (c *Cache) accepts(candidate, existing domain.PriceTick) bool {
	if candidate.Timestamp.After(existing.Timestamp) {
		return true
	}
	if candidate.Timestamp.Equal(existing.Timestamp) {
		return candidate.SourcePriority <= existing.SourcePriority
	}
	// Older than the cached entry: only acceptable as a refresh once the
	// cached entry has aged past the staleness threshold.
	return time.Since(existing.Timestamp) > c.staleness
}

// Get returns the current tick for productID, recomputing staleness
// against the current time (the scanner may not have run yet).
func (c *Cache) Get(productID int64) (domain.PriceTick, bool) {
	c.mu.RLock()
	tick, ok := c.ticks[productID]
	c.mu.RUnlock()
	if !ok {
		return domain.PriceTick{}, false
	}
	if time.Since(tick.Timestamp) > c.staleness {
		tick.Stale = true
	}
	return tick, true
}

// BulkGet returns every found tick among ids, keyed by productId.
func (c *Cache) BulkGet(ids []int64) map[int64]domain.PriceTick {
	out := make(map[int64]domain.PriceTick, len(ids))
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := time.Now()
	for _, id := range ids {
		tick, ok := c.ticks[id]
		if !ok {
			continue
		}
		if now.Sub(tick.Timestamp) > c.staleness {
			tick.Stale = true
		}
		out[id] = tick
	}
	return out
}

// Len reports the current entry count, for the price_cache_size gauge.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ticks)
}

// ScanStale promotes entries older than the staleness threshold to
// stale=true in place, returning the number newly marked. It never
// evicts. Intended to be driven by a fixed-period ticker.
func (c *Cache) ScanStale() int {
	c.mu.Lock()
	count := 0
	for id, tick := range c.ticks {
		if !tick.Stale && time.Since(tick.Timestamp) > c.staleness {
			tick.Stale = true
			c.ticks[id] = tick
			count++
		}
	}
	c.mu.Unlock()

	if count > 0 && c.staleGauge != nil {
		c.staleGauge.IncStale(count)
	}
	return count
}

// Run drives ScanStale on a fixed period until ctx is done.
func (c *Cache) Run(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.ScanStale()
		}
	}
}
