// Package fxcache holds the pair→rate map and the currency→products
// reverse index that drives the FX ripple. Its tiered convert
// resolution chain falls back identity, then direct, then inverse,
// then triangulation through the base currency, the way a rate lookup
// degrades gracefully when a pair isn't quoted directly.
package fxcache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/rtve/internal/domain"
)

// Cache holds FX rates and the currency→product reverse index.
type Cache struct {
	mu    sync.RWMutex
	rates map[string]domain.FxRate      // pair -> rate
	index map[string]map[int64]struct{} // currency -> productIds

	baseCurrency string
	workQueue    domain.WorkEnqueuer
	log          zerolog.Logger

	fallbackCount atomic.Int64
}

// New creates a Cache. baseCurrency is used for triangulation and
// defaults to "USD" if empty.
func New(baseCurrency string, workQueue domain.WorkEnqueuer, log zerolog.Logger) *Cache {
	if baseCurrency == "" {
		baseCurrency = "USD"
	}
	return &Cache{
		rates:        make(map[string]domain.FxRate),
		index:        make(map[string]map[int64]struct{}),
		baseCurrency: baseCurrency,
		workQueue:    workQueue,
		log:          log.With().Str("component", "fxcache").Logger(),
	}
}

// Put stores rate, then ripples a valuation-queue enqueue to every
// registered product whose currency is either side of the pair.
func (c *Cache) Put(rate domain.FxRate) {
	c.mu.Lock()
	c.rates[rate.Pair] = rate
	affected := make(map[int64]struct{})
	for _, ccy := range [2]string{rate.Base(), rate.Quote()} {
		for id := range c.index[ccy] {
			affected[id] = struct{}{}
		}
	}
	c.mu.Unlock()

	if c.workQueue == nil {
		return
	}
	for id := range affected {
		c.workQueue.Enqueue(id)
	}
}

// LoadRate stores rate without rippling a valuation-queue enqueue, for the
// startup snapshot load: the caches are being populated before any
// valuation has ever run, so there is nothing downstream to wake up yet.
func (c *Cache) LoadRate(rate domain.FxRate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rates[rate.Pair] = rate
}

// RegisterProductCurrency idempotently records that productID is
// denominated in ccy, for the ripple's reverse index. Called on every
// price-tick intake.
func (c *Cache) RegisterProductCurrency(productID int64, ccy string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.index[ccy]
	if !ok {
		set = make(map[int64]struct{})
		c.index[ccy] = set
	}
	set[productID] = struct{}{}
}

// Convert resolves an exchange rate from one currency to another using
// the tiered chain: identity, direct, inverse,
// triangulation via the base currency, then a logged 1.0 fallback.
func (c *Cache) Convert(from, to string) decimal.Decimal {
	if from == to {
		return decimal.NewFromInt(1)
	}

	c.mu.RLock()
	direct, hasDirect := c.rates[domain.MakePair(from, to)]
	inverse, hasInverse := c.rates[domain.MakePair(to, from)]
	fromBase, hasFromBase := c.rates[domain.MakePair(from, c.baseCurrency)]
	toBase, hasToBase := c.rates[domain.MakePair(to, c.baseCurrency)]
	baseFrom, hasBaseFrom := c.rates[domain.MakePair(c.baseCurrency, from)]
	baseTo, hasBaseTo := c.rates[domain.MakePair(c.baseCurrency, to)]
	c.mu.RUnlock()

	if hasDirect {
		return direct.Rate
	}

	if hasInverse && !inverse.Rate.IsZero() {
		c.log.Debug().Str("from", from).Str("to", to).Msg("resolved via inverse rate")
		return decimal.NewFromInt(1).Div(inverse.Rate)
	}

	// Triangulation: from/base ÷ to/base, accepting either quoting
	// direction as available.
	if hasFromBase && hasToBase && !toBase.Rate.IsZero() {
		c.log.Debug().Str("from", from).Str("to", to).Msg("resolved via base-currency triangulation")
		return fromBase.Rate.Div(toBase.Rate)
	}
	if hasBaseFrom && hasBaseTo && !baseFrom.Rate.IsZero() {
		c.log.Debug().Str("from", from).Str("to", to).Msg("resolved via base-currency triangulation (inverse quoting)")
		return baseTo.Rate.Div(baseFrom.Rate)
	}
	if hasFromBase && hasBaseTo && !fromBase.Rate.IsZero() {
		c.log.Debug().Str("from", from).Str("to", to).Msg("resolved via mixed-quoting triangulation")
		return baseTo.Rate.Mul(fromBase.Rate)
	}
	if hasBaseFrom && hasToBase && !toBase.Rate.IsZero() {
		c.log.Debug().Str("from", from).Str("to", to).Msg("resolved via mixed-quoting triangulation")
		return decimal.NewFromInt(1).Div(baseFrom.Rate.Mul(toBase.Rate))
	}

	c.fallbackCount.Add(1)
	c.log.Warn().Str("from", from).Str("to", to).Msg("no FX path found, using 1.0 fallback")
	return decimal.NewFromInt(1)
}

// FallbackCount returns how many times Convert has fallen back to 1.0.
// Nothing in this module copies it into the metrics registry's
// fx_fallback_total counter.
func (c *Cache) FallbackCount() int64 {
	return c.fallbackCount.Load()
}

// Len reports the number of cached pairs, for the fx_cache_size gauge.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rates)
}

// LastUpdated returns the timestamp of the given pair's rate, if cached.
func (c *Cache) LastUpdated(pair string) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.rates[pair]
	if !ok {
		return time.Time{}, false
	}
	return r.Timestamp, true
}
