package main

import (
	"github.com/aristath/rtve/internal/domain"
	"github.com/aristath/rtve/internal/metrics"
)

// healthAdapter adapts metrics.Registry's HealthStatus-typed Health() to
// httpserver.HealthReporter's plain string return — Go's interface
// satisfaction requires an identical return type, not just an identical
// underlying type.
type healthAdapter struct {
	reg *metrics.Registry
}

func (h healthAdapter) Health() string {
	return string(h.reg.Health())
}

// lateEnqueuer breaks the Price/FX cache <-> Valuation Core
// construction cycle: both caches need a domain.WorkEnqueuer at
// construction time, but the Core itself needs the already-constructed
// caches. The composition root builds this first, hands it to the
// caches, then calls set once the Core exists — all before any goroutine
// that could call Enqueue concurrently is started.
type lateEnqueuer struct {
	core domain.WorkEnqueuer
}

func (e *lateEnqueuer) set(core domain.WorkEnqueuer) { e.core = core }

func (e *lateEnqueuer) Enqueue(productID int64) {
	if e.core != nil {
		e.core.Enqueue(productID)
	}
}

// latePriceCache breaks the symmetric cycle between the Price Cache and
// the Persistence Flusher: the flusher needs a PriceCache reader at
// construction time, but the Price Cache needs the flusher (as a
// domain.DirtyMarker) at its own construction time.
type latePriceCache struct {
	prices interface {
		Get(productID int64) (domain.PriceTick, bool)
	}
}

func (p *latePriceCache) set(prices interface {
	Get(productID int64) (domain.PriceTick, bool)
}) {
	p.prices = prices
}

func (p *latePriceCache) Get(productID int64) (domain.PriceTick, bool) {
	if p.prices == nil {
		return domain.PriceTick{}, false
	}
	return p.prices.Get(productID)
}
