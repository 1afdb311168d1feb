// Package pricing implements the asset-class-dispatched market-value
// strategies. The registry's priority-ordered, first-match lookup
// dispatches by asset class, the same Register/ByPriority/Get shape a
// work-type dispatcher would use for a different dispatch key.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/aristath/rtve/internal/domain"
)

// Strategy computes a market value for one holding. Implementations MUST
// be pure: no I/O, no mutation of qty/tick/fxRate.
type Strategy interface {
	Supports(assetClass domain.AssetClass) bool
	MarketValue(qty, price, fxRate decimal.Decimal) decimal.Decimal
}

// Registry resolves the first registered strategy whose Supports
// returns true, falling back to a naive decimal strategy if none match.
type Registry struct {
	strategies []Strategy
	fallback   Strategy
}

// NewRegistry creates a Registry pre-loaded with the fixed-point
// EQUITY/FX fast path ahead of the naive fallback.
func NewRegistry() *Registry {
	return &Registry{
		strategies: []Strategy{FixedPointStrategy{}},
		fallback:   NaiveStrategy{},
	}
}

// Register prepends a strategy, so it is evaluated before previously registered
// ones. Use to install domain-specific strategies (e.g. FX_FORWARD
// carry adjustments) ahead of the built-in fast path.
func (r *Registry) Register(s Strategy) {
	r.strategies = append([]Strategy{s}, r.strategies...)
}

// Resolve returns the first matching strategy, or the naive fallback.
func (r *Registry) Resolve(assetClass domain.AssetClass) Strategy {
	for _, s := range r.strategies {
		if s.Supports(assetClass) {
			return s
		}
	}
	return r.fallback
}

// MarketValue resolves a strategy for assetClass and applies it.
func (r *Registry) MarketValue(assetClass domain.AssetClass, qty, price, fxRate decimal.Decimal) decimal.Decimal {
	return r.Resolve(assetClass).MarketValue(qty, price, fxRate)
}

// NaiveStrategy is the quantity × price × fxRate fallback. It supports
// every asset class, so it is only ever reached as the registry's
// fallback, never via Resolve's loop.
type NaiveStrategy struct{}

func (NaiveStrategy) Supports(domain.AssetClass) bool { return true }

func (NaiveStrategy) MarketValue(qty, price, fxRate decimal.Decimal) decimal.Decimal {
	return qty.Mul(price).Mul(fxRate)
}
