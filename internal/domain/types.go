// Package domain provides the flat, association-free DTOs the RTVE
// operates on. No bidirectional references, no ORM graph — every type
// carries only the keys the valuation pipeline needs.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetClass identifies the pricing strategy a product is dispatched to.
type AssetClass string

const (
	AssetClassEquity      AssetClass = "EQUITY"
	AssetClassFX          AssetClass = "FX"
	AssetClassCash        AssetClass = "CASH"
	AssetClassFXForward   AssetClass = "FX_FORWARD"
	AssetClassEquitySwap  AssetClass = "EQUITY_SWAP"
	AssetClassBond        AssetClass = "BOND"
)

// PriceTick is an immutable observation of a product's price.
//
// Invariant: Price >= 0. The Price Cache orders ticks by (Timestamp,
// -SourcePriority): a later tick supersedes a cached one, an equal-time
// tick supersedes it only if its SourcePriority <= the cached one's, and
// an older tick only once the cached tick is past the staleness threshold.
type PriceTick struct {
	ProductID      int64
	Price          decimal.Decimal
	Currency       string // 3-char ISO code
	AssetClass     AssetClass
	SourcePriority int // 1 = highest quality
	Timestamp      time.Time
	Stale          bool
}

// FxRate is an immutable observation of an exchange rate between a pair.
//
// Invariant: Rate > 0. The inverse rate is derived, never stored.
type FxRate struct {
	Pair      string // 6-char, base+quote, e.g. "EURUSD"
	Rate      decimal.Decimal
	Timestamp time.Time
}

// Base returns the first 3 characters of the pair (the base currency).
func (r FxRate) Base() string {
	if len(r.Pair) < 6 {
		return ""
	}
	return r.Pair[:3]
}

// Quote returns the last 3 characters of the pair (the quote currency).
func (r FxRate) Quote() string {
	if len(r.Pair) < 6 {
		return ""
	}
	return r.Pair[3:6]
}

// MakePair joins a base and quote currency into a 6-char pair code.
func MakePair(base, quote string) string {
	return base + quote
}

// Position is a (accountId, productId) holding. Quantity is signed; short
// positions are negative. Absence and zero quantity are equivalent to the
// valuation core.
type Position struct {
	AccountID   int64
	ProductID   int64
	Quantity    decimal.Decimal
	LastUpdated time.Time
}

// PositionDelta is an incremental update from the positions.updates topic.
type PositionDelta struct {
	AccountID int64
	ProductID int64
	Quantity  decimal.Decimal
}

// EodPositionSnapshot is a full per-account snapshot from positions.eod.
// BusinessDate is treated as opaque — never parsed.
type EodPositionSnapshot struct {
	AccountID    int64
	BusinessDate string
	Positions    []PositionDelta
}

// Valuation is the RTVE's sole output: a computed market value for one
// (account, product) pair. Derived, not stored except transiently in the
// conflation mailbox.
type Valuation struct {
	AccountID   int64
	ProductID   int64
	MarketValue decimal.Decimal
	PriceUsed   decimal.Decimal
	FxRateUsed  decimal.Decimal
	Source      string
	ComputedAt  time.Time
}

// Key identifies a Valuation's (account, product) slot for conflation.
type ValuationKey struct {
	AccountID int64
	ProductID int64
}

func (v Valuation) Key() ValuationKey {
	return ValuationKey{AccountID: v.AccountID, ProductID: v.ProductID}
}

// ErrorKind classifies a per-record failure.
type ErrorKind string

const (
	ErrorKindParse             ErrorKind = "parse-error"
	ErrorKindValidation        ErrorKind = "validation-error"
	ErrorKindProcessing        ErrorKind = "processing-error"
	ErrorKindShardRejection    ErrorKind = "shard-rejection"
	ErrorKindResourceExhausted ErrorKind = "resource-exhaustion"
	ErrorKindFatal             ErrorKind = "fatal"
)

// WorkState is the per-work-item state machine.
type WorkState string

const (
	WorkQueued          WorkState = "QUEUED"
	WorkDispatched      WorkState = "DISPATCHED"
	WorkComputing       WorkState = "COMPUTING"
	WorkBroadcastQueued WorkState = "BROADCAST_QUEUED"
	WorkDone            WorkState = "DONE"
	WorkFailed          WorkState = "FAILED"
)
