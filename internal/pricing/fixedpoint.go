package pricing

import (
	"math/bits"

	"github.com/shopspring/decimal"

	"github.com/aristath/rtve/internal/domain"
)

// fixedScale is the 10^6 fixed-point scale required for the
// EQUITY/FX fast path.
const fixedScale = 1_000_000

// FixedPointStrategy computes EQUITY/FX market values in int64 fixed-point
// arithmetic, scaled by fixedScale, to avoid decimal.Decimal allocations
// on the hot valuation path. Each operand is rounded to 6 decimal places
// and each intermediate product is truncated toward zero at that scale,
// so digits beyond the sixth decimal place are not carried. Any operand
// or intermediate product that does not fit in an int64 at this scale
// falls back to NaiveStrategy's decimal path.
type FixedPointStrategy struct{}

func (FixedPointStrategy) Supports(assetClass domain.AssetClass) bool {
	return assetClass == domain.AssetClassEquity || assetClass == domain.AssetClassFX
}

func (FixedPointStrategy) MarketValue(qty, price, fxRate decimal.Decimal) decimal.Decimal {
	qf, ok := toFixed(qty)
	if !ok {
		return NaiveStrategy{}.MarketValue(qty, price, fxRate)
	}
	pf, ok := toFixed(price)
	if !ok {
		return NaiveStrategy{}.MarketValue(qty, price, fxRate)
	}
	ff, ok := toFixed(fxRate)
	if !ok {
		return NaiveStrategy{}.MarketValue(qty, price, fxRate)
	}

	step1, ok := mulDivScale(qf, pf)
	if !ok {
		return NaiveStrategy{}.MarketValue(qty, price, fxRate)
	}
	step2, ok := mulDivScale(step1, ff)
	if !ok {
		return NaiveStrategy{}.MarketValue(qty, price, fxRate)
	}

	return decimal.New(step2, -6)
}

// toFixed scales d by 10^6 and rounds to the nearest int64, reporting
// false if the scaled value does not fit in an int64.
func toFixed(d decimal.Decimal) (int64, bool) {
	scaled := d.Shift(6).Round(0)
	if !scaled.IsInteger() {
		return 0, false
	}
	bi := scaled.BigInt()
	if !bi.IsInt64() {
		return 0, false
	}
	return bi.Int64(), true
}

// mulDivScale computes a*b/fixedScale using a 128-bit intermediate
// product (via math/bits), reporting false if the result would overflow
// int64.
func mulDivScale(a, b int64) (int64, bool) {
	neg := (a < 0) != (b < 0)
	ua, ub := abs64(a), abs64(b)

	hi, lo := bits.Mul64(ua, ub)
	if hi >= fixedScale {
		return 0, false // quotient would not fit in 64 bits
	}
	quo, _ := bits.Div64(hi, lo, fixedScale)
	if quo > 1<<63-1 {
		return 0, false
	}

	result := int64(quo)
	if neg {
		result = -result
	}
	return result, true
}

func abs64(v int64) uint64 {
	if v < 0 {
		return uint64(-v)
	}
	return uint64(v)
}
