package positioncache

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/rtve/internal/domain"
)

func qty(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func TestSetQuantity_ZeroRemovesEntry(t *testing.T) {
	c := New()
	c.SetQuantity(1, 100, qty("10"), time.Now())
	require.True(t, qty("10").Equal(c.GetQuantity(1, 100)))

	c.SetQuantity(1, 100, qty("0"), time.Now())

	assert.True(t, c.GetQuantity(1, 100).IsZero())
	assert.Empty(t, c.AccountsHolding(100))
}

func TestAccountsHolding_ReturnsHolders(t *testing.T) {
	c := New()
	c.SetQuantity(1, 100, qty("10"), time.Now())
	c.SetQuantity(2, 100, qty("5"), time.Now())

	holders := c.AccountsHolding(100)
	assert.ElementsMatch(t, []int64{1, 2}, holders)
}

func TestAccountsHolding_AbsentProductReturnsNil(t *testing.T) {
	c := New()
	assert.Empty(t, c.AccountsHolding(999))
}

func TestBulkReplace_ReplacesWholeAccountSnapshot(t *testing.T) {
	c := New()
	c.SetQuantity(1, 100, qty("10"), time.Now())
	c.SetQuantity(1, 200, qty("20"), time.Now())

	c.BulkReplace(1, []domain.PositionDelta{
		{AccountID: 1, ProductID: 100, Quantity: qty("99")},
	})

	assert.True(t, qty("99").Equal(c.GetQuantity(1, 100)))
	assert.True(t, c.GetQuantity(1, 200).IsZero())
	assert.Empty(t, c.AccountsHolding(200))
	assert.ElementsMatch(t, []int64{1}, c.AccountsHolding(100))
}

func TestBulkReplace_ZeroQuantityDeltaOmitted(t *testing.T) {
	c := New()
	c.BulkReplace(1, []domain.PositionDelta{
		{AccountID: 1, ProductID: 100, Quantity: qty("0")},
	})
	assert.Empty(t, c.AccountsHolding(100))
}

func TestLen_CountsLivePositions(t *testing.T) {
	c := New()
	c.SetQuantity(1, 100, qty("10"), time.Now())
	c.SetQuantity(2, 100, qty("5"), time.Now())
	assert.Equal(t, 2, c.Len())

	c.SetQuantity(1, 100, qty("0"), time.Now())
	assert.Equal(t, 1, c.Len())
}
