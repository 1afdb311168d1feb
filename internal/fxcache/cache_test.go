package fxcache

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/rtve/internal/domain"
)

type fakeEnqueuer struct{ ids []int64 }

func (f *fakeEnqueuer) Enqueue(productID int64) { f.ids = append(f.ids, productID) }

func rate(pair, value string) domain.FxRate {
	return domain.FxRate{Pair: pair, Rate: decimal.RequireFromString(value), Timestamp: time.Now()}
}

func TestConvert_Identity(t *testing.T) {
	c := New("USD", nil, zerolog.Nop())
	assert.True(t, c.Convert("USD", "USD").Equal(decimal.NewFromInt(1)))
}

func TestConvert_Direct(t *testing.T) {
	c := New("USD", nil, zerolog.Nop())
	c.Put(rate("EURUSD", "1.10"))

	got := c.Convert("EUR", "USD")
	assert.True(t, got.Equal(decimal.RequireFromString("1.10")))
}

func TestConvert_Inverse(t *testing.T) {
	c := New("USD", nil, zerolog.Nop())
	c.Put(rate("USDJPY", "150.0"))

	got := c.Convert("JPY", "USD")
	want := decimal.NewFromInt(1).Div(decimal.RequireFromString("150.0"))
	assert.True(t, got.Equal(want))
}

func TestConvert_Triangulation(t *testing.T) {
	c := New("USD", nil, zerolog.Nop())
	c.Put(rate("EURUSD", "1.10"))
	c.Put(rate("GBPUSD", "1.25"))

	got := c.Convert("EUR", "GBP")
	want := decimal.RequireFromString("1.10").Div(decimal.RequireFromString("1.25"))
	assert.True(t, got.Equal(want))
}

func TestConvert_FallbackIncrementsCounter(t *testing.T) {
	c := New("USD", nil, zerolog.Nop())

	got := c.Convert("XAU", "ZZZ")

	assert.True(t, got.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, int64(1), c.FallbackCount())
}

func TestPut_RipplesToRegisteredProducts(t *testing.T) {
	wq := &fakeEnqueuer{}
	c := New("USD", wq, zerolog.Nop())
	c.RegisterProductCurrency(42, "EUR")
	c.RegisterProductCurrency(43, "JPY")

	c.Put(rate("EURUSD", "1.10"))

	require.Len(t, wq.ids, 1)
	assert.Equal(t, int64(42), wq.ids[0])
}

func TestRegisterProductCurrency_Idempotent(t *testing.T) {
	c := New("USD", nil, zerolog.Nop())
	c.RegisterProductCurrency(1, "EUR")
	c.RegisterProductCurrency(1, "EUR")

	c.mu.RLock()
	n := len(c.index["EUR"])
	c.mu.RUnlock()
	assert.Equal(t, 1, n)
}

func TestLen_CountsCachedPairs(t *testing.T) {
	c := New("USD", nil, zerolog.Nop())
	c.Put(rate("EURUSD", "1.10"))
	c.Put(rate("GBPUSD", "1.25"))
	assert.Equal(t, 2, c.Len())
}
