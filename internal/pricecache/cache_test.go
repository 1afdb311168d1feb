package pricecache

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/rtve/internal/domain"
)

type fakeEnqueuer struct{ ids []int64 }

func (f *fakeEnqueuer) Enqueue(productID int64) { f.ids = append(f.ids, productID) }

type fakeDirty struct{ ids []int64 }

func (f *fakeDirty) Mark(productID int64) { f.ids = append(f.ids, productID) }

type fakeGauge struct{ total int }

func (f *fakeGauge) IncStale(n int) { f.total += n }

func tick(id int64, price string, ts time.Time, priority int) domain.PriceTick {
	return domain.PriceTick{
		ProductID:      id,
		Price:          decimal.RequireFromString(price),
		Currency:       "USD",
		AssetClass:     domain.AssetClassEquity,
		SourcePriority: priority,
		Timestamp:      ts,
	}
}

func TestPut_FirstTickAlwaysAccepted(t *testing.T) {
	wq, dirty := &fakeEnqueuer{}, &fakeDirty{}
	c := New(30*time.Minute, wq, dirty, nil)

	accepted := c.Put(tick(1, "10.00", time.Now(), 1))

	assert.True(t, accepted)
	assert.Equal(t, []int64{1}, wq.ids)
	assert.Equal(t, []int64{1}, dirty.ids)
}

func TestPut_RejectsOlderTick(t *testing.T) {
	c := New(30*time.Minute, nil, nil, nil)
	now := time.Now()

	require.True(t, c.Put(tick(1, "10.00", now, 1)))
	accepted := c.Put(tick(1, "9.00", now.Add(-time.Minute), 1))

	assert.False(t, accepted)
	got, ok := c.Get(1)
	require.True(t, ok)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("10.00")))
}

func TestPut_SameTimestampLowerPriorityWins(t *testing.T) {
	c := New(30*time.Minute, nil, nil, nil)
	now := time.Now()

	require.True(t, c.Put(tick(1, "10.00", now, 3)))
	// priority 1 is higher quality than 3 at the same timestamp: accepted.
	assert.True(t, c.Put(tick(1, "10.50", now, 1)))

	got, _ := c.Get(1)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("10.50")))

	// Now a same-timestamp, lower-quality (higher-numbered) source is rejected.
	assert.False(t, c.Put(tick(1, "99.00", now, 5)))
}

func TestPut_OlderTickAcceptedOnceStale(t *testing.T) {
	c := New(time.Millisecond, nil, nil, nil)
	base := time.Now().Add(-time.Hour)

	require.True(t, c.Put(tick(1, "10.00", base, 1)))
	time.Sleep(2 * time.Millisecond)

	// existing entry is now older than the (tiny) staleness threshold, so
	// even an older-timestamped refresh is accepted.
	accepted := c.Put(tick(1, "11.00", base.Add(-time.Minute), 9))
	assert.True(t, accepted)
}

func TestGet_SurfacesStaleWithoutEviction(t *testing.T) {
	c := New(time.Millisecond, nil, nil, nil)
	c.Put(tick(1, "10.00", time.Now().Add(-time.Hour), 1))

	got, ok := c.Get(1)
	require.True(t, ok)
	assert.True(t, got.Stale)
	assert.Equal(t, 1, c.Len())
}

func TestScanStale_PromotesAndReportsGauge(t *testing.T) {
	gauge := &fakeGauge{}
	c := New(time.Millisecond, nil, nil, gauge)
	c.Put(tick(1, "10.00", time.Now(), 1))
	time.Sleep(2 * time.Millisecond)

	n := c.ScanStale()

	assert.Equal(t, 1, n)
	assert.Equal(t, 1, gauge.total)

	got, _ := c.Get(1)
	assert.True(t, got.Stale)
}

func TestBulkGet_OnlyReturnsFoundIDs(t *testing.T) {
	c := New(30*time.Minute, nil, nil, nil)
	c.Put(tick(1, "10.00", time.Now(), 1))
	c.Put(tick(2, "20.00", time.Now(), 1))

	got := c.BulkGet([]int64{1, 2, 3})

	assert.Len(t, got, 2)
	assert.Contains(t, got, int64(1))
	assert.NotContains(t, got, int64(3))
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	c := New(time.Millisecond, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		c.Run(ctx, time.Millisecond)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
