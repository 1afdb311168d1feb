package persistence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/rtve/internal/domain"
)

type fakePrices struct{ ticks map[int64]domain.PriceTick }

func (f *fakePrices) Get(productID int64) (domain.PriceTick, bool) {
	t, ok := f.ticks[productID]
	return t, ok
}

type fakeColdStore struct {
	mu      sync.Mutex
	batches [][]domain.PriceTick
	failN   int // fail this many calls before succeeding
}

func (f *fakeColdStore) AppendBatch(_ context.Context, ticks []domain.PriceTick) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failN > 0 {
		f.failN--
		return errors.New("transient cold store error")
	}
	f.batches = append(f.batches, ticks)
	return nil
}

type fakeMetrics struct {
	mu        sync.Mutex
	failures  int
	alerts    int
	dirtySize int
}

func (f *fakeMetrics) SetDirtyProducts(n int)      { f.mu.Lock(); f.dirtySize = n; f.mu.Unlock() }
func (f *fakeMetrics) IncPersistenceFailures()      { f.mu.Lock(); f.failures++; f.mu.Unlock() }
func (f *fakeMetrics) IncPersistenceAlert()         { f.mu.Lock(); f.alerts++; f.mu.Unlock() }

func tick(id int64) domain.PriceTick {
	return domain.PriceTick{ProductID: id, Price: decimal.RequireFromString("10"), Currency: "USD", Timestamp: time.Now()}
}

func TestMark_IsIdempotent(t *testing.T) {
	f := New(Config{Period: time.Hour}, &fakePrices{}, &fakeColdStore{}, &fakeMetrics{}, zerolog.Nop())
	f.Mark(1)
	f.Mark(1)
	assert.Equal(t, 1, f.DirtyCount())
}

func TestDrain_AppendsAndClearsDirtySet(t *testing.T) {
	prices := &fakePrices{ticks: map[int64]domain.PriceTick{1: tick(1), 2: tick(2)}}
	cs := &fakeColdStore{}
	f := New(Config{Period: time.Hour}, prices, cs, &fakeMetrics{}, zerolog.Nop())
	f.Mark(1)
	f.Mark(2)

	f.drain(context.Background())

	require.Len(t, cs.batches, 1)
	assert.Len(t, cs.batches[0], 2)
	assert.Equal(t, 0, f.DirtyCount())
}

func TestDrain_ReinsertsOnFailureAfterRetriesExhausted(t *testing.T) {
	prices := &fakePrices{ticks: map[int64]domain.PriceTick{1: tick(1)}}
	cs := &fakeColdStore{failN: 999}
	m := &fakeMetrics{}
	f := New(Config{Period: time.Hour}, prices, cs, m, zerolog.Nop())
	f.Mark(1)

	f.drain(context.Background())

	assert.Equal(t, 1, f.DirtyCount(), "failed ids must be reinserted")
	assert.Equal(t, 1, m.failures)
}

func TestDrain_RetriesTransientFailureThenSucceeds(t *testing.T) {
	prices := &fakePrices{ticks: map[int64]domain.PriceTick{1: tick(1)}}
	cs := &fakeColdStore{failN: 2}
	f := New(Config{Period: time.Hour}, prices, cs, &fakeMetrics{}, zerolog.Nop())
	f.Mark(1)

	f.drain(context.Background())

	assert.Equal(t, 0, f.DirtyCount())
	assert.Len(t, cs.batches, 1)
}

func TestCheckAlert_FiresOnlyAfterSustainedWindow(t *testing.T) {
	prices := &fakePrices{}
	cs := &fakeColdStore{}
	m := &fakeMetrics{}
	f := New(Config{Period: time.Hour, AlertThreshold: 1, AlertWindow: 20 * time.Millisecond}, prices, cs, m, zerolog.Nop())

	f.Mark(1)
	f.Mark(2)
	f.checkAlert()
	assert.Equal(t, 0, m.alerts, "must not alert on first breach")

	time.Sleep(25 * time.Millisecond)
	f.checkAlert()
	assert.Equal(t, 1, m.alerts)
}

func TestRun_DrainsOnTickerAndStopsOnCancel(t *testing.T) {
	prices := &fakePrices{ticks: map[int64]domain.PriceTick{1: tick(1)}}
	cs := &fakeColdStore{}
	f := New(Config{Period: 5 * time.Millisecond}, prices, cs, &fakeMetrics{}, zerolog.Nop())
	f.Mark(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		cs.mu.Lock()
		defer cs.mu.Unlock()
		return len(cs.batches) == 1
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
