package intake

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/rtve/internal/domain"
)

type fakeDispatcher struct {
	ticks     []domain.PriceTick
	rates     []domain.FxRate
	positions []struct {
		accountID, productID int64
		qty                  decimal.Decimal
	}
	bulkReplaced map[int64][]domain.PositionDelta
	registered   map[int64]string
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{
		bulkReplaced: make(map[int64][]domain.PositionDelta),
		registered:   make(map[int64]string),
	}
}

func (f *fakeDispatcher) PutPriceTick(tick domain.PriceTick) bool {
	f.ticks = append(f.ticks, tick)
	return true
}
func (f *fakeDispatcher) PutFxRate(rate domain.FxRate) { f.rates = append(f.rates, rate) }
func (f *fakeDispatcher) RegisterProductCurrency(productID int64, ccy string) {
	f.registered[productID] = ccy
}
func (f *fakeDispatcher) SetPosition(accountID, productID int64, qty decimal.Decimal, _ time.Time) {
	f.positions = append(f.positions, struct {
		accountID, productID int64
		qty                  decimal.Decimal
	}{accountID, productID, qty})
}
func (f *fakeDispatcher) BulkReplacePositions(accountID int64, snapshot []domain.PositionDelta) {
	f.bulkReplaced[accountID] = snapshot
}

type fakeDLQ struct {
	offers []struct {
		topic, key string
		kind       domain.ErrorKind
	}
}

func (f *fakeDLQ) Offer(_ context.Context, topic, key string, _ []byte, _ error, kind domain.ErrorKind) error {
	f.offers = append(f.offers, struct {
		topic, key string
		kind       domain.ErrorKind
	}{topic, key, kind})
	return nil
}

type fakeBackpressure struct{ depth int }

func (f fakeBackpressure) QueueDepth() int { return f.depth }

type fakeMetrics struct {
	received, parseErrors, dlqOffers int
}

func (f *fakeMetrics) IncTicksReceived() { f.received++ }
func (f *fakeMetrics) IncParseErrors()   { f.parseErrors++ }
func (f *fakeMetrics) IncDLQOffers()     { f.dlqOffers++ }

func newProcessor(disp *fakeDispatcher, dlq *fakeDLQ, bp Backpressure, m *fakeMetrics) *Processor {
	return New(Config{HighWaterMark: 100}, disp, dlq, bp, m, zerolog.Nop())
}

func TestProcessRecord_ValidPriceTickDispatched(t *testing.T) {
	disp := newFakeDispatcher()
	dlq := &fakeDLQ{}
	m := &fakeMetrics{}
	p := newProcessor(disp, dlq, fakeBackpressure{}, m)

	payload := []byte(`{"productId":1,"price":"10.50","currency":"USD","assetClass":"EQUITY","sourcePriority":1,"timestamp":"2026-01-01T00:00:00Z"}`)
	err := p.ProcessRecord(context.Background(), TopicPriceTicks, "1", payload)

	require.NoError(t, err)
	require.Len(t, disp.ticks, 1)
	assert.Equal(t, int64(1), disp.ticks[0].ProductID)
	assert.Equal(t, "USD", disp.registered[1])
	assert.Empty(t, dlq.offers)
}

func TestProcessRecord_MalformedJSONRoutesToDLQAsParseError(t *testing.T) {
	disp := newFakeDispatcher()
	dlq := &fakeDLQ{}
	m := &fakeMetrics{}
	p := newProcessor(disp, dlq, fakeBackpressure{}, m)

	err := p.ProcessRecord(context.Background(), TopicPriceTicks, "1", []byte(`not json`))

	assert.Error(t, err)
	require.Len(t, dlq.offers, 1)
	assert.Equal(t, domain.ErrorKindParse, dlq.offers[0].kind)
	assert.Equal(t, 1, m.parseErrors)
	assert.Equal(t, 1, m.dlqOffers)
}

func TestProcessRecord_UnknownAssetClassRoutesToDLQAsValidationError(t *testing.T) {
	disp := newFakeDispatcher()
	dlq := &fakeDLQ{}
	p := newProcessor(disp, dlq, fakeBackpressure{}, &fakeMetrics{})

	payload := []byte(`{"productId":1,"price":"10.50","currency":"USD","assetClass":"CRYPTO","sourcePriority":1,"timestamp":"2026-01-01T00:00:00Z"}`)
	err := p.ProcessRecord(context.Background(), TopicPriceTicks, "1", payload)

	assert.Error(t, err)
	require.Len(t, dlq.offers, 1)
	assert.Equal(t, domain.ErrorKindValidation, dlq.offers[0].kind)
	assert.Empty(t, disp.ticks)
}

func TestProcessRecord_NegativePriceRejected(t *testing.T) {
	disp := newFakeDispatcher()
	dlq := &fakeDLQ{}
	p := newProcessor(disp, dlq, fakeBackpressure{}, &fakeMetrics{})

	payload := []byte(`{"productId":1,"price":"-1","currency":"USD","assetClass":"EQUITY","sourcePriority":1,"timestamp":"2026-01-01T00:00:00Z"}`)
	err := p.ProcessRecord(context.Background(), TopicPriceTicks, "1", payload)

	assert.Error(t, err)
	assert.Empty(t, disp.ticks)
}

func TestProcessRecord_FxRateValidAndNonPositiveRejected(t *testing.T) {
	disp := newFakeDispatcher()
	dlq := &fakeDLQ{}
	p := newProcessor(disp, dlq, fakeBackpressure{}, &fakeMetrics{})

	ok := []byte(`{"pair":"EURUSD","rate":"1.10","timestamp":"2026-01-01T00:00:00Z"}`)
	require.NoError(t, p.ProcessRecord(context.Background(), TopicFxRates, "EURUSD", ok))
	require.Len(t, disp.rates, 1)

	bad := []byte(`{"pair":"EURUSD","rate":"0","timestamp":"2026-01-01T00:00:00Z"}`)
	err := p.ProcessRecord(context.Background(), TopicFxRates, "EURUSD", bad)
	assert.Error(t, err)
	assert.Len(t, disp.rates, 1, "non-positive rate must not be dispatched")
}

func TestProcessRecord_PositionUpdateDispatched(t *testing.T) {
	disp := newFakeDispatcher()
	p := newProcessor(disp, &fakeDLQ{}, fakeBackpressure{}, &fakeMetrics{})

	payload := []byte(`{"accountId":1,"productId":100,"quantity":"50"}`)
	require.NoError(t, p.ProcessRecord(context.Background(), TopicPositionUpdates, "1", payload))

	require.Len(t, disp.positions, 1)
	assert.Equal(t, int64(1), disp.positions[0].accountID)
}

func TestProcessRecord_EodSnapshotBulkReplaced(t *testing.T) {
	disp := newFakeDispatcher()
	p := newProcessor(disp, &fakeDLQ{}, fakeBackpressure{}, &fakeMetrics{})

	payload := []byte(`{"accountId":1,"businessDate":"2026-01-01","positions":[{"accountId":1,"productId":100,"quantity":"10"}]}`)
	require.NoError(t, p.ProcessRecord(context.Background(), TopicPositionsEod, "1", payload))

	require.Contains(t, disp.bulkReplaced, int64(1))
	assert.Len(t, disp.bulkReplaced[1], 1)
}

func TestShouldDefer_TriggersAboveHighWaterMark(t *testing.T) {
	p := newProcessor(newFakeDispatcher(), &fakeDLQ{}, fakeBackpressure{depth: 101}, &fakeMetrics{})
	assert.True(t, p.ShouldDefer())

	p2 := newProcessor(newFakeDispatcher(), &fakeDLQ{}, fakeBackpressure{depth: 50}, &fakeMetrics{})
	assert.False(t, p2.ShouldDefer())
}

func TestProcessRecord_UnknownTopicIsValidationError(t *testing.T) {
	dlq := &fakeDLQ{}
	p := newProcessor(newFakeDispatcher(), dlq, fakeBackpressure{}, &fakeMetrics{})

	err := p.ProcessRecord(context.Background(), "unknown.topic", "k", []byte(`{}`))

	assert.Error(t, err)
	require.Len(t, dlq.offers, 1)
	assert.Equal(t, domain.ErrorKindValidation, dlq.offers[0].kind)
}
