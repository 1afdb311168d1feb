// Package intake decodes, validates, and routes inbound records from the
// four inbound topics. Per-record failures are isolated to a
// DeadLetterSink offer and never abort the containing batch — the same
// error-isolation shape a failing work item gets elsewhere in this
// module, rather than letting one bad record sink a whole fetch.
package intake

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/rtve/internal/domain"
)

// Topic names, matching the broker's topic configuration exactly.
const (
	TopicPriceTicks      = "prices.ticks"
	TopicFxRates         = "fx.rates"
	TopicPositionUpdates = "positions.updates"
	TopicPositionsEod    = "positions.eod"
)

// Dispatcher is the set of cache writes a decoded, validated record is
// routed to.
type Dispatcher interface {
	PutPriceTick(tick domain.PriceTick) bool
	PutFxRate(rate domain.FxRate)
	RegisterProductCurrency(productID int64, ccy string)
	SetPosition(accountID, productID int64, qty decimal.Decimal, lastUpdated time.Time)
	BulkReplacePositions(accountID int64, snapshot []domain.PositionDelta)
}

// Backpressure reports the downstream valuation queue's depth so the
// broker consumer can defer acknowledgement and stop polling.
type Backpressure interface {
	QueueDepth() int
}

// Metrics is the subset of counters intake increments.
type Metrics interface {
	IncTicksReceived()
	IncParseErrors()
	IncDLQOffers()
}

// Processor decodes and routes records for all four inbound topics.
type Processor struct {
	dispatch     Dispatcher
	dlq          domain.DeadLetterSink
	metrics      Metrics
	log          zerolog.Logger
	highWaterMark int
	backpressure Backpressure
}

// Config configures a Processor.
type Config struct {
	HighWaterMark int // valuation queue depth above which polling pauses
}

// New creates a Processor.
func New(cfg Config, dispatch Dispatcher, dlq domain.DeadLetterSink, backpressure Backpressure, metrics Metrics, log zerolog.Logger) *Processor {
	return &Processor{
		dispatch:      dispatch,
		dlq:           dlq,
		metrics:       metrics,
		log:           log.With().Str("component", "intake").Logger(),
		highWaterMark: cfg.HighWaterMark,
		backpressure:  backpressure,
	}
}

// ShouldDefer reports whether the downstream valuation queue has crossed
// the high-water mark; the broker consumer must stop polling new batches
// and defer acknowledgement while this holds.
func (p *Processor) ShouldDefer() bool {
	if p.backpressure == nil || p.highWaterMark <= 0 {
		return false
	}
	return p.backpressure.QueueDepth() > p.highWaterMark
}

// ProcessRecord decodes and routes a single record. Per-record failures
// are offered to the DLQ and swallowed — the caller's batch loop
// continues regardless of this call's return value, which exists only
// for tests and logging.
func (p *Processor) ProcessRecord(ctx context.Context, topic, key string, payload []byte) error {
	p.metrics.IncTicksReceived()

	var err error
	switch topic {
	case TopicPriceTicks:
		err = p.processPriceTick(key, payload)
	case TopicFxRates:
		err = p.processFxRate(key, payload)
	case TopicPositionUpdates:
		err = p.processPositionUpdate(key, payload)
	case TopicPositionsEod:
		err = p.processEodSnapshot(key, payload)
	default:
		err = newValidationError("unknown topic: " + topic)
	}

	if err == nil {
		return nil
	}

	p.offerToDLQ(ctx, topic, key, payload, err)
	return err
}

func (p *Processor) offerToDLQ(ctx context.Context, topic, key string, payload []byte, cause error) {
	kind := domain.ErrorKindProcessing
	switch cause.(type) {
	case *parseError:
		kind = domain.ErrorKindParse
	case *validationError:
		kind = domain.ErrorKindValidation
	}

	if kind == domain.ErrorKindParse {
		p.metrics.IncParseErrors()
	}

	if err := p.dlq.Offer(ctx, topic, key, payload, cause, kind); err != nil {
		p.log.Error().Err(err).Str("topic", topic).Str("key", key).Msg("DLQ offer itself failed")
		return
	}
	p.metrics.IncDLQOffers()
}

func (p *Processor) processPriceTick(key string, payload []byte) error {
	var w wirePriceTick
	if err := json.Unmarshal(payload, &w); err != nil {
		return &parseError{cause: err}
	}
	if !validAssetClasses[w.AssetClass] {
		return &validationError{msg: "unknown asset class: " + w.AssetClass}
	}
	price, err := decimal.NewFromString(w.Price)
	if err != nil {
		return &parseError{cause: err}
	}
	if price.IsNegative() {
		return &validationError{msg: "negative price"}
	}

	tick := domain.PriceTick{
		ProductID:      w.ProductID,
		Price:          price,
		Currency:       w.Currency,
		AssetClass:     domain.AssetClass(w.AssetClass),
		SourcePriority: w.SourcePriority,
		Timestamp:      w.Timestamp,
	}
	p.dispatch.PutPriceTick(tick)
	p.dispatch.RegisterProductCurrency(tick.ProductID, tick.Currency)
	return nil
}

func (p *Processor) processFxRate(key string, payload []byte) error {
	var w wireFxRate
	if err := json.Unmarshal(payload, &w); err != nil {
		return &parseError{cause: err}
	}
	rate, err := decimal.NewFromString(w.Rate)
	if err != nil {
		return &parseError{cause: err}
	}
	if !rate.IsPositive() {
		return &validationError{msg: "non-positive FX rate"}
	}
	p.dispatch.PutFxRate(domain.FxRate{Pair: w.Pair, Rate: rate, Timestamp: w.Timestamp})
	return nil
}

func (p *Processor) processPositionUpdate(key string, payload []byte) error {
	var w wirePositionDelta
	if err := json.Unmarshal(payload, &w); err != nil {
		return &parseError{cause: err}
	}
	qty, err := decimal.NewFromString(w.Quantity)
	if err != nil {
		return &parseError{cause: err}
	}
	p.dispatch.SetPosition(w.AccountID, w.ProductID, qty, time.Now())
	return nil
}

func (p *Processor) processEodSnapshot(key string, payload []byte) error {
	var w wireEodSnapshot
	if err := json.Unmarshal(payload, &w); err != nil {
		return &parseError{cause: err}
	}
	deltas := make([]domain.PositionDelta, 0, len(w.Positions))
	for _, wp := range w.Positions {
		qty, err := decimal.NewFromString(wp.Quantity)
		if err != nil {
			return &parseError{cause: err}
		}
		deltas = append(deltas, domain.PositionDelta{AccountID: wp.AccountID, ProductID: wp.ProductID, Quantity: qty})
	}
	p.dispatch.BulkReplacePositions(w.AccountID, deltas)
	return nil
}

func newValidationError(msg string) error { return &validationError{msg: msg} }
