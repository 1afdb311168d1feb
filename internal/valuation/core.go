// Package valuation implements the Valuation Core: a bounded
// worker pool that drains the productId work queue and fans out a
// recompute across each product's holders. The dispatch loop is
// channel-driven with async per-item execution and a mutex-guarded
// in-flight set; there is no cross-product dependency graph to track,
// since products have no inter-dependencies.
package valuation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/rtve/internal/domain"
)

// PriceCache is the subset of internal/pricecache.Cache the core reads.
type PriceCache interface {
	Get(productID int64) (domain.PriceTick, bool)
}

// FxCache is the subset of internal/fxcache.Cache the core reads.
type FxCache interface {
	Convert(from, to string) decimal.Decimal
	RegisterProductCurrency(productID int64, ccy string)
}

// PositionCache is the subset of internal/positioncache.Cache the core reads.
type PositionCache interface {
	AccountsHolding(productID int64) []int64
	GetQuantity(accountID, productID int64) decimal.Decimal
}

// Pricer resolves a market value for one holding.
type Pricer interface {
	MarketValue(assetClass domain.AssetClass, qty, price, fxRate decimal.Decimal) decimal.Decimal
}

// ShardRouter filters holder fan-out to this node's ownership range.
type ShardRouter interface {
	Owns(accountID int64) bool
}

// Broadcaster is the Conflation Broadcaster's submit side.
type Broadcaster interface {
	Submit(v domain.Valuation)
}

// Metrics is the subset of counters the core increments.
type Metrics interface {
	IncPriceMiss()
	IncValuationsSubmitted(n int)
	IncHolderErrors(n int)
	IncShardSkipped(n int)
	IncRateLimitRejected()
}

// Core is the Valuation Core.
type Core struct {
	prices    PriceCache
	fx        FxCache
	positions PositionCache
	pricer    Pricer
	shard     ShardRouter
	broadcast Broadcaster
	metrics   Metrics
	log       zerolog.Logger

	baseCurrency string

	workQueue chan int64
	permits   chan struct{}

	mu       sync.Mutex
	inFlight map[int64]domain.WorkState
}

// Config configures a Core.
type Config struct {
	BaseCurrency   string
	WorkerPoolSize int
	QueueDepth     int // buffered capacity of the productId work queue
}

// New creates a Core. Call Run to start the worker pool.
func New(cfg Config, prices PriceCache, fx FxCache, positions PositionCache, pricer Pricer, shardRouter ShardRouter, broadcast Broadcaster, metrics Metrics, log zerolog.Logger) *Core {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 4096
	}
	return &Core{
		prices:       prices,
		fx:           fx,
		positions:    positions,
		pricer:       pricer,
		shard:        shardRouter,
		broadcast:    broadcast,
		metrics:      metrics,
		log:          log.With().Str("component", "valuation").Logger(),
		baseCurrency: cfg.BaseCurrency,
		workQueue:    make(chan int64, cfg.QueueDepth),
		permits:      make(chan struct{}, 2*cfg.WorkerPoolSize),
		inFlight:     make(map[int64]domain.WorkState),
	}
}

// Enqueue implements domain.WorkEnqueuer: a non-blocking send onto the
// work queue. A full queue drops the enqueue; the next tick for this
// product will refresh state.
func (c *Core) Enqueue(productID int64) {
	c.setState(productID, domain.WorkQueued)
	select {
	case c.workQueue <- productID:
	default:
		c.log.Warn().Int64("productId", productID).Msg("valuation queue full, dropping enqueue")
	}
}

// Run starts numWorkers goroutines draining the work queue until ctx is
// done or the queue is closed.
func (c *Core) Run(ctx context.Context, numWorkers int) {
	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func() {
			defer wg.Done()
			c.workerLoop(ctx)
		}()
	}
	wg.Wait()
}

func (c *Core) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case productID, ok := <-c.workQueue:
			if !ok {
				return
			}
			c.dispatch(ctx, productID)
		}
	}
}

func (c *Core) dispatch(ctx context.Context, productID int64) {
	select {
	case c.permits <- struct{}{}:
	default:
		c.metrics.IncRateLimitRejected()
		return
	}
	defer func() { <-c.permits }()

	workID := uuid.New().String()
	c.setState(productID, domain.WorkDispatched)
	c.process(ctx, productID, workID)
}

func (c *Core) process(ctx context.Context, productID int64, workID string) {
	c.setState(productID, domain.WorkComputing)

	tick, ok := c.prices.Get(productID)
	if !ok {
		c.metrics.IncPriceMiss()
		c.setState(productID, domain.WorkFailed)
		return
	}

	c.fx.RegisterProductCurrency(productID, tick.Currency)

	holders := c.positions.AccountsHolding(productID)
	if len(holders) == 0 {
		c.setState(productID, domain.WorkDone)
		return
	}

	var (
		wg           sync.WaitGroup
		submitted    int
		errored      int
		shardSkipped int
		mu           sync.Mutex
	)

	for _, accountID := range holders {
		if !c.shard.Owns(accountID) {
			shardSkipped++
			continue
		}
		wg.Add(1)
		go func(accountID int64) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					c.log.Error().
						Int64("accountId", accountID).
						Int64("productId", productID).
						Interface("panic", r).
						Msg("holder valuation panicked")
					mu.Lock()
					errored++
					mu.Unlock()
				}
			}()

			qty := c.positions.GetQuantity(accountID, productID)
			if qty.IsZero() {
				return
			}

			fxRate := c.fx.Convert(tick.Currency, c.baseCurrency)
			marketValue := c.pricer.MarketValue(tick.AssetClass, qty, tick.Price, fxRate)

			v := domain.Valuation{
				AccountID:   accountID,
				ProductID:   productID,
				MarketValue: marketValue,
				PriceUsed:   tick.Price,
				FxRateUsed:  fxRate,
				Source:      workID,
				ComputedAt:  time.Now(),
			}
			c.broadcast.Submit(v)

			mu.Lock()
			submitted++
			mu.Unlock()
		}(accountID)
	}
	wg.Wait()

	if shardSkipped > 0 {
		c.metrics.IncShardSkipped(shardSkipped)
	}
	if errored > 0 {
		c.metrics.IncHolderErrors(errored)
	}
	if submitted > 0 {
		c.metrics.IncValuationsSubmitted(submitted)
	}

	if errored > 0 && submitted == 0 {
		c.setState(productID, domain.WorkFailed)
		return
	}
	c.setState(productID, domain.WorkBroadcastQueued)
	c.setState(productID, domain.WorkDone)
}

func (c *Core) setState(productID int64, state domain.WorkState) {
	c.mu.Lock()
	c.inFlight[productID] = state
	c.mu.Unlock()
}

// State returns the last known state for productID, for diagnostics.
func (c *Core) State(productID int64) (domain.WorkState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.inFlight[productID]
	return s, ok
}

// QueueDepth implements intake.Backpressure: the number of productIds
// currently buffered on the work queue, awaiting a worker.
func (c *Core) QueueDepth() int {
	return len(c.workQueue)
}
