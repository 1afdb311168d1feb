package main

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/rtve/internal/domain"
	"github.com/aristath/rtve/internal/fxcache"
	"github.com/aristath/rtve/internal/positioncache"
	"github.com/aristath/rtve/internal/pricecache"
)

// cacheDispatcher implements intake.Dispatcher by delegating to the
// three cache packages' actual method names, which differ slightly from
// the Dispatcher interface's vocabulary (Put vs PutPriceTick/PutFxRate)
// since each cache package is named after what it holds, not after the
// inbound topic that feeds it.
type cacheDispatcher struct {
	prices    *pricecache.Cache
	fx        *fxcache.Cache
	positions *positioncache.Cache
}

func newCacheDispatcher(prices *pricecache.Cache, fx *fxcache.Cache, positions *positioncache.Cache) *cacheDispatcher {
	return &cacheDispatcher{prices: prices, fx: fx, positions: positions}
}

func (d *cacheDispatcher) PutPriceTick(tick domain.PriceTick) bool {
	return d.prices.Put(tick)
}

func (d *cacheDispatcher) PutFxRate(rate domain.FxRate) {
	d.fx.Put(rate)
}

func (d *cacheDispatcher) RegisterProductCurrency(productID int64, ccy string) {
	d.fx.RegisterProductCurrency(productID, ccy)
}

func (d *cacheDispatcher) SetPosition(accountID, productID int64, qty decimal.Decimal, lastUpdated time.Time) {
	d.positions.SetQuantity(accountID, productID, qty, lastUpdated)
}

func (d *cacheDispatcher) BulkReplacePositions(accountID int64, snapshot []domain.PositionDelta) {
	d.positions.BulkReplace(accountID, snapshot)
}
