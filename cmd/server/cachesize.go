package main

import (
	"context"
	"time"
)

// sizedCache is satisfied by pricecache.Cache, fxcache.Cache, and
// positioncache.Cache.
type sizedCache interface {
	Len() int
}

// gaugeSetter is the metrics.Registry subset this reporter drives.
type gaugeSetter interface {
	SetPriceCacheSize(n int)
	SetFxCacheSize(n int)
	SetPositionCacheSize(n int)
}

// reportCacheSizes polls the three hot cache sizes on a fixed period and
// pushes them into the metrics registry's price_cache_size, fx_cache_size,
// and position_cache_size gauges.
func reportCacheSizes(ctx context.Context, prices, fx, positions sizedCache, metrics gaugeSetter, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetPriceCacheSize(prices.Len())
			metrics.SetFxCacheSize(fx.Len())
			metrics.SetPositionCacheSize(positions.Len())
		}
	}
}
