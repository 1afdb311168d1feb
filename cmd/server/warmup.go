package main

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/aristath/rtve/internal/config"
	"github.com/aristath/rtve/internal/fxcache"
	"github.com/aristath/rtve/internal/positioncache"
	"github.com/aristath/rtve/internal/pricecache"
	"github.com/aristath/rtve/internal/snapshot"
)

// warmUp fetches the startup snapshot (caches otherwise start empty) and
// populates the three caches via their side-effect-free Load/BulkReplace
// paths (LoadTick, LoadRate, BulkReplace) rather than Put/SetQuantity, so a
// cold load never ripples a valuation-queue enqueue or a persistence dirty
// mark for state that is already in the store it came from.
func warmUp(ctx context.Context, cfg *config.Config, prices *pricecache.Cache, fx *fxcache.Cache, positions *positioncache.Cache, log zerolog.Logger) {
	fetcher := buildFetcher(cfg, log)

	snap, err := fetcher.Fetch(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("snapshot fetch failed, starting from an empty cold load")
		return
	}

	for _, t := range snap.Ticks {
		prices.LoadTick(t)
	}
	for _, pc := range snap.ProductCurrencies {
		fx.RegisterProductCurrency(pc.ProductID, pc.Currency)
	}
	for _, r := range snap.Rates {
		fx.LoadRate(r)
	}
	for _, acc := range snap.Accounts {
		positions.BulkReplace(acc.AccountID, acc.Positions)
	}

	log.Info().
		Int("ticks", len(snap.Ticks)).
		Int("rates", len(snap.Rates)).
		Int("accounts", len(snap.Accounts)).
		Msg("warmed caches from snapshot")
}

func buildFetcher(cfg *config.Config, log zerolog.Logger) snapshot.Fetcher {
	if cfg.SnapshotS3Bucket == "" {
		return snapshot.NewLocalFileFetcher(cfg.SnapshotPath, log)
	}

	f, err := snapshot.NewS3Fetcher(context.Background(), snapshot.S3Config{
		Endpoint:        cfg.SnapshotS3Endpoint,
		Region:          cfg.SnapshotS3Region,
		Bucket:          cfg.SnapshotS3Bucket,
		Key:             cfg.SnapshotS3Key,
		AccessKeyID:     cfg.SnapshotS3AccessKeyID,
		SecretAccessKey: cfg.SnapshotS3SecretKey,
	}, log)
	if err != nil {
		log.Warn().Err(err).Msg("failed to build S3 snapshot fetcher, falling back to local file")
		return snapshot.NewLocalFileFetcher(cfg.SnapshotPath, log)
	}
	return f
}
