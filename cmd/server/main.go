// Package main wires the Real-Time Valuation Engine together: config,
// logging, the five caches/cores of the pipeline, the broker consumers
// for the four inbound topics, the HTTP surface, and a snapshot warm-up
// fetch before any of it starts accepting ticks. Grounded on the
// teacher's cmd/server/main.go staged-startup narrative (config ->
// logger -> dependencies -> servers -> signal wait -> graceful
// shutdown), trimmed of the modules this engine does not have.
package main

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aristath/rtve/internal/broker"
	"github.com/aristath/rtve/internal/coldstore"
	"github.com/aristath/rtve/internal/conflation"
	"github.com/aristath/rtve/internal/config"
	"github.com/aristath/rtve/internal/fxcache"
	"github.com/aristath/rtve/internal/httpserver"
	"github.com/aristath/rtve/internal/intake"
	"github.com/aristath/rtve/internal/metrics"
	"github.com/aristath/rtve/internal/persistence"
	"github.com/aristath/rtve/internal/positioncache"
	"github.com/aristath/rtve/internal/pricecache"
	"github.com/aristath/rtve/internal/pricing"
	"github.com/aristath/rtve/internal/shard"
	"github.com/aristath/rtve/internal/subscriber"
	"github.com/aristath/rtve/internal/valuation"
	"github.com/aristath/rtve/pkg/logger"
)

func main() {
	cfg, err := config.Load(runtime.NumCPU())
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:      cfg.LogLevel,
		Pretty:     cfg.DevMode,
		ShardIndex: cfg.ShardIndex,
		ShardTotal: cfg.ShardTotal,
	})
	logger.SetGlobalLogger(log)
	log.Info().Msg("starting RTVE")

	reg := metrics.New(metrics.Config{
		MailboxHighWaterMark: cfg.MailboxHighWaterMark,
		ConsumerLagAlert:     cfg.ConsumerLagAlert,
	}, prometheus.DefaultRegisterer)

	coldStore, err := coldstore.New(coldstore.Config{Path: cfg.ColdStorePath})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open cold store")
	}
	defer coldStore.Close()

	shardRouter := shard.New(cfg.ShardTotal, cfg.ShardIndex)
	pricer := pricing.NewRegistry()

	// The Price/FX caches and the Valuation Core depend on each other
	// (caches enqueue into the core; the core reads the caches), and the
	// Price Cache and Persistence Flusher do too (the cache marks dirty
	// ids into the flusher; the flusher reads ticks back out of the
	// cache). Both cycles are broken with a late-bound indirection set
	// once every side exists, before any goroutine starts.
	enqueue := &lateEnqueuer{}
	priceReader := &latePriceCache{}

	flusher := persistence.New(persistence.Config{
		Period:         cfg.PersistencePeriod,
		AppendTimeout:  cfg.ColdStoreAppendTimeout,
		AlertThreshold: cfg.PersistenceAlertThreshold,
		AlertWindow:    cfg.PersistenceAlertWindow,
	}, priceReader, coldStore, reg, log)

	prices := pricecache.New(cfg.StalenessThreshold, enqueue, flusher, reg)
	priceReader.set(prices)

	fx := fxcache.New(cfg.BaseCurrency, enqueue, log)
	positions := positioncache.New()

	dlqSink := broker.NewDLQSink(cfg.BootstrapServers, "rtve.dlq", log)
	defer dlqSink.Close()

	broadcaster := conflation.New(cfg.ConflationPeriod, subscriber.NewLogSink(log), dlqSink, reg, log)

	core := valuation.New(valuation.Config{
		BaseCurrency:   cfg.BaseCurrency,
		WorkerPoolSize: cfg.WorkerPoolSize,
		QueueDepth:     cfg.ValuationQueueDepth,
	}, prices, fx, positions, pricer, shardRouter, broadcaster, reg, log)
	enqueue.set(core)

	dispatch := newCacheDispatcher(prices, fx, positions)
	processor := intake.New(intake.Config{HighWaterMark: cfg.IntakeHighWaterMark}, dispatch, dlqSink, core, reg, log)

	httpSrv := httpserver.New(httpserver.Config{
		Port:    cfg.Port,
		DevMode: cfg.DevMode,
		Log:     log,
		Health:  healthAdapter{reg: reg},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	warmUp(ctx, cfg, prices, fx, positions, log)

	// wg is joined during shutdown, bounded by the grace period, so the
	// process never exits out from under an in-flight flush, emit, or
	// commit.
	var wg sync.WaitGroup

	runLoop := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	runLoop(func(ctx context.Context) { prices.Run(ctx, cfg.StaleScanPeriod) })
	runLoop(broadcaster.Run)
	runLoop(flusher.Run)
	runLoop(func(ctx context.Context) { core.Run(ctx, cfg.WorkerPoolSize) })
	runLoop(func(ctx context.Context) { reportCacheSizes(ctx, prices, fx, positions, reg, cfg.StaleScanPeriod) })

	consumers := []*broker.Consumer{
		broker.NewConsumer(broker.Config{BootstrapServers: cfg.BootstrapServers, Topic: intake.TopicPriceTicks, GroupID: cfg.ConsumerGroupID}, log),
		broker.NewConsumer(broker.Config{BootstrapServers: cfg.BootstrapServers, Topic: intake.TopicFxRates, GroupID: cfg.ConsumerGroupID}, log),
		broker.NewConsumer(broker.Config{BootstrapServers: cfg.BootstrapServers, Topic: intake.TopicPositionUpdates, GroupID: cfg.ConsumerGroupID}, log),
		broker.NewConsumer(broker.Config{BootstrapServers: cfg.BootstrapServers, Topic: intake.TopicPositionsEod, GroupID: cfg.ConsumerGroupID}, log),
	}
	defer func() {
		for _, c := range consumers {
			c.Close()
		}
	}()
	for _, c := range consumers {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			ingestLoop(ctx, c, c.Topic(), processor, reg, log)
		}()
	}

	go func() {
		if err := httpSrv.Start(); err != nil {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("HTTP server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.GraceShutdown)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server forced to shutdown")
	}

	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		log.Info().Msg("all loops drained cleanly")
	case <-shutdownCtx.Done():
		reg.IncForcedShutdown()
		log.Warn().Msg("grace period exceeded, forcing shutdown with loops still draining")
	}

	log.Info().Msg("RTVE stopped")
}
