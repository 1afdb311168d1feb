// Package metrics implements the engine's counters, gauges, and coarse
// health signal, using the prometheus field-struct shape: NewCounter,
// NewGauge, and NewHistogram values assigned to named struct fields and
// registered once at construction.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gonum.org/v1/gonum/stat"
)

// HealthStatus is the engine's coarse health signal.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "HEALTHY"
	HealthDegraded  HealthStatus = "DEGRADED"
	HealthUnhealthy HealthStatus = "UNHEALTHY"
)

// Registry owns every RTVE prometheus metric and the rolling state the
// Health() signal is computed from.
type Registry struct {
	ticksReceived               prometheus.Counter
	ticksParsedErrors           prometheus.Counter
	valuationsSubmitted         prometheus.Counter
	valuationsDroppedConflation prometheus.Counter
	dlqOffers                   prometheus.Counter
	shardSkipped                prometheus.Counter
	holderErrors                prometheus.Counter
	rateLimitRejected           prometheus.Counter
	persistenceFailures         prometheus.Counter
	persistenceAlerts           prometheus.Counter
	forcedShutdowns             prometheus.Counter
	fxFallbacks                 prometheus.Counter
	priceMisses                 prometheus.Counter

	priceCacheSize    prometheus.Gauge
	fxCacheSize       prometheus.Gauge
	positionCacheSize prometheus.Gauge
	dirtyProducts     prometheus.Gauge
	mailboxDepth      prometheus.Gauge
	consumerLag       prometheus.Gauge
	staleCount        prometheus.Gauge

	mu                 sync.Mutex
	lagSamples         []float64
	mailboxOverSince   time.Time
	highWaterMailbox   int
	consumerLagAlert   int
}

// Config configures the Health() thresholds.
type Config struct {
	MailboxHighWaterMark int
	ConsumerLagAlert     int
}

// New creates and registers every RTVE metric against reg.
func New(cfg Config, reg prometheus.Registerer) *Registry {
	r := &Registry{
		ticksReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtve_ticks_received_total", Help: "Inbound tick records received.",
		}),
		ticksParsedErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtve_ticks_parsed_errors_total", Help: "Records that failed to parse.",
		}),
		valuationsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtve_valuations_submitted_total", Help: "Valuations submitted to the conflation broadcaster.",
		}),
		valuationsDroppedConflation: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtve_valuations_dropped_by_conflation_total", Help: "Valuations superseded within a flush window.",
		}),
		dlqOffers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtve_dlq_offers_total", Help: "Records routed to the dead-letter sink.",
		}),
		shardSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtve_shard_skipped_total", Help: "Holders skipped because they are not owned by this shard.",
		}),
		holderErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtve_holder_errors_total", Help: "Per-holder valuation computation failures.",
		}),
		rateLimitRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtve_ratelimit_rejected_total", Help: "Valuation dispatches rejected by the permit semaphore.",
		}),
		persistenceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtve_persistence_failures_total", Help: "Cold store append failures.",
		}),
		persistenceAlerts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtve_persistence_alerts_total", Help: "Sustained dirty-set threshold breaches.",
		}),
		forcedShutdowns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtve_forced_shutdown_total", Help: "Shutdowns that exceeded the grace period.",
		}),
		fxFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtve_fx_fallback_total", Help: "FX conversions that fell back to 1.0.",
		}),
		priceMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtve_valuation_price_misses_total", Help: "Valuation work items with no cached price tick.",
		}),
		priceCacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rtve_price_cache_size", Help: "Entries in the price cache.",
		}),
		fxCacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rtve_fx_cache_size", Help: "Entries in the FX cache.",
		}),
		positionCacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rtve_position_cache_size", Help: "Live positions.",
		}),
		dirtyProducts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rtve_dirty_products", Help: "Products pending a cold store flush.",
		}),
		mailboxDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rtve_mailbox_depth", Help: "Aggregate conflation mailbox depth at last flush.",
		}),
		consumerLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rtve_consumer_lag_per_group", Help: "Broker consumer group lag.",
		}),
		staleCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rtve_price_cache_stale_count", Help: "Price cache entries promoted to stale by the periodic scanner (never decremented).",
		}),
		highWaterMailbox: cfg.MailboxHighWaterMark,
		consumerLagAlert: cfg.ConsumerLagAlert,
	}

	for _, c := range []prometheus.Collector{
		r.ticksReceived, r.ticksParsedErrors, r.valuationsSubmitted, r.valuationsDroppedConflation,
		r.dlqOffers, r.shardSkipped, r.holderErrors, r.rateLimitRejected, r.persistenceFailures,
		r.persistenceAlerts, r.forcedShutdowns, r.fxFallbacks, r.priceMisses,
		r.priceCacheSize, r.fxCacheSize, r.positionCacheSize, r.dirtyProducts, r.mailboxDepth,
		r.consumerLag, r.staleCount,
	} {
		reg.MustRegister(c)
	}

	return r
}

func (r *Registry) IncTicksReceived()                  { r.ticksReceived.Inc() }
func (r *Registry) IncParseErrors()                    { r.ticksParsedErrors.Inc() }
func (r *Registry) IncDLQOffers()                      { r.dlqOffers.Inc() }
func (r *Registry) IncValuationsSubmitted(n int)       { r.valuationsSubmitted.Add(float64(n)) }
func (r *Registry) IncValuationsDroppedByConflation(n int) {
	r.valuationsDroppedConflation.Add(float64(n))
}
func (r *Registry) IncShardSkipped(n int)       { r.shardSkipped.Add(float64(n)) }
func (r *Registry) IncHolderErrors(n int)       { r.holderErrors.Add(float64(n)) }
func (r *Registry) IncRateLimitRejected()       { r.rateLimitRejected.Inc() }
func (r *Registry) IncPersistenceFailures()     { r.persistenceFailures.Inc() }
func (r *Registry) IncPersistenceAlert()        { r.persistenceAlerts.Inc() }
func (r *Registry) IncForcedShutdown()          { r.forcedShutdowns.Inc() }
func (r *Registry) IncFxFallback()              { r.fxFallbacks.Inc() }
func (r *Registry) IncPriceMiss()               { r.priceMisses.Inc() }
func (r *Registry) IncStale(n int)              { r.staleCount.Add(float64(n)) }

func (r *Registry) SetPriceCacheSize(n int)    { r.priceCacheSize.Set(float64(n)) }
func (r *Registry) SetFxCacheSize(n int)       { r.fxCacheSize.Set(float64(n)) }
func (r *Registry) SetPositionCacheSize(n int) { r.positionCacheSize.Set(float64(n)) }
func (r *Registry) SetDirtyProducts(n int)     { r.dirtyProducts.Set(float64(n)) }

// SetMailboxDepth records the latest flush's aggregate depth and tracks
// how long it has continuously exceeded the configured high-water mark,
// for the DEGRADED signal.
func (r *Registry) SetMailboxDepth(n int) {
	r.mailboxDepth.Set(float64(n))

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.highWaterMailbox <= 0 || n <= r.highWaterMailbox {
		r.mailboxOverSince = time.Time{}
		return
	}
	if r.mailboxOverSince.IsZero() {
		r.mailboxOverSince = time.Now()
	}
}

// RecordLag appends a consumer-lag sample for the rolling mean and
// updates the consumer_lag_per_group gauge.
func (r *Registry) RecordLag(lag int64) {
	r.mu.Lock()
	r.lagSamples = append(r.lagSamples, float64(lag))
	if len(r.lagSamples) > 60 {
		r.lagSamples = r.lagSamples[len(r.lagSamples)-60:]
	}
	r.mu.Unlock()
	r.consumerLag.Set(float64(lag))
}

// Health reports the engine's coarse health: DEGRADED if
// mailbox_depth has exceeded its high-water mark for more than 30s;
// UNHEALTHY if the rolling mean consumer lag exceeds the alert
// threshold.
func (r *Registry) Health() HealthStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.lagSamples) > 0 {
		meanLag := stat.Mean(r.lagSamples, nil)
		if r.consumerLagAlert > 0 && meanLag > float64(r.consumerLagAlert) {
			return HealthUnhealthy
		}
	}

	if !r.mailboxOverSince.IsZero() && time.Since(r.mailboxOverSince) > 30*time.Second {
		return HealthDegraded
	}

	return HealthHealthy
}
