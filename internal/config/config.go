// Package config loads RTVE configuration from a .env file (if present)
// and environment variables, applying sensible defaults.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds RTVE configuration. All fields are optional with the
// defaults below.
type Config struct {
	BaseCurrency          string        // base.currency, default USD
	StalenessThreshold    time.Duration // staleness.threshold.minutes, default 30m
	StaleScanPeriod       time.Duration // staleness scan ticker period, default 1m
	ConflationPeriod      time.Duration // conflation.period.ms, default 250ms
	PersistencePeriod     time.Duration // persistence.period.ms, default 1000ms
	ShardIndex            int           // shard.index, default 0
	ShardTotal            int           // shard.total, default 1
	WorkerPoolSize        int           // worker.pool.size, default #CPUs
	ValuationQueueDepth   int           // valuation work queue capacity, default 10000
	GraceShutdown         time.Duration // grace.shutdown.ms, default 25000ms
	ConsumerLagAlert      int           // consumer.lag.alert, default 1000
	MailboxHighWaterMark  int           // conflation mailbox high-water mark, default 5000
	IntakeHighWaterMark   int           // valuation queue depth above which intake defers, default 8000
	DLQMaxRetries         int           // dlq.max.retries, default 3
	PersistenceAlertThreshold int       // dirty-set sustained-breach size, default 1000
	PersistenceAlertWindow    time.Duration // sustained-breach window, default 60s
	ColdStoreAppendTimeout    time.Duration // per-attempt cold store append timeout, default 5s
	BootstrapServers      string        // BOOTSTRAP_SERVERS
	ConsumerGroupID       string        // CONSUMER_GROUP_ID, default "rtve"
	ColdStorePath         string        // COLD_STORE_PATH, default ./data/coldstore.db
	SnapshotPath          string        // SNAPSHOT_PATH, local msgpack snapshot file
	SnapshotS3Bucket      string        // SNAPSHOT_S3_BUCKET; when set, fetch from S3 instead of local file
	SnapshotS3Key         string
	SnapshotS3Endpoint    string
	SnapshotS3Region      string
	SnapshotS3AccessKeyID string
	SnapshotS3SecretKey   string
	Port                  int    // HTTP port, default 8090
	DevMode               bool
	LogLevel              string
	HealthPort            int
}

// Load reads configuration from .env (if present) and the environment,
// applying the defaults below. It never fails on a missing .env file.
func Load(numCPU int) (*Config, error) {
	_ = godotenv.Load() // optional; missing .env is not an error

	cfg := &Config{
		BaseCurrency:       getEnv("BASE_CURRENCY", getEnv("base.currency", "USD")),
		StalenessThreshold: time.Duration(getEnvAsInt("STALENESS_THRESHOLD_MINUTES", 30)) * time.Minute,
		StaleScanPeriod:    time.Duration(getEnvAsInt("STALE_SCAN_PERIOD_SECONDS", 60)) * time.Second,
		ConflationPeriod:   time.Duration(getEnvAsInt("CONFLATION_PERIOD_MS", 250)) * time.Millisecond,
		PersistencePeriod:  time.Duration(getEnvAsInt("PERSISTENCE_PERIOD_MS", 1000)) * time.Millisecond,
		ShardIndex:          getEnvAsInt("SHARD_INDEX", 0),
		ShardTotal:          getEnvAsInt("SHARD_TOTAL", 1),
		WorkerPoolSize:      getEnvAsInt("WORKER_POOL_SIZE", numCPU),
		ValuationQueueDepth: getEnvAsInt("VALUATION_QUEUE_DEPTH", 10000),
		GraceShutdown:       time.Duration(getEnvAsInt("GRACE_SHUTDOWN_MS", 25000)) * time.Millisecond,
		ConsumerLagAlert:    getEnvAsInt("CONSUMER_LAG_ALERT", 1000),
		MailboxHighWaterMark: getEnvAsInt("MAILBOX_HIGH_WATER_MARK", 5000),
		IntakeHighWaterMark:  getEnvAsInt("INTAKE_HIGH_WATER_MARK", 8000),
		DLQMaxRetries:             getEnvAsInt("DLQ_MAX_RETRIES", 3),
		PersistenceAlertThreshold: getEnvAsInt("PERSISTENCE_ALERT_THRESHOLD", 1000),
		PersistenceAlertWindow:    time.Duration(getEnvAsInt("PERSISTENCE_ALERT_WINDOW_SECONDS", 60)) * time.Second,
		ColdStoreAppendTimeout:    time.Duration(getEnvAsInt("COLD_STORE_APPEND_TIMEOUT_SECONDS", 5)) * time.Second,
		BootstrapServers:      getEnv("BOOTSTRAP_SERVERS", "localhost:9092"),
		ConsumerGroupID:       getEnv("CONSUMER_GROUP_ID", "rtve"),
		ColdStorePath:         getEnv("COLD_STORE_PATH", "./data/coldstore.db"),
		SnapshotPath:          getEnv("SNAPSHOT_PATH", "./data/snapshot.msgpack"),
		SnapshotS3Bucket:      getEnv("SNAPSHOT_S3_BUCKET", ""),
		SnapshotS3Key:         getEnv("SNAPSHOT_S3_KEY", "rtve/snapshot.msgpack"),
		SnapshotS3Endpoint:    getEnv("SNAPSHOT_S3_ENDPOINT", ""),
		SnapshotS3Region:      getEnv("SNAPSHOT_S3_REGION", "auto"),
		SnapshotS3AccessKeyID: getEnv("SNAPSHOT_S3_ACCESS_KEY_ID", ""),
		SnapshotS3SecretKey:   getEnv("SNAPSHOT_S3_SECRET_KEY", ""),
		Port:       getEnvAsInt("PORT", 8090),
		DevMode:    getEnv("DEV_MODE", "false") == "true",
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		HealthPort: getEnvAsInt("HEALTH_PORT", 8080),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks invariants that would otherwise surface as a confusing
// runtime panic deep inside the shard router or worker pool.
func (c *Config) Validate() error {
	if c.ShardTotal < 1 {
		return errInvalidShardTotal
	}
	if c.ShardIndex < 0 || c.ShardIndex >= c.ShardTotal {
		return errInvalidShardIndex
	}
	if c.WorkerPoolSize < 1 {
		return errInvalidWorkerPoolSize
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}
