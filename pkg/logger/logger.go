// Package logger configures the process-wide structured logger.
package logger

import (
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logger configuration. When ShardTotal > 1,
// ShardIndex/ShardTotal are stamped onto every line so log aggregation can separate the output of the
// engine's parallel shard instances (internal/shard) without the caller
// having to tag each call site.
type Config struct {
	Level      string // debug, info, warn, error
	Pretty     bool   // enable pretty console output
	ShardIndex int    // this instance's shard index
	ShardTotal int    // total shard count; 0 or 1 means unsharded
}

// New creates a new structured logger. A multi-shard deployment
// (ShardTotal > 1) gets a permanent "shard" field; a single-instance
// deployment does not carry the noise of an always-"0/1" field.
func New(cfg Config) zerolog.Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var output io.Writer = os.Stdout
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
	}

	ctx := zerolog.New(output).
		With().
		Timestamp().
		Caller()

	if cfg.ShardTotal > 1 {
		ctx = ctx.Str("shard", shardLabel(cfg.ShardIndex, cfg.ShardTotal))
	}

	return ctx.Logger()
}

func shardLabel(index, total int) string {
	return strconv.Itoa(index) + "/" + strconv.Itoa(total)
}

// SetGlobalLogger sets the package-level logger used by zerolog/log.
func SetGlobalLogger(l zerolog.Logger) {
	log.Logger = l
}
