package config

import "errors"

var (
	errInvalidShardTotal     = errors.New("config: shard.total must be >= 1")
	errInvalidShardIndex     = errors.New("config: shard.index must be in [0, shard.total)")
	errInvalidWorkerPoolSize = errors.New("config: worker.pool.size must be >= 1")
)
