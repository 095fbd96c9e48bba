package redis

import (
	"time"

	"github.com/redis/go-redis/v9"

	"notifyengine/pkg/config"
)

const defaultTimeout = 500 * time.Millisecond

// NewRedisClient builds a client from cfg. The connection is lazy; callers
// that need fail-fast behaviour should Ping.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})
}
