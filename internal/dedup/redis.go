package dedup

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "dedup:notify:"

// RedisStore keeps fingerprints as Redis keys with native expiry. Redis
// errors never block scheduling: checks fail open.
type RedisStore struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewRedisStore(rdb *redis.Client, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{rdb: rdb, logger: logger}
}

func (s *RedisStore) ShouldSuppress(ctx context.Context, key string) bool {
	n, err := s.rdb.Exists(ctx, keyPrefix+key).Result()
	if err != nil {
		s.logger.Warn("Redis dedup check failed, allowing scheduling",
			zap.String("dedup_key", key),
			zap.Error(err),
		)
		return false
	}
	return n > 0
}

func (s *RedisStore) Record(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, keyPrefix+key, 1, ttl).Result()
	if err != nil {
		s.logger.Warn("Redis dedup record failed, allowing scheduling",
			zap.String("dedup_key", key),
			zap.Error(err),
		)
		return true, nil
	}
	if !ok {
		s.logger.Info("Skipped duplicated schedule", zap.String("dedup_key", key))
	}
	return ok, nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, keyPrefix+key).Err()
}

// CleanupExpired is a no-op; Redis expires keys itself.
func (s *RedisStore) CleanupExpired(context.Context) (int, error) {
	return 0, nil
}
