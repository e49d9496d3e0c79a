package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements CounterStore and QuotaStore on a Redis client.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

var (
	_ CounterStore = (*RedisStore)(nil)
	_ QuotaStore   = (*RedisStore)(nil)
)

// IncrWindow pipelines INCR + EXPIRE so the counter expires on its own once
// the window has passed.
func (s *RedisStore) IncrWindow(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := s.rdb.Pipeline()
	cnt := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return cnt.Val(), nil
}

func (s *RedisStore) GetUsage(ctx context.Context, key string) (int64, error) {
	n, err := s.rdb.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *RedisStore) AddUsage(ctx context.Context, key string, qty int64, ttl time.Duration) (int64, error) {
	pipe := s.rdb.Pipeline()
	total := pipe.IncrBy(ctx, key, qty)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return total.Val(), nil
}
