package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on top of a shared redis client. All writes use
// redis's atomic primitives (SETNX, INCR, EXPIRE) so that multiple process
// instances can race on the same keys safely.
type RedisStore struct {
	rdb *redis.Client
	// Key prefix to prevent name clashing with other users of the instance.
	prefix string
}

func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	return &RedisStore{
		rdb:    rdb,
		prefix: prefix,
	}
}

func (s *RedisStore) key(key string) string {
	return s.prefix + key
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read value from store: %w", err)
	}

	return val, nil
}

func (s *RedisStore) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	won, err := s.rdb.SetNX(ctx, s.key(key), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to set value if absent: %w", err)
	}

	return won, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set value in store: %w", err)
	}

	return nil
}

func (s *RedisStore) Increment(ctx context.Context, key string) (int64, error) {
	count, err := s.rdb.Incr(ctx, s.key(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}

	return count, nil
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.rdb.Expire(ctx, s.key(key), ttl).Err(); err != nil {
		return fmt.Errorf("failed to expire key: %w", err)
	}

	return nil
}
