// Package redis builds the shared go-redis client used by the key-value
// store, the shared rate limiter and the health probe.
package redis

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
)

const (
	defaultDialTimeout  = 2 * time.Second
	defaultReadTimeout  = 2 * time.Second
	defaultWriteTimeout = 2 * time.Second
	defaultPoolTimeout  = 2 * time.Second

	defaultPoolSize     = 20
	defaultMinIdleConns = 2
)

type Config struct {
	// Typically "localhost:6379"
	Addr     string
	Password string
	DB       int
}

// NewClient builds an instrumented client. The resilience paths assume short
// redis deadlines: a slow store must never stall an outbound call longer than
// the pool timeouts configured here.
func NewClient(c Config, logger *slog.Logger) *redis.Client {
	if logger == nil {
		logger = slog.Default()
	}

	logger = logger.With(
		slog.String("component", "redis"),
		slog.String("addr", c.Addr),
		slog.Int("db", c.DB),
	)

	rdb := redis.NewClient(&redis.Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		DialTimeout:  defaultDialTimeout,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		PoolTimeout:  defaultPoolTimeout,
		PoolSize:     defaultPoolSize,
		MinIdleConns: defaultMinIdleConns,
	})

	logger.Info("initializing redis client")

	if err := redisotel.InstrumentTracing(rdb); err != nil {
		logger.Warn("otel tracing instrumentation failed", "err", err)
	}
	if err := redisotel.InstrumentMetrics(rdb); err != nil {
		logger.Warn("otel metrics instrumentation failed", "err", err)
	}

	return rdb
}

func Ping(ctx context.Context, rdb *redis.Client) error {
	return rdb.Ping(ctx).Err()
}
