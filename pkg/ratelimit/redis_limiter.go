package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/replyflow/resilience-service/pkg/kv"
)

// RedisLimiter shares fixed-window counters across process instances through
// the external key-value store. On store failure it degrades gracefully and
// admits the call: a blind limiter must not take the service down with it.
type RedisLimiter struct {
	store  kv.Store
	opts   Options
	logger *slog.Logger
}

func NewRedisLimiter(store kv.Store, opts Options, logger *slog.Logger) (*RedisLimiter, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rate limit options: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &RedisLimiter{
		store:  store,
		opts:   opts,
		logger: logger.With(slog.String("component", "ratelimit")),
	}, nil
}

func (l *RedisLimiter) key(resource string, bucket time.Time) string {
	return "ratelimit:" + resource + ":" + strconv.FormatInt(bucket.UnixMilli(), 10)
}

func (l *RedisLimiter) Acquire(ctx context.Context, resource string) error {
	for {
		now := l.opts.now()
		bucket := now.Truncate(l.opts.Window)

		count, err := l.store.Increment(ctx, l.key(resource, bucket))
		if err != nil {
			l.logger.WarnContext(ctx, "rate limit store unavailable, admitting call",
				"resource", resource,
				"err", err,
			)
			return nil
		}

		if count == 1 {
			// First call in the bucket owns TTL setup. Double the window so a
			// straggler read near rollover still sees the counter.
			if err := l.store.Expire(ctx, l.key(resource, bucket), 2*l.opts.Window); err != nil {
				l.logger.WarnContext(ctx, "failed to expire rate limit bucket",
					"resource", resource,
					"err", err,
				)
			}
		}

		if count <= int64(l.opts.Limit) {
			return nil
		}

		remaining := bucket.Add(l.opts.Window).Sub(now)
		if l.opts.Policy == PolicyReject {
			return &LimitError{Resource: resource, RetryAfter: remaining}
		}

		if err := sleep(ctx, remaining); err != nil {
			return err
		}
	}
}
