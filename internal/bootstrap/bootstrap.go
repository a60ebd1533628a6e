// Package bootstrap builds the per-dependency executors from the loaded
// configuration. Construction is explicit and happens once at startup; the
// resulting registry is handed to the HTTP layer and the health sweep.
package bootstrap

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/replyflow/resilience-service/internal/config"
	"github.com/replyflow/resilience-service/pkg/executor"
	"github.com/replyflow/resilience-service/pkg/idempotency"
	"github.com/replyflow/resilience-service/pkg/kv"
	"github.com/replyflow/resilience-service/pkg/ratelimit"
)

const keyPrefix = "resilience:"

// Registry holds one executor per configured downstream dependency.
type Registry struct {
	names     []string
	executors map[string]*executor.Executor
}

// New wires the shared store, the idempotency guard and one executor per
// dependency named in cfg.Dependencies.
func New(cfg config.Config, rdb *redis.Client, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store := kv.NewRedisStore(rdb, keyPrefix)

	guardOpts := idempotency.DefaultOptions()
	guardOpts.TTL = time.Duration(cfg.Resilience.IdempotencyTTLH) * time.Hour

	guard, err := idempotency.NewGuard(store, guardOpts, logger)
	if err != nil {
		return nil, fmt.Errorf("building idempotency guard: %w", err)
	}

	r := &Registry{executors: make(map[string]*executor.Executor)}

	for _, name := range cfg.Dependencies {
		if _, ok := r.executors[name]; ok {
			return nil, fmt.Errorf("dependency %q configured twice", name)
		}

		opts := executorOptions(name, cfg.Resilience)

		deps := executor.Deps{Guard: guard, Logger: logger}
		if cfg.Resilience.SharedRateLimit {
			limiter, err := ratelimit.NewRedisLimiter(store, opts.RateLimit, logger)
			if err != nil {
				return nil, fmt.Errorf("building shared limiter for %q: %w", name, err)
			}
			deps.Limiter = limiter
		}

		e, err := executor.New(opts, deps)
		if err != nil {
			return nil, fmt.Errorf("building executor for %q: %w", name, err)
		}

		r.names = append(r.names, name)
		r.executors[name] = e
	}

	return r, nil
}

func executorOptions(name string, rc config.ResilienceConfig) executor.Options {
	opts := executor.DefaultOptions(name)

	opts.Breaker.FailureThreshold = rc.FailureThreshold
	opts.Breaker.RecoveryTimeout = time.Duration(rc.RecoveryTimeoutMs) * time.Millisecond
	opts.Breaker.MonitoringPeriod = time.Duration(rc.MonitoringPeriodMs) * time.Millisecond
	opts.Breaker.ExpectedErrorRate = rc.ExpectedErrorRate
	opts.Breaker.HalfOpenMaxCalls = rc.HalfOpenMaxCalls
	opts.Breaker.Timeout = time.Duration(rc.TimeoutMs) * time.Millisecond

	opts.RateLimit.Limit = rc.RateLimit
	opts.RateLimit.Window = time.Duration(rc.RateWindowMs) * time.Millisecond

	opts.Retry.MaxAttempts = rc.RetryMaxAttempts
	opts.Retry.BaseDelay = time.Duration(rc.RetryBaseDelayMs) * time.Millisecond

	opts.Idempotency.TTL = time.Duration(rc.IdempotencyTTLH) * time.Hour

	return opts
}

// Names returns the dependencies in configuration order.
func (r *Registry) Names() []string {
	return r.names
}

// Get looks up the executor guarding the named dependency.
func (r *Registry) Get(name string) (*executor.Executor, bool) {
	e, ok := r.executors[name]
	return e, ok
}
