package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyflow/resilience-service/internal/config"
	"github.com/replyflow/resilience-service/pkg/executor"
)

func newTestConfig() config.Config {
	return config.Config{
		Environment:  "development",
		Dependencies: []string{"manychat", "instagram-graph", "openai"},
		Resilience: config.ResilienceConfig{
			FailureThreshold:   5,
			RecoveryTimeoutMs:  60000,
			MonitoringPeriodMs: 300000,
			ExpectedErrorRate:  50,
			HalfOpenMaxCalls:   3,
			TimeoutMs:          10000,
			RateLimit:          25,
			RateWindowMs:       1000,
			RetryMaxAttempts:   3,
			RetryBaseDelayMs:   200,
			IdempotencyTTLH:    24,
		},
	}
}

func newTestRegistry(t *testing.T, mutate func(*config.Config)) *Registry {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := newTestConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r, err := New(cfg, rdb, logger)
	require.NoError(t, err)
	return r
}

func TestNew_BuildsOneExecutorPerDependency(t *testing.T) {
	r := newTestRegistry(t, nil)

	assert.Equal(t, []string{"manychat", "instagram-graph", "openai"}, r.Names())

	for _, name := range r.Names() {
		e, ok := r.Get(name)
		require.True(t, ok)
		assert.Equal(t, name, e.Resource())
		assert.True(t, e.IsClosed())
	}

	_, ok := r.Get("unknown")
	assert.False(t, ok)
}

func TestNew_RejectsDuplicateDependency(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := newTestConfig()
	cfg.Dependencies = []string{"manychat", "manychat"}

	_, err := New(cfg, rdb, nil)
	assert.Error(t, err)
}

func TestNew_RejectsInvalidTuning(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := newTestConfig()
	cfg.Resilience.FailureThreshold = 0

	_, err := New(cfg, rdb, nil)
	assert.Error(t, err)
}

func TestNew_SharedRateLimitSpansExecutions(t *testing.T) {
	r := newTestRegistry(t, func(cfg *config.Config) {
		cfg.Resilience.SharedRateLimit = true
		cfg.Resilience.RateLimit = 1
		cfg.Resilience.RateWindowMs = 60000
	})

	e, ok := r.Get("manychat")
	require.True(t, ok)

	ctx := context.Background()
	op := func(ctx context.Context) (any, error) { return "ok", nil }

	first := e.Execute(ctx, executor.Request{Operation: op})
	require.True(t, first.Success)

	second := e.Execute(ctx, executor.Request{Operation: op})
	assert.False(t, second.Success, "second call in the window must hit the shared limit")
}

func TestNew_IdempotencySharedAcrossExecutors(t *testing.T) {
	r := newTestRegistry(t, nil)

	e, ok := r.Get("openai")
	require.True(t, ok)

	ctx := context.Background()
	executions := 0
	req := executor.Request{
		IdempotencyKey: "evt-123",
		Operation: func(ctx context.Context) (any, error) {
			executions++
			return "completion", nil
		},
	}

	first := e.Execute(ctx, req)
	require.True(t, first.Success)

	second := e.Execute(ctx, req)
	require.True(t, second.Success)
	assert.True(t, second.Replayed)
	assert.Equal(t, 1, executions)
}
