package main

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyflow/resilience-service/api"
	"github.com/replyflow/resilience-service/internal/bootstrap"
	"github.com/replyflow/resilience-service/internal/config"
)

func newTestApp(t *testing.T) (*api.Config, *bootstrap.Registry) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := config.Config{
		Environment:  "development",
		Port:         "8080",
		SkipAuth:     true,
		Dependencies: []string{"manychat"},
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

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry, err := bootstrap.New(cfg, rdb, logger)
	require.NoError(t, err)

	return &api.Config{
		Logger:   logger,
		Registry: registry,
		Redis:    rdb,
		Config:   cfg,
	}, registry
}

func TestRoutes(t *testing.T) {
	appCfg, _ := newTestApp(t)

	app, err := api.New(appCfg)
	require.NoError(t, err)

	tests := []struct {
		description  string
		route        string
		expectedCode int
	}{
		{
			description:  "status route",
			route:        "/status",
			expectedCode: http.StatusOK,
		},
		{
			description:  "executors route",
			route:        "/api/executors",
			expectedCode: http.StatusOK,
		},
		{
			description:  "non existing route",
			route:        "/i-dont-exist",
			expectedCode: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.route, http.NoBody)

			resp, err := app.Test(req, -1)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.expectedCode, resp.StatusCode)
		})
	}
}

func TestHealthSweep_LogsUnhealthyDependency(t *testing.T) {
	_, registry := newTestApp(t)

	e, ok := registry.Get("manychat")
	require.True(t, ok)
	e.ForceOpen()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	healthSweep(registry, logger)

	out := buf.String()
	assert.Contains(t, out, "dependency unhealthy")
	assert.Contains(t, out, "manychat")
	assert.Contains(t, out, "OPEN")
}

func TestHealthSweep_QuietWhenHealthy(t *testing.T) {
	_, registry := newTestApp(t)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	healthSweep(registry, logger)

	assert.Empty(t, strings.TrimSpace(buf.String()))
}
