package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, []string{"manychat", "instagram-graph", "openai"}, cfg.Dependencies)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 5, cfg.Resilience.FailureThreshold)
	assert.Equal(t, 60000, cfg.Resilience.RecoveryTimeoutMs)
	assert.Equal(t, 3, cfg.Resilience.HalfOpenMaxCalls)
	assert.Equal(t, 25, cfg.Resilience.RateLimit)
	assert.False(t, cfg.SkipAuth)
	assert.False(t, cfg.IsProd())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("DEPENDENCIES", "manychat,stripe")
	t.Setenv("RESILIENCE_FAILURE_THRESHOLD", "7")
	t.Setenv("RESILIENCE_SHARED_RATE_LIMIT", "true")
	t.Setenv("SKIP_AUTH", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProd())
	assert.Equal(t, []string{"manychat", "stripe"}, cfg.Dependencies)
	assert.Equal(t, 7, cfg.Resilience.FailureThreshold)
	assert.True(t, cfg.Resilience.SharedRateLimit)
	assert.True(t, cfg.SkipAuth)
}

func TestLoadEnv_MissingFileIsNotAnError(t *testing.T) {
	assert.NoError(t, loadEnv(".env.does-not-exist"))
}
