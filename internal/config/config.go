// Package config loads the service configuration from layered .env files and
// the process environment. Loading is explicit: callers invoke Load at
// startup and own the resulting value, there is no lazily-initialized global.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type OtlpConfig struct {
	Endpoint string `env:"ENDPOINT" envDefault:"localhost:4317"`
	Insecure bool   `env:"INSECURE" envDefault:"false"`
}

type OtelConfig struct {
	Disable      bool       `env:"DISABLE" envDefault:"false"`
	OtlpExporter OtlpConfig `envPrefix:"EXPORTER_OTLP_"`
}

type RedisConfig struct {
	Addr     string `env:"ADDR" envDefault:"localhost:6379"`
	Password string `env:"PASSWORD" envDefault:""`
	DB       int    `env:"DB" envDefault:"0"`
}

type AuthConfig struct {
	Issuer   string `env:"ISSUER" envDefault:""`
	JWKSURL  string `env:"JWKS_URL" envDefault:""`
	Audience string `env:"AUDIENCE" envDefault:""`
}

// ResilienceConfig carries the tuning defaults applied to every dependency's
// executor. Durations are in milliseconds to keep the env surface flat.
type ResilienceConfig struct {
	FailureThreshold   int     `env:"FAILURE_THRESHOLD" envDefault:"5"`
	RecoveryTimeoutMs  int     `env:"RECOVERY_TIMEOUT_MS" envDefault:"60000"`
	MonitoringPeriodMs int     `env:"MONITORING_PERIOD_MS" envDefault:"300000"`
	ExpectedErrorRate  float64 `env:"EXPECTED_ERROR_RATE" envDefault:"50"`
	HalfOpenMaxCalls   int     `env:"HALF_OPEN_MAX_CALLS" envDefault:"3"`
	TimeoutMs          int     `env:"TIMEOUT_MS" envDefault:"10000"`
	RateLimit          int     `env:"RATE_LIMIT" envDefault:"25"`
	RateWindowMs       int     `env:"RATE_WINDOW_MS" envDefault:"1000"`
	RetryMaxAttempts   int     `env:"RETRY_MAX_ATTEMPTS" envDefault:"3"`
	RetryBaseDelayMs   int     `env:"RETRY_BASE_DELAY_MS" envDefault:"200"`
	IdempotencyTTLH    int     `env:"IDEMPOTENCY_TTL_HOURS" envDefault:"24"`
	// Share rate-limit counters through redis when several replicas spend
	// the same upstream quota.
	SharedRateLimit bool `env:"SHARED_RATE_LIMIT" envDefault:"false"`
}

type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	Port        string `env:"PORT" envDefault:"8080"`
	SkipAuth    bool   `env:"SKIP_AUTH" envDefault:"false"`
	// Downstream dependencies; each one gets a named executor.
	Dependencies []string         `env:"DEPENDENCIES" envDefault:"manychat,instagram-graph,openai"`
	Redis        RedisConfig      `envPrefix:"REDIS_"`
	Auth         AuthConfig       `envPrefix:"AUTH_"`
	Otel         OtelConfig       `envPrefix:"OTEL_"`
	Resilience   ResilienceConfig `envPrefix:"RESILIENCE_"`
}

func (c Config) IsProd() bool {
	return c.Environment == "production"
}

func loadEnv(filename string) error {
	err := godotenv.Load(filename)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("error loading file %s: %w", filename, err)
}

// Load layers .env.<environment>.local, .env.local and .env under the
// process environment, then parses the result.
func Load() (Config, error) {
	var errs error

	environment := os.Getenv("ENVIRONMENT")
	if environment == "" {
		environment = "development"
	}

	for _, filename := range []string{
		".env." + environment + ".local",
		".env.local",
		".env",
	} {
		if err := loadEnv(filename); err != nil {
			errs = errors.Join(errs, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		errs = errors.Join(errs, fmt.Errorf("error parsing env: %w", err))
	}

	return cfg, errs
}
