// Package logger builds the process-wide structured logger. Log records fan
// out to stdout and, via the otelslog bridge, to the OpenTelemetry log
// pipeline.
package logger

import (
	"io"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	slogfiber "github.com/samber/slog-fiber"
	slogmulti "github.com/samber/slog-multi"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/sdk/log"

	"github.com/replyflow/resilience-service/internal/config"
)

// Setup constructs the logger and the fiber request-logging middleware.
// Callers own both values and pass them where needed.
func Setup(out io.Writer, cfg config.Config) (*slog.Logger, fiber.Handler) {
	provider := log.NewLoggerProvider()
	otelHandler := otelslog.NewHandler(
		"resilience-service",
		otelslog.WithLoggerProvider(provider),
	)

	var stdoutHandler slog.Handler
	if cfg.IsProd() {
		stdoutHandler = slog.NewTextHandler(out, &slog.HandlerOptions{})
	} else {
		stdoutHandler = slog.NewJSONHandler(out, &slog.HandlerOptions{})
	}

	logger := slog.New(
		slogmulti.Fanout(
			stdoutHandler,
			otelHandler,
		),
	)

	middleware := slogfiber.NewWithConfig(logger, slogfiber.Config{
		WithRequestID: true,
		WithSpanID:    true,
		WithTraceID:   true,
	})

	return logger, middleware
}
