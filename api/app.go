// Package api assembles the fiber application: panic recovery, CORS,
// tracing, request logging, bearer auth and the admin routes over the
// executor registry.
package api

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/gofiber/contrib/otelfiber/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	slogfiber "github.com/samber/slog-fiber"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/replyflow/resilience-service/api/middleware"
	"github.com/replyflow/resilience-service/api/routes"
	"github.com/replyflow/resilience-service/internal/bootstrap"
	"github.com/replyflow/resilience-service/internal/config"
)

func errorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(ctx *fiber.Ctx, err error) error {
		var e *fiber.Error
		if !errors.As(err, &e) {
			e = fiber.ErrInternalServerError
		}

		span := trace.SpanFromContext(ctx.UserContext())
		span.RecordError(e)
		span.SetStatus(codes.Error, e.Message)

		logger.Error(
			"Fiber Error",
			"Code",
			e.Code,
			"Message",
			e.Message,
		)

		return ctx.
			Status(e.Code).
			SendString(e.Message)
	}
}

func stackTraceHandler(logger *slog.Logger) func(*fiber.Ctx, any) {
	return func(c *fiber.Ctx, e any) {
		stack := debug.Stack()
		logger.ErrorContext(
			c.Context(),
			"panic!",
			"stack",
			stack,
			"err",
			e,
		)
	}
}

type Config struct {
	Logger   *slog.Logger
	Registry *bootstrap.Registry
	Redis    *redis.Client
	config.Config
}

func New(cfg *Config) (*fiber.App, error) {
	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler(cfg.Logger),
	})

	app.Use(recover.New(recover.Config{
		Next:              nil,
		EnableStackTrace:  true,
		StackTraceHandler: stackTraceHandler(cfg.Logger),
	}))

	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "*",
		AllowMethods: "*",
	}))

	app.Use(otelfiber.Middleware())

	app.Use(slogfiber.NewWithConfig(
		cfg.Logger,
		slogfiber.Config{
			WithRequestID: true,
			WithSpanID:    true,
			WithTraceID:   true,
		},
	))

	var auth fiber.Handler
	if !cfg.SkipAuth {
		verifier, err := middleware.NewTokenVerifier(middleware.AuthConfig{
			Issuer:   cfg.Auth.Issuer,
			JWKSURL:  cfg.Auth.JWKSURL,
			Audience: cfg.Auth.Audience,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize auth middleware: %w", err)
		}
		auth = verifier.FiberMiddleware()
	}

	routes.RegisterRoutes(app, cfg.Registry, cfg.Redis, cfg.Logger, auth)

	return app, nil
}
