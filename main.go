package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/robfig/cron/v3"

	"github.com/replyflow/resilience-service/api"
	"github.com/replyflow/resilience-service/internal/bootstrap"
	"github.com/replyflow/resilience-service/internal/config"
	"github.com/replyflow/resilience-service/internal/logger"
	"github.com/replyflow/resilience-service/internal/otel"
	"github.com/replyflow/resilience-service/pkg/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	appLogger, _ := logger.Setup(os.Stdout, cfg)
	slog.SetDefault(appLogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := otel.Setup(ctx, cfg.Otel)
	if err != nil {
		appLogger.Error("failed to initialize otel", "err", err)
		return
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := shutdownOtel(shutdownCtx); shutdownErr != nil {
			appLogger.Error("error during otel shutdown", "err", shutdownErr)
		}
	}()

	rdb := redis.NewClient(redis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, appLogger)
	defer func() { _ = rdb.Close() }()

	registry, err := bootstrap.New(cfg, rdb, appLogger)
	if err != nil {
		appLogger.Error("failed to build executors", "err", err)
		return
	}

	app, err := api.New(&api.Config{
		Logger:   appLogger,
		Registry: registry,
		Redis:    rdb,
		Config:   cfg,
	})
	if err != nil {
		appLogger.Error("failed to build app", "err", err)
		return
	}

	sweeper := cron.New()
	if _, err := sweeper.AddFunc("@every 1m", func() {
		healthSweep(registry, appLogger)
	}); err != nil {
		appLogger.Error("failed to schedule health sweep", "err", err)
		return
	}
	sweeper.Start()
	defer sweeper.Stop()

	appLogger.Info("starting server",
		"port", cfg.Port,
		"dependencies", cfg.Dependencies,
	)

	if err := runServer(ctx, app, ":"+cfg.Port); err != nil {
		appLogger.Error("server error", "err", err)
	}
}

// healthSweep logs each dependency whose breaker reports issues, so slow
// degradations surface without anyone polling the admin API.
func healthSweep(registry *bootstrap.Registry, logger *slog.Logger) {
	for _, name := range registry.Names() {
		e, ok := registry.Get(name)
		if !ok {
			continue
		}

		diag := e.Diagnostics()
		if diag.Healthy {
			continue
		}

		logger.Warn("dependency unhealthy",
			"resource", name,
			"state", e.Stats().State.String(),
			"issues", diag.Issues,
			"recommendations", diag.Recommendations,
		)
	}
}

func runServer(ctx context.Context, app *fiber.App, addr string) error {
	srvErr := make(chan error, 1)

	go func() {
		srvErr <- app.Listen(addr)
	}()

	select {
	case err := <-srvErr:
		return err
	case <-ctx.Done():
	}

	if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("error during shutdown: %w", err)
	}
	return nil
}
