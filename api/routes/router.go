package routes

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/replyflow/resilience-service/api/handlers"
	"github.com/replyflow/resilience-service/internal/bootstrap"
)

// RegisterRoutes wires the health probe and the executor admin surface. The
// auth handler, when present, guards the admin group only; the health probe
// stays open for load balancers.
func RegisterRoutes(app fiber.Router, reg *bootstrap.Registry, rdb *redis.Client, logger *slog.Logger, auth fiber.Handler) {
	if logger == nil {
		logger = slog.Default()
	}

	app.Get("/status", handlers.StatusHandler(rdb))

	api := app.Group("/api")
	if auth != nil {
		api.Use(auth)
	}

	api.Get("/executors", handlers.ListExecutors(reg))
	api.Get("/executors/:name/stats", handlers.ExecutorStats(reg))
	api.Get("/executors/:name/diagnostics", handlers.ExecutorDiagnostics(reg))
	api.Post("/executors/:name/reset", handlers.ResetExecutor(reg, logger))
	api.Post("/executors/:name/open", handlers.ForceOpenExecutor(reg, logger))
	api.Post("/executors/:name/close", handlers.ForceCloseExecutor(reg, logger))
}
