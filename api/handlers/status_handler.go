package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	redisLocal "github.com/replyflow/resilience-service/pkg/redis"
)

// StatusHandler reports whether the service and its store are reachable.
func StatusHandler(rdb *redis.Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
		defer cancel()

		if err := redisLocal.Ping(ctx, rdb); err != nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, "redis unreachable")
		}

		return c.JSON(fiber.Map{"status": "ok"})
	}
}
