package handlers

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/replyflow/resilience-service/internal/bootstrap"
)

// ListExecutors returns every guarded dependency with its current breaker
// state.
func ListExecutors(reg *bootstrap.Registry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		executors := make([]fiber.Map, 0, len(reg.Names()))
		for _, name := range reg.Names() {
			e, _ := reg.Get(name)
			executors = append(executors, fiber.Map{
				"name":  name,
				"state": e.Stats().State,
			})
		}

		return c.JSON(fiber.Map{"executors": executors})
	}
}

func ExecutorStats(reg *bootstrap.Registry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		e, ok := reg.Get(c.Params("name"))
		if !ok {
			return fiber.ErrNotFound
		}

		return c.JSON(e.Stats())
	}
}

func ExecutorDiagnostics(reg *bootstrap.Registry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		e, ok := reg.Get(c.Params("name"))
		if !ok {
			return fiber.ErrNotFound
		}

		return c.JSON(e.Diagnostics())
	}
}

// ResetExecutor force-closes the breaker and clears its counters. Meant for
// operators after a confirmed upstream recovery.
func ResetExecutor(reg *bootstrap.Registry, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		name := c.Params("name")
		e, ok := reg.Get(name)
		if !ok {
			return fiber.ErrNotFound
		}

		e.Reset()
		logger.InfoContext(c.UserContext(), "executor reset by operator",
			"resource", name,
			"sub", c.Locals("sub"),
		)

		return c.JSON(e.Stats())
	}
}

func ForceOpenExecutor(reg *bootstrap.Registry, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		name := c.Params("name")
		e, ok := reg.Get(name)
		if !ok {
			return fiber.ErrNotFound
		}

		e.ForceOpen()
		logger.WarnContext(c.UserContext(), "executor forced open by operator",
			"resource", name,
			"sub", c.Locals("sub"),
		)

		return c.JSON(e.Stats())
	}
}

func ForceCloseExecutor(reg *bootstrap.Registry, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		name := c.Params("name")
		e, ok := reg.Get(name)
		if !ok {
			return fiber.ErrNotFound
		}

		e.ForceClose()
		logger.WarnContext(c.UserContext(), "executor forced closed by operator",
			"resource", name,
			"sub", c.Locals("sub"),
		)

		return c.JSON(e.Stats())
	}
}
