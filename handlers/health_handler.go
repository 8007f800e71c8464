package handlers

import (
	"context"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler pings the store, cache and queue.
type HealthHandler struct {
	Checks  map[string]Pinger
	Timeout time.Duration
}

func NewHealthHandler(checks map[string]Pinger) *HealthHandler {
	return &HealthHandler{Checks: checks, Timeout: 3 * time.Second}
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.Timeout)
	defer cancel()

	names := make([]string, 0, len(h.Checks))
	for name := range h.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	healthy := true
	components := make(fiber.Map, len(names))
	for _, name := range names {
		if err := h.Checks[name].Ping(ctx); err != nil {
			healthy = false
			components[name] = fiber.Map{"status": "down", "error": err.Error()}
			logrus.WithField("component", name).WithError(err).Warn("Health check failed")
			continue
		}
		components[name] = fiber.Map{"status": "up"}
	}

	status := "ok"
	code := fiber.StatusOK
	if !healthy {
		status = "degraded"
		code = fiber.StatusServiceUnavailable
	}

	return c.Status(code).JSON(fiber.Map{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().Unix(),
	})
}
