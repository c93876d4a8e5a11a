package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Check probes one backing service.
type Check func(ctx context.Context) error

type HealthHandler struct {
	checks  map[string]Check
	timeout time.Duration
	log     *zap.Logger
}

func NewHealthHandler(checks map[string]Check, timeout time.Duration, log *zap.Logger) *HealthHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthHandler{checks: checks, timeout: timeout, log: log}
}

// Health runs every check in parallel. One failing dependency makes the
// service DOWN.
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	var mu sync.Mutex
	deps := make(map[string]string, len(h.checks))
	up := true

	var g errgroup.Group
	for name, check := range h.checks {
		name, check := name, check
		g.Go(func() error {
			status := "UP"
			if err := check(ctx); err != nil {
				status = "DOWN"
				h.log.Warn("Health check failed", zap.String("dependency", name), zap.Error(err))
			}
			mu.Lock()
			deps[name] = status
			if status == "DOWN" {
				up = false
			}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	if !up {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status":       "DOWN",
			"dependencies": deps,
		})
	}
	return c.JSON(fiber.Map{
		"status":       "UP",
		"dependencies": deps,
	})
}
