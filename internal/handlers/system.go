package handlers

import (
	"context"
	"time"

	"github.com/ahmetk3436/herald/internal/store"
	"github.com/gofiber/fiber/v2"
)

var startTime = time.Now()
var Version = "1.0.0"

type SystemStore interface {
	Ping(ctx context.Context) error
	Overview(ctx context.Context) (store.Overview, error)
}

type SystemHandler struct {
	store SystemStore
}

func NewSystemHandler(s SystemStore) *SystemHandler {
	return &SystemHandler{store: s}
}

func (h *SystemHandler) Health(c *fiber.Ctx) error {
	dbStatus := "ok"
	statusCode := fiber.StatusOK

	ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		dbStatus = "unreachable: " + err.Error()
		statusCode = fiber.StatusServiceUnavailable
	}

	overall := "ok"
	if statusCode != fiber.StatusOK {
		overall = "degraded"
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"status":  overall,
		"service": "herald",
		"version": Version,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"uptime":  time.Since(startTime).String(),
		"db":      dbStatus,
	})
}

// Overview returns headline counts of rules, monitors, alerts and emails.
func (h *SystemHandler) Overview(c *fiber.Ctx) error {
	o, err := h.store.Overview(c.UserContext())
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, "Failed to load overview")
	}
	return c.JSON(fiber.Map{
		"overview":       o,
		"uptime_seconds": int64(time.Since(startTime).Seconds()),
	})
}
