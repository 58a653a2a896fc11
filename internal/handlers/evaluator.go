package handlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ahmetk3436/herald/internal/services"
	"github.com/gofiber/fiber/v2"
)

type SweepRunner interface {
	RunOnce(ctx context.Context) (services.Summary, error)
}

type EvaluatorHandler struct {
	runner SweepRunner
}

func NewEvaluatorHandler(r SweepRunner) *EvaluatorHandler {
	return &EvaluatorHandler{runner: r}
}

// Run triggers an evaluation sweep and reports what it did.
func (h *EvaluatorHandler) Run(c *fiber.Ctx) error {
	sum, err := h.runner.RunOnce(c.UserContext())
	if err != nil {
		if errors.Is(err, services.ErrSweepRunning) {
			return fail(c, fiber.StatusConflict, "An evaluation sweep is already running")
		}
		slog.Error("Manual evaluation sweep incomplete", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Evaluation sweep incomplete",
			"summary": sum,
		})
	}
	return c.JSON(sum)
}
