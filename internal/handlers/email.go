package handlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ahmetk3436/herald/internal/dispatch"
	"github.com/ahmetk3436/herald/internal/models"
	"github.com/ahmetk3436/herald/internal/store"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type EmailStore interface {
	ListEmailLogs(ctx context.Context, f store.EmailFilter) ([]models.EmailLog, error)
	GetEmailLog(ctx context.Context, id uuid.UUID) (*models.EmailLog, error)
}

type Retrier interface {
	Retry(ctx context.Context, id uuid.UUID) error
}

type EmailHandler struct {
	store   EmailStore
	retrier Retrier
}

func NewEmailHandler(s EmailStore, r Retrier) *EmailHandler {
	return &EmailHandler{store: s, retrier: r}
}

// ListEmails returns email logs, optionally filtered by status or recipient.
func (h *EmailHandler) ListEmails(c *fiber.Ctx) error {
	logs, err := h.store.ListEmailLogs(c.UserContext(), store.EmailFilter{
		Status:  c.Query("status", ""),
		ToEmail: c.Query("to", ""),
		Limit:   c.QueryInt("limit", 200),
	})
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, "Failed to list emails")
	}
	return c.JSON(fiber.Map{"emails": logs})
}

func (h *EmailHandler) GetEmail(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return fail(c, fiber.StatusBadRequest, "Invalid email ID")
	}
	l, err := h.store.GetEmailLog(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fail(c, fiber.StatusNotFound, "Email not found")
		}
		return fail(c, fiber.StatusInternalServerError, "Failed to load email")
	}
	return c.JSON(l)
}

// RetryEmail re-queues a failed delivery that still has attempts left.
func (h *EmailHandler) RetryEmail(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return fail(c, fiber.StatusBadRequest, "Invalid email ID")
	}
	err := h.retrier.Retry(c.UserContext(), id)
	switch {
	case err == nil:
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"message": "Email queued for retry"})
	case errors.Is(err, store.ErrNotFound):
		return fail(c, fiber.StatusNotFound, "Email not found")
	case errors.Is(err, dispatch.ErrNotRetryable), errors.Is(err, dispatch.ErrRetriesExhausted):
		return fail(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, dispatch.ErrQueueFull):
		return fail(c, fiber.StatusServiceUnavailable, "Dispatch queue is full, try again later")
	}
	slog.Error("Email retry failed", "email_log", id, "error", err)
	return fail(c, fiber.StatusInternalServerError, "Failed to retry email")
}
