package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ahmetk3436/herald/internal/models"
	"github.com/ahmetk3436/herald/internal/store"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type MonitorStore interface {
	ListMonitors(ctx context.Context) ([]models.ApiMonitor, error)
	GetMonitor(ctx context.Context, id uuid.UUID) (*models.ApiMonitor, error)
	CreateMonitor(ctx context.Context, m *models.ApiMonitor) error
	UpdateMonitor(ctx context.Context, m *models.ApiMonitor) error
	DeleteMonitor(ctx context.Context, id uuid.UUID) error
	ListHealthChecks(ctx context.Context, monitorID uuid.UUID, limit int) ([]models.HealthCheckLog, error)
}

// Prober runs one health check on demand.
type Prober interface {
	Check(ctx context.Context, m models.ApiMonitor) models.HealthCheckLog
}

type MonitorHandler struct {
	store  MonitorStore
	prober Prober
}

func NewMonitorHandler(s MonitorStore, p Prober) *MonitorHandler {
	return &MonitorHandler{store: s, prober: p}
}

var validMethods = map[string]bool{
	http.MethodGet: true, http.MethodHead: true, http.MethodPost: true,
	http.MethodPut: true, http.MethodPatch: true, http.MethodDelete: true,
}

type monitorRequest struct {
	Name            string            `json:"name"`
	URL             string            `json:"url"`
	Method          string            `json:"method"`
	Headers         map[string]string `json:"headers"`
	Body            string            `json:"body"`
	Interval        int               `json:"interval"`
	Timeout         int               `json:"timeout"`
	ExpectStatus    int               `json:"expect_status"`
	ExpectResponse  string            `json:"expect_response"`
	Enabled         *bool             `json:"enabled"`
	AlertEnabled    *bool             `json:"alert_enabled"`
	AlertTemplateID *uuid.UUID        `json:"alert_template_id"`
	AlertRecipients []string          `json:"alert_recipients"`
	AlertInterval   int               `json:"alert_interval"`
	VariableMapping map[string]string `json:"variable_mapping"`
}

func (req *monitorRequest) apply(m *models.ApiMonitor) error {
	if req.Name == "" || req.URL == "" {
		return errors.New("Name and URL are required")
	}
	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		return errors.New("URL must start with http:// or https://")
	}
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	if !validMethods[method] {
		return fmt.Errorf("Unsupported method: %s", req.Method)
	}
	recipients, bad := cleanRecipients(req.AlertRecipients)
	if bad != "" {
		return fmt.Errorf("Invalid recipient address: %s", bad)
	}

	m.Name = req.Name
	m.URL = req.URL
	m.Method = method
	m.Headers = datatypes.NewJSONType(req.Headers)
	m.Body = req.Body
	m.Interval = 60
	if req.Interval > 0 {
		m.Interval = req.Interval
	}
	m.Timeout = 5000
	if req.Timeout > 0 {
		m.Timeout = req.Timeout
	}
	m.ExpectStatus = http.StatusOK
	if req.ExpectStatus > 0 {
		m.ExpectStatus = req.ExpectStatus
	}
	m.ExpectResponse = req.ExpectResponse
	m.Enabled = req.Enabled == nil || *req.Enabled
	m.AlertEnabled = req.AlertEnabled == nil || *req.AlertEnabled
	m.AlertTemplateID = req.AlertTemplateID
	m.AlertRecipients = datatypes.JSONSlice[string](recipients)
	m.AlertInterval = models.ClampAlertInterval(req.AlertInterval)
	m.VariableMapping = datatypes.NewJSONType(req.VariableMapping)
	return nil
}

// ListMonitors returns all monitors.
func (h *MonitorHandler) ListMonitors(c *fiber.Ctx) error {
	monitors, err := h.store.ListMonitors(c.UserContext())
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, "Failed to list monitors")
	}
	return c.JSON(fiber.Map{"monitors": monitors})
}

// GetMonitor returns a single monitor with recent checks.
func (h *MonitorHandler) GetMonitor(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return fail(c, fiber.StatusBadRequest, "Invalid monitor ID")
	}
	m, err := h.store.GetMonitor(c.UserContext(), id)
	if err != nil {
		return monitorLookupError(c, err)
	}
	checks, err := h.store.ListHealthChecks(c.UserContext(), id, 50)
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, "Failed to load health checks")
	}
	return c.JSON(fiber.Map{
		"monitor": m,
		"checks":  checks,
	})
}

// CreateMonitor creates a new API monitor.
func (h *MonitorHandler) CreateMonitor(c *fiber.Ctx) error {
	var req monitorRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	m := models.ApiMonitor{ID: uuid.New()}
	if err := req.apply(&m); err != nil {
		return fail(c, fiber.StatusBadRequest, err.Error())
	}
	m.AlertState = models.StateNormal

	if err := h.store.CreateMonitor(c.UserContext(), &m); err != nil {
		slog.Error("Failed to create monitor", "error", err)
		return fail(c, fiber.StatusInternalServerError, "Failed to create monitor")
	}
	return c.Status(fiber.StatusCreated).JSON(m)
}

func (h *MonitorHandler) UpdateMonitor(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return fail(c, fiber.StatusBadRequest, "Invalid monitor ID")
	}
	var req monitorRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	m := models.ApiMonitor{ID: id}
	if err := req.apply(&m); err != nil {
		return fail(c, fiber.StatusBadRequest, err.Error())
	}
	if err := h.store.UpdateMonitor(c.UserContext(), &m); err != nil {
		return monitorLookupError(c, err)
	}
	updated, err := h.store.GetMonitor(c.UserContext(), id)
	if err != nil {
		return monitorLookupError(c, err)
	}
	return c.JSON(updated)
}

func (h *MonitorHandler) DeleteMonitor(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return fail(c, fiber.StatusBadRequest, "Invalid monitor ID")
	}
	if err := h.store.DeleteMonitor(c.UserContext(), id); err != nil {
		return monitorLookupError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Monitor deleted"})
}

// CheckNow probes a monitor immediately. The result is stored like any
// scheduled check, so the next evaluator sweep sees it.
func (h *MonitorHandler) CheckNow(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return fail(c, fiber.StatusBadRequest, "Invalid monitor ID")
	}
	m, err := h.store.GetMonitor(c.UserContext(), id)
	if err != nil {
		return monitorLookupError(c, err)
	}
	return c.JSON(h.prober.Check(c.UserContext(), *m))
}

func monitorLookupError(c *fiber.Ctx, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fail(c, fiber.StatusNotFound, "Monitor not found")
	}
	slog.Error("Monitor store error", "error", err)
	return fail(c, fiber.StatusInternalServerError, "Monitor store error")
}
