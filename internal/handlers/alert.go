package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ahmetk3436/herald/internal/models"
	"github.com/ahmetk3436/herald/internal/store"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type AlertStore interface {
	ListRules(ctx context.Context) ([]models.AlertRule, error)
	GetRule(ctx context.Context, id uuid.UUID) (*models.AlertRule, error)
	CreateRule(ctx context.Context, r *models.AlertRule) error
	UpdateRule(ctx context.Context, r *models.AlertRule) error
	DeleteRule(ctx context.Context, id uuid.UUID) error
	ListHistory(ctx context.Context, f store.HistoryFilter) ([]models.AlertHistory, error)
	ResolveHistory(ctx context.Context, id uuid.UUID, at time.Time) (*models.AlertHistory, error)
}

type AlertHandler struct {
	store AlertStore
}

func NewAlertHandler(s AlertStore) *AlertHandler {
	return &AlertHandler{store: s}
}

var (
	validConditions = map[string]bool{">": true, "<": true, ">=": true, "<=": true, "==": true, "!=": true}
	validSeverities = map[string]bool{"critical": true, "warning": true, "info": true}
)

type ruleRequest struct {
	Name            string            `json:"name"`
	MetricType      string            `json:"metric_type"`
	MetricName      string            `json:"metric_name"`
	Condition       string            `json:"condition"`
	Threshold       float64           `json:"threshold"`
	Duration        int               `json:"duration"`
	Severity        string            `json:"severity"`
	Enabled         *bool             `json:"enabled"`
	AlertEnabled    *bool             `json:"alert_enabled"`
	AlertTemplateID *uuid.UUID        `json:"alert_template_id"`
	AlertRecipients []string          `json:"alert_recipients"`
	AlertInterval   int               `json:"alert_interval"`
	VariableMapping map[string]string `json:"variable_mapping"`
}

// apply validates req and copies it onto rule.
func (req *ruleRequest) apply(rule *models.AlertRule) error {
	if req.Name == "" || req.MetricType == "" || req.MetricName == "" {
		return errors.New("Name, metric_type and metric_name are required")
	}
	if req.Condition == "" {
		req.Condition = ">"
	}
	if !validConditions[req.Condition] {
		return errors.New("Invalid condition. Must be: >, <, >=, <=, ==, !=")
	}
	if req.Severity == "" {
		req.Severity = "warning"
	}
	if !validSeverities[req.Severity] {
		return errors.New("Invalid severity. Must be: critical, warning, info")
	}
	if req.Duration < 0 {
		return errors.New("Duration must not be negative")
	}
	interval := req.AlertInterval
	if interval == 0 {
		interval = models.AlertIntervalDefault
	}
	if interval < models.AlertIntervalMin || interval > models.AlertIntervalMax {
		return fmt.Errorf("alert_interval must be between %d and %d seconds", models.AlertIntervalMin, models.AlertIntervalMax)
	}
	recipients, bad := cleanRecipients(req.AlertRecipients)
	if bad != "" {
		return fmt.Errorf("Invalid recipient address: %s", bad)
	}

	rule.Name = req.Name
	rule.MetricType = req.MetricType
	rule.MetricName = req.MetricName
	rule.Condition = req.Condition
	rule.Threshold = req.Threshold
	rule.Duration = req.Duration
	rule.Severity = req.Severity
	rule.Enabled = req.Enabled == nil || *req.Enabled
	rule.AlertEnabled = req.AlertEnabled == nil || *req.AlertEnabled
	rule.AlertTemplateID = req.AlertTemplateID
	rule.AlertRecipients = datatypes.JSONSlice[string](recipients)
	rule.AlertInterval = interval
	rule.VariableMapping = datatypes.NewJSONType(req.VariableMapping)
	return nil
}

// ListAlertRules returns all alert rules.
func (h *AlertHandler) ListAlertRules(c *fiber.Ctx) error {
	rules, err := h.store.ListRules(c.UserContext())
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, "Failed to list alert rules")
	}
	return c.JSON(fiber.Map{"rules": rules})
}

func (h *AlertHandler) GetAlertRule(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return fail(c, fiber.StatusBadRequest, "Invalid rule ID")
	}
	rule, err := h.store.GetRule(c.UserContext(), id)
	if err != nil {
		return ruleLookupError(c, err)
	}
	return c.JSON(rule)
}

// CreateAlertRule creates a new alert rule in the normal state.
func (h *AlertHandler) CreateAlertRule(c *fiber.Ctx) error {
	var req ruleRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body")
	}

	rule := models.AlertRule{ID: uuid.New()}
	if err := req.apply(&rule); err != nil {
		return fail(c, fiber.StatusBadRequest, err.Error())
	}
	rule.AlertState = models.StateNormal

	if err := h.store.CreateRule(c.UserContext(), &rule); err != nil {
		slog.Error("Failed to create alert rule", "error", err)
		return fail(c, fiber.StatusInternalServerError, "Failed to create alert rule")
	}
	return c.Status(fiber.StatusCreated).JSON(rule)
}

// UpdateAlertRule replaces a rule's configuration. Its evaluation state is
// left alone.
func (h *AlertHandler) UpdateAlertRule(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return fail(c, fiber.StatusBadRequest, "Invalid rule ID")
	}
	var req ruleRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body")
	}

	rule := models.AlertRule{ID: id}
	if err := req.apply(&rule); err != nil {
		return fail(c, fiber.StatusBadRequest, err.Error())
	}
	if err := h.store.UpdateRule(c.UserContext(), &rule); err != nil {
		return ruleLookupError(c, err)
	}

	updated, err := h.store.GetRule(c.UserContext(), id)
	if err != nil {
		return ruleLookupError(c, err)
	}
	return c.JSON(updated)
}

// DeleteAlertRule soft-deletes an alert rule.
func (h *AlertHandler) DeleteAlertRule(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return fail(c, fiber.StatusBadRequest, "Invalid rule ID")
	}
	if err := h.store.DeleteRule(c.UserContext(), id); err != nil {
		return ruleLookupError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Alert rule deleted"})
}

// GetRuleState returns the persisted evaluation state of a rule.
func (h *AlertHandler) GetRuleState(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return fail(c, fiber.StatusBadRequest, "Invalid rule ID")
	}
	rule, err := h.store.GetRule(c.UserContext(), id)
	if err != nil {
		return ruleLookupError(c, err)
	}
	return c.JSON(fiber.Map{
		"rule_id": rule.ID,
		"name":    rule.Name,
		"state":   rule.EvaluationState,
	})
}

// ListHistory returns alert history, optionally filtered by status or rule.
func (h *AlertHandler) ListHistory(c *fiber.Ctx) error {
	f := store.HistoryFilter{
		Status: c.Query("status", ""),
		Limit:  c.QueryInt("limit", 200),
	}
	if raw := c.Query("rule_id", ""); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return fail(c, fiber.StatusBadRequest, "Invalid rule_id")
		}
		f.RuleID = &id
	}
	if raw := c.Query("monitor_id", ""); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return fail(c, fiber.StatusBadRequest, "Invalid monitor_id")
		}
		f.MonitorID = &id
	}

	history, err := h.store.ListHistory(c.UserContext(), f)
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, "Failed to list alert history")
	}
	return c.JSON(fiber.Map{"history": history})
}

// ResolveHistory closes a history entry by hand.
func (h *AlertHandler) ResolveHistory(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return fail(c, fiber.StatusBadRequest, "Invalid alert ID")
	}
	entry, err := h.store.ResolveHistory(c.UserContext(), id, time.Now())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fail(c, fiber.StatusNotFound, "Alert not found")
		}
		return fail(c, fiber.StatusInternalServerError, "Failed to resolve alert")
	}
	return c.JSON(fiber.Map{
		"message": "Alert resolved",
		"alert":   entry,
	})
}

func ruleLookupError(c *fiber.Ctx, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fail(c, fiber.StatusNotFound, "Alert rule not found")
	}
	slog.Error("Alert rule store error", "error", err)
	return fail(c, fiber.StatusInternalServerError, "Alert rule store error")
}
