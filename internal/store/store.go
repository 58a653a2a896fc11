// Package store is the gorm-backed repository shared by the evaluator, the
// dispatcher and the HTTP handlers.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ahmetk3436/herald/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict means another writer committed evaluation state first.
	ErrConflict = errors.New("evaluation state changed concurrently")
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// ─── Rules & monitors ──────────────────────────────────────────────────────

func (s *Store) ListRules(ctx context.Context) ([]models.AlertRule, error) {
	var rules []models.AlertRule
	err := s.db.WithContext(ctx).Order("created_at").Find(&rules).Error
	return rules, err
}

func (s *Store) GetRule(ctx context.Context, id uuid.UUID) (*models.AlertRule, error) {
	var rule models.AlertRule
	if err := s.db.WithContext(ctx).First(&rule, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &rule, nil
}

var ruleConfigColumns = []string{
	"name", "metric_type", "metric_name", "condition", "threshold", "duration", "severity",
	"enabled", "alert_enabled", "alert_template_id", "alert_recipients", "alert_interval", "variable_mapping",
}

func (s *Store) CreateRule(ctx context.Context, r *models.AlertRule) error {
	return s.db.WithContext(ctx).Create(r).Error
}

// UpdateRule writes configuration columns only; evaluation state belongs to
// the evaluator.
func (s *Store) UpdateRule(ctx context.Context, r *models.AlertRule) error {
	res := s.db.WithContext(ctx).Model(&models.AlertRule{}).
		Where("id = ?", r.ID).
		Select(ruleConfigColumns).
		Updates(r)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteRule(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Delete(&models.AlertRule{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListMonitors(ctx context.Context) ([]models.ApiMonitor, error) {
	var monitors []models.ApiMonitor
	err := s.db.WithContext(ctx).Order("created_at").Find(&monitors).Error
	return monitors, err
}

func (s *Store) ListEnabledMonitors(ctx context.Context) ([]models.ApiMonitor, error) {
	var monitors []models.ApiMonitor
	err := s.db.WithContext(ctx).Where("enabled = ?", true).Find(&monitors).Error
	return monitors, err
}

func (s *Store) GetMonitor(ctx context.Context, id uuid.UUID) (*models.ApiMonitor, error) {
	var m models.ApiMonitor
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

var monitorConfigColumns = []string{
	"name", "url", "method", "headers", "body", "interval", "timeout", "expect_status", "expect_response",
	"enabled", "alert_enabled", "alert_template_id", "alert_recipients", "alert_interval", "variable_mapping",
}

func (s *Store) CreateMonitor(ctx context.Context, m *models.ApiMonitor) error {
	return s.db.WithContext(ctx).Create(m).Error
}

func (s *Store) UpdateMonitor(ctx context.Context, m *models.ApiMonitor) error {
	res := s.db.WithContext(ctx).Model(&models.ApiMonitor{}).
		Where("id = ?", m.ID).
		Select(monitorConfigColumns).
		Updates(m)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteMonitor(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Delete(&models.ApiMonitor{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListHealthChecks(ctx context.Context, monitorID uuid.UUID, limit int) ([]models.HealthCheckLog, error) {
	var out []models.HealthCheckLog
	err := s.db.WithContext(ctx).
		Where("monitor_id = ?", monitorID).
		Order("created_at DESC").
		Limit(limitOrDefault(limit)).
		Find(&out).Error
	return out, err
}

func (s *Store) TouchMonitorChecked(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.db.WithContext(ctx).Model(&models.ApiMonitor{}).Where("id = ?", id).Update("last_checked_at", at).Error
}

// CommitRuleState writes st only if the stored version still equals prev.
func (s *Store) CommitRuleState(ctx context.Context, id uuid.UUID, prev int64, st models.EvaluationState) error {
	return s.commitState(ctx, &models.AlertRule{}, id, prev, st)
}

func (s *Store) CommitMonitorState(ctx context.Context, id uuid.UUID, prev int64, st models.EvaluationState) error {
	return s.commitState(ctx, &models.ApiMonitor{}, id, prev, st)
}

func (s *Store) commitState(ctx context.Context, model any, id uuid.UUID, prev int64, st models.EvaluationState) error {
	res := s.db.WithContext(ctx).Model(model).
		Where("id = ? AND state_version = ?", id, prev).
		Updates(map[string]interface{}{
			"alert_state":       st.AlertState,
			"pending_since":     st.PendingSince,
			"last_notified_at":  st.LastNotifiedAt,
			"last_evaluated_at": st.LastEvaluatedAt,
			"state_version":     prev + 1,
		})
	if res.Error != nil {
		return fmt.Errorf("commit state: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// ─── Measurements ──────────────────────────────────────────────────────────

func (s *Store) LatestMetric(ctx context.Context, metricType, metricName string) (*models.MetricReading, error) {
	var r models.MetricReading
	err := s.db.WithContext(ctx).
		Where("metric_type = ? AND metric_name = ?", metricType, metricName).
		Order("collected_at DESC").
		First(&r).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

// ListRuleMetrics returns the distinct series referenced by rules.
func (s *Store) ListRuleMetrics(ctx context.Context) ([]models.MetricKey, error) {
	var keys []models.MetricKey
	err := s.db.WithContext(ctx).Model(&models.AlertRule{}).
		Distinct("metric_type", "metric_name").
		Scan(&keys).Error
	return keys, err
}

func (s *Store) CreateReadings(ctx context.Context, readings []models.MetricReading) error {
	if len(readings) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).CreateInBatches(readings, 200).Error
}

func (s *Store) LatestHealthCheck(ctx context.Context, monitorID uuid.UUID) (*models.HealthCheckLog, error) {
	var l models.HealthCheckLog
	err := s.db.WithContext(ctx).
		Where("monitor_id = ?", monitorID).
		Order("created_at DESC").
		First(&l).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &l, nil
}

func (s *Store) CreateHealthCheck(ctx context.Context, l *models.HealthCheckLog) error {
	return s.db.WithContext(ctx).Create(l).Error
}

// ─── Alert history ─────────────────────────────────────────────────────────

func (s *Store) CreateHistory(ctx context.Context, h *models.AlertHistory) error {
	return s.db.WithContext(ctx).Create(h).Error
}

// ResolveOpenHistory closes every pending history row of a rule or monitor.
func (s *Store) ResolveOpenHistory(ctx context.Context, ruleID, monitorID *uuid.UUID, at time.Time) (int64, error) {
	q := s.db.WithContext(ctx).Model(&models.AlertHistory{}).Where("status = ?", models.HistoryPending)
	switch {
	case ruleID != nil:
		q = q.Where("rule_id = ?", *ruleID)
	case monitorID != nil:
		q = q.Where("monitor_id = ?", *monitorID)
	default:
		return 0, errors.New("resolve history: no owner")
	}
	res := q.Updates(map[string]interface{}{"status": models.HistoryResolved, "resolved_at": at})
	return res.RowsAffected, res.Error
}

type HistoryFilter struct {
	Status    string
	RuleID    *uuid.UUID
	MonitorID *uuid.UUID
	Limit     int
}

func (s *Store) ListHistory(ctx context.Context, f HistoryFilter) ([]models.AlertHistory, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.RuleID != nil {
		q = q.Where("rule_id = ?", *f.RuleID)
	}
	if f.MonitorID != nil {
		q = q.Where("monitor_id = ?", *f.MonitorID)
	}
	var out []models.AlertHistory
	err := q.Limit(limitOrDefault(f.Limit)).Find(&out).Error
	return out, err
}

func (s *Store) ResolveHistory(ctx context.Context, id uuid.UUID, at time.Time) (*models.AlertHistory, error) {
	var h models.AlertHistory
	if err := s.db.WithContext(ctx).First(&h, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	if h.Status == models.HistoryResolved {
		return &h, nil
	}
	h.Status = models.HistoryResolved
	h.ResolvedAt = &at
	if err := s.db.WithContext(ctx).Save(&h).Error; err != nil {
		return nil, err
	}
	return &h, nil
}

// ─── Templates ─────────────────────────────────────────────────────────────

func (s *Store) GetTemplate(ctx context.Context, id uuid.UUID) (*models.EmailTemplate, error) {
	var t models.EmailTemplate
	if err := s.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (s *Store) ListTemplates(ctx context.Context) ([]models.EmailTemplate, error) {
	var out []models.EmailTemplate
	err := s.db.WithContext(ctx).Order("name").Find(&out).Error
	return out, err
}

// UpsertTemplate inserts or replaces a template by name.
func (s *Store) UpsertTemplate(ctx context.Context, tpl *models.EmailTemplate) error {
	if tpl.ID == uuid.Nil {
		tpl.ID = uuid.New()
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"subject", "content", "variable_schema", "tags", "updated_at"}),
	}).Create(tpl).Error
}

// ─── Email logs ────────────────────────────────────────────────────────────

func (s *Store) CreateEmailLogs(ctx context.Context, logs []*models.EmailLog) error {
	if len(logs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(logs).Error
}

func (s *Store) GetEmailLog(ctx context.Context, id uuid.UUID) (*models.EmailLog, error) {
	var l models.EmailLog
	if err := s.db.WithContext(ctx).First(&l, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &l, nil
}

// SaveEmailLog persists l. retry_count is only ever raised, never lowered.
func (s *Store) SaveEmailLog(ctx context.Context, l *models.EmailLog) error {
	return s.db.WithContext(ctx).Model(&models.EmailLog{}).
		Where("id = ? AND retry_count <= ?", l.ID, l.RetryCount).
		Updates(map[string]interface{}{
			"status":          l.Status,
			"error_message":   l.ErrorMessage,
			"retry_count":     l.RetryCount,
			"next_attempt_at": l.NextAttemptAt,
			"sent_at":         l.SentAt,
		}).Error
}

func (s *Store) ListRecoverableEmailLogs(ctx context.Context, now, pendingBefore time.Time, maxAttempts int) ([]models.EmailLog, error) {
	var out []models.EmailLog
	err := s.db.WithContext(ctx).
		Where("status = ? AND created_at <= ?", models.EmailPending, pendingBefore).
		Or("status = ? AND retryable = ? AND retry_count < ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)",
			models.EmailFailed, true, maxAttempts, now).
		Order("created_at").
		Limit(500).
		Find(&out).Error
	return out, err
}

type EmailFilter struct {
	Status  string
	ToEmail string
	Limit   int
}

func (s *Store) ListEmailLogs(ctx context.Context, f EmailFilter) ([]models.EmailLog, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.ToEmail != "" {
		q = q.Where("to_email = ?", f.ToEmail)
	}
	var out []models.EmailLog
	err := q.Limit(limitOrDefault(f.Limit)).Find(&out).Error
	return out, err
}

func limitOrDefault(n int) int {
	if n <= 0 || n > 200 {
		return 200
	}
	return n
}

// Overview is a set of headline counts for the dashboard.
type Overview struct {
	Rules         int64 `json:"rules"`
	RulesFiring   int64 `json:"rules_firing"`
	Monitors      int64 `json:"monitors"`
	MonitorsDown  int64 `json:"monitors_down"`
	OpenAlerts    int64 `json:"open_alerts"`
	EmailsPending int64 `json:"emails_pending"`
	EmailsFailed  int64 `json:"emails_failed"`
}

func (s *Store) Overview(ctx context.Context) (Overview, error) {
	var o Overview
	db := s.db.WithContext(ctx)
	counts := []struct {
		dst   *int64
		model any
		where string
		args  []any
	}{
		{&o.Rules, &models.AlertRule{}, "", nil},
		{&o.RulesFiring, &models.AlertRule{}, "alert_state = ?", []any{models.StateFiring}},
		{&o.Monitors, &models.ApiMonitor{}, "", nil},
		{&o.MonitorsDown, &models.ApiMonitor{}, "alert_state = ?", []any{models.StateFiring}},
		{&o.OpenAlerts, &models.AlertHistory{}, "status = ?", []any{models.HistoryPending}},
		{&o.EmailsPending, &models.EmailLog{}, "status = ?", []any{models.EmailPending}},
		{&o.EmailsFailed, &models.EmailLog{}, "status = ?", []any{models.EmailFailed}},
	}
	for _, c := range counts {
		q := db.Model(c.model)
		if c.where != "" {
			q = q.Where(c.where, c.args...)
		}
		if err := q.Count(c.dst).Error; err != nil {
			return o, err
		}
	}
	return o, nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
