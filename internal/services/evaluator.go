package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ahmetk3436/herald/internal/models"
	"github.com/ahmetk3436/herald/internal/store"
	"github.com/ahmetk3436/herald/internal/variables"
	"github.com/google/uuid"
)

var (
	ErrNoMeasurement = errors.New("no measurement available")
	ErrSweepRunning  = errors.New("evaluation sweep already running")
)

// Repository is the persistence the evaluator needs.
type Repository interface {
	ListRules(ctx context.Context) ([]models.AlertRule, error)
	ListMonitors(ctx context.Context) ([]models.ApiMonitor, error)
	LatestMetric(ctx context.Context, metricType, metricName string) (*models.MetricReading, error)
	LatestHealthCheck(ctx context.Context, monitorID uuid.UUID) (*models.HealthCheckLog, error)
	CommitRuleState(ctx context.Context, id uuid.UUID, prev int64, st models.EvaluationState) error
	CommitMonitorState(ctx context.Context, id uuid.UUID, prev int64, st models.EvaluationState) error
	CreateHistory(ctx context.Context, h *models.AlertHistory) error
	ResolveOpenHistory(ctx context.Context, ruleID, monitorID *uuid.UUID, at time.Time) (int64, error)
}

// Summary counts what one sweep did.
type Summary struct {
	Evaluated  int `json:"evaluated"`
	Fired      int `json:"fired"`
	Renotified int `json:"renotified"`
	Resolved   int `json:"resolved"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

type Evaluator struct {
	repo            Repository
	notifier        Notifier
	interval        time.Duration
	notifyOnResolve bool
	sweepTimeout    time.Duration

	running atomic.Bool
	locks   sync.Map // subject id -> *sync.Mutex

	stop chan struct{}
	done chan struct{}
}

func NewEvaluator(repo Repository, notifier Notifier, intervalSecs int, notifyOnResolve bool) *Evaluator {
	return &Evaluator{
		repo:            repo,
		notifier:        notifier,
		interval:        time.Duration(intervalSecs) * time.Second,
		notifyOnResolve: notifyOnResolve,
		sweepTimeout:    2 * time.Minute,
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}
}

func (e *Evaluator) Start() {
	go e.loop()
	slog.Info("Evaluator started", "interval", e.interval)
}

func (e *Evaluator) Stop() {
	close(e.stop)
	<-e.done
	slog.Info("Evaluator stopped")
}

func (e *Evaluator) loop() {
	defer close(e.done)

	e.tick()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.tick()
		case <-e.stop:
			return
		}
	}
}

func (e *Evaluator) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), e.sweepTimeout)
	defer cancel()

	sum, err := e.RunOnce(ctx)
	if errors.Is(err, ErrSweepRunning) {
		slog.Warn("Evaluation sweep skipped, previous one still running")
		return
	}
	if err != nil {
		slog.Error("Evaluation sweep incomplete", "error", err)
	}
	if err != nil || sum.Fired+sum.Renotified+sum.Resolved+sum.Failed > 0 {
		slog.Info("Evaluation sweep finished",
			"evaluated", sum.Evaluated, "fired", sum.Fired, "renotified", sum.Renotified,
			"resolved", sum.Resolved, "failed", sum.Failed)
	}
}

// RunOnce evaluates every rule and monitor against its latest measurement.
// A failing subject is logged and counted; it never stops the sweep. When
// listing rules or monitors fails the other kind is still evaluated and the
// partial Summary is returned with the error.
func (e *Evaluator) RunOnce(ctx context.Context) (Summary, error) {
	var sum Summary
	if !e.running.CompareAndSwap(false, true) {
		return sum, ErrSweepRunning
	}
	defer e.running.Store(false)

	var errs []error
	live := make(map[uuid.UUID]bool)

	rules, err := e.repo.ListRules(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("list rules: %w", err))
	}
	for i := range rules {
		live[rules[i].ID] = true
		act, err := e.evaluateRule(ctx, &rules[i])
		e.record(&sum, "rule", rules[i].Name, act, err)
	}

	monitors, err := e.repo.ListMonitors(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("list monitors: %w", err))
	}
	for i := range monitors {
		live[monitors[i].ID] = true
		act, err := e.evaluateMonitor(ctx, &monitors[i])
		e.record(&sum, "monitor", monitors[i].Name, act, err)
	}

	if len(errs) > 0 {
		return sum, errors.Join(errs...)
	}
	e.pruneLocks(live)
	return sum, nil
}

// pruneLocks drops the mutexes of subjects that no longer exist. Only called
// from a sweep, so no other sweep holds a lock meanwhile.
func (e *Evaluator) pruneLocks(live map[uuid.UUID]bool) {
	e.locks.Range(func(k, _ any) bool {
		if !live[k.(uuid.UUID)] {
			e.locks.Delete(k)
		}
		return true
	})
}

func (e *Evaluator) record(sum *Summary, kind, name string, act Action, err error) {
	switch {
	case errors.Is(err, errBusy), errors.Is(err, errStale), errors.Is(err, ErrNoMeasurement):
		sum.Skipped++
		return
	case errors.Is(err, store.ErrConflict):
		slog.Warn("Evaluation state changed concurrently, skipped", kind, name)
		sum.Skipped++
		return
	case err != nil:
		slog.Error("Evaluation failed", kind, name, "error", err)
		sum.Failed++
		return
	}
	sum.Evaluated++
	switch act {
	case ActionFire:
		sum.Fired++
	case ActionRenotify:
		sum.Renotified++
	case ActionResolve:
		sum.Resolved++
	}
}

var (
	errBusy  = errors.New("subject is being evaluated")
	errStale = errors.New("no new measurement")
)

// subject is the common view of anything the evaluator watches.
type subject struct {
	kind       string // rule, monitor
	id         uuid.UUID
	name       string
	level      string
	state      models.EvaluationState
	duration   time.Duration
	interval   time.Duration
	notify     bool
	templateID *uuid.UUID
	recipients []string
	mapping    map[string]string
	commit     func(ctx context.Context, prev int64, st models.EvaluationState) error
	owner      func(h *models.AlertHistory)
}

// reading is one measurement tick for a subject.
type reading struct {
	at       time.Time
	violated bool
	value    float64
	data     map[string]any
	title    string
	content  string
	// resolved variants, used for recovery notifications
	okTitle   string
	okContent string
}

func (e *Evaluator) lock(id uuid.UUID) (func(), bool) {
	v, _ := e.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	if !mu.TryLock() {
		return nil, false
	}
	return mu.Unlock, true
}

func (e *Evaluator) evaluateRule(ctx context.Context, r *models.AlertRule) (Action, error) {
	m, err := e.repo.LatestMetric(ctx, r.MetricType, r.MetricName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ActionNone, ErrNoMeasurement
		}
		return ActionNone, fmt.Errorf("latest metric: %w", err)
	}
	violated, err := Compare(m.Value, r.Condition, r.Threshold)
	if err != nil {
		return ActionNone, err
	}

	sub := subject{
		kind:       "rule",
		id:         r.ID,
		name:       r.Name,
		level:      r.Severity,
		state:      r.EvaluationState,
		duration:   time.Duration(r.Duration) * time.Second,
		interval:   time.Duration(models.ClampAlertInterval(r.AlertInterval)) * time.Second,
		notify:     r.Enabled && r.AlertEnabled,
		templateID: r.AlertTemplateID,
		recipients: r.AlertRecipients,
		mapping:    r.VariableMapping.Data(),
		commit: func(ctx context.Context, prev int64, st models.EvaluationState) error {
			return e.repo.CommitRuleState(ctx, r.ID, prev, st)
		},
		owner: func(h *models.AlertHistory) { h.RuleID = &r.ID },
	}
	rd := reading{
		at:       m.CollectedAt,
		violated: violated,
		value:    m.Value,
		data:     ruleData(r, m, violated),
		title: fmt.Sprintf("[%s] %s: %s %s %s",
			strings.ToUpper(r.Severity), r.Name, r.MetricName, r.Condition, formatFloat(r.Threshold)),
		okTitle: fmt.Sprintf("[RESOLVED] %s: %s back to %s", r.Name, r.MetricName, formatFloat(m.Value)),
	}
	rd.content = ruleContent(r, m, "firing")
	rd.okContent = ruleContent(r, m, "resolved")
	return e.evaluate(ctx, sub, rd)
}

func (e *Evaluator) evaluateMonitor(ctx context.Context, mon *models.ApiMonitor) (Action, error) {
	l, err := e.repo.LatestHealthCheck(ctx, mon.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ActionNone, ErrNoMeasurement
		}
		return ActionNone, fmt.Errorf("latest health check: %w", err)
	}
	violated := l.Status == models.CheckFailed

	sub := subject{
		kind:       "monitor",
		id:         mon.ID,
		name:       mon.Name,
		level:      "critical",
		state:      mon.EvaluationState,
		interval:   time.Duration(models.ClampAlertInterval(mon.AlertInterval)) * time.Second,
		notify:     mon.Enabled && mon.AlertEnabled,
		templateID: mon.AlertTemplateID,
		recipients: mon.AlertRecipients,
		mapping:    mon.VariableMapping.Data(),
		commit: func(ctx context.Context, prev int64, st models.EvaluationState) error {
			return e.repo.CommitMonitorState(ctx, mon.ID, prev, st)
		},
		owner: func(h *models.AlertHistory) { h.MonitorID = &mon.ID },
	}
	rd := reading{
		at:        l.CreatedAt,
		violated:  violated,
		value:     float64(l.ResponseTime),
		data:      monitorData(mon, l, violated),
		title:     fmt.Sprintf("[DOWN] %s", mon.Name),
		content:   monitorContent(mon, l),
		okTitle:   fmt.Sprintf("[UP] %s", mon.Name),
		okContent: monitorContent(mon, l),
	}
	return e.evaluate(ctx, sub, rd)
}

// evaluate runs one tick for sub. Side effects happen only after the state
// commit wins, so a concurrent evaluator can never double-fire.
func (e *Evaluator) evaluate(ctx context.Context, sub subject, rd reading) (Action, error) {
	unlock, ok := e.lock(sub.id)
	if !ok {
		return ActionNone, errBusy
	}
	defer unlock()

	if last := sub.state.LastEvaluatedAt; last != nil && !rd.at.After(*last) {
		return ActionNone, errStale
	}

	next, act := Step(sub.state, rd.violated, rd.at, sub.duration, sub.interval)
	if err := sub.commit(ctx, sub.state.StateVersion, next); err != nil {
		return ActionNone, err
	}

	log := slog.With(sub.kind, sub.name)
	if next.AlertState != sub.state.AlertState {
		log.Debug("Alert state changed", "from", sub.state.AlertState, "to", next.AlertState)
	}

	switch act {
	case ActionFire:
		h := &models.AlertHistory{
			Message: rd.title,
			Level:   sub.level,
			Status:  models.HistoryPending,
			Value:   rd.value,
		}
		sub.owner(h)
		if err := e.repo.CreateHistory(ctx, h); err != nil {
			log.Error("Failed to record alert history", "error", err)
		}
		log.Warn("Alert firing", "value", rd.value)
		e.notify(ctx, sub, rd, "firing", rd.title, rd.content)

	case ActionRenotify:
		log.Info("Alert still firing, re-notifying", "value", rd.value)
		e.notify(ctx, sub, rd, "firing", rd.title, rd.content)

	case ActionResolve:
		h := &models.AlertHistory{}
		sub.owner(h)
		n, err := e.repo.ResolveOpenHistory(ctx, h.RuleID, h.MonitorID, rd.at)
		if err != nil {
			log.Error("Failed to resolve alert history", "error", err)
		}
		log.Info("Alert resolved", "history_rows", n)
		if e.notifyOnResolve {
			e.notify(ctx, sub, rd, "resolved", rd.okTitle, rd.okContent)
		}
	}
	return act, nil
}

func (e *Evaluator) notify(ctx context.Context, sub subject, rd reading, event, title, content string) {
	if !sub.notify {
		slog.Debug("Notification suppressed, alerts disabled", sub.kind, sub.name)
		return
	}
	if len(sub.recipients) == 0 {
		slog.Warn("Notification skipped, no recipients", sub.kind, sub.name, "reason", "config")
		return
	}

	data := make(map[string]any, len(rd.data)+1)
	for k, v := range rd.data {
		data[k] = v
	}
	data["event"] = event

	err := e.notifier.Notify(ctx, Notification{
		Event:      event,
		Subject:    sub.name,
		TemplateID: sub.templateID,
		Recipients: sub.recipients,
		Mapping:    sub.mapping,
		Data:       data,
		Title:      title,
		Content:    content,
	})
	switch {
	case errors.Is(err, ErrNoTemplate), errors.Is(err, ErrTemplateNotFound):
		slog.Warn("Notification skipped", sub.kind, sub.name, "reason", "config", "error", err)
	case err != nil:
		slog.Error("Notification failed", sub.kind, sub.name, "error", err)
	}
}

func ruleData(r *models.AlertRule, m *models.MetricReading, violated bool) map[string]any {
	status := "resolved"
	if violated {
		status = "firing"
	}
	return map[string]any{
		"rule": map[string]any{
			"id":         r.ID.String(),
			"name":       r.Name,
			"metricType": r.MetricType,
			"metricName": r.MetricName,
			"condition":  r.Condition,
			"threshold":  r.Threshold,
			"duration":   r.Duration,
			"severity":   r.Severity,
		},
		"reading":   variables.ToData(m),
		"value":     m.Value,
		"threshold": r.Threshold,
		"status":    status,
	}
}

func monitorData(mon *models.ApiMonitor, l *models.HealthCheckLog, violated bool) map[string]any {
	status := "up"
	if violated {
		status = "down"
	}
	return map[string]any{
		"monitor": map[string]any{
			"id":             mon.ID.String(),
			"name":           mon.Name,
			"url":            mon.URL,
			"method":         mon.Method,
			"expectStatus":   mon.ExpectStatus,
			"expectResponse": mon.ExpectResponse,
		},
		"lastLog": variables.ToData(l),
		"status":  status,
	}
}

func ruleContent(r *models.AlertRule, m *models.MetricReading, status string) string {
	var b strings.Builder
	b.WriteString("<table>")
	row := func(k, v string) {
		fmt.Fprintf(&b, "<tr><th>%s</th><td>%s</td></tr>", k, html.EscapeString(v))
	}
	row("Rule", r.Name)
	row("Status", status)
	row("Metric", r.MetricType+"/"+r.MetricName)
	row("Value", formatFloat(m.Value))
	row("Condition", r.Condition+" "+formatFloat(r.Threshold))
	row("Duration", fmt.Sprintf("%ds", r.Duration))
	row("Collected at", m.CollectedAt.UTC().Format(time.RFC3339))
	b.WriteString("</table>")
	return b.String()
}

func monitorContent(mon *models.ApiMonitor, l *models.HealthCheckLog) string {
	var b strings.Builder
	b.WriteString("<table>")
	row := func(k, v string) {
		fmt.Fprintf(&b, "<tr><th>%s</th><td>%s</td></tr>", k, html.EscapeString(v))
	}
	row("Monitor", mon.Name)
	row("URL", mon.Method+" "+mon.URL)
	row("Status", l.Status)
	row("Status code", strconv.Itoa(l.StatusCode))
	row("Response time", fmt.Sprintf("%dms", l.ResponseTime))
	if l.ErrorMessage != "" {
		row("Error", l.ErrorMessage)
	}
	row("Checked at", l.CreatedAt.UTC().Format(time.RFC3339))
	b.WriteString("</table>")
	return b.String()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
