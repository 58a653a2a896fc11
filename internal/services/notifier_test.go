package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ahmetk3436/herald/internal/dispatch"
	"github.com/ahmetk3436/herald/internal/models"
	"github.com/ahmetk3436/herald/internal/store"
	"github.com/ahmetk3436/herald/internal/templates"
	"github.com/ahmetk3436/herald/internal/variables"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type memTemplates map[uuid.UUID]*models.EmailTemplate

func (m memTemplates) GetTemplate(ctx context.Context, id uuid.UUID) (*models.EmailTemplate, error) {
	t, ok := m[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return t, nil
}

type recordingSender struct {
	mu         sync.Mutex
	dispatched []dispatch.Envelope
	failed     []dispatch.Envelope
	reasons    []string
}

func (s *recordingSender) Dispatch(ctx context.Context, env dispatch.Envelope) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatched = append(s.dispatched, env)
	ids := make([]uuid.UUID, len(env.Recipients))
	for i := range ids {
		ids[i] = uuid.New()
	}
	return ids, nil
}

func (s *recordingSender) RecordFailure(ctx context.Context, env dispatch.Envelope, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, env)
	s.reasons = append(s.reasons, reason)
	return nil
}

func newTestPipeline(tpls memTemplates, sender *recordingSender) *Pipeline {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := variables.New(variables.WithClock(func() time.Time { return fixed }))
	return NewPipeline(tpls, m, templates.NewRenderer(m), sender)
}

func monitorTemplate() *models.EmailTemplate {
	return &models.EmailTemplate{
		ID:      uuid.New(),
		Name:    "monitor-down",
		Subject: "{{title}} ({{status}})",
		Content: "<h1>{{title}}</h1>{{{content}}}<p>{{errorMessage}}</p><small>{{checkedAt}}</small>",
		VariableSchema: datatypes.JSONSlice[models.VariableField]{
			{Name: "status", Label: "Status", Type: models.VarString, Required: true},
			{Name: "errorMessage", Label: "Error message", Type: models.VarString, Required: true},
			{Name: "checkedAt", Type: models.VarString},
		},
	}
}

func TestPipeline_RendersAndDispatches(t *testing.T) {
	tpl := monitorTemplate()
	sender := &recordingSender{}
	p := newTestPipeline(memTemplates{tpl.ID: tpl}, sender)

	err := p.Notify(context.Background(), Notification{
		Event:      "firing",
		Subject:    "API",
		TemplateID: &tpl.ID,
		Recipients: []string{"ops@example.com", "dev@example.com"},
		Mapping: map[string]string{
			"status":       "lastLog.status",
			"errorMessage": "lastLog.errorMessage",
			"checkedAt":    "__timestamp__",
		},
		Data: map[string]any{
			"lastLog": map[string]any{"status": "failed", "errorMessage": "timeout <5s>"},
		},
		Title:   "[DOWN] API",
		Content: "<table><tr><td>503</td></tr></table>",
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(sender.dispatched) != 1 {
		t.Fatalf("dispatched: got %d, want 1", len(sender.dispatched))
	}
	env := sender.dispatched[0]
	if env.TemplateName != "monitor-down" || len(env.Recipients) != 2 {
		t.Errorf("envelope: got %+v", env)
	}
	if env.Message.Subject != "[DOWN] API (failed)" {
		t.Errorf("subject: got %q", env.Message.Subject)
	}
	wantHTML := "<h1>[DOWN] API</h1><table><tr><td>503</td></tr></table><p>timeout &lt;5s&gt;</p><small>2026-03-01 12:00:00</small>"
	if env.Message.HTML != wantHTML {
		t.Errorf("html:\n got %q\nwant %q", env.Message.HTML, wantHTML)
	}
}

func TestPipeline_ValidationFailureRecordsFailedLogs(t *testing.T) {
	tpl := monitorTemplate()
	sender := &recordingSender{}
	p := newTestPipeline(memTemplates{tpl.ID: tpl}, sender)

	err := p.Notify(context.Background(), Notification{
		TemplateID: &tpl.ID,
		Recipients: []string{"ops@example.com"},
		Mapping:    map[string]string{"status": "lastLog.status", "errorMessage": "lastLog.errorMessage"},
		Data:       map[string]any{"lastLog": map[string]any{"status": "failed"}},
		Title:      "[DOWN] API",
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(sender.dispatched) != 0 {
		t.Errorf("dispatched: got %d, want 0", len(sender.dispatched))
	}
	if len(sender.failed) != 1 {
		t.Fatalf("failures: got %d, want 1", len(sender.failed))
	}
	if !strings.Contains(sender.reasons[0], "Error message is required") {
		t.Errorf("reason: got %q", sender.reasons[0])
	}
	if sender.failed[0].Message.Subject != "[DOWN] API" {
		t.Errorf("failure subject: got %q", sender.failed[0].Message.Subject)
	}
}

func TestPipeline_MissingTemplate(t *testing.T) {
	sender := &recordingSender{}
	p := newTestPipeline(memTemplates{}, sender)

	id := uuid.New()
	err := p.Notify(context.Background(), Notification{TemplateID: &id, Recipients: []string{"a@example.com"}})
	if !errors.Is(err, ErrTemplateNotFound) {
		t.Errorf("got %v, want ErrTemplateNotFound", err)
	}
	err = p.Notify(context.Background(), Notification{Recipients: []string{"a@example.com"}})
	if !errors.Is(err, ErrNoTemplate) {
		t.Errorf("got %v, want ErrNoTemplate", err)
	}
	if len(sender.dispatched)+len(sender.failed) != 0 {
		t.Error("nothing should be dispatched without a template")
	}
}

func TestPipeline_MappedTitleWins(t *testing.T) {
	tpl := &models.EmailTemplate{ID: uuid.New(), Name: "plain", Subject: "{{title}}", Content: "{{{content}}}"}
	p := newTestPipeline(memTemplates{tpl.ID: tpl}, &recordingSender{})

	vars := p.Variables(tpl, Notification{
		Mapping: map[string]string{"title": "monitor.name", "content": "monitor.missing"},
		Data:    map[string]any{"monitor": map[string]any{"name": "Checkout API"}},
		Title:   "default title",
		Content: "default content",
	})
	if vars["title"] != "Checkout API" {
		t.Errorf("title: got %v", vars["title"])
	}
	if vars["content"] != "default content" {
		t.Errorf("content: got %v", vars["content"])
	}
}
