package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ahmetk3436/herald/internal/dispatch"
	"github.com/ahmetk3436/herald/internal/models"
	"github.com/ahmetk3436/herald/internal/store"
	"github.com/ahmetk3436/herald/internal/templates"
	"github.com/ahmetk3436/herald/internal/variables"
	"github.com/google/uuid"
)

var (
	ErrTemplateNotFound = errors.New("alert template not found")
	ErrNoTemplate       = errors.New("no alert template configured")
)

// Notification is what the evaluator hands to the notifier when a subject
// fires, re-notifies or resolves.
type Notification struct {
	Event      string // firing, resolved
	Subject    string // rule or monitor name, for logs
	TemplateID *uuid.UUID
	Recipients []string
	Mapping    map[string]string
	Data       map[string]any
	// Title and Content fill the canonical placeholders unless the mapping
	// resolves them to something non-empty.
	Title   string
	Content string
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type TemplateSource interface {
	GetTemplate(ctx context.Context, id uuid.UUID) (*models.EmailTemplate, error)
}

type Sender interface {
	Dispatch(ctx context.Context, env dispatch.Envelope) ([]uuid.UUID, error)
	RecordFailure(ctx context.Context, env dispatch.Envelope, reason string) error
}

// Pipeline turns a Notification into queued emails:
// mapper -> validation -> renderer -> dispatcher.
type Pipeline struct {
	templates TemplateSource
	mapper    *variables.Mapper
	renderer  *templates.Renderer
	sender    Sender
}

func NewPipeline(src TemplateSource, mapper *variables.Mapper, renderer *templates.Renderer, sender Sender) *Pipeline {
	return &Pipeline{templates: src, mapper: mapper, renderer: renderer, sender: sender}
}

func (p *Pipeline) Notify(ctx context.Context, n Notification) error {
	if n.TemplateID == nil {
		return ErrNoTemplate
	}
	tpl, err := p.templates.GetTemplate(ctx, *n.TemplateID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrTemplateNotFound, n.TemplateID)
		}
		return fmt.Errorf("load template: %w", err)
	}

	vars := p.Variables(tpl, n)
	env := dispatch.Envelope{Recipients: n.Recipients, TemplateName: tpl.Name}

	if res := variables.Validate(vars, tpl.VariableSchema); !res.Valid {
		reason := "variable validation failed: " + strings.Join(res.Errors, "; ")
		env.Message = templates.Message{Subject: n.Title}
		if err := p.sender.RecordFailure(ctx, env, reason); err != nil {
			return fmt.Errorf("record validation failure: %w", err)
		}
		slog.Warn("Notification blocked by validation",
			"subject", n.Subject, "template", tpl.Name, "errors", res.Errors)
		return nil
	}

	env.Message = p.renderer.Render(tpl, vars)
	ids, err := p.sender.Dispatch(ctx, env)
	if err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	slog.Info("Notification queued", "subject", n.Subject, "event", n.Event, "template", tpl.Name, "emails", len(ids))
	return nil
}

// Variables extracts template variables from n and fills the canonical
// title/content placeholders when the mapping leaves them empty.
func (p *Pipeline) Variables(tpl *models.EmailTemplate, n Notification) variables.Variables {
	vars := p.mapper.Extract(n.Data, n.Mapping, tpl.VariableSchema)
	fill := func(key, val string) {
		if v, ok := vars[key]; ok && p.mapper.Stringify(v) != "" {
			return
		}
		vars[key] = val
	}
	fill(templates.TitleVar, n.Title)
	fill(templates.ContentVar, n.Content)
	return vars
}
