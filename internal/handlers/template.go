package handlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ahmetk3436/herald/internal/models"
	"github.com/ahmetk3436/herald/internal/store"
	"github.com/ahmetk3436/herald/internal/templates"
	"github.com/ahmetk3436/herald/internal/variables"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type TemplateStore interface {
	ListTemplates(ctx context.Context) ([]models.EmailTemplate, error)
	GetTemplate(ctx context.Context, id uuid.UUID) (*models.EmailTemplate, error)
	UpsertTemplate(ctx context.Context, tpl *models.EmailTemplate) error
}

type TemplateHandler struct {
	store    TemplateStore
	mapper   *variables.Mapper
	renderer *templates.Renderer
}

func NewTemplateHandler(s TemplateStore, mapper *variables.Mapper, renderer *templates.Renderer) *TemplateHandler {
	return &TemplateHandler{store: s, mapper: mapper, renderer: renderer}
}

func (h *TemplateHandler) ListTemplates(c *fiber.Ctx) error {
	tpls, err := h.store.ListTemplates(c.UserContext())
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, "Failed to list templates")
	}
	return c.JSON(fiber.Map{"templates": tpls})
}

func (h *TemplateHandler) GetTemplate(c *fiber.Ctx) error {
	tpl, err := h.lookup(c)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"template":     tpl,
		"placeholders": templates.Placeholders(tpl),
	})
}

// SaveTemplate creates or replaces a template by name.
func (h *TemplateHandler) SaveTemplate(c *fiber.Ctx) error {
	var req struct {
		Name           string                 `json:"name"`
		Subject        string                 `json:"subject"`
		Content        string                 `json:"content"`
		VariableSchema []models.VariableField `json:"variable_schema"`
		Tags           []string               `json:"tags"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body")
	}

	tpl := models.EmailTemplate{
		Name:           req.Name,
		Subject:        req.Subject,
		Content:        req.Content,
		VariableSchema: datatypes.JSONSlice[models.VariableField](req.VariableSchema),
		Tags:           datatypes.JSONSlice[string](req.Tags),
	}
	if err := templates.ValidateTemplate(&tpl); err != nil {
		return fail(c, fiber.StatusBadRequest, err.Error())
	}
	if err := h.store.UpsertTemplate(c.UserContext(), &tpl); err != nil {
		slog.Error("Failed to save template", "template", tpl.Name, "error", err)
		return fail(c, fiber.StatusInternalServerError, "Failed to save template")
	}
	return c.JSON(tpl)
}

// Preview runs the full mapping pipeline against sample data without
// sending anything.
func (h *TemplateHandler) Preview(c *fiber.Ctx) error {
	tpl, err := h.lookup(c)
	if err != nil {
		return err
	}
	var req struct {
		Data    map[string]any    `json:"data"`
		Mapping map[string]string `json:"mapping"`
		Title   string            `json:"title"`
		Content string            `json:"content"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body")
	}

	vars := h.mapper.Extract(req.Data, req.Mapping, tpl.VariableSchema)
	for key, val := range map[string]string{templates.TitleVar: req.Title, templates.ContentVar: req.Content} {
		if val == "" {
			continue
		}
		if v, ok := vars[key]; !ok || h.mapper.Stringify(v) == "" {
			vars[key] = val
		}
	}

	return c.JSON(fiber.Map{
		"variables":  vars,
		"validation": variables.Validate(vars, tpl.VariableSchema),
		"message":    h.renderer.Render(tpl, vars),
	})
}

// SuggestMapping proposes a variable mapping for a sample data object.
func (h *TemplateHandler) SuggestMapping(c *fiber.Ctx) error {
	tpl, err := h.lookup(c)
	if err != nil {
		return err
	}
	var req struct {
		Data map[string]any `json:"data"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body")
	}

	suggestions := h.mapper.Suggest(tpl.VariableSchema, req.Data)
	mapping := make(variables.Mapping, len(suggestions))
	for _, s := range suggestions {
		mapping[s.Variable] = s.Path
	}
	return c.JSON(fiber.Map{
		"mapping":     mapping,
		"suggestions": suggestions,
	})
}

// Validate checks a set of variables against the template schema.
func (h *TemplateHandler) Validate(c *fiber.Ctx) error {
	tpl, err := h.lookup(c)
	if err != nil {
		return err
	}
	var req struct {
		Variables map[string]any `json:"variables"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	return c.JSON(variables.Validate(req.Variables, tpl.VariableSchema))
}

// lookup loads the :id template. Errors are *fiber.Error values rendered
// by ErrorHandler.
func (h *TemplateHandler) lookup(c *fiber.Ctx) (*models.EmailTemplate, error) {
	id, ok := parseID(c)
	if !ok {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Invalid template ID")
	}
	tpl, err := h.store.GetTemplate(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fiber.NewError(fiber.StatusNotFound, "Template not found")
		}
		slog.Error("Failed to load template", "id", id, "error", err)
		return nil, fiber.NewError(fiber.StatusInternalServerError, "Failed to load template")
	}
	return tpl, nil
}
