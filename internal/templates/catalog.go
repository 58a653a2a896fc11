package templates

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/ahmetk3436/herald/internal/models"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Templates []catalogTemplate `yaml:"templates"`
}

type catalogTemplate struct {
	Name           string                 `yaml:"name"`
	Subject        string                 `yaml:"subject"`
	Content        string                 `yaml:"content"`
	Tags           []string               `yaml:"tags"`
	VariableSchema []models.VariableField `yaml:"variable_schema"`
}

// Upserter stores templates keyed by their unique name.
type Upserter interface {
	UpsertTemplate(ctx context.Context, tpl *models.EmailTemplate) error
}

// LoadCatalog reads and validates a YAML template catalog.
func LoadCatalog(path string) ([]models.EmailTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("template catalog: read %q: %w", path, err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("template catalog: parse yaml: %w", err)
	}

	seen := make(map[string]bool, len(file.Templates))
	out := make([]models.EmailTemplate, 0, len(file.Templates))
	for i, ct := range file.Templates {
		tpl := models.EmailTemplate{
			Name:           ct.Name,
			Subject:        ct.Subject,
			Content:        ct.Content,
			Tags:           ct.Tags,
			VariableSchema: ct.VariableSchema,
		}
		if err := ValidateTemplate(&tpl); err != nil {
			return nil, fmt.Errorf("template catalog: templates[%d]: %w", i, err)
		}
		if seen[ct.Name] {
			return nil, fmt.Errorf("template catalog: duplicate template name %q", ct.Name)
		}
		seen[ct.Name] = true
		out = append(out, tpl)
	}
	return out, nil
}

// ValidateTemplate checks the fields a template needs before it is stored.
func ValidateTemplate(tpl *models.EmailTemplate) error {
	if tpl.Name == "" {
		return fmt.Errorf("name is required")
	}
	if tpl.Subject == "" || tpl.Content == "" {
		return fmt.Errorf("%q: subject and content are required", tpl.Name)
	}
	names := make(map[string]bool, len(tpl.VariableSchema))
	for _, f := range tpl.VariableSchema {
		if f.Name == "" {
			return fmt.Errorf("%q: variable without name", tpl.Name)
		}
		if names[f.Name] {
			return fmt.Errorf("%q: duplicate variable %q", tpl.Name, f.Name)
		}
		names[f.Name] = true
		switch f.Type {
		case "", models.VarString, models.VarNumber, models.VarBoolean, models.VarDate, models.VarJSON:
		default:
			return fmt.Errorf("%q: variable %q has unknown type %q", tpl.Name, f.Name, f.Type)
		}
	}
	return nil
}

// Sync upserts every catalog template. It stops at the first failure.
func Sync(ctx context.Context, store Upserter, tpls []models.EmailTemplate) error {
	for i := range tpls {
		if err := store.UpsertTemplate(ctx, &tpls[i]); err != nil {
			return fmt.Errorf("sync template %q: %w", tpls[i].Name, err)
		}
	}
	slog.Info("Template catalog synced", "count", len(tpls))
	return nil
}

// WatchCatalog calls onChange with the freshly loaded catalog each time path
// is written. A catalog that fails to load is logged and skipped; the
// previously synced templates stay in place. Runs until ctx is cancelled.
func WatchCatalog(ctx context.Context, path string, onChange func([]models.EmailTemplate)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}
	slog.Info("Watching template catalog", "path", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Atomic saves arrive as Create.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			tpls, err := LoadCatalog(path)
			if err != nil {
				slog.Error("Template catalog reload failed", "path", path, "error", err)
				continue
			}
			onChange(tpls)
			_ = watcher.Add(path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("Template catalog watcher error", "error", err)
		}
	}
}
