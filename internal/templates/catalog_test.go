package templates

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ahmetk3436/herald/internal/models"
)

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "templates.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	return p
}

const validCatalog = `templates:
  - name: api-down
    subject: "[DOWN] {{title}}"
    content: "<h1>{{title}}</h1>{{{content}}}"
    tags: [monitor, http]
    variable_schema:
      - name: errorMessage
        label: Error message
        type: string
        required: true
      - name: statusCode
        type: number
        defaultValue: 0
        example: 503
  - name: cpu-high
    subject: "{{title}}"
    content: "{{{content}}}"
`

func TestLoadCatalog(t *testing.T) {
	tpls, err := LoadCatalog(writeCatalog(t, validCatalog))
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if len(tpls) != 2 {
		t.Fatalf("len: got %d, want 2", len(tpls))
	}
	down := tpls[0]
	if down.Name != "api-down" || len(down.Tags) != 2 {
		t.Errorf("api-down: got name=%q tags=%v", down.Name, down.Tags)
	}
	if len(down.VariableSchema) != 2 {
		t.Fatalf("schema: got %d fields, want 2", len(down.VariableSchema))
	}
	f := down.VariableSchema[0]
	if f.Label != "Error message" || !f.Required || f.Type != models.VarString {
		t.Errorf("errorMessage field: got %+v", f)
	}
	if down.VariableSchema[1].Example != 503 {
		t.Errorf("example: got %#v, want 503", down.VariableSchema[1].Example)
	}
}

func TestLoadCatalog_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"missing name", "templates:\n  - subject: s\n    content: c\n", "name is required"},
		{"missing content", "templates:\n  - name: a\n    subject: s\n", "subject and content"},
		{"duplicate", "templates:\n  - {name: a, subject: s, content: c}\n  - {name: a, subject: s, content: c}\n", "duplicate template"},
		{"bad type", "templates:\n  - name: a\n    subject: s\n    content: c\n    variable_schema:\n      - {name: v, type: money}\n", "unknown type"},
		{"bad yaml", "templates: [", "parse yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadCatalog(writeCatalog(t, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err: got %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadCatalog_MissingFile(t *testing.T) {
	if _, err := LoadCatalog(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

type fakeUpserter struct {
	names []string
	fail  string
}

func (f *fakeUpserter) UpsertTemplate(_ context.Context, tpl *models.EmailTemplate) error {
	if tpl.Name == f.fail {
		return errors.New("boom")
	}
	f.names = append(f.names, tpl.Name)
	return nil
}

func TestSync(t *testing.T) {
	tpls, err := LoadCatalog(writeCatalog(t, validCatalog))
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}

	up := &fakeUpserter{}
	if err := Sync(context.Background(), up, tpls); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(up.names) != 2 {
		t.Errorf("upserted: got %v", up.names)
	}

	failing := &fakeUpserter{fail: "cpu-high"}
	if err := Sync(context.Background(), failing, tpls); err == nil {
		t.Error("Sync: expected error")
	}
}
