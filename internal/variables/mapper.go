// Package variables turns arbitrary measurement data into the flat variable
// set a notification template consumes. A mapping binds each template
// variable to a data path, a sentinel token or a quoted literal; an optional
// schema supplies defaults, type coercion and required-field validation.
package variables

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ahmetk3436/herald/internal/models"
)

// Variables is the extracted name → value set.
type Variables map[string]any

// Mapping binds template variable names to paths, sentinels or literals.
type Mapping map[string]string

type Mapper struct {
	now        func() time.Time
	loc        *time.Location
	newID      func() string
	generators Generators
}

type Option func(*Mapper)

// WithClock fixes the clock used by the default sentinel generators.
func WithClock(now func() time.Time) Option {
	return func(m *Mapper) { m.now = now }
}

// WithLocation sets the zone used for sentinel and date rendering.
func WithLocation(loc *time.Location) Option {
	return func(m *Mapper) { m.loc = loc }
}

// WithIDSource replaces the fresh-identifier generator.
func WithIDSource(newID func() string) Option {
	return func(m *Mapper) { m.newID = newID }
}

// WithGenerators replaces the whole sentinel table. The table is copied.
func WithGenerators(g Generators) Option {
	return func(m *Mapper) {
		m.generators = make(Generators, len(g))
		for k, fn := range g {
			m.generators[k] = fn
		}
	}
}

func New(opts ...Option) *Mapper {
	m := &Mapper{
		now:   time.Now,
		loc:   time.UTC,
		newID: newUUID,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.generators == nil {
		m.generators = DefaultGenerators(m.now, m.loc, m.newID)
	}
	return m
}

// Location returns the zone the mapper renders dates in.
func (m *Mapper) Location() *time.Location {
	return m.loc
}

// Extract resolves every mapping entry against data. It never fails:
// unresolvable paths fall back to the schema default, else "".
// Schema fields absent from the mapping contribute their default, if any.
func (m *Mapper) Extract(data map[string]any, mapping Mapping, schema []models.VariableField) Variables {
	fields := indexSchema(schema)
	vars := make(Variables, len(mapping))

	for name, path := range mapping {
		field, hasField := fields[name]

		v, ok := m.resolve(data, path)
		if !ok {
			if hasField && field.DefaultValue != nil {
				v = field.DefaultValue
			} else {
				vars[name] = ""
				continue
			}
		}
		if hasField && field.Type != "" {
			v = m.coerce(v, field.Type)
		}
		vars[name] = v
	}

	for _, field := range schema {
		if _, mapped := mapping[field.Name]; mapped || field.DefaultValue == nil {
			continue
		}
		v := field.DefaultValue
		if field.Type != "" {
			v = m.coerce(v, field.Type)
		}
		vars[field.Name] = v
	}
	return vars
}

func (m *Mapper) resolve(data map[string]any, path string) (any, bool) {
	if IsSentinel(path) {
		if gen, ok := m.generators[path]; ok {
			return gen(), true
		}
		return "", true
	}
	if lit, ok := literal(path); ok {
		if lit == "" {
			return nil, false
		}
		return lit, true
	}
	return Lookup(data, path)
}

// Result is the outcome of Validate.
type Result struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// Validate checks every required schema field has a non-empty value. Labels
// are preferred over raw names in messages. vars is not modified.
func Validate(vars Variables, schema []models.VariableField) Result {
	errs := []string{}
	for _, field := range schema {
		if !field.Required {
			continue
		}
		if v, ok := vars[field.Name]; ok && !isEmpty(v) {
			continue
		}
		errs = append(errs, fmt.Sprintf("%s is required", displayName(field)))
	}
	return Result{Valid: len(errs) == 0, Errors: errs}
}

// isEmpty reports falsy values: nil, blank strings, false, zero and NaN.
func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case bool:
		return !x
	case float64:
		return x == 0 || math.IsNaN(x)
	case float32:
		return x == 0 || math.IsNaN(float64(x))
	case int:
		return x == 0
	case int64:
		return x == 0
	}
	return false
}

func displayName(f models.VariableField) string {
	if f.Label != "" {
		return f.Label
	}
	return f.Name
}

func indexSchema(schema []models.VariableField) map[string]models.VariableField {
	out := make(map[string]models.VariableField, len(schema))
	for _, f := range schema {
		out[f.Name] = f
	}
	return out
}
