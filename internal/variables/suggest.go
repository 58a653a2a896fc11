package variables

import (
	"sort"
	"strings"

	"github.com/ahmetk3436/herald/internal/models"
)

// Match kinds, in ranking order.
const (
	MatchExact     = "exact"
	MatchSubstring = "substring"
	MatchLiteral   = "literal"
)

// Suggestion is one ranked mapping proposal.
type Suggestion struct {
	Variable string `json:"variable"`
	Path     string `json:"path"`
	Kind     string `json:"kind"`
}

// SuggestMapping proposes a mapping for schema against a sample data object.
func (m *Mapper) SuggestMapping(schema []models.VariableField, data map[string]any) Mapping {
	out := make(Mapping, len(schema))
	for _, s := range m.Suggest(schema, data) {
		out[s.Variable] = s.Path
	}
	return out
}

// Suggest ranks candidates per schema field: an exact top-level key first,
// then the first case-insensitive substring match in either direction over
// the sorted keys, then a quoted literal built from the field's example.
func (m *Mapper) Suggest(schema []models.VariableField, data map[string]any) []Suggestion {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Suggestion, 0, len(schema))
	for _, field := range schema {
		if _, ok := data[field.Name]; ok {
			out = append(out, Suggestion{Variable: field.Name, Path: field.Name, Kind: MatchExact})
			continue
		}
		if key, ok := substringMatch(field.Name, keys); ok {
			out = append(out, Suggestion{Variable: field.Name, Path: key, Kind: MatchSubstring})
			continue
		}
		out = append(out, Suggestion{Variable: field.Name, Path: Literal(m.Stringify(field.Example)), Kind: MatchLiteral})
	}
	return out
}

func substringMatch(name string, keys []string) (string, bool) {
	ln := strings.ToLower(name)
	if ln == "" {
		return "", false
	}
	for _, k := range keys {
		lk := strings.ToLower(k)
		if lk == "" {
			continue
		}
		if strings.Contains(lk, ln) || strings.Contains(ln, lk) {
			return k, true
		}
	}
	return "", false
}
