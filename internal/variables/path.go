package variables

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ToData normalizes an arbitrary value (struct, map, slice) into the generic
// map/slice shape Lookup walks. JSON tags decide the key names.
func ToData(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	b, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}

// Lookup resolves a dotted path with optional indices ("a.b[0].c" or
// "a.b.0.c") against data. A top-level key equal to the whole path wins,
// so keys containing '.' or '[' stay addressable. A missing segment or a
// null value yields (nil, false).
func Lookup(data any, path string) (any, bool) {
	if m, ok := data.(map[string]any); ok {
		if v, ok := m[path]; ok {
			return v, v != nil
		}
	}
	segments := splitPath(path)
	if len(segments) == 0 {
		return nil, false
	}
	cur := data
	for _, seg := range segments {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

// splitPath turns "a.b[0][1].c" into ["a", "b", "0", "1", "c"].
func splitPath(path string) []string {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(path, ".") {
		for part != "" {
			open := strings.IndexByte(part, '[')
			if open < 0 {
				out = append(out, part)
				break
			}
			if open > 0 {
				out = append(out, part[:open])
			}
			end := strings.IndexByte(part[open:], ']')
			if end < 0 {
				// Unterminated index: keep the remainder as a plain key.
				out = append(out, part[open:])
				break
			}
			out = append(out, part[open+1:open+end])
			part = part[open+end+1:]
		}
	}
	return out
}
