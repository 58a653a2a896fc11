package variables

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ahmetk3436/herald/internal/models"
)

var dateLayouts = []string{
	time.RFC3339Nano,
	TimestampLayout,
	DateLayout,
}

func (m *Mapper) coerce(v any, typ string) any {
	switch typ {
	case models.VarString:
		return m.Stringify(v)
	case models.VarNumber:
		return toNumber(v)
	case models.VarBoolean:
		return truthy(v)
	case models.VarDate:
		if t, ok := toTime(v); ok {
			return t.In(m.loc).Format(TimestampLayout)
		}
		return m.Stringify(v)
	case models.VarJSON:
		switch v.(type) {
		case map[string]any, []any:
			b, err := json.Marshal(v)
			if err != nil {
				return m.Stringify(v)
			}
			return string(b)
		}
		return v
	default:
		return v
	}
}

// Stringify renders any extracted value as template text.
func (m *Mapper) Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.In(m.loc).Format(TimestampLayout)
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	default:
		return fmt.Sprint(x)
	}
}

func toNumber(v any) float64 {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) {
			return 0
		}
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case bool:
		if x {
			return 1
		}
		return 0
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil || math.IsNaN(f) {
			return 0
		}
		return f
	default:
		return 0
	}
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0 && !math.IsNaN(x)
	case int:
		return x != 0
	case int64:
		return x != 0
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(x)); err == nil {
			return b
		}
		return x != ""
	default:
		return true
	}
}

// toTime accepts time values, common textual layouts and unix epochs
// (seconds, or milliseconds when the magnitude says so).
func toTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromEpoch(f), true
		}
	case float64:
		return fromEpoch(x), true
	case int64:
		return fromEpoch(float64(x)), true
	case int:
		return fromEpoch(float64(x)), true
	}
	return time.Time{}, false
}

func fromEpoch(f float64) time.Time {
	if math.Abs(f) >= 1e12 {
		return time.UnixMilli(int64(f))
	}
	return time.Unix(int64(f), 0)
}
