package variables

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sentinel tokens. A mapping value of this form is resolved by a generator
// instead of a data lookup.
const (
	SentinelTimestamp = "__timestamp__"
	SentinelDate      = "__date__"
	SentinelTime      = "__time__"
	SentinelNow       = "__now__"
	SentinelUUID      = "__uuid__"
)

const (
	TimestampLayout = "2006-01-02 15:04:05"
	DateLayout      = "2006-01-02"
	TimeLayout      = "15:04:05"
)

// Generator produces the value of a sentinel token.
type Generator func() string

// Generators maps a full sentinel token (e.g. "__date__") to its generator.
type Generators map[string]Generator

// DefaultGenerators builds the standard sentinel table around the given clock,
// zone and identifier source.
func DefaultGenerators(now func() time.Time, loc *time.Location, newID func() string) Generators {
	return Generators{
		SentinelTimestamp: func() string { return now().In(loc).Format(TimestampLayout) },
		SentinelDate:      func() string { return now().In(loc).Format(DateLayout) },
		SentinelTime:      func() string { return now().In(loc).Format(TimeLayout) },
		SentinelNow:       func() string { return strconv.FormatInt(now().UnixMilli(), 10) },
		SentinelUUID:      newID,
	}
}

func newUUID() string {
	return uuid.NewString()
}

// IsSentinel reports whether s has the reserved __name__ form.
func IsSentinel(s string) bool {
	if len(s) <= 4 || !strings.HasPrefix(s, "__") || !strings.HasSuffix(s, "__") {
		return false
	}
	for _, r := range s[2 : len(s)-2] {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// literal reports whether s is a single-quoted literal and returns its body.
func literal(s string) (string, bool) {
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return s[1 : len(s)-1], true
	}
	return "", false
}

// Literal quotes v as a literal mapping value.
func Literal(v string) string {
	return "'" + v + "'"
}
