package expr

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Resolve resolves a value from variables or returns a literal.
// It handles quoted strings, booleans, null, numbers, and variable lookups.
// Unquoted identifiers that are not variables resolve to nil so that a rule
// on a missing extension never matches by accident.
func Resolve(s string, vars map[string]any) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if len(s) >= 2 &&
		((s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"')) {
		return s[1 : len(s)-1]
	}

	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	case "null", "nil":
		return nil
	}

	var num json.Number
	if err := json.Unmarshal([]byte(s), &num); err == nil {
		if i, err := num.Int64(); err == nil {
			return i
		}
		if f, err := num.Float64(); err == nil {
			return f
		}
	}

	if val, ok := vars[s]; ok {
		return val
	}
	return nil
}

// IsTruthy returns whether a value is truthy.
// nil is false, bools return their value, empty strings and byte slices are
// false, zero numbers and zero times are false, everything else is true.
func IsTruthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case []byte:
		return len(val) > 0
	case time.Time:
		return !val.IsZero()
	case float64:
		return val != 0
	case float32:
		return val != 0
	}
	if n, ok := toInt64(v); ok {
		return n != 0
	}
	return true
}

// ToFloat64 converts a value to float64 for numeric comparison.
// Times compare by Unix seconds. Returns 0 for values that cannot be
// converted.
func ToFloat64(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case float32:
		return float64(val)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0
		}
		return f
	case time.Time:
		return float64(val.UnixNano()) / float64(time.Second)
	}
	if n, ok := toInt64(v); ok {
		return float64(n)
	}
	return 0
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	}
	return 0, false
}
