package util

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// String renders a loosely typed source value as text. Nil yields ok=false.
func String(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case []byte:
		return string(t), true
	case int:
		return strconv.Itoa(t), true
	case int32:
		return strconv.FormatInt(int64(t), 10), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	case time.Time:
		return t.UTC().Format(time.RFC3339), true
	case fmt.Stringer:
		return t.String(), true
	default:
		return fmt.Sprint(t), true
	}
}

// TrimmedString is String with surrounding whitespace removed. SQL Server
// CHAR columns come back space padded.
func TrimmedString(v any) (string, bool) {
	s, ok := String(v)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(s), true
}

// Int64 converts a numeric source value. Fractional values are rejected.
func Int64(v any) (int64, bool, error) {
	switch t := v.(type) {
	case nil:
		return 0, false, nil
	case int:
		return int64(t), true, nil
	case int32:
		return int64(t), true, nil
	case int64:
		return t, true, nil
	case float64:
		if t != float64(int64(t)) {
			return 0, true, fmt.Errorf("non-integral value %v", t)
		}
		return int64(t), true, nil
	case string, []byte:
		s, _ := String(t)
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, false, nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, true, fmt.Errorf("parse integer %q: %w", s, err)
		}
		return n, true, nil
	default:
		return 0, true, fmt.Errorf("unsupported integer type %T", v)
	}
}

// Float64 converts a numeric source value. DECIMAL columns arrive as []byte
// from the SQL Server driver.
func Float64(v any) (float64, bool, error) {
	switch t := v.(type) {
	case nil:
		return 0, false, nil
	case int:
		return float64(t), true, nil
	case int32:
		return float64(t), true, nil
	case int64:
		return float64(t), true, nil
	case float32:
		return float64(t), true, nil
	case float64:
		return t, true, nil
	case string, []byte:
		s, _ := String(t)
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, false, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, true, fmt.Errorf("parse number %q: %w", s, err)
		}
		return f, true, nil
	default:
		return 0, true, fmt.Errorf("unsupported numeric type %T", v)
	}
}
