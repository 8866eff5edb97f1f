// Package value coerces loosely typed payload values (JSON numbers, CSV
// strings, decoded protobuf fields) into the semantic types used by field
// contracts, and renders them in a canonical string form for hashing.
package value

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// timeLayouts are the textual timestamp forms accepted by Time, most specific first.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999 MST",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// IsNull reports whether v reads as null: nil, NaN, or an empty json.Number.
func IsNull(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case float64:
		return math.IsNaN(x)
	case float32:
		return math.IsNaN(float64(x))
	case json.Number:
		return x == ""
	}
	return false
}

// Float coerces v to a float64. Strings are parsed; anything non-numeric fails.
func Float(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint32:
		f = float64(x)
	case uint64:
		f = float64(x)
	case json.Number:
		p, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = p
	case string:
		p, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = p
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Int coerces v to an int64. Values with a non-zero fractional part fail
// rather than being truncated.
func Int(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		if x > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, true
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64); err == nil {
			return i, true
		}
	}
	f, ok := Float(v)
	if !ok || f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}

// Bool coerces v to a bool. Accepts booleans, 0/1 and common textual forms.
func Bool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		return b, err == nil
	}
	if i, ok := Int(v); ok && (i == 0 || i == 1) {
		return i == 1, true
	}
	return false, false
}

// String coerces a scalar to its textual form. Composite values fail.
func String(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case json.Number:
		return x.String(), true
	case bool:
		return strconv.FormatBool(x), true
	case time.Time:
		return formatTime(x), true
	case []any, map[string]any:
		return "", false
	}
	if IsNull(v) {
		return "", false
	}
	if i, ok := Int(v); ok {
		return strconv.FormatInt(i, 10), true
	}
	if f, ok := Float(v); ok {
		return strconv.FormatFloat(f, 'g', -1, 64), true
	}
	return "", false
}

// Epoch interprets v as seconds since the Unix epoch and returns a UTC time.
func Epoch(v any) (time.Time, bool) {
	if i, ok := Int(v); ok {
		return time.Unix(i, 0).UTC(), true
	}
	f, ok := Float(v)
	if !ok {
		return time.Time{}, false
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC(), true
}

// Time coerces v to a UTC time. Numbers are epoch seconds; strings are parsed
// against the accepted layouts, falling back to epoch text.
func Time(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), true
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
		return Epoch(s)
	}
	return Epoch(v)
}

// Date coerces v to a UTC midnight. Accepts times, ISO dates and GTFS
// YYYYMMDD strings or integers.
func Date(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		y, m, d := x.UTC().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range []string{"2006-01-02", "20060102"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
		if t, ok := Time(s); ok {
			return Date(t)
		}
		return time.Time{}, false
	}
	if i, ok := Int(v); ok && i >= 10000101 && i <= 99991231 {
		return Date(strconv.FormatInt(i, 10))
	}
	return time.Time{}, false
}

// Canonical renders v so that equal values of different source types
// (json.Number "3", int64 3, float64 3.0) produce the same text. Null is "".
func Canonical(v any) string {
	if IsNull(v) {
		return ""
	}
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return formatTime(x)
	}
	if i, ok := Int(v); ok {
		return strconv.FormatInt(i, 10)
	}
	if f, ok := Float(v); ok {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
