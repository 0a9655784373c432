package message

import (
	"encoding/json"
	"strconv"
	"strings"
	"unicode"
)

// spellings returns the accepted key spellings for a logical camelCase field,
// in lookup order.
func spellings(name string) []string {
	snake := toSnake(name)
	if snake == name {
		return []string{name}
	}

	return []string{name, snake}
}

func toSnake(s string) string {
	var b strings.Builder

	b.Grow(len(s) + 4)

	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}

			b.WriteRune(unicode.ToLower(r))

			continue
		}

		b.WriteRune(r)
	}

	return b.String()
}

func toCamel(s string) string {
	if !strings.Contains(s, "_") {
		return s
	}

	parts := strings.Split(s, "_")

	var b strings.Builder

	b.WriteString(parts[0])

	for _, p := range parts[1:] {
		if p == "" {
			continue
		}

		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}

	return b.String()
}

// Field returns the first value present under any spelling of any of the
// given logical names.
func Field(m map[string]any, names ...string) (any, bool) {
	if m == nil {
		return nil, false
	}

	for _, name := range names {
		for _, key := range spellings(name) {
			if v, ok := m[key]; ok && v != nil {
				return v, true
			}
		}
	}

	return nil, false
}

// String returns the first string value found, or "".
func String(m map[string]any, names ...string) string {
	v, ok := Field(m, names...)
	if !ok {
		return ""
	}

	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return ""
	}
}

// Map returns the first object value found, or nil.
func Map(m map[string]any, names ...string) map[string]any {
	v, ok := Field(m, names...)
	if !ok {
		return nil
	}

	obj, _ := v.(map[string]any)

	return obj
}

// Slice returns the first array value found, or nil.
func Slice(m map[string]any, names ...string) []any {
	v, ok := Field(m, names...)
	if !ok {
		return nil
	}

	arr, _ := v.([]any)

	return arr
}

// Bool returns the first boolean value found.
func Bool(m map[string]any, names ...string) bool {
	v, ok := Field(m, names...)
	if !ok {
		return false
	}

	b, _ := v.(bool)

	return b
}

// Int64 returns the first numeric value found. Numbers encoded as strings
// are accepted.
func Int64(m map[string]any, names ...string) (int64, bool) {
	v, ok := Field(m, names...)
	if !ok {
		return 0, false
	}

	return ToInt64(v)
}

// ToInt64 coerces a decoded JSON value to an integer.
func ToInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}

		if f, err := n.Float64(); err == nil {
			return int64(f), true
		}
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
			return i, true
		}
	}

	return 0, false
}

// NormalizeMethod rewrites snake_case method segments to camelCase so that
// "thread/token_usage/updated" and "thread/tokenUsage/updated" compare equal.
func NormalizeMethod(method string) string {
	segments := strings.Split(method, "/")
	for i, seg := range segments {
		segments[i] = toCamel(seg)
	}

	return strings.Join(segments, "/")
}
