package gateway

import (
	"strings"
	"unicode"
)

// Foreign keys whose in-memory name drops the "_id" suffix the backend uses.
// No model may also carry the generic "<name>Id" form of one of these keys:
// both would map to the same wire key.
var wireOverrides = map[string]string{
	"projectManager": "project_manager_id",
	"accountManager": "account_manager_id",
	"assignee":       "assignee_id",
	"createdBy":      "created_by_id",
}

var memoryOverrides = func() map[string]string {
	m := make(map[string]string, len(wireOverrides))
	for memory, wire := range wireOverrides {
		m[wire] = memory
	}
	return m
}()

// KeyToWire converts an in-memory camelCase field name to the backend's snake_case.
func KeyToWire(key string) string {
	if wire, ok := wireOverrides[key]; ok {
		return wire
	}
	var b strings.Builder
	b.Grow(len(key) + 4)
	for i, r := range key {
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

// KeyFromWire converts a backend snake_case field name to camelCase. Wire
// keys use single underscores; "a__b" and "_a" collapse and do not round-trip.
func KeyFromWire(key string) string {
	if memory, ok := memoryOverrides[key]; ok {
		return memory
	}
	parts := strings.Split(key, "_")
	var b strings.Builder
	b.Grow(len(key))
	for i, part := range parts {
		if part == "" {
			continue
		}
		if i == 0 {
			b.WriteString(part)
			continue
		}
		runes := []rune(part)
		runes[0] = unicode.ToUpper(runes[0])
		b.WriteString(string(runes))
	}
	return b.String()
}

// ToWire rewrites every object key in v, recursively, for the backend.
func ToWire(v interface{}) interface{} {
	return mapKeys(v, KeyToWire)
}

// FromWire rewrites every object key in v, recursively, for the in-memory model.
func FromWire(v interface{}) interface{} {
	return mapKeys(v, KeyFromWire)
}

func mapKeys(v interface{}, convert func(string) string) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[convert(k)] = mapKeys(val, convert)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = mapKeys(val, convert)
		}
		return out
	default:
		return v
	}
}
