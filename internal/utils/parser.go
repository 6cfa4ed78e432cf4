package utils

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"gorm.io/datatypes"
)

// ToFields converts a record into its camelCase field map.
func ToFields(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("record is not an object: %w", err)
	}
	return fields, nil
}

// FromFields decodes a field map back into a record of type T.
func FromFields[T any](fields map[string]interface{}) (T, error) {
	var out T
	raw, err := json.Marshal(fields)
	if err != nil {
		return out, fmt.Errorf("marshal fields: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode fields: %w", err)
	}
	return out, nil
}

// MergeFields overlays patch onto record and returns the merged record. The
// inputs are not modified.
func MergeFields[T any](record T, patch map[string]interface{}) (T, error) {
	fields, err := ToFields(record)
	if err != nil {
		var zero T
		return zero, err
	}
	for k, v := range patch {
		fields[k] = v
	}
	return FromFields[T](fields)
}

// FieldNames returns the JSON field names of struct type T, including those of
// embedded structs. Fields tagged "-" are left out.
func FieldNames[T any]() map[string]bool {
	names := make(map[string]bool)
	collectFieldNames(reflect.TypeOf((*T)(nil)).Elem(), names)
	return names
}

func collectFieldNames(t reflect.Type, names map[string]bool) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := strings.Split(f.Tag.Get("json"), ",")[0]
		if name == "-" {
			continue
		}
		if f.Anonymous && name == "" {
			collectFieldNames(f.Type, names)
			continue
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}
		names[name] = true
	}
}

// MapToJSON converts a field map to datatypes.JSON for a jsonb column.
func MapToJSON(data map[string]interface{}) (datatypes.JSON, error) {
	if data == nil {
		return nil, nil
	}
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return jsonData, nil
}

// JSONToMap converts a jsonb column back into a field map.
func JSONToMap(jsonData datatypes.JSON) (map[string]interface{}, error) {
	if len(jsonData) == 0 {
		return nil, nil
	}
	var result map[string]interface{}
	if err := json.Unmarshal(jsonData, &result); err != nil {
		return nil, err
	}
	return result, nil
}
