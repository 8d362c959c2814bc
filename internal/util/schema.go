// Package util holds small shared helpers: a minimal JSON-schema subset used
// to describe and validate tool arguments.
package util

import (
	"fmt"
	"reflect"
	"strings"
)

// ValidationError reports a single argument that failed schema validation.
type ValidationError struct {
	Field   string `json:"field"`
	Value   any    `json:"value"`
	Message string `json:"message"`
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// SchemaFromStruct derives a JSON-schema-like map from a Go struct using
// reflection. Field names honor json tags; `description` tags become schema
// descriptions; pointer or omitempty fields are optional.
func SchemaFromStruct(structType any) map[string]any {
	t := reflect.TypeOf(structType)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}

	properties := make(map[string]any)
	var required []string

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		jsonTag := field.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}

		name := field.Name
		if jsonTag != "" {
			if base := strings.Split(jsonTag, ",")[0]; base != "" {
				name = base
			}
		}

		prop := map[string]any{"type": jsonType(field.Type)}
		if desc := field.Tag.Get("description"); desc != "" {
			prop["description"] = desc
		}
		properties[name] = prop

		optional := field.Type.Kind() == reflect.Ptr || hasOmitEmpty(jsonTag)
		if !optional {
			required = append(required, name)
		}
	}

	schema := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// ValidateArguments checks args against a schema map: required fields must be
// present and typed fields must match their declared JSON type. Unknown extra
// fields are allowed, mirroring the permissive behavior of tool hosts.
func ValidateArguments(args map[string]any, schema map[string]any) error {
	for _, name := range requiredFields(schema) {
		if _, ok := args[name]; !ok {
			return &ValidationError{Field: name, Message: "required field is missing"}
		}
	}

	properties, _ := schema["properties"].(map[string]any)
	for name, value := range args {
		prop, ok := properties[name].(map[string]any)
		if !ok {
			continue
		}
		want, _ := prop["type"].(string)
		if !matchesType(value, want) {
			return &ValidationError{
				Field:   name,
				Value:   value,
				Message: fmt.Sprintf("expected type %s, got %T", want, value),
			}
		}
	}
	return nil
}

// requiredFields tolerates both []string (schemas built in Go) and []any
// (schemas decoded from JSON).
func requiredFields(schema map[string]any) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func jsonType(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Bool:
		return "boolean"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	case reflect.Ptr:
		return jsonType(t.Elem())
	default:
		return "string"
	}
}

func hasOmitEmpty(tag string) bool {
	parts := strings.Split(tag, ",")
	for _, part := range parts[1:] {
		if strings.TrimSpace(part) == "omitempty" {
			return true
		}
	}
	return false
}

func matchesType(value any, want string) bool {
	if value == nil {
		return true
	}
	switch want {
	case "string":
		_, ok := value.(string)
		return ok
	case "integer":
		switch v := value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		case float64: // JSON decoding yields float64 for all numbers
			return v == float64(int64(v))
		}
		return false
	case "number":
		switch value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64,
			float32, float64:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		return true
	}
}
