package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
)

// SchemaFor reflects a JSON schema from T's struct tags.
//
// Supported tags:
//   - json:"name" / json:",omitempty"
//   - jsonschema:"required"
//   - jsonschema:"description=..."
//   - jsonschema:"default=...,minimum=N,maximum=M,enum=a|b"
func SchemaFor[T any]() map[string]any {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(new(T))

	b, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	delete(m, "$schema")
	delete(m, "$id")
	if m["type"] == nil {
		m["type"] = "object"
	}
	return m
}

// ValidateArgs checks raw against schema: arguments must be a JSON object, all
// required fields must be present, no unknown fields, and each present field
// must match its declared type. Returns a summary suitable for the model.
func ValidateArgs(schema map[string]any, raw json.RawMessage) error {
	args := map[string]any{}
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &args); err != nil {
			return fmt.Errorf("arguments must be a JSON object: %v", err)
		}
	}

	props, _ := schema["properties"].(map[string]any)

	var missing []string
	if req, ok := schema["required"].([]any); ok {
		for _, r := range req {
			name, _ := r.(string)
			if _, present := args[name]; !present {
				missing = append(missing, name)
			}
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required argument(s): %s", strings.Join(missing, ", "))
	}

	for name, val := range args {
		p, known := props[name]
		if !known {
			return fmt.Errorf("unknown argument %q", name)
		}
		pm, _ := p.(map[string]any)
		want, _ := pm["type"].(string)
		if want == "" {
			continue
		}
		if err := checkType(name, want, val); err != nil {
			return err
		}
	}
	return nil
}

func checkType(name, want string, val any) error {
	if val == nil {
		return nil
	}
	ok := false
	switch want {
	case "string":
		_, ok = val.(string)
	case "boolean":
		_, ok = val.(bool)
	case "number":
		_, ok = val.(float64)
	case "integer":
		f, isNum := val.(float64)
		ok = isNum && f == float64(int64(f))
	case "array":
		_, ok = val.([]any)
	case "object":
		_, ok = val.(map[string]any)
	default:
		ok = true
	}
	if !ok {
		return fmt.Errorf("argument %q must be of type %s", name, want)
	}
	return nil
}
