package tools

import (
	"encoding/json"
	"fmt"
)

// RenderJSON marshals a tool's structured result into the string payload
// handed back to the model.
func RenderJSON(v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(b), nil
}
