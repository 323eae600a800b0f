package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opspilot/opspilot/internal/core"
)

// Tool is one concrete backend capability.
type Tool interface {
	Descriptor() core.ToolDescriptor
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// Func adapts a typed handler function into a Tool. The parameter schema is
// reflected from T's json/jsonschema struct tags at construction time.
type Func[T any] struct {
	name        string
	family      core.Family
	readOnly    bool
	description string
	params      map[string]any
	run         func(context.Context, T) (string, error)
}

// NewFunc builds a Func tool. readOnly=false marks tools that mutate backend
// state (e.g. resolving an incident).
func NewFunc[T any](name string, family core.Family, readOnly bool, description string, run func(context.Context, T) (string, error)) *Func[T] {
	return &Func[T]{
		name:        name,
		family:      family,
		readOnly:    readOnly,
		description: description,
		params:      SchemaFor[T](),
		run:         run,
	}
}

func (f *Func[T]) Descriptor() core.ToolDescriptor {
	return core.ToolDescriptor{
		Name:        f.name,
		Family:      f.family,
		Description: f.description,
		Parameters:  f.params,
		ReadOnly:    f.readOnly,
	}
}

func (f *Func[T]) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var v T
	if len(args) > 0 {
		if err := json.Unmarshal(args, &v); err != nil {
			return "", fmt.Errorf("decode arguments: %w", err)
		}
	}
	return f.run(ctx, v)
}
