package tools

import (
	"fmt"
	"sort"

	"github.com/opspilot/opspilot/internal/capability"
	"github.com/opspilot/opspilot/internal/core"
)

// Registry is the static catalog of tools. It is built once at wiring time
// and never mutated afterwards; listing is a pure function of catalog and
// capability set.
type Registry struct {
	byName map[string]Tool
}

// NewRegistry builds a registry from tool sets. Duplicate names are a wiring
// bug and fail construction.
func NewRegistry(sets ...[]Tool) (*Registry, error) {
	r := &Registry{byName: make(map[string]Tool)}
	for _, set := range sets {
		for _, t := range set {
			name := t.Descriptor().Name
			if _, dup := r.byName[name]; dup {
				return nil, fmt.Errorf("duplicate tool %q", name)
			}
			r.byName[name] = t
		}
	}
	return r, nil
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// List returns descriptors for tools whose family is enabled, ordered by
// family then name so prompts are reproducible for a given capability set.
func (r *Registry) List(caps capability.Set) []core.ToolDescriptor {
	out := make([]core.ToolDescriptor, 0, len(r.byName))
	for _, t := range r.byName {
		d := t.Descriptor()
		if caps.Has(d.Family) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Family != out[j].Family {
			return out[i].Family < out[j].Family
		}
		return out[i].Name < out[j].Name
	})
	return out
}
