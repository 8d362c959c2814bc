package tool

import (
	"context"
	"fmt"
)

// Toolset is a named, immutable collection of tools resolved from a provider.
// Step agents attach whole toolsets; every tool in the set is offered to the
// model for function calling.
type Toolset struct {
	name  string
	tools []Tool
	index map[string]Tool
}

// NewToolset creates a toolset from the given tools. Duplicate tool names are
// rejected so the model never sees an ambiguous function declaration.
func NewToolset(name string, tools ...Tool) (*Toolset, error) {
	index := make(map[string]Tool, len(tools))
	for _, t := range tools {
		if _, exists := index[t.Name()]; exists {
			return nil, fmt.Errorf("toolset %q: duplicate tool name %q", name, t.Name())
		}
		index[t.Name()] = t
	}
	return &Toolset{
		name:  name,
		tools: append([]Tool(nil), tools...),
		index: index,
	}, nil
}

// Name returns the toolset identifier used when resolving from a provider.
func (s *Toolset) Name() string { return s.name }

// Tools returns the tools in declaration order. The returned slice is a copy.
func (s *Toolset) Tools() []Tool {
	return append([]Tool(nil), s.tools...)
}

// Lookup returns the tool with the given name, if present.
func (s *Toolset) Lookup(name string) (Tool, bool) {
	t, ok := s.index[name]
	return t, ok
}

// Len returns the number of tools in the set.
func (s *Toolset) Len() int { return len(s.tools) }

// Provider resolves named toolsets from a backend. Implementations own any
// underlying connections and release them in Close; providers are registered
// with a lifecycle.Manager so release happens exactly once at shutdown.
type Provider interface {
	// Resolve fetches the toolset with the given name. A missing toolset is
	// reported as *core.ToolsetNotFoundError; transport and credential
	// failures surface as *core.ConnectionError / *core.AuthError.
	Resolve(ctx context.Context, name string) (*Toolset, error)

	// Close releases the provider's underlying connections. Safe to call
	// more than once.
	Close() error
}
