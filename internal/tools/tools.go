// Package tools is the tool framework: a registry of invocable tools and the
// bounded loop that lets a model call them mid-phase. Concrete tool
// implementations live with their owners; this package only brokers them.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/quorumlabs/quorum/internal/providers"
)

// Tool is one invocable capability offered to models.
type Tool interface {
	Name() string
	Description() string
	// Schema is the JSON schema of the tool's arguments.
	Schema() json.RawMessage
	Invoke(ctx context.Context, args json.RawMessage) (string, error)
}

// Registry holds the available tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Duplicate names are rejected.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("tool %q already registered", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// List returns the registered tool names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns the spec for one tool.
func (r *Registry) Describe(name string) (providers.ToolSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return providers.ToolSpec{}, false
	}
	return providers.ToolSpec{Name: t.Name(), Description: t.Description(), Schema: t.Schema()}, true
}

// Specs returns every tool's spec, sorted by name, for request attachment.
func (r *Registry) Specs() []providers.ToolSpec {
	specs := make([]providers.ToolSpec, 0)
	for _, name := range r.List() {
		if s, ok := r.Describe(name); ok {
			specs = append(specs, s)
		}
	}
	return specs
}

// Invoke runs one tool.
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage) (string, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown tool %q", name)
	}
	return t.Invoke(ctx, args)
}
