package tools

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/deepnoodle-ai/flowgraph"
	"github.com/deepnoodle-ai/flowgraph/executors"
)

// Confirm the interfaces are implemented correctly.
var (
	_ executors.ToolInvoker   = (*Registry)(nil)
	_ executors.ToolDescriber = (*Registry)(nil)
)

// Registry maps tool names to tools. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns a registry containing the given tools.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.tools[t.Name()] = t
	}
	return r
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// InvokeTool runs the named tool. Unknown names fail with TOOL_NOT_FOUND.
func (r *Registry) InvokeTool(ctx context.Context, name string, params map[string]any) (any, error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, flowgraph.Errorf(flowgraph.CodeToolNotFound, "tool %q is not registered", name)
	}
	flowgraph.LoggerFromContext(ctx).Debug("invoking tool", "tool", name)
	result, err := t.Invoke(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return result, nil
}

// DescribeTool reports the name and description of a registered tool.
func (r *Registry) DescribeTool(name string) (executors.ToolDefinition, bool) {
	t, ok := r.Get(name)
	if !ok {
		return executors.ToolDefinition{}, false
	}
	return executors.ToolDefinition{Name: t.Name(), Description: t.Description()}, true
}
