// Package tools implements the tool registry agents dispatch tool calls through.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/szaher/augur/internal/llm"
)

// ErrNotRegistered is returned when a call names a tool the registry does not hold.
var ErrNotRegistered = errors.New("tool not registered")

// Executor executes a tool call and returns the result as a string.
type Executor interface {
	Execute(ctx context.Context, input map[string]any) (string, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, input map[string]any) (string, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, input map[string]any) (string, error) {
	return f(ctx, input)
}

// Registry manages tool executors and dispatches tool calls.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
	tools     map[string]llm.ToolDefinition
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]Executor),
		tools:     make(map[string]llm.ToolDefinition),
	}
}

// Register adds a tool executor to the registry, replacing any previous
// registration under the same name.
func (r *Registry) Register(def llm.ToolDefinition, executor Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[def.Name] = executor
	r.tools[def.Name] = def
}

// Execute dispatches a tool call to its registered executor.
func (r *Registry) Execute(ctx context.Context, call llm.ToolCall) (string, error) {
	r.mu.RLock()
	executor, ok := r.executors[call.Name]
	r.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("%w: %q", ErrNotRegistered, call.Name)
	}
	return executor.Execute(ctx, call.Input)
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.executors[name]
	return ok
}

// Subset returns a new registry holding only the named tools. Unknown names
// are reported as an error so misconfigured agents fail at startup.
func (r *Registry) Subset(names ...string) (*Registry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub := NewRegistry()
	for _, name := range names {
		exec, ok := r.executors[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrNotRegistered, name)
		}
		sub.executors[name] = exec
		sub.tools[name] = r.tools[name]
	}
	return sub, nil
}

// Definitions returns all registered tool definitions sorted by name.
func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llm.ToolDefinition, 0, len(r.tools))
	for _, d := range r.tools {
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.executors)
}
