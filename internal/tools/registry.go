// Package tools implements the tool registry and the built-in tool set the
// agent can invoke against a working directory.
package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/steward-dev/steward/internal/backend"
	"github.com/steward-dev/steward/internal/execmode"
	"github.com/steward-dev/steward/internal/sandbox"
)

// Placement tells an executor where the call was resolved to run.
type Placement struct {
	Mode    execmode.Mode
	Sandbox sandbox.Sandbox // isolated backend to use when Mode is sandbox
}

// Executor executes one tool call and returns its result as a string.
type Executor interface {
	Execute(ctx context.Context, input map[string]any, p Placement) (string, error)
}

// Registry manages tool executors and dispatches tool calls.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
	defs      map[string]backend.ToolDefinition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]Executor),
		defs:      make(map[string]backend.ToolDefinition),
	}
}

// Register adds a tool executor to the registry.
func (r *Registry) Register(def backend.ToolDefinition, executor Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[def.Name] = executor
	r.defs[def.Name] = def
}

// Execute dispatches a tool call to its registered executor.
func (r *Registry) Execute(ctx context.Context, call backend.ToolCall, p Placement) (string, error) {
	r.mu.RLock()
	executor, ok := r.executors[call.Name]
	r.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("tool %q not registered", call.Name)
	}
	return executor.Execute(ctx, call.Input, p)
}

// Definitions returns all registered tool definitions.
func (r *Registry) Definitions() []backend.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]backend.ToolDefinition, 0, len(r.defs))
	for _, d := range r.defs {
		defs = append(defs, d)
	}
	return defs
}

// objectSchema is a shorthand for building tool input schemas.
func objectSchema(required []string, props map[string]any) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringInput(input map[string]any, key string) (string, error) {
	v, ok := input[key]
	if !ok {
		return "", fmt.Errorf("missing required input %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("input %q must be a string", key)
	}
	return s, nil
}
