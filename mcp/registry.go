package mcp

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Executor runs a tool against its resource. args holds the decoded
// "arguments" object of a tools/call request and is never nil.
type Executor func(ctx context.Context, args map[string]any) (any, error)

// Tool is a named, schema-described operation exposed for remote invocation.
type Tool struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
	Execute     Executor
}

// ObjectSchema builds the input schema of a tool taking the given
// properties. A nil map describes a tool without arguments.
func ObjectSchema(properties map[string]*jsonschema.Schema, required ...string) *jsonschema.Schema {
	if properties == nil {
		properties = map[string]*jsonschema.Schema{}
	}
	return &jsonschema.Schema{
		Type:       "object",
		Properties: properties,
		Required:   required,
	}
}

// Registry maps tool names to tools, preserving registration order.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(tool Tool) error {
	if tool.Name == "" {
		return errors.New("tool name must not be empty")
	}
	if tool.Execute == nil {
		return fmt.Errorf("tool %s has no executor", tool.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name]; exists {
		return &DuplicateToolError{Name: tool.Name}
	}
	r.tools[tool.Name] = tool
	r.order = append(r.order, tool.Name)
	return nil
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns tool advertisements in registration order. Each call builds
// fresh descriptors so callers may not mutate registry state through them.
func (r *Registry) List() []*sdk.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]*sdk.Tool, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		schema := t.InputSchema
		if schema == nil {
			schema = ObjectSchema(nil)
		}
		tools = append(tools, &sdk.Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return tools
}

// Invoke runs the named tool. Unknown names yield *ToolNotFoundError;
// executor failures, including panics, yield *ToolExecutionError.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (result any, err error) {
	tool, ok := r.Lookup(name)
	if !ok {
		return nil, &ToolNotFoundError{Name: name}
	}
	if args == nil {
		args = map[string]any{}
	}

	defer func() {
		if p := recover(); p != nil {
			result = nil
			err = &ToolExecutionError{Name: name, Cause: fmt.Errorf("panic: %v", p)}
		}
	}()

	result, err = tool.Execute(ctx, args)
	if err != nil {
		return nil, &ToolExecutionError{Name: name, Cause: err}
	}
	return result, nil
}
