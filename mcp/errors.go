package mcp

import "fmt"

// DuplicateToolError is returned by Registry.Register when the name is taken.
type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("duplicate tool: %s", e.Name)
}

// ToolNotFoundError is returned by Registry.Invoke for an unknown tool name.
type ToolNotFoundError struct {
	Name string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool not found: %s", e.Name)
}

// ToolExecutionError wraps a failure raised by a tool's executor.
type ToolExecutionError struct {
	Name  string
	Cause error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Name, e.Cause)
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Cause
}
