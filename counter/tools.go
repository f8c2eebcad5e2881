package counter

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/zhubert/mcpbridge/mcp"
)

// Tool names registered by RegisterTools.
const (
	ToolGetValue  = "get_value"
	ToolSetValue  = "set_value"
	ToolIncrement = "increment"
	ToolDecrement = "decrement"
	ToolReset     = "reset"
)

// Instructions describes the counter tools to connecting clients.
const Instructions = "This server exposes a single integer counter. " +
	"Call get_value to read it and set_value, increment, decrement or reset to change it."

// Tools returns the tool set operating on c.
func Tools(c *Counter) []mcp.Tool {
	return []mcp.Tool{
		{
			Name:        ToolGetValue,
			Description: "Get the current counter value",
			InputSchema: mcp.ObjectSchema(nil),
			Execute: func(context.Context, map[string]any) (any, error) {
				return c.Get(), nil
			},
		},
		{
			Name:        ToolSetValue,
			Description: "Set the counter to a specific value",
			InputSchema: mcp.ObjectSchema(map[string]*jsonschema.Schema{
				"value": {Type: "integer", Description: "The new counter value"},
			}, "value"),
			Execute: func(_ context.Context, args map[string]any) (any, error) {
				v, err := intArg(args, "value")
				if err != nil {
					return nil, err
				}
				return c.Set(v), nil
			},
		},
		{
			Name:        ToolIncrement,
			Description: "Increase the counter by one",
			InputSchema: mcp.ObjectSchema(nil),
			Execute: func(context.Context, map[string]any) (any, error) {
				return c.Increment(), nil
			},
		},
		{
			Name:        ToolDecrement,
			Description: "Decrease the counter by one",
			InputSchema: mcp.ObjectSchema(nil),
			Execute: func(context.Context, map[string]any) (any, error) {
				return c.Decrement(), nil
			},
		},
		{
			Name:        ToolReset,
			Description: "Reset the counter to zero",
			InputSchema: mcp.ObjectSchema(nil),
			Execute: func(context.Context, map[string]any) (any, error) {
				return c.Reset(), nil
			},
		},
	}
}

// RegisterTools adds the counter tools to reg.
func RegisterTools(reg *mcp.Registry, c *Counter) error {
	for _, tool := range Tools(c) {
		if err := reg.Register(tool); err != nil {
			return fmt.Errorf("register %s: %w", tool.Name, err)
		}
	}
	return nil
}

// intArg extracts an integral argument. JSON numbers arrive as float64.
func intArg(args map[string]any, name string) (int64, error) {
	raw, ok := args[name]
	if !ok || raw == nil {
		return 0, fmt.Errorf("missing required argument: %s", name)
	}

	switch v := raw.(type) {
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || v < math.MinInt64 || v >= math.MaxInt64 {
			return 0, fmt.Errorf("argument %s must be an integer, got %v", name, v)
		}
		return int64(v), nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("argument %s must be an integer: %w", name, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("argument %s must be an integer, got %T", name, raw)
	}
}
