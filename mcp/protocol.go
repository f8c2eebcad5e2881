package mcp

import (
	"encoding/json"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
)

// JSON-RPC 2.0 envelope for the MCP subset served by the Dispatcher.

const (
	ProtocolVersion = "2024-11-05"
	ServerName      = "mcpbridge"
	ServerVersion   = "1.0.0"

	jsonRPCVersion = "2.0"
)

// Method names understood by the Dispatcher.
const (
	MethodInitialize = string(mcpgo.MethodInitialize)
	MethodPing       = string(mcpgo.MethodPing)
	MethodToolsList  = string(mcpgo.MethodToolsList)
	MethodToolsCall  = string(mcpgo.MethodToolsCall)

	// MethodInitialized is the one-way acknowledgment a client sends after
	// initialize. MethodInitializedLegacy is the pre-namespacing spelling.
	MethodInitialized       = "notifications/initialized"
	MethodInitializedLegacy = "initialized"
)

// JSON-RPC error codes
const (
	CodeParseError     = mcpgo.PARSE_ERROR
	CodeMethodNotFound = mcpgo.METHOD_NOT_FOUND
	CodeInternalError  = mcpgo.INTERNAL_ERROR
)

// Request is a parsed incoming JSON-RPC message. A nil or "null" ID marks a
// notification.
type Request struct {
	ID     json.RawMessage
	Method string
	Params json.RawMessage
}

// IsNotification reports whether the request carries no usable id.
func (r *Request) IsNotification() bool {
	return isNullID(r.ID)
}

func isNullID(id json.RawMessage) bool {
	return len(id) == 0 || string(id) == "null"
}

// Response represents an outgoing JSON-RPC response. Exactly one of Result
// and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC error
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ToolCallParams represents parameters for tools/call
type ToolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}
