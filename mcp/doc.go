// Package mcp implements the Model Context Protocol subset served by mcpbridge.
//
// # Overview
//
// A Registry holds the tools a host application exposes. A Dispatcher
// decodes one JSON-RPC 2.0 message at a time, routes it through a fixed
// method table and encodes at most one response:
//
//	raw message
//	    ↓ parseRequest
//	Dispatcher.dispatch ── notification? ──→ no output
//	    ↓
//	initialize | ping | tools/list | tools/call
//	    ↓
//	Registry.Invoke (serialized)
//	    ↓
//	RenderText → {"content":[{"type":"text","text":...}]}
//
// The Dispatcher does not know how messages arrive. The transport package
// feeds it from an HTTP endpoint or a local socket.
//
// # Errors
//
//   - Malformed JSON yields -32700 with a null id.
//   - An unknown method with an id yields -32601.
//   - Tool failures, unknown tools and bad params yield -32603 with the
//     message "Internal error: <cause>".
//
// Messages without an id never produce output, even on failure.
package mcp
