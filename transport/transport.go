// Package transport exposes an mcp dispatcher to local clients over HTTP
// or a local stream socket.
//
// Both transports feed raw JSON-RPC messages to a Handler and write back
// whatever it returns. They hold no protocol or application state, so the
// manager can replace one with the other at any time.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zhubert/mcpbridge/config"
)

// Kind identifies a transport implementation.
type Kind string

// Supported transports.
const (
	KindHTTP   Kind = config.TransportHTTP
	KindSocket Kind = config.TransportSocket
)

// ErrUnknownTransport is returned for a transport name that is not supported.
var ErrUnknownTransport = errors.New("unknown transport")

// ParseKind maps a configured transport name onto a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindHTTP:
		return KindHTTP, nil
	case KindSocket:
		return KindSocket, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTransport, s)
}

// Handler processes one raw message and returns the encoded response, or
// nil when none is due. *mcp.Dispatcher satisfies it.
type Handler interface {
	Handle(ctx context.Context, raw []byte) ([]byte, error)
}

// Transport is a listener that feeds a Handler.
type Transport interface {
	// Start binds the listener and returns once it accepts connections.
	Start(ctx context.Context) error
	// Stop closes the listener and every open connection. It is idempotent.
	Stop() error
	Kind() Kind
	// Addr is the bound address, or "" when not running.
	Addr() string
	// ClientConfig describes how an MCP client reaches this transport.
	ClientConfig() config.MCPServerEntry
}
