package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MCPServerEntry describes how an MCP client reaches this process. HTTP
// transports fill ServerURL; local socket transports fill Command and Args.
type MCPServerEntry struct {
	ServerURL string   `json:"serverUrl,omitempty"`
	Command   string   `json:"command,omitempty"`
	Args      []string `json:"args,omitempty"`
}

// HTTPServerEntry returns the entry for an HTTP transport bound to port.
func HTTPServerEntry(port int) MCPServerEntry {
	return MCPServerEntry{ServerURL: fmt.Sprintf("http://localhost:%d", port)}
}

// SocketServerEntry returns the entry for a local socket at socketPath.
// Clients bridge stdio to the socket with netcat.
func SocketServerEntry(socketPath string) MCPServerEntry {
	return MCPServerEntry{Command: "nc", Args: []string{"-U", socketPath}}
}

// PipeServerEntry returns the entry for a Windows named pipe. netcat cannot
// open named pipes, so clients bridge stdio through npiperelay, which takes
// the pipe name with forward slashes.
func PipeServerEntry(pipeName string) MCPServerEntry {
	return MCPServerEntry{
		Command: "npiperelay",
		Args:    []string{"-ep", "-s", strings.ReplaceAll(pipeName, `\`, "/")},
	}
}

// ClientExport is the document handed to MCP clients:
//
//	{"mcpServers": {"<serviceName>": <entry>}}
type ClientExport struct {
	MCPServers map[string]MCPServerEntry `json:"mcpServers"`
}

// NewClientExport builds a ClientExport with a single server.
func NewClientExport(serviceName string, entry MCPServerEntry) ClientExport {
	return ClientExport{MCPServers: map[string]MCPServerEntry{serviceName: entry}}
}

// JSON renders the export with two-space indentation.
func (e ClientExport) JSON() ([]byte, error) {
	return json.MarshalIndent(e, "", "  ")
}
