//go:build windows

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"strings"

	"github.com/Microsoft/go-winio"

	"github.com/zhubert/mcpbridge/config"
)

// pipeSecurityDescriptor grants access to the pipe owner only.
const pipeSecurityDescriptor = "D:P(A;;GA;;;OW)"

// listenLocal maps path onto a named pipe in the current user's session.
func listenLocal(_ context.Context, path string, log *slog.Logger) (net.Listener, error) {
	name := localAddr(path)
	ln, err := winio.ListenPipe(name, &winio.PipeConfig{
		SecurityDescriptor: pipeSecurityDescriptor,
	})
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", name, err)
	}
	log.Debug("named pipe created", "pipe", name, "socketPath", path)
	return ln, nil
}

func localAddr(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return `\\.\pipe\` + base
}

// localClientConfig exports the pipe, not path: netcat cannot reach it.
func localClientConfig(path string) config.MCPServerEntry {
	return config.PipeServerEntry(localAddr(path))
}

// removeLocal is a no-op: named pipes vanish with their last handle.
func removeLocal(string) {}
