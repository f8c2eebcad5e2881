//go:build !windows

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	"github.com/zhubert/mcpbridge/config"
)

const socketFileMode = 0600

// listenLocal prepares path and listens on it as a Unix socket. A stale
// socket left by a previous process is removed; any other file at path
// makes the listen fail.
func listenLocal(ctx context.Context, path string, log *slog.Logger) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create socket directory: %w", err)
	}

	if fi, err := os.Lstat(path); err == nil && fi.Mode()&os.ModeSocket != 0 {
		if err := os.Remove(path); err != nil {
			log.Warn("failed to remove stale socket", "socketPath", path, "error", err)
		} else {
			log.Debug("removed stale socket", "socketPath", path)
		}
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}

	if err := os.Chmod(path, socketFileMode); err != nil {
		log.Warn("failed to restrict socket permissions", "socketPath", path, "error", err)
	}
	return ln, nil
}

func localAddr(path string) string {
	return path
}

func localClientConfig(path string) config.MCPServerEntry {
	return config.SocketServerEntry(path)
}

// removeLocal deletes the socket file. Errors are ignored; the listener
// usually unlinks it on close already.
func removeLocal(path string) {
	_ = os.Remove(path)
}
