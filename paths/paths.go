// Package paths resolves where mcpbridge keeps its files.
//
// Two layouts are supported:
//
//   - Legacy/flat: everything under ~/.mcpbridge/
//   - XDG: config.yaml under XDG_CONFIG_HOME, the socket under XDG_DATA_HOME,
//     logs under XDG_STATE_HOME
//
// Resolution order:
//  1. If ~/.mcpbridge/ exists → flat layout
//  2. If any XDG variable is set → XDG layout
//  3. Otherwise → flat layout
package paths

import (
	"os"
	"path/filepath"
	"sync"
)

const appName = "mcpbridge"

// SocketFileName is the name of the local transport's socket inside DataDir.
const SocketFileName = "mcp.sock"

var (
	mu       sync.Mutex
	resolved *resolvedPaths
)

type resolvedPaths struct {
	configDir string
	dataDir   string
	stateDir  string
	legacy    bool
}

// resolve computes the path layout once and caches it.
func resolve() (*resolvedPaths, error) {
	mu.Lock()
	defer mu.Unlock()

	if resolved != nil {
		return resolved, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	flatDir := filepath.Join(home, "."+appName)
	flat := &resolvedPaths{
		configDir: flatDir,
		dataDir:   flatDir,
		stateDir:  flatDir,
		legacy:    true,
	}

	if info, err := os.Stat(flatDir); err == nil && info.IsDir() {
		resolved = flat
		return resolved, nil
	}

	xdgConfig := os.Getenv("XDG_CONFIG_HOME")
	xdgData := os.Getenv("XDG_DATA_HOME")
	xdgState := os.Getenv("XDG_STATE_HOME")

	if xdgConfig == "" && xdgData == "" && xdgState == "" {
		resolved = flat
		return resolved, nil
	}

	if xdgConfig == "" {
		xdgConfig = filepath.Join(home, ".config")
	}
	if xdgData == "" {
		xdgData = filepath.Join(home, ".local", "share")
	}
	if xdgState == "" {
		xdgState = filepath.Join(home, ".local", "state")
	}
	resolved = &resolvedPaths{
		configDir: filepath.Join(xdgConfig, appName),
		dataDir:   filepath.Join(xdgData, appName),
		stateDir:  filepath.Join(xdgState, appName),
	}
	return resolved, nil
}

// ConfigDir returns the directory holding config.yaml.
func ConfigDir() (string, error) {
	r, err := resolve()
	if err != nil {
		return "", err
	}
	return r.configDir, nil
}

// DataDir returns the application's writable data directory.
func DataDir() (string, error) {
	r, err := resolve()
	if err != nil {
		return "", err
	}
	return r.dataDir, nil
}

// StateDir returns the directory for runtime state and logs.
func StateDir() (string, error) {
	r, err := resolve()
	if err != nil {
		return "", err
	}
	return r.stateDir, nil
}

// ConfigFilePath returns the full path to config.yaml.
func ConfigFilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// LogsDir returns the directory for log files.
func LogsDir() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "logs"), nil
}

// SocketPath returns the deterministic path of the local transport socket.
func SocketPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, SocketFileName), nil
}

// IsLegacyLayout returns true if using the ~/.mcpbridge/ flat layout.
func IsLegacyLayout() bool {
	r, err := resolve()
	if err != nil {
		return true
	}
	return r.legacy
}

// Reset clears the cached path resolution. This is intended for testing only.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	resolved = nil
}
