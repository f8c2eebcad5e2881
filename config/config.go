package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/zhubert/mcpbridge/paths"
)

// Transport names accepted in config.yaml and MCPBRIDGE_TRANSPORT.
const (
	TransportHTTP   = "http"
	TransportSocket = "socket"
)

// Defaults applied before config.yaml and the environment are read.
const (
	DefaultServiceName   = "mcpbridge"
	DefaultHTTPStartPort = 8080
)

// Config holds the application configuration
type Config struct {
	ServiceName    string `yaml:"service_name" env:"MCPBRIDGE_SERVICE_NAME"`                 // Key under mcpServers in the exported client config
	Transport      string `yaml:"transport" env:"MCPBRIDGE_TRANSPORT"`                       // Transport selected at startup ("http" or "socket")
	HTTPStartPort  int    `yaml:"http_start_port" env:"MCPBRIDGE_HTTP_START_PORT"`           // First port tried by the HTTP transport
	SocketPath     string `yaml:"socket_path,omitempty" env:"MCPBRIDGE_SOCKET_PATH"`         // Overrides <dataDir>/mcp.sock
	MaxConnections int    `yaml:"max_connections,omitempty" env:"MCPBRIDGE_MAX_CONNECTIONS"` // Concurrent HTTP connection cap, 0 = unlimited
	Debug          bool   `yaml:"debug,omitempty" env:"MCPBRIDGE_DEBUG"`                     // Debug level logging
	OTelEndpoint   string `yaml:"otel_endpoint,omitempty" env:"MCPBRIDGE_OTEL_ENDPOINT"`     // OTLP/HTTP traces endpoint, empty disables tracing

	mu       sync.RWMutex
	filePath string
}

// Default returns a config populated with defaults and no backing file.
func Default() *Config {
	return &Config{
		ServiceName:   DefaultServiceName,
		Transport:     TransportHTTP,
		HTTPStartPort: DefaultHTTPStartPort,
	}
}

// Load reads config.yaml from the config directory, then applies
// environment overrides. A missing file yields the defaults.
func Load() (*Config, error) {
	path, err := paths.ConfigFilePath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom is Load with an explicit file path.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	cfg.filePath = path

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ensureDefaults fills fields a partial config.yaml left empty.
// Only called from LoadFrom before the Config is shared.
func (c *Config) ensureDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = DefaultServiceName
	}
	if c.Transport == "" {
		c.Transport = TransportHTTP
	}
	if c.HTTPStartPort == 0 {
		c.HTTPStartPort = DefaultHTTPStartPort
	}
}

// Validate checks that the config is internally consistent.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.ServiceName == "" {
		return fmt.Errorf("service name must not be empty")
	}
	if !slices.Contains([]string{TransportHTTP, TransportSocket}, c.Transport) {
		return fmt.Errorf("unknown transport %q (want %q or %q)", c.Transport, TransportHTTP, TransportSocket)
	}
	if c.HTTPStartPort < 1 || c.HTTPStartPort > 65535 {
		return fmt.Errorf("http start port %d out of range 1-65535", c.HTTPStartPort)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("max connections must not be negative, got %d", c.MaxConnections)
	}
	return nil
}

// Save writes the config to disk as YAML
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.filePath == "" {
		return fmt.Errorf("config has no file path")
	}
	if err := os.MkdirAll(filepath.Dir(c.filePath), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.filePath, data, 0644)
}

// SetFilePath sets the config file path (for testing).
func (c *Config) SetFilePath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filePath = path
}

// GetTransport returns the transport selected at startup
func (c *Config) GetTransport() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Transport
}

// SetTransport records the transport to select at next startup
func (c *Config) SetTransport(kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Transport = kind
}

// GetServiceName returns the name used in the exported client config
func (c *Config) GetServiceName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ServiceName
}

// GetHTTPStartPort returns the first port the HTTP transport tries
func (c *Config) GetHTTPStartPort() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.HTTPStartPort
}

// GetMaxConnections returns the HTTP connection cap (0 = unlimited)
func (c *Config) GetMaxConnections() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MaxConnections
}

// GetSocketPath returns the configured socket path, falling back to
// the default location inside the data directory.
func (c *Config) GetSocketPath() (string, error) {
	c.mu.RLock()
	override := c.SocketPath
	c.mu.RUnlock()

	if override != "" {
		return override, nil
	}
	return paths.SocketPath()
}
