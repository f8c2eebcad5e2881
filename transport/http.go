package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/netutil"

	"github.com/zhubert/mcpbridge/config"
	"github.com/zhubert/mcpbridge/logger"
)

// HTTP transport defaults
const (
	DefaultStartPort    = config.DefaultHTTPStartPort
	DefaultMaxBodyBytes = 4 << 20
	maxPort             = 65535
	loopbackHost        = "127.0.0.1"

	// readHeaderTimeout bounds header reads only; request processing is
	// not time limited.
	readHeaderTimeout = 10 * time.Second
)

// ErrNoAvailablePort is returned when every port from the start port up to
// 65535 is in use.
var ErrNoAvailablePort = errors.New("no available port")

const banner = "mcpbridge MCP server\nPOST JSON-RPC 2.0 messages to this endpoint.\n"

// HTTP serves one JSON-RPC message per POST request on the loopback interface.
type HTTP struct {
	handler        Handler
	startPort      int
	maxBodyBytes   int64
	maxConnections int

	mu     sync.Mutex
	server *http.Server
	port   int
	done   chan struct{}

	log *slog.Logger
}

// HTTPOption is a functional option for configuring HTTP
type HTTPOption func(*HTTP)

// WithStartPort sets the first port tried by Start.
func WithStartPort(port int) HTTPOption {
	return func(h *HTTP) {
		if port > 0 {
			h.startPort = port
		}
	}
}

// WithMaxBodyBytes limits the size of a request body.
func WithMaxBodyBytes(n int64) HTTPOption {
	return func(h *HTTP) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

// WithMaxConnections caps concurrently accepted connections. Zero means
// unlimited.
func WithMaxConnections(n int) HTTPOption {
	return func(h *HTTP) {
		h.maxConnections = n
	}
}

var _ Transport = (*HTTP)(nil)

// NewHTTP creates a stopped HTTP transport feeding handler.
func NewHTTP(handler Handler, opts ...HTTPOption) *HTTP {
	h := &HTTP{
		handler:      handler,
		startPort:    DefaultStartPort,
		maxBodyBytes: DefaultMaxBodyBytes,
		log:          logger.WithComponent("mcp-http"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Kind returns KindHTTP.
func (h *HTTP) Kind() Kind {
	return KindHTTP
}

// Port returns the bound port, or 0 when not running.
func (h *HTTP) Port() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.port
}

// Addr returns host:port of the listener, or "" when not running.
func (h *HTTP) Addr() string {
	port := h.Port()
	if port == 0 {
		return ""
	}
	return net.JoinHostPort(loopbackHost, strconv.Itoa(port))
}

// ClientConfig returns the serverUrl entry for the bound port. Before the
// first successful Start it points at the start port.
func (h *HTTP) ClientConfig() config.MCPServerEntry {
	port := h.Port()
	if port == 0 {
		port = h.startPort
	}
	return config.HTTPServerEntry(port)
}

// Start binds the first free port at or above the start port and serves in
// the background.
func (h *HTTP) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.server != nil {
		return fmt.Errorf("http transport already running on port %d", h.port)
	}

	ln, port, err := listenFrom(ctx, h.startPort)
	if err != nil {
		h.log.Error("failed to bind", "startPort", h.startPort, "error", err)
		return err
	}
	if h.maxConnections > 0 {
		ln = netutil.LimitListener(ln, h.maxConnections)
	}

	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.log.Error("server stopped unexpectedly", "error", err)
		}
	}()

	h.server = srv
	h.port = port
	h.done = done
	h.log.Info("listening", "port", port, "maxConnections", h.maxConnections)
	return nil
}

// Stop closes the listener and all connections without waiting for
// in-flight requests.
func (h *HTTP) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.server == nil {
		return nil
	}

	err := h.server.Close()
	<-h.done
	h.log.Info("stopped", "port", h.port)

	h.server = nil
	h.done = nil
	h.port = 0
	return err
}

// listenFrom scans upward from start until a port binds. Only "address in
// use" advances the scan.
func listenFrom(ctx context.Context, start int) (net.Listener, int, error) {
	var lc net.ListenConfig
	for port := start; port <= maxPort; port++ {
		ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(loopbackHost, strconv.Itoa(port)))
		if err == nil {
			return ln, port, nil
		}
		if !isAddrInUse(err) {
			return nil, 0, fmt.Errorf("listen on port %d: %w", port, err)
		}
	}
	return nil, 0, fmt.Errorf("%w in range %d-%d", ErrNoAvailablePort, start, maxPort)
}

func isAddrInUse(err error) bool {
	if errors.Is(err, syscall.EADDRINUSE) {
		return true
	}
	msg := err.Error()
	// Windows reports WSAEADDRINUSE, which does not match syscall.EADDRINUSE.
	return strings.Contains(msg, "address already in use") ||
		strings.Contains(msg, "Only one usage of each socket address")
}

// ServeHTTP routes a request. CORS headers are attached to every response.
func (h *HTTP) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	hdr := w.Header()
	hdr.Set("Access-Control-Allow-Origin", "*")
	hdr.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	hdr.Set("Access-Control-Allow-Headers", "Content-Type")

	switch {
	case r.Method == http.MethodPost:
		h.handlePost(w, r)
	case r.Method == http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet && r.URL.Path == "/":
		hdr.Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, banner)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *HTTP) handlePost(w http.ResponseWriter, r *http.Request) {
	log := h.log.With("requestID", uuid.NewString())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		log.Warn("failed to read request body", "error", err)
		writeJSONError(w, err)
		return
	}

	out, err := h.handler.Handle(r.Context(), body)
	if err != nil {
		log.Error("dispatch failed", "error", err)
		writeJSONError(w, err)
		return
	}
	if out == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(out); err != nil {
		log.Debug("failed to write response", "error", err)
	}
}

func writeJSONError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
