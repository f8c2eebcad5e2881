package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/zhubert/mcpbridge/config"
	"github.com/zhubert/mcpbridge/logger"
)

// DefaultMaxLineBytes caps one newline-delimited message on the socket.
const DefaultMaxLineBytes = DefaultMaxBodyBytes

// Socket serves newline-delimited JSON-RPC over a local stream socket. On
// Windows the path is mapped onto a named pipe.
type Socket struct {
	handler      Handler
	path         string
	maxLineBytes int

	mu       sync.Mutex
	listener net.Listener
	closed   bool

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}

	wg  sync.WaitGroup
	log *slog.Logger
}

var _ Transport = (*Socket)(nil)

// SocketOption is a functional option for configuring Socket
type SocketOption func(*Socket)

// WithMaxLineBytes limits the length of one message line. A connection
// sending a longer line is closed.
func WithMaxLineBytes(n int) SocketOption {
	return func(s *Socket) {
		if n > 0 {
			s.maxLineBytes = n
		}
	}
}

// NewSocket creates a stopped socket transport listening at path.
func NewSocket(handler Handler, path string, opts ...SocketOption) *Socket {
	s := &Socket{
		handler:      handler,
		path:         path,
		maxLineBytes: DefaultMaxLineBytes,
		conns:        make(map[net.Conn]struct{}),
		log:          logger.WithComponent("mcp-socket"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Kind returns KindSocket.
func (s *Socket) Kind() Kind {
	return KindSocket
}

// Path returns the configured socket path.
func (s *Socket) Path() string {
	return s.path
}

// Addr returns the listening address, or "" when not running.
func (s *Socket) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return localAddr(s.path)
}

// ClientConfig returns the stdio bridge entry for the socket path.
func (s *Socket) ClientConfig() config.MCPServerEntry {
	return localClientConfig(s.path)
}

// Start creates the socket and begins accepting connections.
func (s *Socket) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return fmt.Errorf("socket transport already running at %s", s.path)
	}

	ln, err := listenLocal(ctx, s.path, s.log)
	if err != nil {
		s.log.Error("failed to listen", "socketPath", s.path, "error", err)
		return err
	}

	s.listener = ln
	s.closed = false
	s.wg.Add(1)
	go s.acceptLoop(ln)

	s.log.Info("listening", "socketPath", s.path)
	return nil
}

// Stop closes the listener and every open connection, waits for the
// connection handlers to exit and removes the socket file.
func (s *Socket) Stop() error {
	s.mu.Lock()
	ln := s.listener
	if ln == nil {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := ln.Close()

	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()
	removeLocal(s.path)

	s.mu.Lock()
	s.listener = nil
	s.mu.Unlock()

	s.log.Info("stopped", "socketPath", s.path)
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

func (s *Socket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Socket) acceptLoop(ln net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				s.log.Debug("listener closed, stopping accept loop")
				return
			}
			s.log.Warn("accept error (continuing)", "error", err)
			continue
		}

		// Checked under connsMu so Stop cannot miss a connection accepted
		// while it was closing the listener.
		s.connsMu.Lock()
		if s.isClosed() {
			s.connsMu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.connsMu.Unlock()

		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

// serveConn answers each non-blank line on conn in order until the peer
// disconnects, an I/O error occurs or a line exceeds maxLineBytes.
func (s *Socket) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.connsMu.Lock()
		delete(s.conns, conn)
		s.connsMu.Unlock()
		conn.Close()
	}()

	log := logger.WithConn("mcp-socket", uuid.NewString())
	log.Debug("connection accepted")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, min(64*1024, s.maxLineBytes)), s.maxLineBytes)
	for scanner.Scan() {
		msg := bytes.TrimSpace(scanner.Bytes())
		if len(msg) == 0 {
			continue
		}
		if err := s.respond(ctx, conn, msg); err != nil {
			if !s.isClosed() {
				log.Warn("closing connection", "error", err)
			}
			return
		}
	}

	switch err := scanner.Err(); {
	case errors.Is(err, bufio.ErrTooLong):
		log.Warn("closing connection: line too long", "maxLineBytes", s.maxLineBytes)
	case err != nil && !s.isClosed():
		log.Warn("read error", "error", err)
	default:
		log.Debug("connection closed")
	}
}

func (s *Socket) respond(ctx context.Context, conn net.Conn, msg []byte) error {
	out, err := s.handler.Handle(ctx, msg)
	if err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	if out == nil {
		return nil
	}
	if _, err := conn.Write(append(out, '\n')); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}
