// Package manager owns the single active transport and switches between
// transport kinds without losing application state.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zhubert/mcpbridge/config"
	"github.com/zhubert/mcpbridge/logger"
	"github.com/zhubert/mcpbridge/transport"
)

// Resource is application state carried across a transport switch.
// *counter.Counter satisfies it.
type Resource interface {
	Snapshot() any
	Restore(snapshot any) error
}

// TransportFactory constructs a stopped transport of the given kind.
// This allows tests to inject fake transports.
type TransportFactory func(kind transport.Kind) (transport.Transport, error)

// NewTransportFactory returns a factory building real transports from cfg,
// all feeding handler.
func NewTransportFactory(handler transport.Handler, cfg *config.Config) TransportFactory {
	return func(kind transport.Kind) (transport.Transport, error) {
		switch kind {
		case transport.KindHTTP:
			return transport.NewHTTP(handler,
				transport.WithStartPort(cfg.GetHTTPStartPort()),
				transport.WithMaxConnections(cfg.GetMaxConnections()),
			), nil
		case transport.KindSocket:
			path, err := cfg.GetSocketPath()
			if err != nil {
				return nil, fmt.Errorf("resolve socket path: %w", err)
			}
			return transport.NewSocket(handler, path), nil
		}
		return nil, fmt.Errorf("%w: %q", transport.ErrUnknownTransport, kind)
	}
}

// Observer is called with the new state after every transition.
type Observer func(State)

// Manager holds exactly one transport at a time. All lifecycle operations
// are serialized.
type Manager struct {
	mu           sync.Mutex
	resource     Resource
	factory      TransportFactory
	active       transport.Transport
	kind         transport.Kind
	running      bool
	lastErr      error
	lastSnapshot any

	obsMu     sync.Mutex
	observers map[int]Observer
	nextObsID int

	log *slog.Logger
}

// New creates a stopped manager and constructs its initial transport.
func New(resource Resource, factory TransportFactory, opts ...Option) (*Manager, error) {
	m := &Manager{
		resource:  resource,
		factory:   factory,
		kind:      transport.KindHTTP,
		observers: make(map[int]Observer),
		log:       logger.WithComponent("manager"),
	}
	for _, opt := range opts {
		opt(m)
	}

	active, err := factory(m.kind)
	if err != nil {
		return nil, fmt.Errorf("create %s transport: %w", m.kind, err)
	}
	m.active = active
	return m, nil
}

// State returns a snapshot of the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *Manager) stateLocked() State {
	st := State{Kind: m.kind, Status: StatusStopped, LastError: m.lastErr}
	if m.running {
		st.Status = StatusRunning
		st.Addr = m.active.Addr()
	}
	return st
}

// Subscribe registers fn for state changes and returns a function that
// removes it.
func (m *Manager) Subscribe(fn Observer) (unsubscribe func()) {
	m.obsMu.Lock()
	id := m.nextObsID
	m.nextObsID++
	m.observers[id] = fn
	m.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.obsMu.Lock()
			delete(m.observers, id)
			m.obsMu.Unlock()
		})
	}
}

func (m *Manager) notify(st State) {
	m.obsMu.Lock()
	observers := make([]Observer, 0, len(m.observers))
	for _, fn := range m.observers {
		observers = append(observers, fn)
	}
	m.obsMu.Unlock()

	for _, fn := range observers {
		fn(st)
	}
}

// Toggle starts the active transport when on is true and stops it
// otherwise. Requesting the current state is a no-op. A failed start leaves
// the manager stopped and returns the error.
func (m *Manager) Toggle(ctx context.Context, on bool) error {
	m.mu.Lock()
	if on == m.running {
		m.mu.Unlock()
		return nil
	}

	var err error
	if on {
		err = m.startLocked(ctx)
	} else {
		err = m.stopLocked()
	}
	st := m.stateLocked()
	m.mu.Unlock()

	m.notify(st)
	return err
}

// Start is Toggle(ctx, true).
func (m *Manager) Start(ctx context.Context) error {
	return m.Toggle(ctx, true)
}

// Stop is Toggle(ctx, false).
func (m *Manager) Stop() error {
	return m.Toggle(context.Background(), false)
}

// SetTransport replaces the active transport with one of kind, carrying the
// resource state across. If the old transport was running the new one is
// started; when that fails the manager is left stopped on the new kind and
// the error is returned.
func (m *Manager) SetTransport(ctx context.Context, kind transport.Kind) error {
	if _, err := transport.ParseKind(string(kind)); err != nil {
		return err
	}

	m.mu.Lock()
	if kind == m.kind {
		m.mu.Unlock()
		return nil
	}

	err := m.switchLocked(ctx, kind)
	st := m.stateLocked()
	m.mu.Unlock()

	m.notify(st)
	return err
}

func (m *Manager) switchLocked(ctx context.Context, kind transport.Kind) error {
	from := m.kind
	wasRunning := m.running

	snapshot := m.resource.Snapshot()
	m.lastSnapshot = snapshot

	if wasRunning {
		if err := m.stopLocked(); err != nil {
			m.log.Warn("error stopping transport during switch", "kind", from, "error", err)
		}
	}

	next, err := m.factory(kind)
	if err != nil {
		m.lastErr = fmt.Errorf("create %s transport: %w", kind, err)
		m.log.Error("transport switch failed", "from", from, "to", kind, "error", err)
		return m.lastErr
	}
	m.active = next
	m.kind = kind

	if err := m.resource.Restore(snapshot); err != nil {
		m.lastErr = fmt.Errorf("restore state: %w", err)
		m.log.Error("transport switch failed", "from", from, "to", kind, "error", err)
		return m.lastErr
	}

	m.log.Info("transport switched", "from", from, "to", kind)
	if !wasRunning {
		m.lastErr = nil
		return nil
	}
	return m.startLocked(ctx)
}

func (m *Manager) startLocked(ctx context.Context) error {
	if err := m.active.Start(ctx); err != nil {
		m.running = false
		m.lastErr = fmt.Errorf("start %s transport: %w", m.kind, err)
		m.log.Error("failed to start transport", "kind", m.kind, "error", err)
		return m.lastErr
	}
	m.running = true
	m.lastErr = nil
	m.log.Info("transport started", "kind", m.kind, "addr", m.active.Addr())
	return nil
}

func (m *Manager) stopLocked() error {
	err := m.active.Stop()
	m.running = false
	if err != nil {
		return fmt.Errorf("stop %s transport: %w", m.kind, err)
	}
	m.log.Info("transport stopped", "kind", m.kind)
	return nil
}

// Close stops the active transport for process shutdown.
func (m *Manager) Close() error {
	return m.Stop()
}

// ClientConfig describes how a client reaches the active transport.
func (m *Manager) ClientConfig() config.MCPServerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active.ClientConfig()
}

// ExportConfig returns the mcpServers document for the active transport
// under serviceName.
func (m *Manager) ExportConfig(serviceName string) config.ClientExport {
	return config.NewClientExport(serviceName, m.ClientConfig())
}
