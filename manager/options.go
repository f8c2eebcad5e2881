package manager

import "github.com/zhubert/mcpbridge/transport"

// Option is a functional option for configuring Manager
type Option func(*Manager)

// WithInitialKind selects the transport constructed by New. The default is
// transport.KindHTTP.
func WithInitialKind(kind transport.Kind) Option {
	return func(m *Manager) {
		m.kind = kind
	}
}
