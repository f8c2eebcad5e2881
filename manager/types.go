package manager

import (
	"fmt"

	"github.com/zhubert/mcpbridge/transport"
)

// Status is the running state of the active transport.
// Using a typed enum instead of a bare bool keeps State readable in logs.
type Status int

const (
	// StatusStopped means no listener is bound.
	StatusStopped Status = iota

	// StatusRunning means the active transport accepts clients.
	StatusRunning
)

// String returns a human-readable name for the status.
func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusRunning:
		return "running"
	default:
		return "unknown"
	}
}

// State is a point-in-time view of the manager handed to observers.
type State struct {
	Kind   transport.Kind
	Status Status
	// Addr is the bound address while running.
	Addr string
	// LastError is the most recent failed start, cleared by the next
	// successful transition.
	LastError error
}

// Running reports whether the active transport is serving.
func (s State) Running() bool {
	return s.Status == StatusRunning
}

func (s State) String() string {
	if s.Running() {
		return fmt.Sprintf("%s (%s on %s)", s.Status, s.Kind, s.Addr)
	}
	if s.LastError != nil {
		return fmt.Sprintf("%s (%s, last error: %v)", s.Status, s.Kind, s.LastError)
	}
	return fmt.Sprintf("%s (%s)", s.Status, s.Kind)
}
