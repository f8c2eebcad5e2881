// Package exec abstracts the few external commands mcpbridge runs, so the
// doctor checks can be exercised without the real tools installed.
package exec

import (
	"context"
	"errors"
	"os/exec"
	"slices"
	"sync"
)

// ErrNotFound is returned by LookPath when a command is not in PATH.
var ErrNotFound = exec.ErrNotFound

// CommandExecutor runs external commands.
type CommandExecutor interface {
	// LookPath resolves name against PATH.
	LookPath(name string) (string, error)

	// CombinedOutput runs a command and returns stdout and stderr together.
	CombinedOutput(ctx context.Context, name string, args ...string) ([]byte, error)
}

// RealExecutor executes commands using os/exec.
type RealExecutor struct{}

// NewRealExecutor returns a new RealExecutor.
func NewRealExecutor() *RealExecutor {
	return &RealExecutor{}
}

func (e *RealExecutor) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

func (e *RealExecutor) CombinedOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// MockResponse is the canned result for a mocked command.
type MockResponse struct {
	Output []byte
	Err    error
}

// CommandMatcher reports whether a command matches a rule.
type CommandMatcher func(name string, args []string) bool

type mockRule struct {
	match    CommandMatcher
	response MockResponse
}

// MockCall records a command invocation for verification.
type MockCall struct {
	Name string
	Args []string
}

// MockExecutor returns pre-recorded responses. Rules are matched in the
// order they were added.
type MockExecutor struct {
	mu    sync.RWMutex
	paths map[string]string
	rules []mockRule
	calls []MockCall
}

// NewMockExecutor creates an executor that finds no commands until
// AddCommand is called.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{paths: make(map[string]string)}
}

// AddCommand makes LookPath resolve name to path.
func (e *MockExecutor) AddCommand(name, path string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paths[name] = path
}

// AddRule adds a matching rule with its response.
func (e *MockExecutor) AddRule(match CommandMatcher, response MockResponse) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, mockRule{match: match, response: response})
}

// AddExactMatch adds a rule matching name with exactly args.
func (e *MockExecutor) AddExactMatch(name string, args []string, response MockResponse) {
	e.AddRule(func(n string, a []string) bool {
		return n == name && slices.Equal(a, args)
	}, response)
}

// GetCalls returns all recorded command invocations.
func (e *MockExecutor) GetCalls() []MockCall {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.calls)
}

func (e *MockExecutor) LookPath(name string) (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if path, ok := e.paths[name]; ok {
		return path, nil
	}
	return "", &exec.Error{Name: name, Err: ErrNotFound}
}

func (e *MockExecutor) CombinedOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	e.mu.Lock()
	e.calls = append(e.calls, MockCall{Name: name, Args: args})
	e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, rule := range e.rules {
		if rule.match(name, args) {
			return rule.response.Output, rule.response.Err
		}
	}
	return nil, errors.New("mock: no rule for " + name)
}

var _ CommandExecutor = (*RealExecutor)(nil)
var _ CommandExecutor = (*MockExecutor)(nil)

var (
	defaultExecutorMu sync.RWMutex
	defaultExecutor   CommandExecutor = NewRealExecutor()
)

// GetDefaultExecutor returns the process-wide executor.
func GetDefaultExecutor() CommandExecutor {
	defaultExecutorMu.RLock()
	defer defaultExecutorMu.RUnlock()
	return defaultExecutor
}

// SetDefaultExecutor swaps the process-wide executor and returns the
// previous one so tests can restore it.
func SetDefaultExecutor(e CommandExecutor) CommandExecutor {
	defaultExecutorMu.Lock()
	defer defaultExecutorMu.Unlock()
	prev := defaultExecutor
	defaultExecutor = e
	return prev
}
