//go:build !windows

package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// socketPath returns a short path; Unix socket paths are length limited and
// t.TempDir can exceed that on some systems.
func socketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "mcpb")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "run", "mcp.sock")
}

func startSocket(t *testing.T, handler Handler, path string) *Socket {
	t.Helper()
	s := NewSocket(handler, path)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	return s
}

type sockClient struct {
	conn   net.Conn
	reader *bufio.Reader
}

func dial(t *testing.T, path string) *sockClient {
	t.Helper()
	conn, err := net.Dial("unix", path)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &sockClient{conn: conn, reader: bufio.NewReader(conn)}
}

func (c *sockClient) send(t *testing.T, raw string) {
	t.Helper()
	if _, err := c.conn.Write([]byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func (c *sockClient) readLine(t *testing.T) string {
	t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := c.reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return strings.TrimSuffix(line, "\n")
}

func TestSocket_RoundTrip(t *testing.T) {
	_, d := counterDispatcher(t)
	path := socketPath(t)
	s := startSocket(t, d, path)

	if s.Addr() != path {
		t.Errorf("Addr = %q, want %q", s.Addr(), path)
	}
	cfg := s.ClientConfig()
	if cfg.Command != "nc" || len(cfg.Args) != 2 || cfg.Args[0] != "-U" || cfg.Args[1] != path {
		t.Errorf("ClientConfig = %+v", cfg)
	}

	c := dial(t, path)
	c.send(t, `{"jsonrpc":"2.0","id":1,"method":"ping"}`+"\n")
	if got := c.readLine(t); got != `{"jsonrpc":"2.0","id":1,"result":{}}` {
		t.Errorf("ping = %s", got)
	}
}

func TestSocket_FramingAndOrder(t *testing.T) {
	c0, d := counterDispatcher(t)
	path := socketPath(t)
	startSocket(t, d, path)

	c := dial(t, path)
	c.send(t, "\n   \n"+
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"increment"}}`+"\n"+
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`+"\n"+
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"increment"}}`+"\n"+
		`{not json`+"\n")

	for i, wantID := range []string{"1", "2", "null"} {
		var resp struct {
			ID json.RawMessage `json:"id"`
		}
		line := c.readLine(t)
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			t.Fatalf("response %d %q: %v", i, line, err)
		}
		if string(resp.ID) != wantID {
			t.Errorf("response %d id = %s, want %s", i, resp.ID, wantID)
		}
	}
	if c0.Get() != 2 {
		t.Errorf("counter = %d, want 2", c0.Get())
	}
}

func TestSocket_FileMode(t *testing.T) {
	_, d := counterDispatcher(t)
	path := socketPath(t)
	startSocket(t, d, path)

	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := fi.Mode().Perm(); perm != 0600 {
		t.Errorf("socket mode = %o, want 600", perm)
	}
	if fi.Mode()&os.ModeSocket == 0 {
		t.Error("path is not a socket")
	}
}

func TestSocket_RemovesStaleSocket(t *testing.T) {
	path := socketPath(t)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	stale, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		t.Fatal(err)
	}
	stale.SetUnlinkOnClose(false)
	stale.Close()
	if _, err := os.Lstat(path); err != nil {
		t.Fatalf("stale socket missing: %v", err)
	}

	_, d := counterDispatcher(t)
	startSocket(t, d, path)

	c := dial(t, path)
	c.send(t, `{"jsonrpc":"2.0","id":1,"method":"ping"}`+"\n")
	c.readLine(t)
}

func TestSocket_RefusesRegularFile(t *testing.T) {
	path := socketPath(t)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("keep me"), 0644); err != nil {
		t.Fatal(err)
	}

	s := NewSocket(handlerFunc(nil), path)
	if err := s.Start(context.Background()); err == nil {
		s.Stop()
		t.Fatal("Start should fail when a regular file occupies the path")
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "keep me" {
		t.Errorf("regular file was modified: %q, %v", data, err)
	}
}

func TestSocket_StopRemovesFileAndSevers(t *testing.T) {
	_, d := counterDispatcher(t)
	path := socketPath(t)
	s := startSocket(t, d, path)

	c := dial(t, path)
	c.send(t, `{"jsonrpc":"2.0","id":1,"method":"ping"}`+"\n")
	c.readLine(t)

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
	if _, err := os.Lstat(path); !os.IsNotExist(err) {
		t.Errorf("socket file still present after Stop: %v", err)
	}
	if s.Addr() != "" {
		t.Errorf("Addr after Stop = %q", s.Addr())
	}

	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := c.reader.ReadString('\n'); err == nil {
		t.Error("connection still open after Stop")
	}
}

func TestSocket_DisconnectIsolated(t *testing.T) {
	_, d := counterDispatcher(t)
	path := socketPath(t)
	startSocket(t, d, path)

	first := dial(t, path)
	second := dial(t, path)

	first.send(t, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"set_value","arguments":{"value":5}}}`)
	first.conn.Close()

	second.send(t, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"get_value"}}`+"\n")
	if got := second.readLine(t); !strings.Contains(got, `"id":2`) {
		t.Errorf("second connection response = %s", got)
	}

	third := dial(t, path)
	third.send(t, `{"jsonrpc":"2.0","id":3,"method":"ping"}`+"\n")
	if got := third.readLine(t); got != `{"jsonrpc":"2.0","id":3,"result":{}}` {
		t.Errorf("new connection after disconnect = %s", got)
	}
}

func TestSocket_Restart(t *testing.T) {
	_, d := counterDispatcher(t)
	path := socketPath(t)
	s := startSocket(t, d, path)

	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}

	c := dial(t, path)
	c.send(t, `{"jsonrpc":"2.0","id":1,"method":"ping"}`+"\n")
	c.readLine(t)
}

func TestSocket_LineTooLongClosesConnection(t *testing.T) {
	c0, d := counterDispatcher(t)
	path := socketPath(t)
	s := NewSocket(d, path, WithMaxLineBytes(128))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { s.Stop() })

	// A message that fits is still answered on the same connection.
	c := dial(t, path)
	c.send(t, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"increment"}}`+"\n")
	if got := c.readLine(t); !strings.Contains(got, `"id":1`) {
		t.Fatalf("short line response = %s", got)
	}

	// A peer streaming without a newline is cut off once it passes the limit.
	c.send(t, strings.Repeat("x", 512))
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if line, err := c.reader.ReadString('\n'); err == nil {
		t.Fatalf("connection still open after oversized line, read %q", line)
	}

	// Other clients are unaffected.
	other := dial(t, path)
	other.send(t, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"get_value"}}`+"\n")
	if got := other.readLine(t); !strings.Contains(got, `"text":"1"`) {
		t.Errorf("get_value after oversized line = %s", got)
	}
	if c0.Get() != 1 {
		t.Errorf("counter = %d, want 1", c0.Get())
	}
}
