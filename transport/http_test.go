package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTP_ServeHTTP(t *testing.T) {
	echo := handlerFunc(func(_ context.Context, raw []byte) ([]byte, error) {
		switch string(raw) {
		case "notify":
			return nil, nil
		case "fail":
			return nil, errors.New("encode failed")
		}
		return append([]byte(`{"echo":`), append(raw, '}')...), nil
	})
	h := NewHTTP(echo)

	tests := []struct {
		name       string
		method     string
		target     string
		body       string
		wantStatus int
		wantBody   string
		wantType   string
	}{
		{"post response", http.MethodPost, "/", `1`, http.StatusOK, `{"echo":1}`, "application/json"},
		{"post any path", http.MethodPost, "/mcp", `2`, http.StatusOK, `{"echo":2}`, "application/json"},
		{"notification", http.MethodPost, "/", "notify", http.StatusAccepted, "", ""},
		{"handler error", http.MethodPost, "/", "fail", http.StatusInternalServerError, `{"error":"encode failed"}` + "\n", "application/json"},
		{"preflight", http.MethodOptions, "/anything", "", http.StatusOK, "", ""},
		{"banner", http.MethodGet, "/", "", http.StatusOK, banner, "text/plain; charset=utf-8"},
		{"get other path", http.MethodGet, "/status", "", http.StatusMethodNotAllowed, "", ""},
		{"put", http.MethodPut, "/", "x", http.StatusMethodNotAllowed, "", ""},
		{"delete", http.MethodDelete, "/", "", http.StatusMethodNotAllowed, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Body.String(); got != tt.wantBody {
				t.Errorf("body = %q, want %q", got, tt.wantBody)
			}
			if tt.wantType != "" && rec.Header().Get("Content-Type") != tt.wantType {
				t.Errorf("Content-Type = %q, want %q", rec.Header().Get("Content-Type"), tt.wantType)
			}
			if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
				t.Error("missing Access-Control-Allow-Origin")
			}
			if rec.Header().Get("Access-Control-Allow-Methods") != "POST, OPTIONS" {
				t.Errorf("Allow-Methods = %q", rec.Header().Get("Access-Control-Allow-Methods"))
			}
			if rec.Header().Get("Access-Control-Allow-Headers") != "Content-Type" {
				t.Errorf("Allow-Headers = %q", rec.Header().Get("Access-Control-Allow-Headers"))
			}
		})
	}
}

func TestHTTP_BodyTooLarge(t *testing.T) {
	called := false
	h := NewHTTP(handlerFunc(func(context.Context, []byte) ([]byte, error) {
		called = true
		return nil, nil
	}), WithMaxBodyBytes(8))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 64))))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["error"] == "" {
		t.Errorf("body = %q, want {\"error\":...}", rec.Body.String())
	}
	if called {
		t.Error("handler should not run for an oversized body")
	}
}

func startHTTP(t *testing.T, handler Handler, opts ...HTTPOption) *HTTP {
	t.Helper()
	h := NewHTTP(handler, opts...)
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { h.Stop() })
	return h
}

// busyPort occupies a free loopback port and returns it.
func busyPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().(*net.TCPAddr).Port
}

func TestHTTP_PortScan(t *testing.T) {
	taken := busyPort(t)
	_, d := counterDispatcher(t)

	h := startHTTP(t, d, WithStartPort(taken))
	if h.Port() <= taken {
		t.Errorf("Port = %d, want above busy port %d", h.Port(), taken)
	}
	if want := "http://localhost:" + strings.Split(h.Addr(), ":")[1]; h.ClientConfig().ServerURL != want {
		t.Errorf("ClientConfig = %+v, want %s", h.ClientConfig(), want)
	}
}

func TestHTTP_NoAvailablePort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:65535")
	if err != nil {
		t.Skipf("cannot occupy port 65535: %v", err)
	}
	defer ln.Close()

	h := NewHTTP(handlerFunc(nil), WithStartPort(65535))
	err = h.Start(context.Background())
	if !errors.Is(err, ErrNoAvailablePort) {
		t.Fatalf("Start error = %v, want ErrNoAvailablePort", err)
	}
	if h.Port() != 0 || h.Addr() != "" {
		t.Errorf("failed Start left Port=%d Addr=%q", h.Port(), h.Addr())
	}
}

func TestHTTP_StartStopLifecycle(t *testing.T) {
	_, d := counterDispatcher(t)
	h := NewHTTP(d, WithStartPort(busyPort(t)))

	if err := h.Stop(); err != nil {
		t.Errorf("Stop before Start: %v", err)
	}
	if err := h.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := h.Start(context.Background()); err == nil {
		t.Error("second Start should fail while running")
	}
	addr := h.Addr()

	if err := h.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := h.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
	if _, err := http.Post("http://"+addr+"/", "application/json", strings.NewReader(`{}`)); err == nil {
		t.Error("server still reachable after Stop")
	}

	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	h.Stop()
}

func post(t *testing.T, h *HTTP, body string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Post("http://"+h.Addr()+"/", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, string(data)
}

func TestHTTP_EndToEnd(t *testing.T) {
	c, d := counterDispatcher(t)
	h := startHTTP(t, d, WithStartPort(busyPort(t)), WithMaxConnections(4))

	resp, body := post(t, h, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	if resp.StatusCode != http.StatusOK || body != `{"jsonrpc":"2.0","id":1,"result":{}}` {
		t.Errorf("ping = %d %s", resp.StatusCode, body)
	}

	resp, body = post(t, h, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	if resp.StatusCode != http.StatusAccepted || body != "" {
		t.Errorf("notification = %d %q, want 202 with empty body", resp.StatusCode, body)
	}

	resp, body = post(t, h, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"set_value","arguments":{"value":42}}}`)
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, `"text":"42"`) {
		t.Errorf("set_value = %d %s", resp.StatusCode, body)
	}
	if c.Get() != 42 {
		t.Errorf("counter = %d, want 42", c.Get())
	}

	resp, body = post(t, h, `{"jsonrpc":"2.0","id":3,"method":`)
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, `"code":-32700`) {
		t.Errorf("parse error = %d %s", resp.StatusCode, body)
	}
}
