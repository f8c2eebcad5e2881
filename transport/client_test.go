package transport

import (
	"context"
	"testing"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"
)

func textOf(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	if result.IsError {
		t.Fatalf("tool reported error: %+v", result.Content)
	}
	if len(result.Content) != 1 {
		t.Fatalf("content items = %d, want 1", len(result.Content))
	}
	switch c := result.Content[0].(type) {
	case mcpgo.TextContent:
		return c.Text
	case *mcpgo.TextContent:
		return c.Text
	}
	t.Fatalf("content = %#v, want text", result.Content[0])
	return ""
}

// TestHTTP_StreamableClient checks that an off-the-shelf MCP client can
// initialize, list tools and call them over the HTTP transport.
func TestHTTP_StreamableClient(t *testing.T) {
	c, d := counterDispatcher(t)
	h := startHTTP(t, d, WithStartPort(busyPort(t)))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cli, err := mcpclient.NewStreamableHttpClient("http://" + h.Addr() + "/mcp")
	if err != nil {
		t.Fatal(err)
	}
	defer cli.Close()
	if err := cli.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: "transport-test", Version: "0.0.1"}
	initResult, err := cli.Initialize(ctx, initReq)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if initResult.ServerInfo.Name != "mcpbridge" {
		t.Errorf("server name = %q", initResult.ServerInfo.Name)
	}

	tools, err := cli.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(tools.Tools) != 5 || tools.Tools[0].Name != "get_value" {
		t.Errorf("tools = %+v", tools.Tools)
	}

	setReq := mcpgo.CallToolRequest{}
	setReq.Params.Name = "set_value"
	setReq.Params.Arguments = map[string]any{"value": 7}
	setResult, err := cli.CallTool(ctx, setReq)
	if err != nil {
		t.Fatalf("CallTool set_value: %v", err)
	}
	if got := textOf(t, setResult); got != "7" {
		t.Errorf("set_value = %q, want 7", got)
	}

	// Concurrent increments from one client are applied exactly once each.
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			req := mcpgo.CallToolRequest{}
			req.Params.Name = "increment"
			_, err := cli.CallTool(gctx, req)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent increments: %v", err)
	}
	if c.Get() != 17 {
		t.Errorf("counter = %d, want 17", c.Get())
	}

	getReq := mcpgo.CallToolRequest{}
	getReq.Params.Name = "get_value"
	getResult, err := cli.CallTool(ctx, getReq)
	if err != nil {
		t.Fatalf("CallTool get_value: %v", err)
	}
	if got := textOf(t, getResult); got != "17" {
		t.Errorf("get_value = %q, want 17", got)
	}
}
