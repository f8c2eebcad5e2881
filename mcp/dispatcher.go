package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zhubert/mcpbridge/logger"
	"github.com/zhubert/mcpbridge/telemetry"
)

// methodHandler produces the result of one protocol method.
type methodHandler func(ctx context.Context, params json.RawMessage) (any, error)

// Dispatcher turns one raw JSON-RPC message into at most one response.
// It is safe for concurrent use; calls into the registry are serialized so
// a tool always runs to completion before the next one starts.
type Dispatcher struct {
	registry      *Registry
	methods       map[string]methodHandler
	notifications map[string]bool
	serverInfo    sdk.Implementation
	instructions  string
	tracer        trace.Tracer
	mu            sync.Mutex
	log           *slog.Logger
}

// DispatcherOption is a functional option for configuring Dispatcher
type DispatcherOption func(*Dispatcher)

// WithServerInfo overrides the name and version reported by initialize.
func WithServerInfo(name, version string) DispatcherOption {
	return func(d *Dispatcher) {
		d.serverInfo = sdk.Implementation{Name: name, Version: version}
	}
}

// WithInstructions sets the instructions string returned by initialize.
func WithInstructions(instructions string) DispatcherOption {
	return func(d *Dispatcher) {
		d.instructions = instructions
	}
}

// WithTracerProvider makes dispatch spans go to tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) DispatcherOption {
	return func(d *Dispatcher) {
		d.tracer = telemetry.Tracer(tp)
	}
}

// NewDispatcher creates a dispatcher serving the tools in registry.
func NewDispatcher(registry *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry:   registry,
		serverInfo: sdk.Implementation{Name: ServerName, Version: ServerVersion},
		notifications: map[string]bool{
			MethodInitialized:       true,
			MethodInitializedLegacy: true,
		},
		log: logger.WithComponent("mcp"),
	}
	d.methods = map[string]methodHandler{
		MethodInitialize: d.handleInitialize,
		MethodPing:       d.handlePing,
		MethodToolsList:  d.handleToolsList,
		MethodToolsCall:  d.handleToolsCall,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.tracer == nil {
		d.tracer = telemetry.Tracer(nil)
	}
	return d
}

// Registry returns the tool registry the dispatcher serves.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Handle processes one raw message. It returns nil when no response is due
// (notifications and non-object payloads). The error is non-nil only when a
// response could not be encoded.
func (d *Dispatcher) Handle(ctx context.Context, raw []byte) ([]byte, error) {
	req, ok, err := parseRequest(raw)
	if err != nil {
		d.log.Warn("JSON parse error", "error", err)
		return encode(Response{
			JSONRPC: jsonRPCVersion,
			Error:   &RPCError{Code: CodeParseError, Message: "Parse error"},
		})
	}
	if !ok {
		d.log.Debug("ignoring non-object message")
		return nil, nil
	}

	resp := d.dispatch(ctx, req)
	if resp == nil {
		return nil, nil
	}
	return encode(*resp)
}

// parseRequest decodes raw as a JSON object. ok is false for valid JSON
// that is not an object.
func parseRequest(raw []byte) (req *Request, ok bool, err error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		if json.Valid(raw) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if fields == nil {
		return nil, false, nil
	}

	req = &Request{ID: fields["id"], Params: fields["params"]}
	if m, present := fields["method"]; present {
		// A non-string method is routed as unknown.
		_ = json.Unmarshal(m, &req.Method)
	}
	if isNullID(req.Params) {
		req.Params = json.RawMessage("{}")
	}
	return req, true, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, req *Request) (resp *Response) {
	ctx, span := d.tracer.Start(ctx, "mcp.dispatch",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("rpc.system", "jsonrpc"),
			attribute.String("rpc.method", req.Method),
		),
	)
	defer span.End()

	defer func() {
		if p := recover(); p != nil {
			d.log.Error("panic during dispatch", "method", req.Method, "panic", p)
			span.SetStatus(codes.Error, "panic")
			resp = d.internalError(req, fmt.Errorf("panic: %v", p))
		}
	}()

	if d.notifications[req.Method] {
		d.log.Debug("initialized notification received")
		return nil
	}

	handler, found := d.methods[req.Method]
	if !found {
		if req.IsNotification() {
			d.log.Debug("ignoring unknown notification", "method", req.Method)
			return nil
		}
		d.log.Warn("unknown method", "method", req.Method)
		span.SetStatus(codes.Error, "method not found")
		return &Response{
			JSONRPC: jsonRPCVersion,
			ID:      req.ID,
			Error:   &RPCError{Code: CodeMethodNotFound, Message: "Method not found"},
		}
	}

	result, err := handler(ctx, req.Params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return d.internalError(req, err)
	}
	if req.IsNotification() {
		return nil
	}
	return &Response{JSONRPC: jsonRPCVersion, ID: req.ID, Result: result}
}

// internalError maps err onto -32603, or nil for notifications.
func (d *Dispatcher) internalError(req *Request, err error) *Response {
	d.log.Error("request failed", "method", req.Method, "error", err)
	if req.IsNotification() {
		return nil
	}
	return &Response{
		JSONRPC: jsonRPCVersion,
		ID:      req.ID,
		Error:   &RPCError{Code: CodeInternalError, Message: "Internal error: " + err.Error()},
	}
}

func (d *Dispatcher) handleInitialize(_ context.Context, _ json.RawMessage) (any, error) {
	info := d.serverInfo
	return &sdk.InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: &sdk.ServerCapabilities{
			Tools:     &sdk.ToolCapabilities{},
			Resources: &sdk.ResourceCapabilities{},
			Prompts:   &sdk.PromptCapabilities{},
		},
		ServerInfo:   &info,
		Instructions: d.instructions,
	}, nil
}

func (d *Dispatcher) handlePing(_ context.Context, _ json.RawMessage) (any, error) {
	return struct{}{}, nil
}

func (d *Dispatcher) handleToolsList(_ context.Context, _ json.RawMessage) (any, error) {
	return &sdk.ListToolsResult{Tools: d.registry.List()}, nil
}

func (d *Dispatcher) handleToolsCall(ctx context.Context, raw json.RawMessage) (any, error) {
	var params ToolCallParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("invalid tools/call params: %w", err)
	}

	trace.SpanFromContext(ctx).SetAttributes(attribute.String("mcp.tool.name", params.Name))

	d.mu.Lock()
	result, err := d.registry.Invoke(ctx, params.Name, params.Arguments)
	d.mu.Unlock()

	if err != nil {
		var notFound *ToolNotFoundError
		if errors.As(err, &notFound) {
			d.log.Warn("unknown tool", "tool", params.Name)
		}
		return nil, err
	}

	text := RenderText(result)
	d.log.Debug("tool call succeeded", "tool", params.Name, "result", text)
	return &sdk.CallToolResult{
		Content: []sdk.Content{&sdk.TextContent{Text: text}},
	}, nil
}

func encode(resp Response) ([]byte, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return data, nil
}
