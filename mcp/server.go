package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bpowers/go-mcpserver/internal/logging"
)

// ErrServerNotIdle is returned by Run when the server has already run.
var ErrServerNotIdle = errors.New("server is not idle")

const defaultWriteTimeout = 30 * time.Second

// State is the lifecycle state of a Server.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// CapabilityConfig selects which feature areas are advertised by
// initialize. Tools are only advertised while the registry is non-empty.
type CapabilityConfig struct {
	Tools     bool
	Resources bool
	Prompts   bool
}

type Option func(*Server)

// Server dispatches JSON-RPC requests from one transport to the tools of a
// Registry. Requests are handled strictly in order: the next message is not
// read until the response to the current one has been written.
type Server struct {
	registry        *Registry
	info            Implementation
	protocolVersion string
	instructions    string
	capabilities    CapabilityConfig
	logger          *slog.Logger
	observer        Observer
	eventBuffer     int
	eventDrain      time.Duration
	writeTimeout    time.Duration

	state atomic.Int32
	runID string

	capsMu      sync.Mutex
	capsValid   bool
	capsVersion uint64
	caps        ServerCapabilities
}

func NewServer(registry *Registry, info Implementation, opts ...Option) (*Server, error) {
	if registry == nil {
		return nil, fmt.Errorf("new server: registry is required")
	}
	if info.Name == "" {
		return nil, fmt.Errorf("new server: server name is required")
	}
	if info.Version == "" {
		return nil, fmt.Errorf("new server: server version is required")
	}

	server := &Server{
		registry:        registry,
		info:            info,
		protocolVersion: ProtocolVersion,
		capabilities:    CapabilityConfig{Tools: true},
		logger:          logging.Component("server"),
		eventDrain:      defaultEventDrainTimeout,
		writeTimeout:    defaultWriteTimeout,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(server)
		}
	}

	if server.protocolVersion == "" {
		return nil, fmt.Errorf("new server: protocol version is required")
	}
	if server.writeTimeout <= 0 {
		return nil, fmt.Errorf("new server: write timeout must be positive")
	}
	if server.eventDrain <= 0 {
		return nil, fmt.Errorf("new server: event drain timeout must be positive")
	}

	return server, nil
}

func WithInstructions(instructions string) Option {
	return func(server *Server) {
		server.instructions = instructions
	}
}

func WithProtocolVersion(version string) Option {
	return func(server *Server) {
		server.protocolVersion = version
	}
}

func WithCapabilities(caps CapabilityConfig) Option {
	return func(server *Server) {
		server.capabilities = caps
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(server *Server) {
		if logger != nil {
			server.logger = logger
		}
	}
}

// WithObserver registers an observer for lifecycle and tool events.
func WithObserver(observer Observer) Option {
	return func(server *Server) {
		server.observer = observer
	}
}

// WithEventBuffer sets how many undelivered events are queued before new
// ones are dropped.
func WithEventBuffer(n int) Option {
	return func(server *Server) {
		server.eventBuffer = n
	}
}

// WithEventDrainTimeout bounds how long shutdown waits for the observer to
// take the remaining events.
func WithEventDrainTimeout(d time.Duration) Option {
	return func(server *Server) {
		server.eventDrain = d
	}
}

// WithWriteTimeout bounds how long writing a single response may take. A
// write that does not finish in time breaks the connection and stops Run.
func WithWriteTimeout(d time.Duration) Option {
	return func(server *Server) {
		server.writeTimeout = d
	}
}

// State returns the server's current lifecycle state.
func (s *Server) State() State {
	return State(s.state.Load())
}

// Serve runs the server over a line-delimited transport on in and out.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	if s == nil {
		return fmt.Errorf("serve: server is nil")
	}
	if in == nil {
		return fmt.Errorf("serve: input reader is nil")
	}
	if out == nil {
		return fmt.Errorf("serve: output writer is nil")
	}

	return s.Run(ctx, NewLineTransport(in, out))
}

// Run serves requests from transport until the peer disconnects, the
// transport fails or ctx is cancelled. A server can only be run once.
//
// An orderly disconnect returns nil. Cancellation takes effect between
// requests: a response being produced when ctx is cancelled is still
// written, then Run returns the context's error.
func (s *Server) Run(ctx context.Context, transport Transport) error {
	if transport == nil {
		return fmt.Errorf("run: transport is nil")
	}
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("run: %w (state %s)", ErrServerNotIdle, s.State())
	}

	s.runID = uuid.NewString()
	logger := s.logger.With("run", s.runID)
	events := newEventQueue(s.observer, s.eventBuffer, logger)

	logger.Info("server started", "name", s.info.Name, "version", s.info.Version, "tools", s.registry.Len())
	events.emit(Event{Kind: EventStarted, RunID: s.runID, Time: time.Now()})

	runErr := s.loop(ctx, transport, events, logger)

	s.state.Store(int32(StateDraining))
	if err := transport.Close(); err != nil {
		logger.Warn("closing transport", "error", err)
	}

	stopped := Event{Kind: EventStopped, RunID: s.runID, Time: time.Now()}
	if runErr != nil {
		stopped.Error = runErr.Error()
	}
	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.eventDrain)
	events.emitWait(drainCtx, stopped)
	events.close(drainCtx)
	cancel()

	s.state.Store(int32(StateClosed))
	logger.Info("server stopped", "error", runErr)
	return runErr
}

func (s *Server) loop(ctx context.Context, transport Transport, events *eventQueue, logger *slog.Logger) error {
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run: %w", err)
		}

		msg, err := transport.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("run: %w", ctxErr)
			}

			var msgErr *MessageError
			if !errors.As(err, &msgErr) {
				return fmt.Errorf("run: %w", err)
			}

			logger.Warn("malformed message", "error", msgErr.Err, "syntax", msgErr.Malformed())
			if err := s.write(ctx, transport, messageErrorResponse(msgErr)); err != nil {
				return err
			}
			continue
		}

		req, ok := msg.(*Request)
		if !ok {
			logger.Debug("ignoring response from client")
			continue
		}

		resp := s.handle(ctx, req, events, logger)
		if resp == nil {
			continue
		}
		if err := s.write(ctx, transport, resp); err != nil {
			return err
		}
	}
}

// write is not cut short by cancellation of ctx, only by the write timeout.
func (s *Server) write(ctx context.Context, transport Transport, resp *Response) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
	defer cancel()

	if err := transport.WriteMessage(wctx, resp); err != nil {
		return fmt.Errorf("run: write response: %w", err)
	}
	return nil
}

// handle returns the response to req, or nil if req is a notification.
// Panics are converted into internal errors.
func (s *Server) handle(ctx context.Context, req *Request, events *eventQueue, logger *slog.Logger) (resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic handling request", "method", req.Method, "panic", r)
			resp = errorResponse(requestID(req.ID), CodeInternalError, "internal error", fmt.Sprint(r))
		}
		if req.IsNotification() {
			resp = nil
		}
	}()

	if req.JSONRPC != JSONRPCVersion || req.Method == "" {
		return errorResponse(requestID(req.ID), CodeInvalidRequest, "invalid request", nil)
	}

	logger.Debug("handling request", "method", req.Method, "notification", req.IsNotification())

	switch req.Method {
	case MethodInitialize:
		return s.handleInitialize(req, logger)
	case MethodInitialized:
		return resultResponse(req.ID, struct{}{})
	case MethodPing:
		return resultResponse(req.ID, struct{}{})
	case MethodListTools:
		return s.handleListTools(req)
	case MethodCallTool:
		return s.handleCallTool(ctx, req, events, logger)
	default:
		return errorResponse(req.ID, CodeMethodNotFound, "method not found", req.Method)
	}
}

func (s *Server) handleInitialize(req *Request, logger *slog.Logger) *Response {
	if hasParams(req.Params) {
		var params InitializeParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, CodeInvalidParams, "invalid params", err.Error())
		}
		logger.Info("client initialized",
			"client", params.ClientInfo.Name,
			"clientVersion", params.ClientInfo.Version,
			"protocolVersion", params.ProtocolVersion)
	}

	result := InitializeResult{
		ProtocolVersion: s.protocolVersion,
		ServerInfo:      s.info,
		Capabilities:    s.serverCapabilities(),
		Instructions:    s.instructions,
	}
	return resultResponse(req.ID, result)
}

// serverCapabilities is recomputed whenever the registry membership changes.
func (s *Server) serverCapabilities() ServerCapabilities {
	version := s.registry.Version()

	s.capsMu.Lock()
	defer s.capsMu.Unlock()

	if s.capsValid && s.capsVersion == version {
		return s.caps
	}

	var caps ServerCapabilities
	if s.capabilities.Tools && s.registry.Len() > 0 {
		caps.Tools = &ToolCapabilities{}
	}
	if s.capabilities.Resources {
		caps.Resources = &ResourceCapabilities{}
	}
	if s.capabilities.Prompts {
		caps.Prompts = &PromptCapabilities{}
	}

	s.caps = caps
	s.capsVersion = version
	s.capsValid = true
	return caps
}

func (s *Server) handleListTools(req *Request) *Response {
	if hasParams(req.Params) {
		var params struct {
			Cursor json.RawMessage `json:"cursor"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, CodeInvalidParams, "invalid params", err.Error())
		}
		// Pagination is not implemented; cursor is parsed but ignored.
	}

	return resultResponse(req.ID, ListToolsResult{
		Tools: s.registry.Definitions(),
	})
}

func (s *Server) handleCallTool(ctx context.Context, req *Request, events *eventQueue, logger *slog.Logger) *Response {
	if !hasParams(req.Params) {
		return errorResponse(req.ID, CodeInvalidParams, "missing params", nil)
	}

	var params CallToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, CodeInvalidParams, "invalid params", err.Error())
	}
	if params.Name == "" {
		return errorResponse(req.ID, CodeInvalidParams, "invalid params", "tool name is required")
	}
	if !hasParams(params.Arguments) {
		params.Arguments = nil
	}

	start := time.Now()
	result, err := s.callTool(ctx, params)
	duration := time.Since(start)

	event := Event{
		Kind:     EventToolExecuted,
		RunID:    s.runID,
		Time:     time.Now(),
		Tool:     params.Name,
		Success:  err == nil && !result.Failed(),
		Duration: duration,
	}
	if err != nil {
		event.Error = err.Error()
	} else if result.Failed() {
		event.Error = result.Text()
	}
	events.emit(event)

	if err != nil {
		logger.Warn("tool failed", "tool", params.Name, "duration", duration, "error", err)
		return toolErrorResponse(req.ID, err)
	}
	logger.Debug("tool executed", "tool", params.Name, "duration", duration, "isError", result.Failed())

	if result == nil {
		result = &CallToolResult{}
	}
	if result.Content == nil {
		result.Content = []ContentBlock{}
	}
	return resultResponse(req.ID, result)
}

type toolPanic struct {
	value any
}

func (p *toolPanic) Error() string {
	return fmt.Sprintf("tool panic: %v", p.value)
}

func (s *Server) callTool(ctx context.Context, params CallToolParams) (result *CallToolResult, err error) {
	tool, ok := s.registry.Get(params.Name)
	if !ok {
		return nil, &ToolError{
			Kind:    KindToolNotFound,
			Message: params.Name,
		}
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &toolPanic{value: r}
		}
	}()

	return tool.Execute(ctx, params.Arguments)
}

// toolErrorResponse maps a failed tool call onto the wire taxonomy: a
// ToolError, including an unknown tool, is an invalid request; anything
// else is an internal error.
func toolErrorResponse(id json.RawMessage, err error) *Response {
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		var data any
		if toolErr.Err != nil {
			data = toolErr.Err.Error()
		}
		return errorResponse(id, CodeInvalidRequest, toolErr.Error(), data)
	}

	var p *toolPanic
	if errors.As(err, &p) {
		return errorResponse(id, CodeInternalError, "tool panic", fmt.Sprint(p.value))
	}

	return errorResponse(id, CodeInternalError, "internal error", err.Error())
}

// messageErrorResponse answers a line that is not JSON with a parse error and
// null id, and well-formed JSON of the wrong shape with an invalid request
// echoing whatever id could be recovered.
func messageErrorResponse(msgErr *MessageError) *Response {
	if msgErr.Malformed() {
		return errorResponse(nullID, CodeParseError, "parse error", msgErr.Err.Error())
	}
	return errorResponse(requestID(msgErr.ID), CodeInvalidRequest, "invalid request", msgErr.Err.Error())
}

func hasParams(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, nullID)
}

func resultResponse(id json.RawMessage, result any) *Response {
	return &Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  result,
	}
}

func errorResponse(id json.RawMessage, code int, message string, data any) *Response {
	return &Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

func requestID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return nullID
	}
	return id
}
