// Package mcp provides a JSON-RPC based Model Context Protocol (MCP) server.
//
// MCP exposes tools to LLM-powered applications. A client, typically an
// assistant host that launched this process, writes one JSON-RPC request per
// line to the server's stdin and reads one response per line from its stdout.
// This package implements that server side: the message types, a tool
// registry, a line-delimited transport and the dispatch loop that ties them
// together.
//
// # Basic Usage
//
// Create a registry, register tools, then create and run a server:
//
//	registry := mcp.NewRegistry()
//	if err := registry.Register(myTool); err != nil {
//	    log.Fatal(err)
//	}
//
//	server, err := mcp.NewServer(registry, mcp.Implementation{
//	    Name:    "my-server",
//	    Version: "1.0.0",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := server.Serve(ctx, os.Stdin, os.Stdout); err != nil {
//	    log.Fatal(err)
//	}
//
// # Tools
//
// Tools implement the [Tool] interface. Most tools are written against
// [NewTypedTool], which decodes and validates arguments into a Go struct and
// derives the advertised input schema from that struct's shape.
//
// # Protocol Details
//
// The server supports the following methods:
//   - initialize: Handshake and capability exchange
//   - ping: Connection health check
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool
//   - notifications/initialized: Client ready notification (no response)
//
// Nothing in this package writes to stdout except a [LineTransport]; logs go
// to stderr through the internal logging package.
package mcp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bpowers/go-mcpserver/schema"
)

// ProtocolVersion is the MCP protocol version supported by this server.
const ProtocolVersion = "2025-11-25"

// JSONRPCVersion is the only accepted value of the jsonrpc member.
const JSONRPCVersion = "2.0"

const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodPing        = "ping"
	MethodListTools   = "tools/list"
	MethodCallTool    = "tools/call"
)

// JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

var nullID = json.RawMessage("null")

// Message is a JSON-RPC envelope: either a *Request or a *Response.
type Message interface {
	jsonrpcMessage()
}

// Request represents a JSON-RPC 2.0 request message.
// The ID field is omitted for notification requests that don't expect a response.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitzero"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitzero"`
}

func (*Request) jsonrpcMessage() {}

// IsNotification reports whether the request carries no usable id, in which
// case no response may be sent.
func (r *Request) IsNotification() bool {
	id := bytes.TrimSpace(r.ID)
	return len(id) == 0 || bytes.Equal(id, nullID)
}

// Response represents a JSON-RPC 2.0 response message.
// Exactly one of Result or Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitzero"`
	Error   *Error          `json:"error,omitzero"`
}

func (*Response) jsonrpcMessage() {}

var (
	errNoResultOrError    = errors.New("response has neither result nor error")
	errResultAndError     = errors.New("response has both result and error")
	errUnsupportedVersion = errors.New("unsupported jsonrpc version")
)

// Validate checks the one-of invariant between Result and Error.
func (r *Response) Validate() error {
	if r.JSONRPC != JSONRPCVersion {
		return fmt.Errorf("%w %q", errUnsupportedVersion, r.JSONRPC)
	}
	switch {
	case r.Result == nil && r.Error == nil:
		return errNoResultOrError
	case r.Result != nil && r.Error != nil:
		return errResultAndError
	}
	return nil
}

// UnmarshalJSON keeps the result as raw bytes so a decoded response
// re-encodes to the same payload, including an explicit null result.
func (r *Response) UnmarshalJSON(data []byte) error {
	var wire struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Result  json.RawMessage `json:"result"`
		Error   *Error          `json:"error"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	r.JSONRPC = wire.JSONRPC
	r.ID = wire.ID
	r.Error = wire.Error
	r.Result = nil
	if len(wire.Result) > 0 {
		r.Result = wire.Result
	}
	return nil
}

// Error represents a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitzero"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Implementation identifies an MCP server or client implementation.
// Name and Version are required; Description is optional.
type Implementation struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitzero"`
}

// ToolDefinition describes a tool's interface as returned by tools/list.
type ToolDefinition struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitzero"`
	InputSchema *schema.JSON `json:"inputSchema"`
}

// ToolCapabilities describes the server's tool-related capabilities.
type ToolCapabilities struct {
	ListChanged bool `json:"listChanged,omitzero"`
}

// ResourceCapabilities is advertised when resources are enabled. The server
// does not implement any resource methods.
type ResourceCapabilities struct {
	Subscribe   bool `json:"subscribe,omitzero"`
	ListChanged bool `json:"listChanged,omitzero"`
}

// PromptCapabilities is advertised when prompts are enabled. The server does
// not implement any prompt methods.
type PromptCapabilities struct {
	ListChanged bool `json:"listChanged,omitzero"`
}

// ServerCapabilities describes what features the server supports. A nil
// member is absent on the wire.
type ServerCapabilities struct {
	Tools     *ToolCapabilities     `json:"tools,omitzero"`
	Resources *ResourceCapabilities `json:"resources,omitzero"`
	Prompts   *PromptCapabilities   `json:"prompts,omitzero"`
}

// InitializeParams is sent by the client to begin the handshake.
type InitializeParams struct {
	ProtocolVersion string          `json:"protocolVersion"`
	ClientInfo      Implementation  `json:"clientInfo"`
	Capabilities    json.RawMessage `json:"capabilities,omitzero"`
}

// InitializeResult is returned by the initialize method during handshake.
// It communicates the server's identity, supported protocol version, and capabilities.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	ServerInfo      Implementation     `json:"serverInfo"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	Instructions    string             `json:"instructions,omitzero"`
}

// ListToolsResult is returned by the tools/list method.
// NextCursor is used for pagination; an empty value indicates no more results.
type ListToolsResult struct {
	Tools      []ToolDefinition `json:"tools"`
	NextCursor string           `json:"nextCursor,omitzero"`
}

// CallToolParams are the params of a tools/call request.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitzero"`
}

// ContentTypeText is the default content block type.
const ContentTypeText = "text"

// ContentBlock represents a piece of content in a tool result.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (c ContentBlock) MarshalJSON() ([]byte, error) {
	type wire ContentBlock
	if c.Type == "" {
		c.Type = ContentTypeText
	}
	return json.Marshal(wire(c))
}

// CallToolResult is returned by the tools/call method. Content order is
// preserved to the client. IsError is a tristate: nil leaves it unspecified,
// otherwise it reports whether the tool failed (distinct from JSON-RPC errors).
type CallToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError *bool          `json:"isError,omitzero"`
}

// Failed reports whether the result is explicitly marked as an error.
func (r *CallToolResult) Failed() bool {
	return r != nil && r.IsError != nil && *r.IsError
}

// Text concatenates the text of every content block.
func (r *CallToolResult) Text() string {
	if r == nil {
		return ""
	}
	var b bytes.Buffer
	for i, c := range r.Content {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(c.Text)
	}
	return b.String()
}
