package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bpowers/go-mcpserver/schema"
)

type stubTool struct {
	name        string
	description string
	input       *schema.JSON
	result      string
	calledWith  *json.RawMessage
	execute     func(ctx context.Context, args json.RawMessage) (*CallToolResult, error)
}

func (s *stubTool) Name() string {
	return s.name
}

func (s *stubTool) Description() string {
	return s.description
}

func (s *stubTool) InputSchema() *schema.JSON {
	if s.input == nil {
		return schema.EmptyObject()
	}
	return s.input
}

func (s *stubTool) Execute(ctx context.Context, args json.RawMessage) (*CallToolResult, error) {
	if s.calledWith != nil {
		*s.calledWith = args
	}
	if s.execute != nil {
		return s.execute(ctx, args)
	}
	return TextResult(s.result), nil
}

var _ Tool = (*stubTool)(nil)

// panicTool is a test tool that panics when called
type panicTool struct{}

func (panicTool) Name() string {
	return "PanicTool"
}

func (panicTool) Description() string {
	return "A tool that panics for testing"
}

func (panicTool) InputSchema() *schema.JSON {
	return schema.EmptyObject()
}

func (panicTool) Execute(_ context.Context, _ json.RawMessage) (*CallToolResult, error) {
	panic("intentional panic for testing")
}

var _ Tool = (*panicTool)(nil)

func newTestServer(t *testing.T, registry *Registry, opts ...Option) *Server {
	t.Helper()
	if registry == nil {
		registry = NewRegistry()
	}
	server, err := NewServer(registry, Implementation{Name: "test", Version: "1.0"}, opts...)
	require.NoError(t, err)
	return server
}

// serveLines runs a fresh server over the given request lines and returns
// every response it wrote.
func serveLines(t *testing.T, server *Server, lines ...string) []Response {
	t.Helper()

	in := strings.NewReader(strings.Join(lines, "\n"))
	out := &bytes.Buffer{}
	require.NoError(t, server.Serve(context.Background(), in, out))

	return decodeResponses(t, out.Bytes())
}

func decodeResponses(t *testing.T, data []byte) []Response {
	t.Helper()

	var responses []Response
	for _, line := range bytes.Split(data, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var resp Response
		require.NoError(t, json.Unmarshal(line, &resp))
		require.NoError(t, resp.Validate())
		responses = append(responses, resp)
	}
	return responses
}

func decodeResult[T any](t *testing.T, resp Response) T {
	t.Helper()

	require.Nil(t, resp.Error)
	raw, ok := resp.Result.(json.RawMessage)
	require.True(t, ok, "result is %T", resp.Result)

	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func resultText(t *testing.T, resp Response) string {
	t.Helper()
	result := decodeResult[CallToolResult](t, resp)
	return result.Text()
}

func reflectTypeOf[T any]() reflect.Type {
	return reflect.TypeFor[T]()
}
