package mcp

import (
	"context"
	"encoding/json"

	"github.com/bpowers/go-mcpserver/schema"
)

// Tool is a named operation that clients invoke through tools/call.
type Tool interface {
	// Name is the stable, non-empty registry key of the tool.
	Name() string
	// Description helps the client decide when to use the tool; it may be empty.
	Description() string
	// InputSchema describes the arguments Execute accepts.
	InputSchema() *schema.JSON
	// Execute runs the tool. args is nil when the client sent no arguments.
	// Implementations must honor ctx and return its error, wrapped, instead of
	// a result when it is cancelled. Returning a *ToolError reports a tool
	// level failure to the client.
	Execute(ctx context.Context, args json.RawMessage) (*CallToolResult, error)
}

// ToolErrorKind tags the cause of a ToolError.
type ToolErrorKind string

const (
	KindInvalidArguments ToolErrorKind = "invalid arguments"
	KindValidationFailed ToolErrorKind = "validation failed"
	KindToolNotFound     ToolErrorKind = "tool not found"
)

// ToolError is a failure raised by a tool, as opposed to a protocol or
// transport failure. The server reports it to the client as an invalid
// request error with Message as the error message and the inner error, if
// any, as its data.
type ToolError struct {
	Kind      ToolErrorKind
	Message   string
	Retryable bool
	Err       error
}

func (e *ToolError) Error() string {
	if e.Kind == "" {
		return e.Message
	}
	if e.Message == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// TextResult returns a result holding a single text block with isError unset.
func TextResult(text string) *CallToolResult {
	return &CallToolResult{
		Content: []ContentBlock{{Type: ContentTypeText, Text: text}},
	}
}

// ErrorResult returns a result holding a single text block with isError set.
func ErrorResult(text string) *CallToolResult {
	isError := true
	return &CallToolResult{
		Content: []ContentBlock{{Type: ContentTypeText, Text: text}},
		IsError: &isError,
	}
}

func definitionOf(tool Tool) ToolDefinition {
	input := tool.InputSchema()
	if input == nil {
		input = schema.EmptyObject()
	}
	return ToolDefinition{
		Name:        tool.Name(),
		Description: tool.Description(),
		InputSchema: input,
	}
}
