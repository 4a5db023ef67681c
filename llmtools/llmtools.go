// Package llmtools lets an in-process LLM client use the tools of an
// mcp.Registry directly, without going through a transport. It converts tool
// definitions into the Anthropic, OpenAI and Gemini SDK formats and executes
// the tool calls those providers return.
package llmtools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bpowers/go-mcpserver/internal/logging"
	"github.com/bpowers/go-mcpserver/mcp"
)

var logger = logging.Component("llmtools")

// DefaultConcurrency bounds Execute when the caller passes a non-positive limit.
const DefaultConcurrency = 4

// Call is a provider-neutral tool invocation requested by a model.
type Call struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Result pairs a Call with the outcome of running it. Result is never nil;
// failures are reported as results with IsError set so they can be returned
// to the model.
type Result struct {
	ID       string
	Name     string
	Result   *mcp.CallToolResult
	Duration time.Duration
}

// Text returns the concatenated text content of the result.
func (r Result) Text() string {
	if r.Result == nil {
		return ""
	}
	return r.Result.Text()
}

// IsError reports whether the call failed.
func (r Result) IsError() bool {
	return r.Result == nil || r.Result.Failed()
}

// Execute runs calls against registry with at most concurrency calls in
// flight. Results are returned in call order. Unknown tools, argument errors
// and tool failures become error results rather than an error return; the
// returned error is only set when ctx is done before every call started.
func Execute(ctx context.Context, registry *mcp.Registry, calls []Call, concurrency int) ([]Result, error) {
	if registry == nil {
		return nil, fmt.Errorf("execute tools: registry is required")
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	results := make([]Result, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, call := range calls {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			results[i] = executeOne(gctx, registry, call)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}

	if err := ctx.Err(); err != nil {
		for i := range results {
			if results[i].Result == nil {
				results[i] = errorResult(calls[i], 0, err)
			}
		}
		return results, fmt.Errorf("execute tools: %w", err)
	}

	return results, nil
}

func executeOne(ctx context.Context, registry *mcp.Registry, call Call) Result {
	start := time.Now()

	tool, ok := registry.Get(call.Name)
	if !ok {
		err := &mcp.ToolError{Kind: mcp.KindToolNotFound, Message: fmt.Sprintf("tool %q not found", call.Name)}
		return errorResult(call, time.Since(start), err)
	}

	result, err := runTool(ctx, tool, call.Arguments)
	duration := time.Since(start)
	if err != nil {
		logger.Debug("tool call failed", "tool", call.Name, "id", call.ID, "error", err)
		return errorResult(call, duration, err)
	}
	if result == nil {
		result = &mcp.CallToolResult{}
	}
	if result.Content == nil {
		result.Content = []mcp.ContentBlock{}
	}

	logger.Debug("tool call finished", "tool", call.Name, "id", call.ID, "duration", duration)
	return Result{
		ID:       call.ID,
		Name:     call.Name,
		Result:   result,
		Duration: duration,
	}
}

var errToolPanic = errors.New("tool panic")

func runTool(ctx context.Context, tool mcp.Tool, args json.RawMessage) (result *mcp.CallToolResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("tool panic", "tool", tool.Name(), "panic", r)
			result, err = nil, fmt.Errorf("%w: %v", errToolPanic, r)
		}
	}()
	return tool.Execute(ctx, args)
}

func errorResult(call Call, duration time.Duration, err error) Result {
	return Result{
		ID:       call.ID,
		Name:     call.Name,
		Result:   mcp.ErrorResult(err.Error()),
		Duration: duration,
	}
}
