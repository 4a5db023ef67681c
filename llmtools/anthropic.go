package llmtools

import (
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/bpowers/go-mcpserver/mcp"
)

// AnthropicTools converts the registry's tool definitions to Claude tool
// parameters, in registration order.
func AnthropicTools(registry *mcp.Registry) ([]anthropic.ToolUnionParam, error) {
	defs := registry.Definitions()
	tools := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		tool, err := anthropicTool(def)
		if err != nil {
			return nil, err
		}
		tools = append(tools, tool)
	}
	return tools, nil
}

func anthropicTool(def mcp.ToolDefinition) (anthropic.ToolUnionParam, error) {
	data, err := json.Marshal(def.InputSchema)
	if err != nil {
		return anthropic.ToolUnionParam{}, fmt.Errorf("tool %q: marshal input schema: %w", def.Name, err)
	}

	var inputSchema anthropic.ToolInputSchemaParam
	if err := json.Unmarshal(data, &inputSchema); err != nil {
		return anthropic.ToolUnionParam{}, fmt.Errorf("tool %q: parse input schema: %w", def.Name, err)
	}

	toolParam := anthropic.ToolParam{
		Name:        def.Name,
		InputSchema: inputSchema,
		Type:        anthropic.ToolTypeCustom,
	}
	if def.Description != "" {
		toolParam.Description = anthropic.String(def.Description)
	}

	return anthropic.ToolUnionParam{OfTool: &toolParam}, nil
}

// AnthropicCalls extracts the tool calls from Claude tool_use blocks.
func AnthropicCalls(blocks []anthropic.ToolUseBlock) []Call {
	calls := make([]Call, 0, len(blocks))
	for _, block := range blocks {
		calls = append(calls, Call{
			ID:        block.ID,
			Name:      block.Name,
			Arguments: block.Input,
		})
	}
	return calls
}

// AnthropicResults converts results to tool_result blocks for the next user
// message.
func AnthropicResults(results []Result) []anthropic.ContentBlockParamUnion {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(results))
	for _, r := range results {
		blocks = append(blocks, anthropic.NewToolResultBlock(r.ID, r.Text(), r.IsError()))
	}
	return blocks
}
