package llmtools

import (
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/bpowers/go-mcpserver/mcp"
)

// OpenAITools converts the registry's tool definitions to Chat Completions
// function tools, in registration order.
func OpenAITools(registry *mcp.Registry) ([]openai.ChatCompletionToolParam, error) {
	defs := registry.Definitions()
	tools := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		tool, err := openAITool(def)
		if err != nil {
			return nil, err
		}
		tools = append(tools, tool)
	}
	return tools, nil
}

func openAITool(def mcp.ToolDefinition) (openai.ChatCompletionToolParam, error) {
	data, err := json.Marshal(def.InputSchema)
	if err != nil {
		return openai.ChatCompletionToolParam{}, fmt.Errorf("tool %q: marshal input schema: %w", def.Name, err)
	}

	var parameters shared.FunctionParameters
	if err := json.Unmarshal(data, &parameters); err != nil {
		return openai.ChatCompletionToolParam{}, fmt.Errorf("tool %q: parse input schema: %w", def.Name, err)
	}

	fn := shared.FunctionDefinitionParam{
		Name:       def.Name,
		Parameters: parameters,
	}
	if def.Description != "" {
		fn.Description = param.NewOpt(def.Description)
	}

	return openai.ChatCompletionToolParam{Function: fn}, nil
}

// OpenAICalls extracts the function calls from an assistant message.
func OpenAICalls(toolCalls []openai.ChatCompletionMessageToolCall) []Call {
	calls := make([]Call, 0, len(toolCalls))
	for _, tc := range toolCalls {
		var args json.RawMessage
		if tc.Function.Arguments != "" {
			args = json.RawMessage(tc.Function.Arguments)
		}
		calls = append(calls, Call{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return calls
}

// OpenAIResults converts results to tool role messages. OpenAI has no error
// flag on tool messages, so failed calls are sent as their error text.
func OpenAIResults(results []Result) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(results))
	for _, r := range results {
		msgs = append(msgs, openai.ToolMessage(r.Text(), r.ID))
	}
	return msgs
}
