package llmtools

import (
	"encoding/json"
	"fmt"

	"google.golang.org/genai"

	"github.com/bpowers/go-mcpserver/mcp"
	"github.com/bpowers/go-mcpserver/schema"
)

// GeminiTools converts the registry's tool definitions into a single Gemini
// tool holding one function declaration per registered tool.
func GeminiTools(registry *mcp.Registry) []*genai.Tool {
	defs := registry.Definitions()
	if len(defs) == 0 {
		return nil
	}

	decls := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, def := range defs {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  geminiSchema(def.InputSchema),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func geminiSchema(s *schema.JSON) *genai.Schema {
	if s == nil {
		return nil
	}

	out := &genai.Schema{
		Type:        geminiType(s.Type),
		Description: s.Description,
		Required:    s.Required,
		Pattern:     s.Pattern,
		Format:      s.Format,
		Minimum:     s.Minimum,
		Maximum:     s.Maximum,
		MinLength:   int64Ptr(s.MinLength),
		MaxLength:   int64Ptr(s.MaxLength),
		MinItems:    int64Ptr(s.MinItems),
		MaxItems:    int64Ptr(s.MaxItems),
	}
	for _, v := range s.Enum {
		out.Enum = append(out.Enum, fmt.Sprint(v))
	}
	if len(out.Enum) > 0 && out.Format == "" {
		out.Format = "enum"
	}
	if s.Items != nil {
		out.Items = geminiSchema(s.Items)
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = geminiSchema(prop)
		}
	}
	return out
}

func geminiType(t schema.Type) genai.Type {
	switch t {
	case schema.TypeString:
		return genai.TypeString
	case schema.TypeInteger:
		return genai.TypeInteger
	case schema.TypeNumber:
		return genai.TypeNumber
	case schema.TypeBoolean:
		return genai.TypeBoolean
	case schema.TypeArray:
		return genai.TypeArray
	case schema.TypeObject:
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}

func int64Ptr(v *int) *int64 {
	if v == nil {
		return nil
	}
	n := int64(*v)
	return &n
}

// GeminiCalls extracts function calls from Gemini response parts.
func GeminiCalls(functionCalls []*genai.FunctionCall) ([]Call, error) {
	calls := make([]Call, 0, len(functionCalls))
	for _, fc := range functionCalls {
		if fc == nil {
			continue
		}
		args, err := json.Marshal(fc.Args)
		if err != nil {
			return nil, fmt.Errorf("function call %q: marshal arguments: %w", fc.Name, err)
		}
		calls = append(calls, Call{
			ID:        fc.ID,
			Name:      fc.Name,
			Arguments: args,
		})
	}
	return calls, nil
}

// GeminiResults converts results to function responses. Successful output
// goes under "output" and failures under "error", as Gemini expects.
func GeminiResults(results []Result) []*genai.FunctionResponse {
	responses := make([]*genai.FunctionResponse, 0, len(results))
	for _, r := range results {
		key := "output"
		if r.IsError() {
			key = "error"
		}
		responses = append(responses, &genai.FunctionResponse{
			ID:       r.ID,
			Name:     r.Name,
			Response: map[string]any{key: r.Text()},
		})
	}
	return responses
}
