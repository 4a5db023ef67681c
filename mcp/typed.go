package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/iancoleman/strcase"

	"github.com/bpowers/go-mcpserver/schema"
)

// Handler is the strongly-typed body of a TypedTool.
type Handler[T any] func(ctx context.Context, args T) (*CallToolResult, error)

// TypedOption configures a TypedTool.
type TypedOption[T any] func(*TypedTool[T])

// WithValidator runs validate on decoded arguments before the handler. A
// non-nil error fails the call with a validation failed ToolError.
func WithValidator[T any](validate func(T) error) TypedOption[T] {
	return func(t *TypedTool[T]) {
		t.validate = validate
	}
}

// WithShape declares the argument shape explicitly instead of deriving it
// from T's struct tags.
func WithShape[T any](s schema.Shape) TypedOption[T] {
	return func(t *TypedTool[T]) {
		t.shape = &s
	}
}

// WithDefaults seeds decoding with defaults() so that fields the client
// omits keep their default values. It is also used when no arguments are sent.
func WithDefaults[T any](defaults func() T) TypedOption[T] {
	return func(t *TypedTool[T]) {
		t.defaults = defaults
	}
}

// TypedTool adapts a typed Handler to the Tool interface. Execute decodes the
// raw arguments into T, checks that every required property is present,
// runs the validator and then calls the handler.
type TypedTool[T any] struct {
	name        string
	description string
	handler     Handler[T]
	validate    func(T) error
	defaults    func() T
	shape       *schema.Shape
	input       *schema.JSON
}

var _ Tool = (*TypedTool[struct{}])(nil)

// NewTypedTool builds a tool around handler. An empty name is derived from
// T's type name, so SearchFilesArgs becomes "search_files".
func NewTypedTool[T any](name, description string, handler Handler[T], opts ...TypedOption[T]) (*TypedTool[T], error) {
	if handler == nil {
		return nil, fmt.Errorf("new typed tool: handler is required")
	}

	t := &TypedTool[T]{
		name:        name,
		description: description,
		handler:     handler,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}

	if t.name == "" {
		t.name = toolNameFor(reflect.TypeFor[T]())
	}
	if t.name == "" {
		return nil, fmt.Errorf("new typed tool: name is required")
	}

	var shape schema.Shape
	if t.shape != nil {
		shape = *t.shape
	} else {
		var err error
		shape, err = schema.ShapeOf[T]()
		if err != nil {
			return nil, fmt.Errorf("new typed tool %q: %w", t.name, err)
		}
	}
	if shape.Kind != schema.KindObject {
		return nil, fmt.Errorf("new typed tool %q: arguments must be an object, got %s", t.name, shape.Kind)
	}
	t.input = schema.Generate(shape)

	return t, nil
}

// MustTypedTool is like NewTypedTool but panics on error. It is meant for
// package-level tool variables.
func MustTypedTool[T any](name, description string, handler Handler[T], opts ...TypedOption[T]) *TypedTool[T] {
	t, err := NewTypedTool(name, description, handler, opts...)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *TypedTool[T]) Name() string {
	return t.name
}

func (t *TypedTool[T]) Description() string {
	return t.description
}

func (t *TypedTool[T]) InputSchema() *schema.JSON {
	return t.input
}

func (t *TypedTool[T]) Execute(ctx context.Context, raw json.RawMessage) (*CallToolResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", t.name, err)
	}

	args, err := t.decode(raw)
	if err != nil {
		return nil, err
	}

	if t.validate != nil {
		if err := t.validate(args); err != nil {
			return nil, &ToolError{
				Kind:    KindValidationFailed,
				Message: fmt.Sprintf("%s: %s", t.name, err),
				Err:     err,
			}
		}
	}

	return t.handler(ctx, args)
}

func (t *TypedTool[T]) decode(raw json.RawMessage) (T, error) {
	var args T
	if t.defaults != nil {
		args = t.defaults()
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, nullID) {
		return args, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return args, t.invalidArguments("arguments must be a JSON object", err)
	}

	var missing []string
	for _, name := range t.input.Required {
		v, ok := lookupArgument(fields, name)
		if !ok || bytes.Equal(bytes.TrimSpace(v), nullID) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		err := fmt.Errorf("missing required argument(s): %s", strings.Join(missing, ", "))
		return args, t.invalidArguments(err.Error(), err)
	}

	if err := json.Unmarshal(trimmed, &args); err != nil {
		return args, t.invalidArguments("decode arguments", err)
	}

	return args, nil
}

// lookupArgument finds name the way json.Unmarshal matches keys to fields:
// an exact match first, then any key equal under case folding.
func lookupArgument(fields map[string]json.RawMessage, name string) (json.RawMessage, bool) {
	if v, ok := fields[name]; ok {
		return v, true
	}
	for key, v := range fields {
		if strings.EqualFold(key, name) {
			return v, true
		}
	}
	return nil, false
}

func (t *TypedTool[T]) invalidArguments(message string, err error) *ToolError {
	msg := fmt.Sprintf("%s: %s", t.name, message)
	if !strings.Contains(message, err.Error()) {
		msg = fmt.Sprintf("%s: %s", msg, err)
	}
	return &ToolError{
		Kind:    KindInvalidArguments,
		Message: msg,
		Err:     err,
	}
}

var argSuffixes = []string{"Arguments", "Args", "Params", "Request"}

func toolNameFor(t reflect.Type) string {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}

	name := t.Name()
	for _, suffix := range argSuffixes {
		if trimmed := strings.TrimSuffix(name, suffix); trimmed != name && trimmed != "" {
			name = trimmed
			break
		}
	}
	if name == "" {
		return ""
	}
	return strcase.ToSnake(name)
}

// NoArgTool is a tool that takes no arguments. Any arguments the client
// sends are ignored.
type NoArgTool struct {
	name        string
	description string
	handler     func(ctx context.Context) (*CallToolResult, error)
}

var _ Tool = (*NoArgTool)(nil)

// NewTool builds a tool that takes no arguments.
func NewTool(name, description string, handler func(ctx context.Context) (*CallToolResult, error)) (*NoArgTool, error) {
	if name == "" {
		return nil, fmt.Errorf("new tool: name is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("new tool %q: handler is required", name)
	}
	return &NoArgTool{
		name:        name,
		description: description,
		handler:     handler,
	}, nil
}

func (t *NoArgTool) Name() string {
	return t.name
}

func (t *NoArgTool) Description() string {
	return t.description
}

func (t *NoArgTool) InputSchema() *schema.JSON {
	return schema.EmptyObject()
}

func (t *NoArgTool) Execute(ctx context.Context, _ json.RawMessage) (*CallToolResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", t.name, err)
	}
	return t.handler(ctx)
}
