// Package schema describes tool arguments as JSON Schema.
//
// Tool authors describe the shape of their arguments either explicitly with
// the builder functions in this package (String, Object, Prop, ...) or by
// deriving a Shape from a Go struct with ShapeOf. Generate turns a Shape into
// the JSON Schema node advertised to clients in tools/list.
package schema

type Type string

const (
	TypeString  Type = "string"
	TypeArray   Type = "array"
	TypeObject  Type = "object"
	TypeInteger Type = "integer"
	TypeNumber  Type = "number"
	TypeBoolean Type = "boolean"
)

// JSON is a way to describe a JSON Schema
type JSON struct {
	Type        Type             `json:"type,omitzero"`
	Description string           `json:"description,omitzero"`
	Properties  map[string]*JSON `json:"properties,omitzero"`
	Required    []string         `json:"required,omitzero"`
	Items       *JSON            `json:"items,omitzero"`
	Enum        []any            `json:"enum,omitzero"`

	// string constraints
	MinLength *int   `json:"minLength,omitzero"`
	MaxLength *int   `json:"maxLength,omitzero"`
	Pattern   string `json:"pattern,omitzero"`
	Format    string `json:"format,omitzero"`

	// numeric constraints
	Minimum *float64 `json:"minimum,omitzero"`
	Maximum *float64 `json:"maximum,omitzero"`

	// array constraints
	MinItems    *int  `json:"minItems,omitzero"`
	MaxItems    *int  `json:"maxItems,omitzero"`
	UniqueItems *bool `json:"uniqueItems,omitzero"`
}

// EmptyObject returns the schema of a tool that takes no arguments.
func EmptyObject() *JSON {
	return &JSON{
		Type:       TypeObject,
		Properties: make(map[string]*JSON),
	}
}

// IsRequired reports whether name is listed in the node's required set.
func (j *JSON) IsRequired(name string) bool {
	if j == nil {
		return false
	}
	for _, r := range j.Required {
		if r == name {
			return true
		}
	}
	return false
}
