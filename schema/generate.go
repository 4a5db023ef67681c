package schema

import "sort"

// Generate derives the JSON Schema node for a shape. The result does not
// depend on the order of an object's fields.
func Generate(s Shape) *JSON {
	var node *JSON

	switch s.Kind {
	case KindString:
		node = &JSON{Type: TypeString}
	case KindBoolean:
		node = &JSON{Type: TypeBoolean}
	case KindInteger:
		node = &JSON{Type: TypeInteger}
	case KindNumber:
		node = &JSON{Type: TypeNumber}
	case KindArray:
		node = &JSON{Type: TypeArray}
		if s.Elem != nil {
			node.Items = Generate(*s.Elem)
		} else {
			node.Items = &JSON{}
		}
	case KindEnum:
		node = &JSON{Type: TypeString}
		if len(s.Members) > 0 {
			node.Enum = make([]any, len(s.Members))
			for i, m := range s.Members {
				node.Enum[i] = m
			}
		}
	case KindObject:
		node = generateObject(s.Fields)
	default:
		node = &JSON{}
	}

	if s.Description != "" {
		node.Description = s.Description
	}

	return node
}

func generateObject(fields []Field) *JSON {
	node := &JSON{
		Type:       TypeObject,
		Properties: make(map[string]*JSON, len(fields)),
	}

	var required []string
	for _, f := range fields {
		node.Properties[f.Name] = generateField(f)
		if f.IsRequired() {
			required = append(required, f.Name)
		}
	}

	if len(required) > 0 {
		sort.Strings(required)
		node.Required = required
	}

	return node
}

func generateField(f Field) *JSON {
	node := Generate(f.Shape)
	c := f.Constraints

	node.MinLength = c.MinLength
	node.MaxLength = c.MaxLength
	if c.Pattern != "" {
		node.Pattern = c.Pattern
	}
	if c.Format != "" {
		node.Format = c.Format
	}
	node.Minimum = c.Minimum
	node.Maximum = c.Maximum
	node.MinItems = c.MinItems
	node.MaxItems = c.MaxItems
	if c.UniqueItems {
		node.UniqueItems = boolPtr(true)
	}
	if len(c.Enum) > 0 {
		node.Enum = c.Enum
	}
	if f.Description != "" {
		node.Description = f.Description
	}

	return node
}

func boolPtr(b bool) *bool {
	return &b
}
