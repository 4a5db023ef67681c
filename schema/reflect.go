package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// ErrCyclicType is returned when a Go type refers back to itself and so has
// no finite shape.
var ErrCyclicType = errors.New("cyclic type")

// Enumer is implemented by string-like types with a closed set of values.
// The method is called on the zero value.
type Enumer interface {
	EnumValues() []string
}

// Describer is implemented by types that carry their own schema description.
// The method is called on the zero value.
type Describer interface {
	SchemaDescription() string
}

var (
	timeType       = reflect.TypeFor[time.Time]()
	rawMessageType = reflect.TypeFor[json.RawMessage]()
	enumerType     = reflect.TypeFor[Enumer]()
	describerType  = reflect.TypeFor[Describer]()
)

// ShapeOf derives the shape of T from its Go type and struct tags.
func ShapeOf[T any]() (Shape, error) {
	return ShapeFor(reflect.TypeFor[T]())
}

// For derives the JSON Schema of T.
func For[T any]() (*JSON, error) {
	s, err := ShapeOf[T]()
	if err != nil {
		return nil, err
	}
	return Generate(s), nil
}

// ShapeFor derives a shape from t.
//
// Struct fields are named by their json tag. Pointer fields and fields tagged
// omitempty or omitzero are optional; the jsonschema tag adds required and
// constraint annotations, and the description tag documents the field.
func ShapeFor(t reflect.Type) (Shape, error) {
	if t == nil {
		return Any(), nil
	}
	s, _, err := shapeFor(t, make(map[reflect.Type]bool))
	return s, err
}

// shapeFor returns the shape of t and whether t was a pointer.
func shapeFor(t reflect.Type, visiting map[reflect.Type]bool) (Shape, bool, error) {
	nullable := false
	for t.Kind() == reflect.Pointer {
		nullable = true
		t = t.Elem()
	}

	if t.Kind() != reflect.Interface {
		if members, ok := enumValues(t); ok {
			return describe(EnumOf(members...), t), nullable, nil
		}
	}

	switch t {
	case timeType:
		return describe(Shape{Kind: KindString}, t), nullable, nil
	case rawMessageType:
		return Any(), nullable, nil
	}

	var s Shape
	switch t.Kind() {
	case reflect.String:
		s = String()
	case reflect.Bool:
		s = Boolean()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		s = Integer()
	case reflect.Float32, reflect.Float64:
		s = Number()
	case reflect.Slice, reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			s = String()
			break
		}
		elem, _, err := shapeFor(t.Elem(), visiting)
		if err != nil {
			return Shape{}, false, err
		}
		s = ArrayOf(elem)
	case reflect.Map:
		s = Object()
	case reflect.Struct:
		if visiting[t] {
			return Shape{}, false, fmt.Errorf("%s: %w", t, ErrCyclicType)
		}
		visiting[t] = true
		fields, err := structFields(t, visiting)
		delete(visiting, t)
		if err != nil {
			return Shape{}, false, err
		}
		s = Object(fields...)
	case reflect.Interface:
		s = Any()
	default:
		return Shape{}, false, fmt.Errorf("unsupported type %s", t)
	}

	return describe(s, t), nullable, nil
}

func structFields(t reflect.Type, visiting map[reflect.Type]bool) ([]Field, error) {
	var fields []Field
	for i := range t.NumField() {
		sf := t.Field(i)

		name, omit, skip := parseJSONTag(sf)
		if skip {
			continue
		}

		if sf.Anonymous && name == "" {
			ft := sf.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct && ft != timeType {
				if visiting[ft] {
					return nil, fmt.Errorf("%s: %w", ft, ErrCyclicType)
				}
				visiting[ft] = true
				embedded, err := structFields(ft, visiting)
				delete(visiting, ft)
				if err != nil {
					return nil, err
				}
				fields = append(fields, embedded...)
				continue
			}
		}

		if !sf.IsExported() {
			continue
		}
		if name == "" {
			name = sf.Name
		}

		fs, pointer, err := shapeFor(sf.Type, visiting)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", sf.Name, err)
		}

		f := Prop(name, fs)
		f.Nullable = pointer || omit
		f.Description = sf.Tag.Get("description")

		if tag, ok := sf.Tag.Lookup("jsonschema"); ok {
			if err := ApplyTag(&f, tag); err != nil {
				return nil, fmt.Errorf("field %s: %w", sf.Name, err)
			}
		}

		if isByteSlice(sf.Type) && f.Constraints.Format == "" {
			f.Constraints.Format = "byte"
		}
		if derefType(sf.Type) == timeType && f.Constraints.Format == "" {
			f.Constraints.Format = "date-time"
		}

		fields = append(fields, f)
	}
	return fields, nil
}

// parseJSONTag returns the json name of a struct field and whether it is
// omitted when empty.
func parseJSONTag(sf reflect.StructField) (name string, omit bool, skip bool) {
	tag, ok := sf.Tag.Lookup("json")
	if !ok {
		return "", false, false
	}
	if tag == "-" {
		return "", false, true
	}

	parts := strings.Split(tag, ",")
	name = parts[0]
	for _, part := range parts[1:] {
		if part == "omitempty" || part == "omitzero" {
			omit = true
		}
	}
	return name, omit, false
}

// ApplyTag applies the options of a jsonschema struct tag, such as
// "required,minLength=1" or "enum=a|b", to f. Enum literals are typed by
// f.Shape.Kind, so the field shape must be set first.
func ApplyTag(f *Field, tag string) error {
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		key, value, _ := strings.Cut(part, "=")
		var err error
		switch key {
		case "required":
			f.Required = true
			f.Nullable = false
		case "optional":
			f.Nullable = true
			f.Required = false
		case "minLength":
			f.Constraints.MinLength, err = intPtr(value)
		case "maxLength":
			f.Constraints.MaxLength, err = intPtr(value)
		case "minItems":
			f.Constraints.MinItems, err = intPtr(value)
		case "maxItems":
			f.Constraints.MaxItems, err = intPtr(value)
		case "minimum":
			f.Constraints.Minimum, err = floatPtr(value)
		case "maximum":
			f.Constraints.Maximum, err = floatPtr(value)
		case "pattern":
			f.Constraints.Pattern = value
		case "format":
			f.Constraints.Format = value
		case "uniqueItems":
			f.Constraints.UniqueItems = true
		case "enum":
			f.Constraints.Enum, err = enumLiterals(f.Shape.Kind, value)
		default:
			return fmt.Errorf("unknown jsonschema tag option %q", key)
		}
		if err != nil {
			return fmt.Errorf("jsonschema %s: %w", key, err)
		}
	}
	return nil
}

func enumLiterals(kind Kind, value string) ([]any, error) {
	members := strings.Split(value, "|")
	out := make([]any, 0, len(members))
	for _, m := range members {
		switch kind {
		case KindInteger:
			n, err := strconv.ParseInt(m, 10, 64)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		case KindNumber:
			n, err := strconv.ParseFloat(m, 64)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		default:
			out = append(out, m)
		}
	}
	return out, nil
}

func intPtr(s string) (*int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func floatPtr(s string) (*float64, error) {
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func enumValues(t reflect.Type) ([]string, bool) {
	switch {
	case t.Implements(enumerType):
		return reflect.Zero(t).Interface().(Enumer).EnumValues(), true
	case reflect.PointerTo(t).Implements(enumerType):
		return reflect.New(t).Interface().(Enumer).EnumValues(), true
	}
	return nil, false
}

func describe(s Shape, t reflect.Type) Shape {
	switch {
	case t.Kind() == reflect.Interface:
	case t.Implements(describerType):
		s.Description = reflect.Zero(t).Interface().(Describer).SchemaDescription()
	case reflect.PointerTo(t).Implements(describerType):
		s.Description = reflect.New(t).Interface().(Describer).SchemaDescription()
	}
	return s
}

func derefType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

func isByteSlice(t reflect.Type) bool {
	t = derefType(t)
	return (t.Kind() == reflect.Slice || t.Kind() == reflect.Array) &&
		t.Elem().Kind() == reflect.Uint8 && t != rawMessageType
}
