package schema

// Kind is the category of value a Shape describes.
type Kind int

const (
	KindAny Kind = iota
	KindString
	KindBoolean
	KindInteger
	KindNumber
	KindArray
	KindEnum
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBoolean:
		return "boolean"
	case KindInteger:
		return "integer"
	case KindNumber:
		return "number"
	case KindArray:
		return "array"
	case KindEnum:
		return "enum"
	case KindObject:
		return "object"
	default:
		return "any"
	}
}

// valueKind reports whether a field of this kind always carries a value
// unless it is explicitly nullable.
func (k Kind) valueKind() bool {
	switch k {
	case KindInteger, KindNumber, KindBoolean, KindEnum:
		return true
	default:
		return false
	}
}

// Shape declares the structure of a tool argument value. Shapes are plain
// values and must form a tree: an Elem or Field may not refer back to an
// enclosing Shape.
type Shape struct {
	Kind        Kind
	Description string

	// Elem is the element shape of an array.
	Elem *Shape
	// Members lists the names of an enumeration.
	Members []string
	// Fields lists the properties of an object.
	Fields []Field
}

// Field is a named property of an object Shape together with its per-field
// annotations.
type Field struct {
	Name        string
	Shape       Shape
	Description string

	// Required forces the field into the parent's required set.
	Required bool
	// Nullable marks the field as optional even if its kind is a value kind.
	Nullable bool

	Constraints Constraints
}

// Constraints are copied verbatim onto the generated node. Only the
// constraints matching the field's kind are meaningful to clients.
type Constraints struct {
	MinLength *int
	MaxLength *int
	Pattern   string
	Format    string

	Minimum *float64
	Maximum *float64

	MinItems    *int
	MaxItems    *int
	UniqueItems bool

	Enum []any
}

func String() Shape  { return Shape{Kind: KindString} }
func Boolean() Shape { return Shape{Kind: KindBoolean} }
func Integer() Shape { return Shape{Kind: KindInteger} }
func Number() Shape  { return Shape{Kind: KindNumber} }
func Any() Shape     { return Shape{Kind: KindAny} }

// ArrayOf returns the shape of a sequence of elem.
func ArrayOf(elem Shape) Shape {
	return Shape{Kind: KindArray, Elem: &elem}
}

// EnumOf returns the shape of an enumeration with the given member names.
func EnumOf(members ...string) Shape {
	return Shape{Kind: KindEnum, Members: members}
}

// Object returns the shape of a record with the given fields.
func Object(fields ...Field) Shape {
	return Shape{Kind: KindObject, Fields: fields}
}

// Describe returns a copy of s with its description set.
func (s Shape) Describe(description string) Shape {
	s.Description = description
	return s
}

// Prop declares an object field.
func Prop(name string, s Shape) Field {
	return Field{Name: name, Shape: s}
}

func (f Field) Require() Field {
	f.Required = true
	f.Nullable = false
	return f
}

func (f Field) Optional() Field {
	f.Nullable = true
	f.Required = false
	return f
}

func (f Field) Describe(description string) Field {
	f.Description = description
	return f
}

func (f Field) MinLength(n int) Field {
	f.Constraints.MinLength = &n
	return f
}

func (f Field) MaxLength(n int) Field {
	f.Constraints.MaxLength = &n
	return f
}

func (f Field) Pattern(p string) Field {
	f.Constraints.Pattern = p
	return f
}

func (f Field) Format(format string) Field {
	f.Constraints.Format = format
	return f
}

func (f Field) Min(v float64) Field {
	f.Constraints.Minimum = &v
	return f
}

func (f Field) Max(v float64) Field {
	f.Constraints.Maximum = &v
	return f
}

func (f Field) MinItems(n int) Field {
	f.Constraints.MinItems = &n
	return f
}

func (f Field) MaxItems(n int) Field {
	f.Constraints.MaxItems = &n
	return f
}

func (f Field) Unique() Field {
	f.Constraints.UniqueItems = true
	return f
}

// Enum restricts the field to an explicit list of literal values.
func (f Field) Enum(values ...any) Field {
	f.Constraints.Enum = values
	return f
}

// IsRequired reports whether the field belongs in its parent's required set:
// either it is explicitly required, or it is a non-nullable value kind.
func (f Field) IsRequired() bool {
	return f.Required || (!f.Nullable && f.Shape.Kind.valueKind())
}
