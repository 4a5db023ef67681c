// Command jsonschema generates the input schema of a tool's argument struct
// at build time, for use with go:generate.
//
// It reads the struct from Go source instead of reflecting over it, applying
// the same json, jsonschema and description tag rules as schema.ShapeOf, and
// writes both the JSON schema and a Go file embedding it.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"text/template"

	"github.com/bpowers/go-mcpserver/schema"
)

var (
	typeName   = flag.String("type", "", "Name of the type to generate schema for (required)")
	inputFile  = flag.String("input", "", "Input Go source file (required)")
	outputJSON = flag.String("json", "", "Output JSON schema file (required)")
	outputGo   = flag.String("go", "", "Output Go file with embedded schema (required)")
	pkgName    = flag.String("package", "", "Package name for generated Go file (defaults to directory name)")
)

func main() {
	flag.Parse()

	if *typeName == "" || *inputFile == "" || *outputJSON == "" || *outputGo == "" {
		flag.Usage()
		os.Exit(1)
	}

	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	fset := token.NewFileSet()
	node, err := parser.ParseFile(fset, *inputFile, nil, parser.ParseComments)
	if err != nil {
		return fmt.Errorf("parsing file: %w", err)
	}

	g := newGenerator(node)
	shape, err := g.shapeOf(*typeName)
	if err != nil {
		return fmt.Errorf("generating schema: %w", err)
	}

	jsonBytes, err := json.MarshalIndent(schema.Generate(shape), "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling schema: %w", err)
	}

	if err := os.WriteFile(*outputJSON, append(jsonBytes, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing JSON file: %w", err)
	}

	pkg := *pkgName
	if pkg == "" {
		pkg = node.Name.Name
	}

	if err := generateGoFile(pkg, *typeName, *outputJSON, *outputGo); err != nil {
		return fmt.Errorf("generating Go file: %w", err)
	}

	return nil
}

// generator resolves struct types declared in a single source file.
type generator struct {
	types    map[string]*ast.TypeSpec
	docs     map[string]string
	visiting map[string]bool
}

func newGenerator(file *ast.File) *generator {
	g := &generator{
		types:    make(map[string]*ast.TypeSpec),
		docs:     make(map[string]string),
		visiting: make(map[string]bool),
	}
	for _, decl := range file.Decls {
		gen, ok := decl.(*ast.GenDecl)
		if !ok || gen.Tok != token.TYPE {
			continue
		}
		for _, spec := range gen.Specs {
			ts := spec.(*ast.TypeSpec)
			g.types[ts.Name.Name] = ts

			doc := ts.Doc
			if doc == nil && len(gen.Specs) == 1 {
				doc = gen.Doc
			}
			if doc != nil {
				g.docs[ts.Name.Name] = strings.TrimSpace(doc.Text())
			}
		}
	}
	return g
}

func (g *generator) shapeOf(name string) (schema.Shape, error) {
	ts, ok := g.types[name]
	if !ok {
		return schema.Shape{}, fmt.Errorf("type %s not found", name)
	}
	st, ok := ts.Type.(*ast.StructType)
	if !ok {
		return schema.Shape{}, fmt.Errorf("type %s is not a struct", name)
	}

	if g.visiting[name] {
		return schema.Shape{}, fmt.Errorf("%s: %w", name, schema.ErrCyclicType)
	}
	g.visiting[name] = true
	defer delete(g.visiting, name)

	fields, err := g.structFields(st)
	if err != nil {
		return schema.Shape{}, fmt.Errorf("%s: %w", name, err)
	}
	return schema.Object(fields...).Describe(g.docs[name]), nil
}

func (g *generator) structFields(st *ast.StructType) ([]schema.Field, error) {
	var fields []schema.Field
	for _, field := range st.Fields.List {
		tag := structTag(field.Tag)
		jsonName, omit := parseJSONTag(tag)
		if jsonName == "-" {
			continue
		}

		if len(field.Names) == 0 {
			if embedded, ok := g.embeddedStruct(field.Type); ok && jsonName == "" {
				inner, err := g.shapeOf(embedded)
				if err != nil {
					return nil, err
				}
				fields = append(fields, inner.Fields...)
				continue
			}
		}

		for _, fieldName := range fieldNames(field) {
			if !ast.IsExported(fieldName) {
				continue
			}
			name := jsonName
			if name == "" {
				name = fieldName
			}

			shape, pointer, err := g.exprShape(field.Type)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", fieldName, err)
			}

			f := schema.Prop(name, shape)
			f.Nullable = pointer || omit
			f.Description = tag.Get("description")
			if opts, ok := tag.Lookup("jsonschema"); ok {
				if err := schema.ApplyTag(&f, opts); err != nil {
					return nil, fmt.Errorf("field %s: %w", fieldName, err)
				}
			}
			if f.Constraints.Format == "" {
				f.Constraints.Format = impliedFormat(field.Type)
			}

			fields = append(fields, f)
		}
	}
	return fields, nil
}

func fieldNames(field *ast.Field) []string {
	if len(field.Names) == 0 {
		switch t := field.Type.(type) {
		case *ast.Ident:
			return []string{t.Name}
		case *ast.StarExpr:
			if ident, ok := t.X.(*ast.Ident); ok {
				return []string{ident.Name}
			}
		case *ast.SelectorExpr:
			return []string{t.Sel.Name}
		}
		return nil
	}
	names := make([]string, 0, len(field.Names))
	for _, n := range field.Names {
		names = append(names, n.Name)
	}
	return names
}

func (g *generator) embeddedStruct(expr ast.Expr) (string, bool) {
	if star, ok := expr.(*ast.StarExpr); ok {
		expr = star.X
	}
	ident, ok := expr.(*ast.Ident)
	if !ok {
		return "", false
	}
	ts, ok := g.types[ident.Name]
	if !ok {
		return "", false
	}
	_, isStruct := ts.Type.(*ast.StructType)
	return ident.Name, isStruct
}

// exprShape maps a field's type expression to a shape and reports whether
// the field was a pointer.
func (g *generator) exprShape(expr ast.Expr) (schema.Shape, bool, error) {
	switch t := expr.(type) {
	case *ast.StarExpr:
		s, _, err := g.exprShape(t.X)
		return s, true, err
	case *ast.Ident:
		s, err := g.identShape(t.Name)
		return s, false, err
	case *ast.ArrayType:
		if isByte(t.Elt) {
			return schema.String(), false, nil
		}
		elem, _, err := g.exprShape(t.Elt)
		if err != nil {
			return schema.Shape{}, false, err
		}
		return schema.ArrayOf(elem), false, nil
	case *ast.MapType:
		return schema.Object(), false, nil
	case *ast.InterfaceType:
		return schema.Any(), false, nil
	case *ast.StructType:
		fields, err := g.structFields(t)
		if err != nil {
			return schema.Shape{}, false, err
		}
		return schema.Object(fields...), false, nil
	case *ast.SelectorExpr:
		pkg, ok := t.X.(*ast.Ident)
		if !ok {
			return schema.Shape{}, false, fmt.Errorf("unsupported selector expression")
		}
		switch pkg.Name + "." + t.Sel.Name {
		case "time.Time":
			return schema.String(), false, nil
		case "time.Duration":
			return schema.Integer(), false, nil
		case "json.RawMessage":
			return schema.Any(), false, nil
		}
		return schema.Object(), false, nil
	default:
		return schema.Shape{}, false, fmt.Errorf("unsupported type %T", expr)
	}
}

func (g *generator) identShape(name string) (schema.Shape, error) {
	switch name {
	case "string":
		return schema.String(), nil
	case "int", "int8", "int16", "int32", "int64",
		"uint", "uint8", "uint16", "uint32", "uint64", "uintptr", "byte", "rune":
		return schema.Integer(), nil
	case "float32", "float64":
		return schema.Number(), nil
	case "bool":
		return schema.Boolean(), nil
	case "any":
		return schema.Any(), nil
	}

	ts, ok := g.types[name]
	if !ok {
		// declared elsewhere; nothing more is known about it
		return schema.Object(), nil
	}
	if _, isStruct := ts.Type.(*ast.StructType); isStruct {
		return g.shapeOf(name)
	}
	s, _, err := g.exprShape(ts.Type)
	if err != nil {
		return schema.Shape{}, err
	}
	return s.Describe(g.docs[name]), nil
}

func isByte(expr ast.Expr) bool {
	ident, ok := expr.(*ast.Ident)
	return ok && (ident.Name == "byte" || ident.Name == "uint8")
}

func impliedFormat(expr ast.Expr) string {
	if star, ok := expr.(*ast.StarExpr); ok {
		expr = star.X
	}
	switch t := expr.(type) {
	case *ast.ArrayType:
		if isByte(t.Elt) {
			return "byte"
		}
	case *ast.SelectorExpr:
		if pkg, ok := t.X.(*ast.Ident); ok && pkg.Name == "time" && t.Sel.Name == "Time" {
			return "date-time"
		}
	}
	return ""
}

func structTag(lit *ast.BasicLit) reflect.StructTag {
	if lit == nil {
		return ""
	}
	return reflect.StructTag(strings.Trim(lit.Value, "`"))
}

func parseJSONTag(tag reflect.StructTag) (name string, omitempty bool) {
	jsonTag, ok := tag.Lookup("json")
	if !ok {
		return "", false
	}

	parts := strings.Split(jsonTag, ",")
	name = parts[0]
	for _, part := range parts[1:] {
		if part == "omitempty" || part == "omitzero" {
			omitempty = true
		}
	}
	return name, omitempty
}

func generateGoFile(pkg, typeName, jsonFile, outputFile string) error {
	const goTemplate = `// Code generated by jsonschema generator. DO NOT EDIT.

package {{.Package}}

import (
	_ "embed"
	"encoding/json"

	"github.com/bpowers/go-mcpserver/schema"
)

//go:embed {{.JSONFile}}
var {{.VarName}}JSON string

// {{.VarName}}Schema is the tool input schema for {{.TypeName}}.
var {{.VarName}}Schema = func() *schema.JSON {
	var s schema.JSON
	if err := json.Unmarshal([]byte({{.VarName}}JSON), &s); err != nil {
		panic("failed to unmarshal embedded schema: " + err.Error())
	}
	return &s
}()
`

	tmpl, err := template.New("go").Parse(goTemplate)
	if err != nil {
		return err
	}

	varName := strings.ToLower(typeName[:1]) + typeName[1:]

	data := struct {
		Package  string
		TypeName string
		VarName  string
		JSONFile string
	}{
		Package:  pkg,
		TypeName: typeName,
		VarName:  varName,
		JSONFile: filepath.Base(jsonFile),
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return err
	}

	return os.WriteFile(outputFile, buf.Bytes(), 0o644)
}
