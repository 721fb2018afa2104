// internal/pipeline/schema.go
package pipeline

import "fmt"

// ReduceMode collapses the normalized fragments of one field to its value.
type ReduceMode string

const (
	// ReduceFirst keeps the first fragment that normalizes cleanly and is
	// not blank.
	ReduceFirst ReduceMode = "first"
	// ReduceJoin keeps every non-blank fragment, joined by BreadcrumbSeparator.
	ReduceJoin ReduceMode = "join"
)

// FieldSpec declares how one field is normalized and reduced.
type FieldSpec struct {
	Field      Field
	Transforms []TransformType
	Reduce     ReduceMode
}

// ProductFields is the product field table.
var ProductFields = []FieldSpec{
	{Field: FieldLink, Reduce: ReduceFirst},
	{Field: FieldEAN, Transforms: []TransformType{RemoveTags, ToFloatInt}, Reduce: ReduceFirst},
	{Field: FieldTitle, Transforms: []TransformType{RemoveTags, RemoveNewlines}, Reduce: ReduceFirst},
	{Field: FieldPrice, Transforms: []TransformType{RemoveTags, RemoveNewlines, RemoveSymbols}, Reduce: ReduceFirst},
	{Field: FieldDescription, Transforms: []TransformType{RemoveTags, RemoveNewlines}, Reduce: ReduceFirst},
	{Field: FieldBreadcrumb, Transforms: []TransformType{RemoveTags, RemoveNewlines}, Reduce: ReduceJoin},
	{Field: FieldReviewRate, Transforms: []TransformType{RemoveTags, ToFloat}, Reduce: ReduceFirst},
	{Field: FieldReviewCount, Transforms: []TransformType{RemoveTags, ToFloatInt}, Reduce: ReduceFirst},
	{Field: FieldScreenshot, Reduce: ReduceFirst},
}

type compiledField struct {
	pipeline Pipeline
	reduce   ReduceMode
}

// Schema is a compiled, read-only field table.
type Schema struct {
	fields map[Field]compiledField
	order  []Field
}

// CompileSchema resolves every field spec into a fixed pipeline.
func CompileSchema(specs []FieldSpec) (*Schema, error) {
	s := &Schema{fields: make(map[Field]compiledField, len(specs))}
	for _, spec := range specs {
		if _, dup := s.fields[spec.Field]; dup {
			return nil, fmt.Errorf("field %q declared twice", spec.Field)
		}
		reduce := spec.Reduce
		if reduce == "" {
			reduce = ReduceFirst
		}
		if reduce != ReduceFirst && reduce != ReduceJoin {
			return nil, fmt.Errorf("field %q: unknown reduce mode %q", spec.Field, reduce)
		}
		p, err := NewPipeline(spec.Transforms...)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", spec.Field, err)
		}
		s.fields[spec.Field] = compiledField{pipeline: p, reduce: reduce}
		s.order = append(s.order, spec.Field)
	}
	return s, nil
}

// MustCompileSchema is CompileSchema for static tables.
func MustCompileSchema(specs []FieldSpec) *Schema {
	s, err := CompileSchema(specs)
	if err != nil {
		panic(err)
	}
	return s
}

// ProductSchema is the compiled ProductFields table.
var ProductSchema = MustCompileSchema(ProductFields)

// Has reports whether f is declared.
func (s *Schema) Has(f Field) bool {
	_, ok := s.fields[f]
	return ok
}

// Pipeline returns the compiled pipeline of f.
func (s *Schema) Pipeline(f Field) (Pipeline, bool) {
	cf, ok := s.fields[f]
	return cf.pipeline, ok
}

// Normalize runs the pipeline of f on a single fragment.
func (s *Schema) Normalize(f Field, fragment string) (string, error) {
	cf, ok := s.fields[f]
	if !ok {
		return "", fmt.Errorf("unknown field %q", f)
	}
	return cf.pipeline.Apply(fragment)
}
