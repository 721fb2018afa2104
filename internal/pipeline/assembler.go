// internal/pipeline/assembler.go
package pipeline

import (
	"strings"
)

// PartialRecord accumulates raw fragments for one product until Finalize.
// It belongs to a single crawl task; hand it from stage to stage rather than
// sharing it.
type PartialRecord struct {
	schema    *Schema
	fragments map[Field][]string
	record    *Record
	issues    []error
}

// NewPartialRecord starts an empty product against ProductSchema.
func NewPartialRecord() *PartialRecord {
	return NewPartialRecordWithSchema(ProductSchema)
}

// NewPartialRecordWithSchema starts an empty record against schema.
func NewPartialRecordWithSchema(schema *Schema) *PartialRecord {
	return &PartialRecord{
		schema:    schema,
		fragments: make(map[Field][]string),
	}
}

// Add appends fragments to field. Zero values are fine. Fields unknown to
// the schema are ignored, and so is anything added after Finalize.
func (p *PartialRecord) Add(field Field, values ...string) {
	if p.record != nil || len(values) == 0 || !p.schema.Has(field) {
		return
	}
	p.fragments[field] = append(p.fragments[field], values...)
}

// Fragments returns the raw fragments collected for field.
func (p *PartialRecord) Fragments(field Field) []string {
	return append([]string(nil), p.fragments[field]...)
}

// Finalized reports whether Finalize has run.
func (p *PartialRecord) Finalized() bool {
	return p.record != nil
}

// Finalize normalizes and reduces every field. Malformed fragments are
// skipped and reported through Issues. Later calls return the same record.
func (p *PartialRecord) Finalize() Record {
	if p.record != nil {
		return *p.record
	}
	var rec Record
	for _, field := range p.schema.order {
		cf := p.schema.fields[field]
		var kept []string
		for _, raw := range p.fragments[field] {
			v, err := cf.pipeline.Apply(raw)
			if err != nil {
				p.issues = append(p.issues, err)
				continue
			}
			if strings.TrimSpace(v) == "" {
				continue
			}
			kept = append(kept, v)
			if cf.reduce == ReduceFirst {
				break
			}
		}
		if len(kept) == 0 {
			continue
		}
		if cf.reduce == ReduceJoin {
			rec.set(field, strings.Join(kept, BreadcrumbSeparator))
		} else {
			rec.set(field, kept[0])
		}
	}
	p.record = &rec
	p.fragments = nil
	return rec
}

// Issues returns the malformed-fragment errors met during Finalize.
func (p *PartialRecord) Issues() []error {
	return append([]error(nil), p.issues...)
}
