// internal/pipeline/record.go
package pipeline

// Field names a product record attribute.
type Field string

const (
	FieldLink        Field = "link"
	FieldEAN         Field = "ean"
	FieldTitle       Field = "title"
	FieldPrice       Field = "price"
	FieldDescription Field = "description"
	FieldBreadcrumb  Field = "breadcrumb"
	FieldReviewRate  Field = "review_rate"
	FieldReviewCount Field = "review_nb"
	FieldScreenshot  Field = "screenshot"
)

// BreadcrumbSeparator joins category path segments, outermost first.
const BreadcrumbSeparator = " > "

// Record is a finalized product. Empty strings mean the field is unset.
type Record struct {
	Link        string `json:"link" bson:"link" yaml:"link"`
	EAN         string `json:"ean" bson:"ean" yaml:"ean"`
	Title       string `json:"title" bson:"title" yaml:"title"`
	Price       string `json:"price" bson:"price" yaml:"price"`
	Description string `json:"description" bson:"description" yaml:"description"`
	Breadcrumb  string `json:"breadcrumb" bson:"breadcrumb" yaml:"breadcrumb"`
	ReviewRate  string `json:"review_rate" bson:"review_rate" yaml:"review_rate"`
	ReviewCount string `json:"review_nb" bson:"review_nb" yaml:"review_nb"`
	Screenshot  string `json:"screenshot" bson:"screenshot" yaml:"screenshot"`
}

// Fields returns the record fields in column order.
func Fields() []Field {
	return []Field{
		FieldLink, FieldEAN, FieldTitle, FieldPrice, FieldDescription,
		FieldBreadcrumb, FieldReviewRate, FieldReviewCount, FieldScreenshot,
	}
}

// Get returns the value of f.
func (r Record) Get(f Field) string {
	switch f {
	case FieldLink:
		return r.Link
	case FieldEAN:
		return r.EAN
	case FieldTitle:
		return r.Title
	case FieldPrice:
		return r.Price
	case FieldDescription:
		return r.Description
	case FieldBreadcrumb:
		return r.Breadcrumb
	case FieldReviewRate:
		return r.ReviewRate
	case FieldReviewCount:
		return r.ReviewCount
	case FieldScreenshot:
		return r.Screenshot
	}
	return ""
}

func (r *Record) set(f Field, v string) {
	switch f {
	case FieldLink:
		r.Link = v
	case FieldEAN:
		r.EAN = v
	case FieldTitle:
		r.Title = v
	case FieldPrice:
		r.Price = v
	case FieldDescription:
		r.Description = v
	case FieldBreadcrumb:
		r.Breadcrumb = v
	case FieldReviewRate:
		r.ReviewRate = v
	case FieldReviewCount:
		r.ReviewCount = v
	case FieldScreenshot:
		r.Screenshot = v
	}
}

// Values returns the record as a row aligned with Fields.
func (r Record) Values() []string {
	fields := Fields()
	row := make([]string, len(fields))
	for i, f := range fields {
		row[i] = r.Get(f)
	}
	return row
}

// Map returns the record keyed by field name.
func (r Record) Map() map[string]string {
	m := make(map[string]string, len(Fields()))
	for _, f := range Fields() {
		m[string(f)] = r.Get(f)
	}
	return m
}
