// internal/pipeline/transform.go
package pipeline

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/valpere/ecomscrapexter/internal/utils"
)

// TransformType identifies one normalization step.
type TransformType string

const (
	// RemoveTags strips markup, keeping inner text.
	RemoveTags TransformType = "remove_tags"
	// RemoveNewlines collapses whitespace runs (newlines included) and trims.
	RemoveNewlines TransformType = "remove_n"
	// RemoveSymbols drops whitespace and currency symbols and turns commas
	// into decimal points.
	RemoveSymbols TransformType = "remove_symbols"
	// DigitsOnly keeps decimal digits only.
	DigitsOnly TransformType = "remove_strs"
	// ToFloat parses a float and renders it back as text.
	ToFloat TransformType = "float"
	// ToFloatInt parses a float, truncates it and renders the integer.
	ToFloatInt TransformType = "float_int"
)

// TransformFunc is a compiled normalization step.
type TransformFunc func(string) (string, error)

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// euroMojibake is the euro sign decoded as Windows-1252, as some sources serve it.
const euroMojibake = "â‚¬"

var transforms = map[TransformType]TransformFunc{
	RemoveTags:     total(removeTags),
	RemoveNewlines: total(collapseWhitespace),
	RemoveSymbols:  total(removeSymbols),
	DigitsOnly:     total(digitsOnly),
	ToFloat:        toFloat,
	ToFloatInt:     toFloatInt,
}

func total(fn func(string) string) TransformFunc {
	return func(s string) (string, error) { return fn(s), nil }
}

// Lookup returns the compiled step for t.
func Lookup(t TransformType) (TransformFunc, bool) {
	fn, ok := transforms[t]
	return fn, ok
}

// Coercing reports whether t can fail.
func (t TransformType) Coercing() bool {
	return t == ToFloat || t == ToFloatInt
}

func removeTags(s string) string {
	return tagPattern.ReplaceAllString(s, "")
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}

func isPriceNoise(r rune) bool {
	return unicode.IsSpace(r) || r == '€' || r == '$'
}

func removeSymbols(s string) string {
	s = strings.ReplaceAll(s, euroMojibake, "")
	t := transform.Chain(norm.NFC, runes.Remove(runes.Predicate(isPriceNoise)))
	out, _, err := transform.String(t, s)
	if err != nil {
		out = strings.Map(func(r rune) rune {
			if isPriceNoise(r) {
				return -1
			}
			return r
		}, s)
	}
	return strings.ReplaceAll(out, ",", ".")
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func parseFloat(step, s string) (float64, error) {
	trimmed := strings.TrimSpace(s)
	lower := strings.ToLower(trimmed)
	if strings.Contains(lower, "0x") {
		return 0, utils.MalformedFragment(step, s, fmt.Errorf("hexadecimal literal"))
	}
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, utils.MalformedFragment(step, s, err)
	}
	return f, nil
}

func toFloat(s string) (string, error) {
	f, err := parseFloat(string(ToFloat), s)
	if err != nil {
		return "", err
	}
	return FormatFloat(f), nil
}

func toFloatInt(s string) (string, error) {
	f, err := parseFloat(string(ToFloatInt), s)
	if err != nil {
		return "", err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", utils.MalformedFragment(string(ToFloatInt), s, fmt.Errorf("not a finite number"))
	}
	return strconv.FormatFloat(math.Trunc(f), 'f', 0, 64), nil
}

// FormatFloat renders f in its shortest form, keeping a fractional part for
// integral values ("4" becomes "4.0") and switching to exponent notation for
// very large or very small magnitudes.
func FormatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	abs := math.Abs(f)
	if abs >= 1e16 || (abs != 0 && abs < 1e-4) {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	out := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(out, ".") {
		out += ".0"
	}
	return out
}

// Pipeline is an ordered, compiled list of normalization steps.
type Pipeline struct {
	steps []TransformType
	funcs []TransformFunc
}

// NewPipeline compiles steps. Markup stripping must come before whitespace
// collapsing and symbol removal.
func NewPipeline(steps ...TransformType) (Pipeline, error) {
	p := Pipeline{steps: append([]TransformType(nil), steps...)}
	seenText := false
	for i, step := range steps {
		fn, ok := Lookup(step)
		if !ok {
			return Pipeline{}, fmt.Errorf("step %d: unknown transform %q", i, step)
		}
		switch step {
		case RemoveNewlines, RemoveSymbols:
			seenText = true
		case RemoveTags:
			if seenText {
				return Pipeline{}, fmt.Errorf("step %d: %s must precede whitespace and symbol steps", i, step)
			}
		}
		p.funcs = append(p.funcs, fn)
	}
	return p, nil
}

// Steps returns the transform identifiers of the pipeline.
func (p Pipeline) Steps() []TransformType {
	return append([]TransformType(nil), p.steps...)
}

// Apply runs every step left to right.
func (p Pipeline) Apply(input string) (string, error) {
	out := input
	for _, fn := range p.funcs {
		var err error
		if out, err = fn(out); err != nil {
			return "", err
		}
	}
	return out, nil
}
