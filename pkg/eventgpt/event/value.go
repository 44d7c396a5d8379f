package event

import (
	"fmt"
	"math"
	"slices"

	egerrors "github.com/randalmurphal/eventgpt/pkg/eventgpt/errors"
	"github.com/randalmurphal/eventgpt/pkg/eventgpt/schema"
)

// ValueKind tags the variant held by a Value.
type ValueKind int

const (
	// KindMissing is the missing sentinel: nothing observed.
	KindMissing ValueKind = iota
	// KindCategory holds one category index.
	KindCategory
	// KindLabels holds one 0/1 indicator per category.
	KindLabels
	// KindReal holds continuous values.
	KindReal
)

// String returns the variant name.
func (k ValueKind) String() string {
	switch k {
	case KindMissing:
		return "missing"
	case KindCategory:
		return "category"
	case KindLabels:
		return "labels"
	case KindReal:
		return "real"
	default:
		return "unknown"
	}
}

// Value is an observed measurement value or the missing sentinel.
// Elements[i] counts only where Mask[i] is true; missingness is per element.
type Value struct {
	Kind     ValueKind
	Elements []float64
	Mask     []bool
}

// Missing returns the missing sentinel.
func Missing() Value {
	return Value{Kind: KindMissing}
}

// Category returns an observed single category.
func Category(idx int) Value {
	return Value{Kind: KindCategory, Elements: []float64{float64(idx)}, Mask: []bool{true}}
}

// Labels returns a fully observed multi-label value over vocab categories
// with the given categories present and every other category absent.
func Labels(vocab int, present ...int) Value {
	v := Value{Kind: KindLabels, Elements: make([]float64, vocab), Mask: make([]bool, vocab)}
	for i := range v.Mask {
		v.Mask[i] = true
	}
	for _, c := range present {
		if c >= 0 && c < vocab {
			v.Elements[c] = 1
		}
	}
	return v
}

// PartialLabels returns a multi-label value where only the categories in
// observed are known; observed[c] reports whether category c is present.
func PartialLabels(vocab int, observed map[int]bool) Value {
	v := Value{Kind: KindLabels, Elements: make([]float64, vocab), Mask: make([]bool, vocab)}
	for c, present := range observed {
		if c < 0 || c >= vocab {
			continue
		}
		v.Mask[c] = true
		if present {
			v.Elements[c] = 1
		}
	}
	return v
}

// Scalar returns an observed single continuous value.
func Scalar(x float64) Value {
	return Value{Kind: KindReal, Elements: []float64{x}, Mask: []bool{true}}
}

// Vector returns continuous values. A nil mask marks every element observed.
func Vector(xs []float64, mask []bool) Value {
	v := Value{Kind: KindReal, Elements: slices.Clone(xs)}
	if mask == nil {
		v.Mask = make([]bool, len(xs))
		for i := range v.Mask {
			v.Mask[i] = true
		}
	} else {
		v.Mask = slices.Clone(mask)
	}
	return v
}

// IsMissing reports whether no element is observed.
func (v Value) IsMissing() bool {
	for _, m := range v.Mask {
		if m {
			return false
		}
	}
	return true
}

// Observed reports whether element i is observed.
func (v Value) Observed(i int) bool {
	return i >= 0 && i < len(v.Mask) && v.Mask[i]
}

// Index returns the category of a KindCategory value, or -1.
func (v Value) Index() int {
	if v.Kind != KindCategory || !v.Observed(0) {
		return -1
	}
	return int(v.Elements[0])
}

// Float returns element 0, or NaN if it is not observed.
func (v Value) Float() float64 {
	if !v.Observed(0) {
		return math.NaN()
	}
	return v.Elements[0]
}

// String formats the observed elements: "3" for a category, "{0,2}" for
// labels, "[1.5 ?]" for real values with unobserved elements as "?".
func (v Value) String() string {
	switch v.Kind {
	case KindMissing:
		return "missing"
	case KindCategory:
		return fmt.Sprintf("%d", v.Index())
	case KindLabels:
		out := "{"
		first := true
		for i, x := range v.Elements {
			if !v.Observed(i) || x == 0 {
				continue
			}
			if !first {
				out += ","
			}
			out += fmt.Sprintf("%d", i)
			first = false
		}
		return out + "}"
	default:
		if len(v.Elements) == 1 && v.Observed(0) {
			return fmt.Sprintf("%.4g", v.Elements[0])
		}
		out := "["
		for i, x := range v.Elements {
			if i > 0 {
				out += " "
			}
			if v.Observed(i) {
				out += fmt.Sprintf("%.4g", x)
			} else {
				out += "?"
			}
		}
		return out + "]"
	}
}

// Clone returns a deep copy.
func (v Value) Clone() Value {
	return Value{Kind: v.Kind, Elements: slices.Clone(v.Elements), Mask: slices.Clone(v.Mask)}
}

// KindFor returns the value variant carried by a measurement kind.
func KindFor(k schema.Kind) ValueKind {
	switch k {
	case schema.SingleCategorical:
		return KindCategory
	case schema.MultiCategorical:
		return KindLabels
	default:
		return KindReal
	}
}

// MissingFor returns the regular-shaped missing sentinel for m: the
// measurement's variant with every element unobserved.
func MissingFor(m schema.MeasurementSpec) Value {
	dim := m.Dim()
	return Value{Kind: KindFor(m.Kind), Elements: make([]float64, dim), Mask: make([]bool, dim)}
}

// normalize checks v against m and returns its regular-shaped form.
func normalize(v Value, m schema.MeasurementSpec) (Value, error) {
	field := "value:" + m.Name
	if v.Kind == KindMissing || (len(v.Elements) == 0 && len(v.Mask) == 0) {
		return MissingFor(m), nil
	}
	if len(v.Elements) != len(v.Mask) {
		return Value{}, egerrors.ShapeMismatch(field+":mask", len(v.Mask), len(v.Elements))
	}
	if want := KindFor(m.Kind); v.Kind != want {
		return Value{}, egerrors.ShapeMismatch(field+":kind", v.Kind, want)
	}
	if dim := m.Dim(); len(v.Elements) != dim {
		return Value{}, egerrors.ShapeMismatch(field, len(v.Elements), dim)
	}

	for i, x := range v.Elements {
		if !v.Mask[i] {
			continue
		}
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return Value{}, egerrors.ShapeMismatch(field, fmt.Sprintf("non-finite element %d", i), "finite")
		}
		switch m.Kind {
		case schema.SingleCategorical:
			if x != math.Trunc(x) || x < 0 || int(x) >= m.VocabSize {
				return Value{}, egerrors.ShapeMismatch(field, fmt.Sprintf("category %v", x), fmt.Sprintf("[0, %d)", m.VocabSize))
			}
		case schema.MultiCategorical:
			if x != 0 && x != 1 {
				return Value{}, egerrors.ShapeMismatch(field, fmt.Sprintf("label %v at %d", x, i), "0 or 1")
			}
		case schema.TimeToEvent:
			if x <= 0 {
				return Value{}, egerrors.ShapeMismatch(field, fmt.Sprintf("gap %v", x), "> 0")
			}
		}
	}
	return v.Clone(), nil
}
