package attention

import (
	"github.com/randalmurphal/eventgpt/pkg/eventgpt/autograd"
)

// Mask is the two-level causal mask over one sequence's tokens flattened in
// event-major, level-minor order.
//
// Token (e1, l1) may attend to (e2, l2) iff both are valid and e2 < e1, or
// e2 == e1 and l2 <= l1. Invalid tokens never attend and are never attended.
type Mask struct {
	events int
	levels int
	valid  []bool
}

// NewMask builds a mask from per-(event, level) validity.
// Every row of valid must have the same length.
func NewMask(valid [][]bool) *Mask {
	m := &Mask{events: len(valid)}
	if len(valid) > 0 {
		m.levels = len(valid[0])
	}
	m.valid = make([]bool, m.events*m.levels)
	for e, row := range valid {
		for l, ok := range row {
			m.valid[e*m.levels+l] = ok
		}
	}
	return m
}

// MaskFromTokens marks non-nil tokens valid.
func MaskFromTokens(tokens [][]*autograd.Vec) *Mask {
	valid := make([][]bool, len(tokens))
	for e, row := range tokens {
		valid[e] = make([]bool, len(row))
		for l, tok := range row {
			valid[e][l] = tok != nil
		}
	}
	return NewMask(valid)
}

// Len returns the number of flattened tokens, valid or not.
func (m *Mask) Len() int {
	return len(m.valid)
}

// Index flattens (e, l).
func (m *Mask) Index(e, l int) int {
	return e*m.levels + l
}

// Position unflattens token i.
func (m *Mask) Position(i int) (e, l int) {
	return i / m.levels, i % m.levels
}

// Valid reports whether token i is a real token.
func (m *Mask) Valid(i int) bool {
	return i >= 0 && i < len(m.valid) && m.valid[i]
}

// Allowed reports whether token i may attend to token j.
func (m *Mask) Allowed(i, j int) bool {
	if !m.Valid(i) || !m.Valid(j) {
		return false
	}
	e1, l1 := m.Position(i)
	e2, l2 := m.Position(j)
	return e2 < e1 || (e2 == e1 && l2 <= l1)
}

// Keys returns the tokens i may attend to, in flattened order.
func (m *Mask) Keys(i int) []int {
	if !m.Valid(i) {
		return nil
	}
	var out []int
	// Event-major flattening puts every allowed key at or before i.
	for j := 0; j <= i; j++ {
		if m.Allowed(i, j) {
			out = append(out, j)
		}
	}
	return out
}
