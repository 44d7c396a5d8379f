package attention_test

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/eventgpt/pkg/eventgpt/attention"
	"github.com/randalmurphal/eventgpt/pkg/eventgpt/autograd"
	egerrors "github.com/randalmurphal/eventgpt/pkg/eventgpt/errors"
)

const hidden = 8

func newStack(t *testing.T) *attention.Stack {
	t.Helper()
	s, err := attention.New(attention.Config{HiddenSize: hidden, NumLayers: 2, NumHeads: 2, InitStd: 0.3}, rand.New(rand.NewPCG(3, 4)))
	require.NoError(t, err)
	return s
}

// randomTokens builds an events x levels grid of leaf tokens; invalid
// positions are nil.
func randomTokens(seed uint64, valid [][]bool) [][]*autograd.Vec {
	rng := rand.New(rand.NewPCG(seed, 99))
	out := make([][]*autograd.Vec, len(valid))
	for e, row := range valid {
		out[e] = make([]*autograd.Vec, len(row))
		for l, ok := range row {
			if !ok {
				continue
			}
			d := make([]float64, hidden)
			for i := range d {
				d[i] = rng.NormFloat64()
			}
			out[e][l] = autograd.NewVec(d)
		}
	}
	return out
}

func allValid(events, levels int) [][]bool {
	v := make([][]bool, events)
	for e := range v {
		v[e] = make([]bool, levels)
		for l := range v[e] {
			v[e][l] = true
		}
	}
	return v
}

func TestMask_Allowed(t *testing.T) {
	valid := allValid(3, 2)
	valid[2][1] = false
	m := attention.NewMask(valid)
	require.Equal(t, 6, m.Len())

	for e1 := 0; e1 < 3; e1++ {
		for l1 := 0; l1 < 2; l1++ {
			for e2 := 0; e2 < 3; e2++ {
				for l2 := 0; l2 < 2; l2++ {
					i, j := m.Index(e1, l1), m.Index(e2, l2)
					want := valid[e1][l1] && valid[e2][l2] && (e2 < e1 || (e2 == e1 && l2 <= l1))
					assert.Equal(t, want, m.Allowed(i, j), "(%d,%d)->(%d,%d)", e1, l1, e2, l2)
				}
			}
		}
	}

	assert.Equal(t, []int{0, 1, 2}, m.Keys(m.Index(1, 0)))
	assert.Nil(t, m.Keys(m.Index(2, 1)), "invalid token attends to nothing")
	e, l := m.Position(3)
	assert.Equal(t, 1, e)
	assert.Equal(t, 1, l)
}

func TestNew_ConfigurationErrors(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	for _, cfg := range []attention.Config{
		{HiddenSize: 0, NumHeads: 1},
		{HiddenSize: 6, NumHeads: 4},
		{HiddenSize: 4, NumHeads: 0},
		{HiddenSize: 4, NumHeads: 1, NumLayers: -1},
	} {
		_, err := attention.New(cfg, rng)
		assert.ErrorIs(t, err, egerrors.ErrConfiguration, "%+v", cfg)
	}
}

func TestForward_Shapes(t *testing.T) {
	s := newStack(t)
	valid := allValid(2, 3)
	valid[1][2] = false
	out := s.Forward(randomTokens(1, valid))

	require.Len(t, out, 2)
	for e := range valid {
		for l := range valid[e] {
			if valid[e][l] {
				require.NotNil(t, out[e][l])
				assert.Len(t, out[e][l].Data, hidden)
			} else {
				assert.Nil(t, out[e][l])
			}
		}
	}
	assert.Len(t, s.Params(), 2*10+1)
}

// Perturbing a token never changes the output of a token that may not see it.
func TestForward_Causality(t *testing.T) {
	s := newStack(t)
	valid := allValid(3, 3)
	base := randomTokens(7, valid)
	ref := s.Forward(base)
	mask := attention.NewMask(valid)

	for pe := 0; pe < 3; pe++ {
		for pl := 0; pl < 3; pl++ {
			perturbed := randomTokens(7, valid)
			for i := range perturbed[pe][pl].Data {
				perturbed[pe][pl].Data[i] += 5
			}
			out := s.Forward(perturbed)
			p := mask.Index(pe, pl)
			for e := 0; e < 3; e++ {
				for l := 0; l < 3; l++ {
					if mask.Allowed(mask.Index(e, l), p) {
						continue
					}
					assert.Equal(t, ref[e][l].Data, out[e][l].Data,
						"perturbing (%d,%d) leaked into (%d,%d)", pe, pl, e, l)
				}
			}
		}
	}
}

// Gradients from an early token never reach later tokens.
func TestForward_CausalGradients(t *testing.T) {
	s := newStack(t)
	tokens := randomTokens(11, allValid(2, 2))
	out := s.Forward(tokens)

	autograd.Backward(out[0][1].Sum())
	for i := range tokens[1][0].Grad {
		assert.Zero(t, tokens[1][0].Grad[i])
		assert.Zero(t, tokens[1][1].Grad[i])
	}
	nonzero := false
	for _, g := range tokens[0][0].Grad {
		nonzero = nonzero || g != 0
	}
	assert.True(t, nonzero, "earlier level of the same event is visible")
}

func TestForward_PaddingHasNoInfluence(t *testing.T) {
	s := newStack(t)
	base := randomTokens(5, allValid(2, 2))
	ref := s.Forward(base)

	padded := randomTokens(5, allValid(2, 2))
	padded = append(padded, []*autograd.Vec{nil, nil})
	out := s.Forward(padded)

	for e := 0; e < 2; e++ {
		for l := 0; l < 2; l++ {
			assert.Equal(t, ref[e][l].Data, out[e][l].Data)
		}
	}
	assert.Nil(t, out[2][0])
}

func TestForwardWithWeights(t *testing.T) {
	s := newStack(t)
	valid := allValid(2, 2)
	valid[1][1] = false
	_, w := s.ForwardWithWeights(randomTokens(9, valid))
	mask := attention.NewMask(valid)

	require.Len(t, w, 2)
	for _, layer := range w {
		require.Len(t, layer, 2)
		for _, head := range layer {
			for i := range head {
				sum := 0.0
				for j, p := range head[i] {
					if !mask.Allowed(i, j) {
						assert.Zero(t, p, "weight %d->%d", i, j)
					}
					sum += p
				}
				if mask.Valid(i) {
					assert.InDelta(t, 1.0, sum, 1e-9)
				} else {
					assert.Zero(t, sum)
				}
			}
		}
	}
}
