// Package attention implements the transformer body over (event, level)
// tokens with a two-level causal mask.
//
// Each block applies pre-norm masked multi-head self-attention and a
// pre-norm position-wise feed-forward layer, each wrapped in a residual
// connection. The same Mask is shared by every block.
package attention

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/randalmurphal/eventgpt/pkg/eventgpt/autograd"
	egerrors "github.com/randalmurphal/eventgpt/pkg/eventgpt/errors"
)

// Config sizes the stack.
type Config struct {
	HiddenSize int
	NumLayers  int
	NumHeads   int
	// FFSize is the feed-forward inner width. Zero means 4 * HiddenSize.
	FFSize  int
	InitStd float64
}

// Block is one attention + feed-forward layer.
type Block struct {
	attnGain *autograd.Matrix
	wq       *autograd.Matrix
	wk       *autograd.Matrix
	wv       *autograd.Matrix
	wo       *autograd.Matrix
	ffGain   *autograd.Matrix
	ff1      *autograd.Linear
	ff2      *autograd.Linear
}

// Stack is the attention body. Forward passes only read parameters.
type Stack struct {
	cfg       Config
	blocks    []*Block
	finalGain *autograd.Matrix
}

// Weights holds attention weights as [layer][head][query][key] over
// flattened token indices. Disallowed pairs are exactly zero.
type Weights [][][][]float64

// New creates a stack. Returns *errors.ConfigurationError for inconsistent
// sizes.
func New(cfg Config, rng *rand.Rand) (*Stack, error) {
	if cfg.FFSize == 0 {
		cfg.FFSize = 4 * cfg.HiddenSize
	}
	switch {
	case cfg.HiddenSize < 1:
		return nil, &egerrors.ConfigurationError{Reason: fmt.Sprintf("hidden_size must be positive, got %d", cfg.HiddenSize)}
	case cfg.NumLayers < 0:
		return nil, &egerrors.ConfigurationError{Reason: fmt.Sprintf("num_layers must be non-negative, got %d", cfg.NumLayers)}
	case cfg.NumHeads < 1 || cfg.HiddenSize%cfg.NumHeads != 0:
		return nil, &egerrors.ConfigurationError{Reason: fmt.Sprintf("num_heads %d must divide hidden_size %d", cfg.NumHeads, cfg.HiddenSize)}
	case cfg.FFSize < 1:
		return nil, &egerrors.ConfigurationError{Reason: fmt.Sprintf("ff_size must be positive, got %d", cfg.FFSize)}
	}

	h, std := cfg.HiddenSize, cfg.InitStd
	s := &Stack{cfg: cfg, finalGain: autograd.NewMatrixConst(1, h, 1)}
	for i := 0; i < cfg.NumLayers; i++ {
		s.blocks = append(s.blocks, &Block{
			attnGain: autograd.NewMatrixConst(1, h, 1),
			wq:       autograd.NewMatrix(h, h, std, rng),
			wk:       autograd.NewMatrix(h, h, std, rng),
			wv:       autograd.NewMatrix(h, h, std, rng),
			wo:       autograd.NewMatrix(h, h, std, rng),
			ffGain:   autograd.NewMatrixConst(1, h, 1),
			ff1:      autograd.NewLinear(cfg.FFSize, h, std, rng),
			ff2:      autograd.NewLinear(h, cfg.FFSize, std, rng),
		})
	}
	return s, nil
}

// Forward returns one hidden vector per token. tokens is indexed
// [event][level]; nil tokens are padding and stay nil in the output.
func (s *Stack) Forward(tokens [][]*autograd.Vec) [][]*autograd.Vec {
	out, _ := s.forward(tokens, false)
	return out
}

// ForwardWithWeights is Forward plus the attention weights of every layer
// and head.
func (s *Stack) ForwardWithWeights(tokens [][]*autograd.Vec) ([][]*autograd.Vec, Weights) {
	return s.forward(tokens, true)
}

func (s *Stack) forward(tokens [][]*autograd.Vec, record bool) ([][]*autograd.Vec, Weights) {
	mask := MaskFromTokens(tokens)
	n := mask.Len()

	x := make([]*autograd.Vec, n)
	for i := 0; i < n; i++ {
		if mask.Valid(i) {
			e, l := mask.Position(i)
			x[i] = tokens[e][l]
		}
	}

	var weights Weights
	for _, b := range s.blocks {
		var w [][][]float64
		x, w = b.forward(x, mask, s.cfg.NumHeads, record)
		if record {
			weights = append(weights, w)
		}
	}

	out := make([][]*autograd.Vec, len(tokens))
	for e, row := range tokens {
		out[e] = make([]*autograd.Vec, len(row))
	}
	gain := s.finalGain.Row(0)
	for i := 0; i < n; i++ {
		if x[i] == nil {
			continue
		}
		e, l := mask.Position(i)
		out[e][l] = autograd.RMSNorm(x[i]).MulVec(gain)
	}
	return out, weights
}

func (b *Block) forward(x []*autograd.Vec, mask *Mask, heads int, record bool) ([]*autograd.Vec, [][][]float64) {
	n := len(x)
	var w [][][]float64
	if record {
		w = make([][][]float64, heads)
		for h := range w {
			w[h] = make([][]float64, n)
			for i := range w[h] {
				w[h][i] = make([]float64, n)
			}
		}
	}

	// Masked self-attention sub-layer.
	q := make([]*autograd.Vec, n)
	k := make([]*autograd.Vec, n)
	v := make([]*autograd.Vec, n)
	gain := b.attnGain.Row(0)
	for i := 0; i < n; i++ {
		if x[i] == nil {
			continue
		}
		xn := autograd.RMSNorm(x[i]).MulVec(gain)
		q[i] = b.wq.MatVec(xn)
		k[i] = b.wk.MatVec(xn)
		v[i] = b.wv.MatVec(xn)
	}

	hidden := len(gain.Data)
	dh := hidden / heads
	scale := 1 / math.Sqrt(float64(dh))
	mid := make([]*autograd.Vec, n)
	for i := 0; i < n; i++ {
		if x[i] == nil {
			continue
		}
		keys := mask.Keys(i)
		headOut := make([]*autograd.Vec, heads)
		for h := 0; h < heads; h++ {
			lo, hi := h*dh, (h+1)*dh
			qh := q[i].Slice(lo, hi)
			scores := make([]*autograd.Scalar, len(keys))
			values := make([]*autograd.Vec, len(keys))
			for t, j := range keys {
				scores[t] = qh.Dot(k[j].Slice(lo, hi)).MulF(scale)
				values[t] = v[j].Slice(lo, hi)
			}
			probs := autograd.Softmax(scores)
			if record {
				for t, j := range keys {
					w[h][i][j] = probs[t].Data
				}
			}
			headOut[h] = autograd.AttentionWeightedSum(probs, values)
		}
		mid[i] = x[i].Add(b.wo.MatVec(autograd.Concat(headOut)))
	}

	// Feed-forward sub-layer.
	out := make([]*autograd.Vec, n)
	ffGain := b.ffGain.Row(0)
	for i := 0; i < n; i++ {
		if mid[i] == nil {
			continue
		}
		xn := autograd.RMSNorm(mid[i]).MulVec(ffGain)
		out[i] = mid[i].Add(b.ff2.Forward(b.ff1.Forward(xn).GELU()))
	}
	return out, w
}

// Params returns the stack parameters in a stable order.
func (s *Stack) Params() []autograd.NamedMatrix {
	var out []autograd.NamedMatrix
	for i, b := range s.blocks {
		p := fmt.Sprintf("block%d.", i)
		out = append(out,
			autograd.NamedMatrix{Name: p + "attn_gain", Matrix: b.attnGain},
			autograd.NamedMatrix{Name: p + "wq", Matrix: b.wq},
			autograd.NamedMatrix{Name: p + "wk", Matrix: b.wk},
			autograd.NamedMatrix{Name: p + "wv", Matrix: b.wv},
			autograd.NamedMatrix{Name: p + "wo", Matrix: b.wo},
			autograd.NamedMatrix{Name: p + "ff_gain", Matrix: b.ffGain},
		)
		out = append(out, autograd.Prefix(p, b.ff1.Named("ff1"))...)
		out = append(out, autograd.Prefix(p, b.ff2.Named("ff2"))...)
	}
	return append(out, autograd.NamedMatrix{Name: "final_gain", Matrix: s.finalGain})
}

// NumLayers returns the number of blocks.
func (s *Stack) NumLayers() int {
	return len(s.blocks)
}
