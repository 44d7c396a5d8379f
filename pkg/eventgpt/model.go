package eventgpt

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/randalmurphal/eventgpt/pkg/eventgpt/attention"
	"github.com/randalmurphal/eventgpt/pkg/eventgpt/autograd"
	"github.com/randalmurphal/eventgpt/pkg/eventgpt/embed"
	egerrors "github.com/randalmurphal/eventgpt/pkg/eventgpt/errors"
	"github.com/randalmurphal/eventgpt/pkg/eventgpt/event"
	"github.com/randalmurphal/eventgpt/pkg/eventgpt/heads"
	"github.com/randalmurphal/eventgpt/pkg/eventgpt/schema"
)

// Model is a generative transformer over one measurement schema.
//
// Parameters are only mutated by the optimizer and LoadParams. Forward
// passes only read them, so ForwardAndLoss, Hidden and Generate may run
// concurrently with each other but not with a training step.
type Model struct {
	schema   *schema.Schema
	cfg      ModelConfig
	embedder *embed.Embedder
	stack    *attention.Stack
	heads    map[string]heads.Head
	order    []string // generative measurements, level-major
	opts     modelOptions
}

// New builds a model for s. Every generative measurement gets exactly one
// head chosen by its kind and family.
func New(s *schema.Schema, cfg ModelConfig, opts ...Option) (*Model, error) {
	if s == nil {
		return nil, &egerrors.ConfigurationError{Reason: "schema is nil"}
	}
	o := defaultModelOptions()
	for _, opt := range opts {
		opt(&o)
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))

	stack, err := attention.New(attention.Config{
		HiddenSize: cfg.HiddenSize,
		NumLayers:  cfg.NumLayers,
		NumHeads:   cfg.NumHeads,
		FFSize:     cfg.FFSize,
		InitStd:    cfg.InitStd,
	}, rng)
	if err != nil {
		return nil, err
	}
	if cfg.LogVarMin >= cfg.LogVarMax {
		return nil, &egerrors.ConfigurationError{
			Reason: fmt.Sprintf("log_var_min %v must be below log_var_max %v", cfg.LogVarMin, cfg.LogVarMax),
		}
	}

	m := &Model{
		schema: s,
		cfg:    cfg,
		embedder: embed.New(s, embed.Config{
			HiddenSize: cfg.HiddenSize,
			TimeScale:  cfg.TimeScale,
			InitStd:    cfg.InitStd,
		}, rng),
		stack: stack,
		heads: make(map[string]heads.Head),
		opts:  o,
	}

	headCfg := heads.Config{
		HiddenSize: cfg.HiddenSize,
		LogVarMin:  cfg.LogVarMin,
		LogVarMax:  cfg.LogVarMax,
		InitStd:    cfg.InitStd,
	}
	var errs []error
	for l := 0; l < s.NumLevels(); l++ {
		for _, name := range s.Generative(l) {
			spec, _ := s.Spec(name)
			h, err := heads.New(spec, headCfg, rng)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			m.heads[name] = h
			m.order = append(m.order, name)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return m, nil
}

// Schema returns the model's schema.
func (m *Model) Schema() *schema.Schema {
	return m.schema
}

// Config returns the configuration the model was built with.
func (m *Model) Config() ModelConfig {
	return m.cfg
}

// Head returns the output head of a generative measurement.
func (m *Model) Head(name string) (heads.Head, bool) {
	h, ok := m.heads[name]
	return h, ok
}

// Params returns every parameter matrix in a stable order, named
// "embed.*", "attention.*" and "heads.<measurement>.*".
func (m *Model) Params() []autograd.NamedMatrix {
	out := autograd.Prefix("embed.", m.embedder.Params())
	out = append(out, autograd.Prefix("attention.", m.stack.Params())...)
	for _, name := range m.order {
		out = append(out, autograd.Prefix("heads."+name+".", m.heads[name].Params())...)
	}
	return out
}

// SnapshotParams returns a deep copy of every parameter keyed by name.
func (m *Model) SnapshotParams() map[string][][]float64 {
	params := m.Params()
	out := make(map[string][][]float64, len(params))
	for _, p := range params {
		out[p.Name] = p.Matrix.Snapshot()
	}
	return out
}

// LoadParams overwrites parameters from a snapshot. The snapshot must hold
// exactly the model's parameter names with matching shapes; on error no
// parameter is modified.
func (m *Model) LoadParams(data map[string][][]float64) error {
	params := m.Params()
	if len(data) != len(params) {
		var extra []string
		for name := range data {
			if !slices.ContainsFunc(params, func(p autograd.NamedMatrix) bool { return p.Name == name }) {
				extra = append(extra, name)
			}
		}
		if len(extra) > 0 {
			slices.Sort(extra)
			return egerrors.ShapeMismatch("params", fmt.Sprintf("unexpected %v", extra), fmt.Sprintf("%d parameters", len(params)))
		}
	}
	for _, p := range params {
		rows, ok := data[p.Name]
		if !ok {
			return egerrors.ShapeMismatch("params."+p.Name, "absent", fmt.Sprintf("%dx%d", p.Matrix.Nout, p.Matrix.Nin))
		}
		if len(rows) != p.Matrix.Nout {
			return egerrors.ShapeMismatch("params."+p.Name, fmt.Sprintf("%d rows", len(rows)), fmt.Sprintf("%d rows", p.Matrix.Nout))
		}
		for i, row := range rows {
			if len(row) != p.Matrix.Nin {
				return egerrors.ShapeMismatch(
					fmt.Sprintf("params.%s[%d]", p.Name, i),
					fmt.Sprintf("%d columns", len(row)),
					fmt.Sprintf("%d columns", p.Matrix.Nin),
				)
			}
		}
	}
	for _, p := range params {
		if err := p.Matrix.Restore(data[p.Name]); err != nil {
			return err
		}
	}
	return nil
}

// Hidden returns the final hidden state of every (sequence, event, level)
// token of batch. Padding tokens are nil.
func (m *Model) Hidden(ctx context.Context, batch *event.Batch) ([][][]*autograd.Vec, error) {
	if err := m.checkBatch(batch); err != nil {
		return nil, err
	}
	out := make([][][]*autograd.Vec, len(batch.Sequences))
	for i, seq := range batch.Sequences {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_, hidden, err := m.encode(seq)
		if err != nil {
			return nil, err
		}
		out[i] = hidden
	}
	return out, nil
}

// AttentionWeights returns the attention weights of every layer and head
// for one sequence as [layer][head][query][key] over flattened tokens.
func (m *Model) AttentionWeights(seq event.Sequence) (attention.Weights, error) {
	groups, err := event.SplitSequence(seq, m.schema)
	if err != nil {
		return nil, err
	}
	_, w := m.stack.ForwardWithWeights(m.embedder.Sequence(seq, groups))
	return w, nil
}

// encode splits, embeds and runs the stack over one sequence.
func (m *Model) encode(seq event.Sequence) ([][]event.Group, [][]*autograd.Vec, error) {
	groups, err := event.SplitSequence(seq, m.schema)
	if err != nil {
		return nil, nil, err
	}
	tokens := m.embedder.Sequence(seq, groups)
	return groups, m.stack.Forward(tokens), nil
}

func (m *Model) checkBatch(batch *event.Batch) error {
	if batch == nil {
		return egerrors.ShapeMismatch("batch", "nil", "batch")
	}
	if batch.Schema != nil && batch.Schema != m.schema && !slices.Equal(batch.Schema.Names(), m.schema.Names()) {
		return fmt.Errorf("%w: %w", ErrSchemaMismatch, &egerrors.ConfigurationError{
			Reason: fmt.Sprintf("batch measurements %v, model measurements %v", batch.Schema.Names(), m.schema.Names()),
		})
	}
	if batch.Schema == nil {
		b := *batch
		b.Schema = m.schema
		return b.Validate()
	}
	return batch.Validate()
}

// predecessor returns the hidden state of the most recent valid token
// strictly before (e, l) in event-major, level-minor order, or nil.
func predecessor(hidden [][]*autograd.Vec, e, l int) *autograd.Vec {
	for ; e >= 0; e-- {
		for l--; l >= 0; l-- {
			if h := hidden[e][l]; h != nil {
				return h
			}
		}
		if e > 0 {
			l = len(hidden[e-1])
		}
	}
	return nil
}
