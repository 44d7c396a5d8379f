// Package embed maps per-level measurement groups to fixed-width token
// vectors.
//
// A token for (event e, level l) is the sum of
//   - the embeddings of every measurement at level l,
//   - a learned level embedding,
//   - the event's time encoding, shared by all levels of the event.
//
// Missing measurements contribute a dedicated learned row rather than zero,
// so "known absent" and "known zero" stay distinct.
package embed

import (
	"math"
	"math/rand/v2"

	"github.com/randalmurphal/eventgpt/pkg/eventgpt/autograd"
	"github.com/randalmurphal/eventgpt/pkg/eventgpt/event"
	"github.com/randalmurphal/eventgpt/pkg/eventgpt/schema"
)

// Config sizes the embedder.
type Config struct {
	// HiddenSize is the token width.
	HiddenSize int

	// TimeScale is the longest wavelength, in minutes, of the sinusoidal
	// time encoding.
	TimeScale float64

	// InitStd is the standard deviation of initial weights.
	InitStd float64
}

// Scales applied to functional values before projection.
const (
	hoursPerDay  = 24.0
	ageScaleYear = 100.0
)

type categorical struct {
	// Rows 0..vocab-1 are categories, vocab is the missing row, vocab+1 is
	// "observed, nothing present" (multi categorical only).
	table *autograd.Matrix
	vocab int
	multi bool
}

type continuous struct {
	proj    *autograd.Matrix // (hidden, dim)
	missing *autograd.Matrix // (dim, hidden), one row per element
	logIn   bool             // time to event: embed log(gap)
}

// Embedder holds the embedding parameters for one schema.
// Forward passes only read parameters and may run concurrently.
type Embedder struct {
	schema *schema.Schema
	cfg    Config

	cat   map[string]*categorical
	cont  map[string]*continuous
	level *autograd.Matrix // (levels, hidden)

	functional []schema.MeasurementSpec
	fnProj     *autograd.Matrix // (hidden, len(functional))
	fnMissing  *autograd.Matrix // (len(functional), hidden)
}

// New creates an embedder with weights drawn from rng.
func New(s *schema.Schema, cfg Config, rng *rand.Rand) *Embedder {
	h := cfg.HiddenSize
	e := &Embedder{
		schema:     s,
		cfg:        cfg,
		cat:        make(map[string]*categorical),
		cont:       make(map[string]*continuous),
		level:      autograd.NewMatrix(s.NumLevels(), h, cfg.InitStd, rng),
		functional: s.Functional(),
	}
	for _, m := range s.Measurements() {
		switch m.Kind {
		case schema.SingleCategorical:
			e.cat[m.Name] = &categorical{table: autograd.NewMatrix(m.VocabSize+1, h, cfg.InitStd, rng), vocab: m.VocabSize}
		case schema.MultiCategorical:
			e.cat[m.Name] = &categorical{table: autograd.NewMatrix(m.VocabSize+2, h, cfg.InitStd, rng), vocab: m.VocabSize, multi: true}
		case schema.Regression, schema.MultivariateRegression, schema.TimeToEvent:
			dim := m.Dim()
			e.cont[m.Name] = &continuous{
				proj:    autograd.NewMatrix(h, dim, cfg.InitStd, rng),
				missing: autograd.NewMatrix(dim, h, cfg.InitStd, rng),
				logIn:   m.Kind == schema.TimeToEvent,
			}
		}
	}
	if n := len(e.functional); n > 0 {
		e.fnProj = autograd.NewMatrix(h, n, cfg.InitStd, rng)
		e.fnMissing = autograd.NewMatrix(n, h, cfg.InitStd, rng)
	}
	return e
}

// HiddenSize returns the token width.
func (e *Embedder) HiddenSize() int {
	return e.cfg.HiddenSize
}

// Sequence embeds every valid (event, level) of seq. groups must come from
// event.SplitSequence on the same sequence. Invalid tokens are nil.
func (e *Embedder) Sequence(seq event.Sequence, groups [][]event.Group) [][]*autograd.Vec {
	out := make([][]*autograd.Vec, len(seq.Events))
	levels := e.schema.NumLevels()
	for ev := range seq.Events {
		out[ev] = make([]*autograd.Vec, levels)
		if !seq.EventValid(ev) || groups[ev] == nil {
			continue
		}
		timeEnc := e.Time(seq.Events[ev].Time, groups[ev][0])
		for l := 0; l < levels; l++ {
			if !seq.LevelValid(ev, l) {
				continue
			}
			out[ev][l] = e.Token(groups[ev][l], timeEnc)
		}
	}
	return out
}

// Token embeds one level group and adds the event's time encoding.
func (e *Embedder) Token(g event.Group, timeEnc *autograd.Vec) *autograd.Vec {
	parts := []*autograd.Vec{e.level.Row(g.Level), timeEnc}
	for _, name := range e.schema.Level(g.Level) {
		if v := e.Measurement(name, g.Values[name]); v != nil {
			parts = append(parts, v)
		}
	}
	return autograd.SumVecs(e.cfg.HiddenSize, parts)
}

// Measurement embeds one value. Functional measurements return nil; they
// enter through Time.
func (e *Embedder) Measurement(name string, v event.Value) *autograd.Vec {
	if c, ok := e.cat[name]; ok {
		return c.embed(v)
	}
	if c, ok := e.cont[name]; ok {
		return c.embed(v, e.cfg.HiddenSize)
	}
	return nil
}

func (c *categorical) embed(v event.Value) *autograd.Vec {
	if !c.multi {
		if idx := v.Index(); idx >= 0 && idx < c.vocab {
			return c.table.Row(idx)
		}
		return c.table.Row(c.vocab)
	}

	var present []*autograd.Vec
	observed := false
	for i := 0; i < c.vocab && i < len(v.Mask); i++ {
		if !v.Mask[i] {
			continue
		}
		observed = true
		if v.Elements[i] == 1 {
			present = append(present, c.table.Row(i))
		}
	}
	switch {
	case !observed:
		return c.table.Row(c.vocab)
	case len(present) == 0:
		return c.table.Row(c.vocab + 1)
	default:
		n := len(c.table.Row(0).Data)
		return autograd.SumVecs(n, present).Scale(1 / float64(len(present)))
	}
}

func (c *continuous) embed(v event.Value, hidden int) *autograd.Vec {
	dim := c.proj.Nin
	x := make([]float64, dim)
	var parts []*autograd.Vec
	observed := false
	for i := 0; i < dim; i++ {
		if !v.Observed(i) {
			parts = append(parts, c.missing.Row(i))
			continue
		}
		observed = true
		xi := v.Elements[i]
		if c.logIn {
			xi = math.Log(xi)
		}
		x[i] = xi
	}
	if observed {
		parts = append(parts, c.proj.MatVec(autograd.NewVec(x)))
	}
	return autograd.SumVecs(hidden, parts)
}

// Time returns the per-event encoding: a sinusoidal encoding of t (minutes)
// plus the projection of the event's functional measurements taken from its
// level-0 group.
func (e *Embedder) Time(t float64, level0 event.Group) *autograd.Vec {
	h := e.cfg.HiddenSize
	scale := e.cfg.TimeScale
	if scale <= 1 {
		scale = 10000
	}
	enc := make([]float64, h)
	for i := 0; i < h; i += 2 {
		freq := math.Pow(scale, -float64(i)/float64(h))
		enc[i] = math.Sin(t * freq)
		if i+1 < h {
			enc[i+1] = math.Cos(t * freq)
		}
	}
	parts := []*autograd.Vec{autograd.NewVec(enc)}

	if n := len(e.functional); n > 0 {
		x := make([]float64, n)
		for i, f := range e.functional {
			v := level0.Values[f.Name]
			if !v.Observed(0) {
				parts = append(parts, e.fnMissing.Row(i))
				continue
			}
			switch f.Function {
			case schema.FunctionTimeOfDay:
				x[i] = v.Elements[0] / hoursPerDay
			case schema.FunctionAge:
				x[i] = v.Elements[0] / ageScaleYear
			}
		}
		parts = append(parts, e.fnProj.MatVec(autograd.NewVec(x)))
	}
	return autograd.SumVecs(h, parts)
}

// Params returns the embedding parameters in a stable order.
func (e *Embedder) Params() []autograd.NamedMatrix {
	out := []autograd.NamedMatrix{{Name: "level", Matrix: e.level}}
	for _, m := range e.schema.Measurements() {
		if c, ok := e.cat[m.Name]; ok {
			out = append(out, autograd.NamedMatrix{Name: m.Name + ".table", Matrix: c.table})
		}
		if c, ok := e.cont[m.Name]; ok {
			out = append(out,
				autograd.NamedMatrix{Name: m.Name + ".proj", Matrix: c.proj},
				autograd.NamedMatrix{Name: m.Name + ".missing", Matrix: c.missing},
			)
		}
	}
	if e.fnProj != nil {
		out = append(out,
			autograd.NamedMatrix{Name: "functional.proj", Matrix: e.fnProj},
			autograd.NamedMatrix{Name: "functional.missing", Matrix: e.fnMissing},
		)
	}
	return out
}
