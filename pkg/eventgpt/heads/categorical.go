package heads

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/randalmurphal/eventgpt/pkg/eventgpt/autograd"
	"github.com/randalmurphal/eventgpt/pkg/eventgpt/event"
	"github.com/randalmurphal/eventgpt/pkg/eventgpt/schema"
)

type categoricalHead struct {
	spec schema.MeasurementSpec
	proj *autograd.Linear
}

func newCategoricalHead(spec schema.MeasurementSpec, cfg Config, rng *rand.Rand) Head {
	return &categoricalHead{spec: spec, proj: autograd.NewLinear(spec.VocabSize, cfg.HiddenSize, cfg.InitStd, rng)}
}

func (h *categoricalHead) Spec() schema.MeasurementSpec { return h.spec }

func (h *categoricalHead) Params() []autograd.NamedMatrix { return h.proj.Named("logits") }

func (h *categoricalHead) Distribution(x *autograd.Vec) (Distribution, error) {
	d := &Categorical{name: h.spec.Name, Logits: h.proj.Forward(x)}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Categorical is a distribution over vocabulary indices.
type Categorical struct {
	name   string
	Logits *autograd.Vec
}

// Measurement returns the measurement name.
func (d *Categorical) Measurement() string { return d.name }

// Validate reports non-finite logits.
func (d *Categorical) Validate() error {
	return checkFinite(d.name, "logits", d.Logits.Data)
}

// LogLikelihood returns log p(category).
func (d *Categorical) LogLikelihood(v event.Value) (*autograd.Scalar, bool) {
	idx := v.Index()
	if idx < 0 || idx >= len(d.Logits.Data) {
		return autograd.NewScalar(0), false
	}
	return autograd.CrossEntropy(d.Logits, idx).Neg(), true
}

// Probs returns softmax(logits / temperature) with everything outside the
// top k zeroed when k > 0. Logits are shifted by their maximum before
// scaling, so a vanishing temperature collapses onto the argmax.
func (d *Categorical) Probs(temperature float64, k int) []float64 {
	n := len(d.Logits.Data)
	top := floats.Max(d.Logits.Data)
	scaled := make([]float64, n)
	for i, z := range d.Logits.Data {
		scaled[i] = (z - top) / temperature
	}
	if k > 0 && k < n {
		order := make([]int, n)
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool { return scaled[order[a]] > scaled[order[b]] })
		for _, i := range order[k:] {
			scaled[i] = math.Inf(-1)
		}
	}
	lse := floats.LogSumExp(scaled)
	probs := make([]float64, n)
	for i, z := range scaled {
		probs[i] = math.Exp(z - lse)
	}
	return probs
}

// Sample draws a category.
func (d *Categorical) Sample(src rand.Source, p Policy) event.Value {
	if p.Deterministic {
		return d.Mode()
	}
	c := distuv.NewCategorical(d.Probs(temperature(p), p.TopK), src)
	return event.Category(int(c.Rand()))
}

// Mode returns the most likely category.
func (d *Categorical) Mode() event.Value {
	return event.Category(floats.MaxIdx(d.Logits.Data))
}

type bernoulliHead struct {
	spec schema.MeasurementSpec
	proj *autograd.Linear
}

func newBernoulliHead(spec schema.MeasurementSpec, cfg Config, rng *rand.Rand) Head {
	return &bernoulliHead{spec: spec, proj: autograd.NewLinear(spec.VocabSize, cfg.HiddenSize, cfg.InitStd, rng)}
}

func (h *bernoulliHead) Spec() schema.MeasurementSpec { return h.spec }

func (h *bernoulliHead) Params() []autograd.NamedMatrix { return h.proj.Named("logits") }

func (h *bernoulliHead) Distribution(x *autograd.Vec) (Distribution, error) {
	d := &Bernoulli{name: h.spec.Name, Logits: h.proj.Forward(x)}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Bernoulli is an independent multi-label distribution: one Bernoulli per
// category.
type Bernoulli struct {
	name   string
	Logits *autograd.Vec
}

// Measurement returns the measurement name.
func (d *Bernoulli) Measurement() string { return d.name }

// Validate reports non-finite logits.
func (d *Bernoulli) Validate() error {
	return checkFinite(d.name, "logits", d.Logits.Data)
}

// LogLikelihood returns the summed per-category log-likelihood over the
// observed categories of v.
func (d *Bernoulli) LogLikelihood(v event.Value) (*autograd.Scalar, bool) {
	n := len(d.Logits.Data)
	if v.IsMissing() || len(v.Mask) != n {
		return autograd.NewScalar(0), false
	}
	return autograd.BCEWithLogits(d.Logits, v.Elements, v.Mask).Neg(), true
}

// Sample draws every category independently. TopK does not apply.
func (d *Bernoulli) Sample(src rand.Source, p Policy) event.Value {
	if p.Deterministic {
		return d.Mode()
	}
	t := temperature(p)
	var present []int
	for i, z := range d.Logits.Data {
		b := distuv.Bernoulli{P: autograd.Sigmoid(z / t), Src: src}
		if b.Rand() == 1 {
			present = append(present, i)
		}
	}
	return event.Labels(len(d.Logits.Data), present...)
}

// Mode marks every category with probability at least one half present.
func (d *Bernoulli) Mode() event.Value {
	var present []int
	for i, z := range d.Logits.Data {
		if z >= 0 {
			present = append(present, i)
		}
	}
	return event.Labels(len(d.Logits.Data), present...)
}
