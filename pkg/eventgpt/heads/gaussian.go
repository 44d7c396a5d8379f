package heads

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/randalmurphal/eventgpt/pkg/eventgpt/autograd"
	"github.com/randalmurphal/eventgpt/pkg/eventgpt/event"
	"github.com/randalmurphal/eventgpt/pkg/eventgpt/schema"
)

type gaussianHead struct {
	spec   schema.MeasurementSpec
	cfg    Config
	mean   *autograd.Linear
	logVar *autograd.Linear
}

func newGaussianHead(spec schema.MeasurementSpec, cfg Config, rng *rand.Rand) Head {
	dim := spec.Dim()
	return &gaussianHead{
		spec:   spec,
		cfg:    cfg,
		mean:   autograd.NewLinear(dim, cfg.HiddenSize, cfg.InitStd, rng),
		logVar: autograd.NewLinear(dim, cfg.HiddenSize, cfg.InitStd, rng),
	}
}

func (h *gaussianHead) Spec() schema.MeasurementSpec { return h.spec }

func (h *gaussianHead) Params() []autograd.NamedMatrix {
	return append(h.mean.Named("mean"), h.logVar.Named("log_var")...)
}

func (h *gaussianHead) Distribution(x *autograd.Vec) (Distribution, error) {
	raw := h.logVar.Forward(x)
	// Clamping hides NaN; check the raw output first.
	if err := checkFinite(h.spec.Name, "log_var", raw.Data); err != nil {
		return nil, err
	}
	d := &Gaussian{
		name:   h.spec.Name,
		Mean:   h.mean.Forward(x),
		LogVar: raw.Clamp(h.cfg.LogVarMin, h.cfg.LogVarMax),
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Gaussian is an independent normal per dimension.
type Gaussian struct {
	name   string
	Mean   *autograd.Vec
	LogVar *autograd.Vec
}

// Measurement returns the measurement name.
func (d *Gaussian) Measurement() string { return d.name }

// Validate reports non-finite parameters.
func (d *Gaussian) Validate() error {
	if err := checkFinite(d.name, "mean", d.Mean.Data); err != nil {
		return err
	}
	return checkFinite(d.name, "log_var", d.LogVar.Data)
}

// LogLikelihood sums log N(x_i | mean_i, exp(log_var_i)) over observed i.
func (d *Gaussian) LogLikelihood(v event.Value) (*autograd.Scalar, bool) {
	if v.IsMissing() || len(v.Mask) != len(d.Mean.Data) {
		return autograd.NewScalar(0), false
	}
	return autograd.GaussianNLL(d.Mean, d.LogVar, v.Elements, v.Mask).Neg(), true
}

// Sample draws every dimension.
func (d *Gaussian) Sample(src rand.Source, p Policy) event.Value {
	if p.Deterministic {
		return d.Mode()
	}
	xs := make([]float64, len(d.Mean.Data))
	for i, mu := range d.Mean.Data {
		n := distuv.Normal{Mu: mu, Sigma: math.Exp(0.5 * d.LogVar.Data[i]), Src: src}
		xs[i] = n.Rand()
	}
	return event.Vector(xs, nil)
}

// Mode returns the mean.
func (d *Gaussian) Mode() event.Value {
	return event.Vector(d.Mean.Data, nil)
}

type mixtureHead struct {
	spec   schema.MeasurementSpec
	cfg    Config
	weight *autograd.Linear
	mean   *autograd.Linear
	logVar *autograd.Linear
}

func newMixtureHead(spec schema.MeasurementSpec, cfg Config, rng *rand.Rand) Head {
	k, dim := spec.Components, spec.Dim()
	return &mixtureHead{
		spec:   spec,
		cfg:    cfg,
		weight: autograd.NewLinear(k, cfg.HiddenSize, cfg.InitStd, rng),
		mean:   autograd.NewLinear(k*dim, cfg.HiddenSize, cfg.InitStd*10, rng),
		logVar: autograd.NewLinear(k*dim, cfg.HiddenSize, cfg.InitStd, rng),
	}
}

func (h *mixtureHead) Spec() schema.MeasurementSpec { return h.spec }

func (h *mixtureHead) Params() []autograd.NamedMatrix {
	out := h.weight.Named("weight")
	out = append(out, h.mean.Named("mean")...)
	return append(out, h.logVar.Named("log_var")...)
}

func (h *mixtureHead) Distribution(x *autograd.Vec) (Distribution, error) {
	raw := h.logVar.Forward(x)
	if err := checkFinite(h.spec.Name, "log_var", raw.Data); err != nil {
		return nil, err
	}
	d := &GaussianMixture{
		name:   h.spec.Name,
		k:      h.spec.Components,
		dim:    h.spec.Dim(),
		Logits: h.weight.Forward(x),
		Mean:   h.mean.Forward(x),
		LogVar: raw.Clamp(h.cfg.LogVarMin, h.cfg.LogVarMax),
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// GaussianMixture is a mixture of diagonal Gaussians. Mean and LogVar are
// laid out component-major: element (c, i) is at c*dim+i.
type GaussianMixture struct {
	name   string
	k      int
	dim    int
	Logits *autograd.Vec
	Mean   *autograd.Vec
	LogVar *autograd.Vec
}

// Measurement returns the measurement name.
func (d *GaussianMixture) Measurement() string { return d.name }

// Validate reports non-finite parameters.
func (d *GaussianMixture) Validate() error {
	if err := checkFinite(d.name, "weight_logits", d.Logits.Data); err != nil {
		return err
	}
	if err := checkFinite(d.name, "mean", d.Mean.Data); err != nil {
		return err
	}
	return checkFinite(d.name, "log_var", d.LogVar.Data)
}

// LogLikelihood returns log sum_c pi_c prod_{observed i} N(x_i | mean_ci, var_ci).
func (d *GaussianMixture) LogLikelihood(v event.Value) (*autograd.Scalar, bool) {
	if v.IsMissing() || len(v.Mask) != d.dim {
		return autograd.NewScalar(0), false
	}
	logits := autograd.Scalars(d.Logits)
	norm := autograd.LogSumExp(logits)
	comps := make([]*autograd.Scalar, d.k)
	for c := 0; c < d.k; c++ {
		terms := []*autograd.Scalar{logits[c], norm.Neg()}
		for i := 0; i < d.dim; i++ {
			if !v.Mask[i] {
				continue
			}
			j := c*d.dim + i
			terms = append(terms, autograd.GaussianLogProb(d.Mean.Element(j), d.LogVar.Element(j), v.Elements[i]))
		}
		comps[c] = autograd.SumScalars(terms)
	}
	return autograd.LogSumExp(comps), true
}

func (d *GaussianMixture) weights() []float64 {
	lse := floats.LogSumExp(d.Logits.Data)
	w := make([]float64, d.k)
	for c, z := range d.Logits.Data {
		w[c] = math.Exp(z - lse)
	}
	return w
}

// Sample picks a component, then draws every dimension from it.
func (d *GaussianMixture) Sample(src rand.Source, p Policy) event.Value {
	if p.Deterministic {
		return d.Mode()
	}
	c := int(distuv.NewCategorical(d.weights(), src).Rand())
	xs := make([]float64, d.dim)
	for i := range xs {
		j := c*d.dim + i
		n := distuv.Normal{Mu: d.Mean.Data[j], Sigma: math.Exp(0.5 * d.LogVar.Data[j]), Src: src}
		xs[i] = n.Rand()
	}
	return event.Vector(xs, nil)
}

// Mode returns the mean of the mixture. Fully deterministic, and finite
// because every component mean is.
func (d *GaussianMixture) Mode() event.Value {
	w := d.weights()
	xs := make([]float64, d.dim)
	for c := 0; c < d.k; c++ {
		for i := range xs {
			xs[i] += w[c] * d.Mean.Data[c*d.dim+i]
		}
	}
	return event.Vector(xs, nil)
}
