package heads

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/randalmurphal/eventgpt/pkg/eventgpt/autograd"
	"github.com/randalmurphal/eventgpt/pkg/eventgpt/event"
	"github.com/randalmurphal/eventgpt/pkg/eventgpt/schema"
)

// positive keeps a sample inside (0, inf) when exp underflows.
func positive(x float64) float64 {
	if x > 0 && !math.IsInf(x, 1) {
		return x
	}
	if x <= 0 || math.IsNaN(x) {
		return math.SmallestNonzeroFloat64
	}
	return math.MaxFloat64
}

type logNormalHead struct {
	spec     schema.MeasurementSpec
	cfg      Config
	mu       *autograd.Linear
	logSigma *autograd.Linear
}

func newLogNormalHead(spec schema.MeasurementSpec, cfg Config, rng *rand.Rand) Head {
	return &logNormalHead{
		spec:     spec,
		cfg:      cfg,
		mu:       autograd.NewLinear(1, cfg.HiddenSize, cfg.InitStd, rng),
		logSigma: autograd.NewLinear(1, cfg.HiddenSize, cfg.InitStd, rng),
	}
}

func (h *logNormalHead) Spec() schema.MeasurementSpec { return h.spec }

func (h *logNormalHead) Params() []autograd.NamedMatrix {
	return append(h.mu.Named("mu"), h.logSigma.Named("log_sigma")...)
}

func (h *logNormalHead) Distribution(x *autograd.Vec) (Distribution, error) {
	raw := h.logSigma.Forward(x)
	if err := checkFinite(h.spec.Name, "log_sigma", raw.Data); err != nil {
		return nil, err
	}
	d := &LogNormal{
		name:     h.spec.Name,
		Mu:       h.mu.Forward(x).Element(0),
		LogSigma: raw.Clamp(h.cfg.LogVarMin/2, h.cfg.LogVarMax/2).Element(0),
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// LogNormal models the gap to the next event as exp(N(Mu, Sigma^2)).
type LogNormal struct {
	name     string
	Mu       *autograd.Scalar
	LogSigma *autograd.Scalar
}

// Measurement returns the measurement name.
func (d *LogNormal) Measurement() string { return d.name }

// Validate reports non-finite parameters.
func (d *LogNormal) Validate() error {
	if err := checkFinite(d.name, "mu", []float64{d.Mu.Data}); err != nil {
		return err
	}
	return checkFinite(d.name, "log_sigma", []float64{d.LogSigma.Data})
}

// LogLikelihood returns log p(gap).
func (d *LogNormal) LogLikelihood(v event.Value) (*autograd.Scalar, bool) {
	x := v.Float()
	if math.IsNaN(x) || x <= 0 {
		return autograd.NewScalar(0), false
	}
	return autograd.LogNormalNLL(d.Mu, d.LogSigma, x).Neg(), true
}

// Sample draws a strictly positive gap.
func (d *LogNormal) Sample(src rand.Source, p Policy) event.Value {
	if p.Deterministic {
		return d.Mode()
	}
	ln := distuv.LogNormal{Mu: d.Mu.Data, Sigma: math.Exp(d.LogSigma.Data), Src: src}
	return event.Scalar(positive(ln.Rand()))
}

// Mode returns the median exp(Mu). The log-normal mode exp(Mu - Sigma^2)
// collapses toward zero for wide distributions; the median does not.
func (d *LogNormal) Mode() event.Value {
	return event.Scalar(positive(math.Exp(d.Mu.Data)))
}

type exponentialHead struct {
	spec    schema.MeasurementSpec
	cfg     Config
	logRate *autograd.Linear
}

func newExponentialHead(spec schema.MeasurementSpec, cfg Config, rng *rand.Rand) Head {
	return &exponentialHead{
		spec:    spec,
		cfg:     cfg,
		logRate: autograd.NewLinear(1, cfg.HiddenSize, cfg.InitStd, rng),
	}
}

func (h *exponentialHead) Spec() schema.MeasurementSpec { return h.spec }

func (h *exponentialHead) Params() []autograd.NamedMatrix {
	return h.logRate.Named("log_rate")
}

func (h *exponentialHead) Distribution(x *autograd.Vec) (Distribution, error) {
	raw := h.logRate.Forward(x)
	if err := checkFinite(h.spec.Name, "log_rate", raw.Data); err != nil {
		return nil, err
	}
	d := &Exponential{
		name:    h.spec.Name,
		LogRate: raw.Clamp(-h.cfg.LogVarMax, -h.cfg.LogVarMin).Element(0),
	}
	return d, nil
}

// Exponential models the gap to the next event with a constant rate.
type Exponential struct {
	name    string
	LogRate *autograd.Scalar
}

// Measurement returns the measurement name.
func (d *Exponential) Measurement() string { return d.name }

// Validate reports a non-finite rate.
func (d *Exponential) Validate() error {
	return checkFinite(d.name, "log_rate", []float64{d.LogRate.Data})
}

// LogLikelihood returns log p(gap).
func (d *Exponential) LogLikelihood(v event.Value) (*autograd.Scalar, bool) {
	x := v.Float()
	if math.IsNaN(x) || x <= 0 {
		return autograd.NewScalar(0), false
	}
	return autograd.ExponentialNLL(d.LogRate, x).Neg(), true
}

// Sample draws a strictly positive gap.
func (d *Exponential) Sample(src rand.Source, p Policy) event.Value {
	if p.Deterministic {
		return d.Mode()
	}
	e := distuv.Exponential{Rate: math.Exp(d.LogRate.Data), Src: src}
	return event.Scalar(positive(e.Rand()))
}

// Mode returns the median ln 2 / rate; the exponential mode is zero, which
// lies outside the support.
func (d *Exponential) Mode() event.Value {
	return event.Scalar(positive(math.Ln2 / math.Exp(d.LogRate.Data)))
}
