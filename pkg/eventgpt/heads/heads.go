// Package heads turns hidden vectors into per-measurement probability
// distributions for loss computation and sampling.
//
// One Head exists per generative measurement. A head is chosen by the
// schema-declared kind and family, never by inspecting data:
//
//	single_categorical       Categorical over vocab logits
//	multi_categorical        independent Bernoulli per category
//	regression kinds         Gaussian (clamped log-variance) or GaussianMixture
//	time_to_event            LogNormal (default), Exponential, or a registered family
//
// Distribution parameters are checked for NaN and Inf when a Distribution is
// built; a failure is an *errors.InvalidDistributionParameterError.
package heads

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/randalmurphal/eventgpt/pkg/eventgpt/autograd"
	egerrors "github.com/randalmurphal/eventgpt/pkg/eventgpt/errors"
	"github.com/randalmurphal/eventgpt/pkg/eventgpt/event"
	"github.com/randalmurphal/eventgpt/pkg/eventgpt/registry"
	"github.com/randalmurphal/eventgpt/pkg/eventgpt/schema"
)

// Config sizes every head.
type Config struct {
	HiddenSize int

	// LogVarMin and LogVarMax bound log-variances (and twice log-scales)
	// before exponentiation.
	LogVarMin float64
	LogVarMax float64

	InitStd float64
}

// DefaultConfig returns bounds that keep variances inside float64 range
// with room to spare.
func DefaultConfig(hidden int) Config {
	return Config{HiddenSize: hidden, LogVarMin: -10, LogVarMax: 10, InitStd: 0.02}
}

// Policy controls sampling.
type Policy struct {
	// Temperature divides categorical and Bernoulli logits. Zero, negative
	// and non-finite values are read as 1.
	Temperature float64

	// TopK keeps the K most likely categories of a single categorical.
	// Zero disables.
	TopK int

	// Deterministic returns Mode instead of sampling.
	Deterministic bool
}

// Distribution is the parametrized output of one head for one hidden vector.
// It is ephemeral: built per forward pass and consumed immediately.
type Distribution interface {
	// Measurement returns the measurement name.
	Measurement() string

	// LogLikelihood returns the log-likelihood of v summed over observed
	// elements. observed is false, and ll is an exact zero leaf, when v
	// carries no observed element.
	LogLikelihood(v event.Value) (ll *autograd.Scalar, observed bool)

	// Sample draws a value from the distribution, or returns Mode when
	// p.Deterministic is set.
	Sample(src rand.Source, p Policy) event.Value

	// Mode returns the deterministic decode: argmax for categories, the mean
	// for Gaussians, the median for time to event.
	Mode() event.Value

	// Validate reports non-finite parameters.
	Validate() error
}

// Head produces Distributions for one measurement.
type Head interface {
	Spec() schema.MeasurementSpec
	Distribution(h *autograd.Vec) (Distribution, error)
	Params() []autograd.NamedMatrix
}

// TimeFamily builds a time-to-event head. Families must produce strictly
// positive samples.
type TimeFamily func(spec schema.MeasurementSpec, cfg Config, rng *rand.Rand) Head

var timeFamilies = registry.New(map[string]TimeFamily{
	schema.FamilyLogNormal:   newLogNormalHead,
	schema.FamilyExponential: newExponentialHead,
})

// RegisterTimeFamily makes a time-to-event family available to schemas and
// heads under name. The family is declared with positive support.
func RegisterTimeFamily(name string, f TimeFamily) {
	timeFamilies.Register(name, f)
	schema.RegisterFamily(schema.TimeToEvent, name, schema.PositiveSupport)
}

// New creates the head for spec. Functional measurements have no head.
func New(spec schema.MeasurementSpec, cfg Config, rng *rand.Rand) (Head, error) {
	switch spec.Kind {
	case schema.SingleCategorical:
		return newCategoricalHead(spec, cfg, rng), nil
	case schema.MultiCategorical:
		return newBernoulliHead(spec, cfg, rng), nil
	case schema.Regression, schema.MultivariateRegression:
		switch spec.Family {
		case schema.FamilyGaussian, "":
			return newGaussianHead(spec, cfg, rng), nil
		case schema.FamilyGaussianMixture:
			return newMixtureHead(spec, cfg, rng), nil
		}
		return nil, &egerrors.ConfigurationError{Measurement: spec.Name, Reason: fmt.Sprintf("no head for %s family %q", spec.Kind, spec.Family)}
	case schema.TimeToEvent:
		family := spec.Family
		if family == "" {
			family = schema.DefaultFamily(schema.TimeToEvent)
		}
		f, ok := timeFamilies.Get(family)
		if !ok {
			return nil, &egerrors.InvalidDistributionParameterError{
				Measurement: spec.Name,
				Parameter:   "family",
				Index:       -1,
				Reason:      fmt.Sprintf("%q has no strictly positive time-to-event head", family),
			}
		}
		return f(spec, cfg, rng), nil
	default:
		return nil, &egerrors.ConfigurationError{Measurement: spec.Name, Reason: fmt.Sprintf("%s has no output head", spec.Kind)}
	}
}

// checkFinite returns an InvalidDistributionParameterError for the first
// non-finite element of xs.
func checkFinite(measurement, parameter string, xs []float64) error {
	for i, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return &egerrors.InvalidDistributionParameterError{
				Measurement: measurement,
				Parameter:   parameter,
				Index:       i,
				Value:       x,
			}
		}
	}
	return nil
}

// temperature reads zero, negative and non-finite temperatures as 1.
func temperature(p Policy) float64 {
	if !(p.Temperature > 0) || math.IsInf(p.Temperature, 1) {
		return 1
	}
	return p.Temperature
}
