package schema

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	egerrors "github.com/randalmurphal/eventgpt/pkg/eventgpt/errors"
	"github.com/randalmurphal/eventgpt/pkg/eventgpt/registry"
)

// Support is the set of values a distribution family can produce.
type Support int

const (
	// RealSupport covers the whole real line.
	RealSupport Support = iota
	// PositiveSupport covers strictly positive reals.
	PositiveSupport
)

// Distribution family names known out of the box.
const (
	FamilyGaussian        = "gaussian"
	FamilyGaussianMixture = "gaussian_mixture"
	FamilyLogNormal       = "lognormal"
	FamilyExponential     = "exponential"
)

type supports = registry.Registry[string, Support]

var (
	families = registry.New(map[Kind]*supports{
		Regression: registry.New(map[string]Support{
			FamilyGaussian:        RealSupport,
			FamilyGaussianMixture: RealSupport,
		}),
		MultivariateRegression: registry.New(map[string]Support{
			FamilyGaussian:        RealSupport,
			FamilyGaussianMixture: RealSupport,
		}),
		TimeToEvent: registry.New(map[string]Support{
			FamilyLogNormal:   PositiveSupport,
			FamilyExponential: PositiveSupport,
			FamilyGaussian:    RealSupport,
		}),
	})
	defaultFamilies = map[Kind]string{
		Regression:             FamilyGaussian,
		MultivariateRegression: FamilyGaussian,
		TimeToEvent:            FamilyLogNormal,
	}
)

// RegisterFamily declares a distribution family name for kind so that specs
// naming it pass validation. Time-to-event families must have
// PositiveSupport to be usable.
func RegisterFamily(kind Kind, name string, support Support) {
	families.GetOrCreate(kind, func() *supports {
		return registry.New[string, Support](nil)
	}).Register(name, support)
}

// FamilySupport returns the support of a registered family.
func FamilySupport(kind Kind, name string) (Support, bool) {
	byName, ok := families.Get(kind)
	if !ok {
		return 0, false
	}
	return byName.Get(name)
}

// Families returns the family names registered for kind in ascending order.
func Families(kind Kind) []string {
	byName, ok := families.Get(kind)
	if !ok {
		return nil
	}
	return byName.Keys()
}

// DefaultFamily returns the family used when a spec leaves Family empty.
func DefaultFamily(kind Kind) string {
	return defaultFamilies[kind]
}

const defaultComponents = 2

// Builder accumulates measurement specs. Use New, chain Add calls, then
// Compile to obtain an immutable Schema.
//
// Builder is NOT thread-safe.
//
// Example:
//
//	s, err := schema.New().
//	    Add(schema.MeasurementSpec{Name: "event_type", Kind: schema.SingleCategorical, VocabSize: 3}).
//	    Add(schema.MeasurementSpec{Name: "lab", Kind: schema.Regression, Level: 1}).
//	    Compile()
type Builder struct {
	specs []MeasurementSpec
}

// New creates an empty schema builder.
func New() *Builder {
	return &Builder{}
}

// Add appends a measurement spec. Declaration order is the order names are
// reported within a level. Returns the builder for method chaining.
func (b *Builder) Add(spec MeasurementSpec) *Builder {
	spec.StopCategories = slices.Clone(spec.StopCategories)
	b.specs = append(b.specs, spec)
	return b
}

// Compile validates the specs and creates the Schema.
// Multiple errors are joined together; each is a *errors.ConfigurationError
// except for time-to-event families without positive support, which fail
// with *errors.InvalidDistributionParameterError.
//
// Validation checks:
//  1. At least one measurement with an output head
//  2. Names are non-empty, free of whitespace, and unique
//  3. Every measurement is assigned a level (non-negative)
//  4. Kind-specific dimensions are consistent
//  5. Time-to-event and functional measurements sit at level 0, with at most
//     one time-to-event measurement
//  6. Family and function names are known
//  7. Level indices are contiguous from 0
func (b *Builder) Compile() (*Schema, error) {
	var errs []error
	fail := func(name, format string, args ...any) {
		errs = append(errs, &egerrors.ConfigurationError{Measurement: name, Reason: fmt.Sprintf(format, args...)})
	}

	if len(b.specs) == 0 {
		return nil, &egerrors.ConfigurationError{Reason: "schema declares no measurements"}
	}

	specs := make([]MeasurementSpec, len(b.specs))
	byName := make(map[string]int, len(b.specs))
	maxLevel := -1
	tte := -1
	generative := 0

	for i, m := range b.specs {
		m = normalize(m)
		specs[i] = m

		// 2. Names
		switch {
		case m.Name == "":
			fail("", "measurement %d has an empty name", i)
		case strings.ContainsAny(m.Name, " \t\n\r"):
			fail(m.Name, "name contains whitespace")
		default:
			if _, dup := byName[m.Name]; dup {
				fail(m.Name, "duplicate measurement name")
			} else {
				byName[m.Name] = i
			}
		}

		// 3. Level assignment
		if m.Level < 0 {
			fail(m.Name, "assigned to no level (level %d)", m.Level)
		} else if m.Level > maxLevel {
			maxLevel = m.Level
		}

		// 4. Dimensions
		if _, ok := kindNames[m.Kind]; !ok {
			fail(m.Name, "unknown kind %d", int(m.Kind))
			continue
		}
		switch m.Kind {
		case SingleCategorical, MultiCategorical:
			if m.VocabSize < 1 {
				fail(m.Name, "%s requires vocab_size >= 1, got %d", m.Kind, m.VocabSize)
			}
		case Regression:
			if m.ValueDim != 1 {
				fail(m.Name, "regression requires value_dim 1, got %d", m.ValueDim)
			}
		case MultivariateRegression:
			if m.ValueDim < 1 {
				fail(m.Name, "multivariate_regression requires value_dim >= 1, got %d", m.ValueDim)
			}
		case TimeToEvent, FunctionalTimeDependent:
			if m.ValueDim != 1 {
				fail(m.Name, "%s carries a single value, got value_dim %d", m.Kind, m.ValueDim)
			}
		}
		for _, c := range m.StopCategories {
			if m.Kind != SingleCategorical {
				fail(m.Name, "stop categories require single_categorical")
				break
			}
			if c < 0 || c >= m.VocabSize {
				fail(m.Name, "stop category %d outside vocabulary [0, %d)", c, m.VocabSize)
			}
		}

		// 5. Shared per-event time encoding
		if m.Kind == TimeToEvent || m.Kind == FunctionalTimeDependent {
			if m.Level != 0 {
				fail(m.Name, "%s shares the per-event time encoding and must sit at level 0, got level %d", m.Kind, m.Level)
			}
		}
		if m.Kind == TimeToEvent {
			if tte >= 0 {
				fail(m.Name, "second time_to_event measurement (first is %q)", specs[tte].Name)
			} else {
				tte = i
			}
		}
		if m.Kind != FunctionalTimeDependent {
			generative++
		}

		// 6. Families and functions
		if err := checkFamily(m); err != nil {
			errs = append(errs, err)
		}
		if m.Kind == FunctionalTimeDependent {
			if m.Function != FunctionTimeOfDay && m.Function != FunctionAge {
				fail(m.Name, "unknown function %q (want %s or %s)", m.Function, FunctionTimeOfDay, FunctionAge)
			}
		} else if m.Function != "" {
			fail(m.Name, "function is only valid for functional_time_dependent")
		}
	}

	// 1. Something to predict
	if generative == 0 {
		fail("", "schema declares no measurement with an output head")
	}

	// 7. Contiguous levels
	levels := make([][]string, maxLevel+1)
	for _, m := range specs {
		if m.Level >= 0 {
			levels[m.Level] = append(levels[m.Level], m.Name)
		}
	}
	for l, names := range levels {
		if len(names) == 0 {
			fail("", "level indices are non-contiguous: level %d is empty (max level %d)", l, maxLevel)
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return &Schema{
		specs:  specs,
		byName: byName,
		levels: levels,
		tte:    tte,
	}, nil
}

// normalize fills kind defaults.
func normalize(m MeasurementSpec) MeasurementSpec {
	switch m.Kind {
	case Regression, TimeToEvent, FunctionalTimeDependent:
		if m.ValueDim == 0 {
			m.ValueDim = 1
		}
	}
	if m.Family == "" {
		m.Family = DefaultFamily(m.Kind)
	}
	if m.Family == FamilyGaussianMixture && m.Components == 0 {
		m.Components = defaultComponents
	}
	return m
}

func checkFamily(m MeasurementSpec) error {
	switch m.Kind {
	case Regression, MultivariateRegression, TimeToEvent:
	default:
		if m.Family != "" {
			return &egerrors.ConfigurationError{Measurement: m.Name, Reason: fmt.Sprintf("family is not configurable for %s", m.Kind)}
		}
		return nil
	}

	support, ok := FamilySupport(m.Kind, m.Family)
	if !ok {
		return &egerrors.ConfigurationError{Measurement: m.Name, Reason: fmt.Sprintf("unknown %s family %q, registered: %v", m.Kind, m.Family, Families(m.Kind))}
	}
	if m.Kind == TimeToEvent && support != PositiveSupport {
		return &egerrors.InvalidDistributionParameterError{
			Measurement: m.Name,
			Parameter:   "family",
			Index:       -1,
			Reason:      fmt.Sprintf("%s allows non-positive mass; time to event needs strictly positive support", m.Family),
		}
	}
	if m.Family == FamilyGaussianMixture && m.Components < 1 {
		return &egerrors.ConfigurationError{Measurement: m.Name, Reason: fmt.Sprintf("gaussian_mixture requires components >= 1, got %d", m.Components)}
	}
	return nil
}
