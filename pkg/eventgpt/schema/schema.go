// Package schema describes the measurements an event can carry and their
// position in the per-event dependency graph.
//
// A Schema is built with New, Add and Compile and is immutable afterwards.
// Levels partition the measurement set: level 0 never conditions on
// same-event context, level k may condition on levels 0..k-1 of its own
// event plus every prior event.
package schema

import (
	"fmt"
	"slices"
	"strings"
)

// Kind is the data kind of a measurement.
type Kind int

const (
	// SingleCategorical is one category out of VocabSize.
	SingleCategorical Kind = iota
	// MultiCategorical is any subset of VocabSize categories.
	MultiCategorical
	// Regression is a single continuous value.
	Regression
	// MultivariateRegression is ValueDim continuous values.
	MultivariateRegression
	// TimeToEvent is the strictly positive gap since the previous event.
	TimeToEvent
	// FunctionalTimeDependent is computed from the event time (time of day, age).
	FunctionalTimeDependent
)

var kindNames = map[Kind]string{
	SingleCategorical:       "single_categorical",
	MultiCategorical:        "multi_categorical",
	Regression:              "regression",
	MultivariateRegression:  "multivariate_regression",
	TimeToEvent:             "time_to_event",
	FunctionalTimeDependent: "functional_time_dependent",
}

// String returns the snake_case name of the kind.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind converts a snake_case kind name.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown measurement kind %q", s)
}

// Categorical reports whether values are category indices.
func (k Kind) Categorical() bool {
	return k == SingleCategorical || k == MultiCategorical
}

// Continuous reports whether values are real numbers.
func (k Kind) Continuous() bool {
	return k == Regression || k == MultivariateRegression || k == TimeToEvent || k == FunctionalTimeDependent
}

// Functions computed for FunctionalTimeDependent measurements.
const (
	FunctionTimeOfDay = "time_of_day"
	FunctionAge       = "age"
)

// MeasurementSpec declares one measurement.
type MeasurementSpec struct {
	Name string
	Kind Kind

	// VocabSize is the number of categories (categorical kinds).
	VocabSize int

	// ValueDim is the number of continuous values (regression kinds).
	// Regression requires 1; zero is read as 1 for Regression, TimeToEvent
	// and FunctionalTimeDependent.
	ValueDim int

	// Level is the 0-indexed dependency graph level.
	Level int

	// Family selects the distribution family. Empty picks the default for
	// the kind: "gaussian" for regression kinds, "lognormal" for time to event.
	Family string

	// Components is the mixture size for the "gaussian_mixture" family.
	Components int

	// Function names the computed value of a functional measurement.
	Function string

	// StopCategories end generation when sampled (SingleCategorical only).
	StopCategories []int
}

// Dim returns the number of elements a value of this measurement carries.
func (m MeasurementSpec) Dim() int {
	switch m.Kind {
	case SingleCategorical:
		return 1
	case MultiCategorical:
		return m.VocabSize
	case MultivariateRegression:
		return m.ValueDim
	default:
		return 1
	}
}

// IsStop reports whether category c is a stop category.
func (m MeasurementSpec) IsStop(c int) bool {
	return slices.Contains(m.StopCategories, c)
}

// Schema is a validated, immutable set of measurement specs.
// Safe for concurrent use.
type Schema struct {
	specs  []MeasurementSpec
	byName map[string]int
	levels [][]string
	tte    int
}

// NumLevels returns the number of dependency graph levels.
func (s *Schema) NumLevels() int {
	return len(s.levels)
}

// Level returns the measurement names at level l in declaration order.
func (s *Schema) Level(l int) []string {
	if l < 0 || l >= len(s.levels) {
		return nil
	}
	return slices.Clone(s.levels[l])
}

// Spec returns the MeasurementSpec registered under name.
func (s *Schema) Spec(name string) (MeasurementSpec, bool) {
	i, ok := s.byName[name]
	if !ok {
		return MeasurementSpec{}, false
	}
	return s.specs[i], true
}

// Index returns the position of name in the unified measurement index,
// or -1 if name is not declared.
func (s *Schema) Index(name string) int {
	if i, ok := s.byName[name]; ok {
		return i
	}
	return -1
}

// Measurements returns every spec in declaration order.
func (s *Schema) Measurements() []MeasurementSpec {
	return slices.Clone(s.specs)
}

// Names returns every measurement name in declaration order.
func (s *Schema) Names() []string {
	out := make([]string, len(s.specs))
	for i, m := range s.specs {
		out[i] = m.Name
	}
	return out
}

// Generative returns the names at level l that have an output head, which is
// every measurement except functional ones.
func (s *Schema) Generative(l int) []string {
	var out []string
	for _, name := range s.Level(l) {
		if s.specs[s.byName[name]].Kind != FunctionalTimeDependent {
			out = append(out, name)
		}
	}
	return out
}

// TimeToEvent returns the time-to-event spec, if the schema declares one.
func (s *Schema) TimeToEvent() (MeasurementSpec, bool) {
	if s.tte < 0 {
		return MeasurementSpec{}, false
	}
	return s.specs[s.tte], true
}

// Functional returns the functional time-dependent specs.
func (s *Schema) Functional() []MeasurementSpec {
	var out []MeasurementSpec
	for _, m := range s.specs {
		if m.Kind == FunctionalTimeDependent {
			out = append(out, m)
		}
	}
	return out
}

// OutputSize returns the cardinality of name: vocabulary size for
// categorical kinds, value dimension otherwise. Zero if name is unknown.
func (s *Schema) OutputSize(name string) int {
	m, ok := s.Spec(name)
	if !ok {
		return 0
	}
	if m.Kind.Categorical() {
		return m.VocabSize
	}
	return m.Dim()
}
