package schema

import (
	"errors"
	"fmt"
	"strings"

	"github.com/randalmurphal/eventgpt/pkg/eventgpt/config"
	egerrors "github.com/randalmurphal/eventgpt/pkg/eventgpt/errors"
)

// FromConfig builds a Schema from the "measurements" list of cfg:
//
//	measurements:
//	  - name: event_type
//	    kind: single_categorical
//	    vocab_size: 3
//	    level: 0
//	    stop_categories: [2]
//	  - name: lab_value
//	    kind: regression
//	    level: 1
//	    family: gaussian
//
// Recognised keys: name, kind, vocab_size, value_dim, level, family,
// components, function, stop_categories.
func FromConfig(cfg config.Config) (*Schema, error) {
	entries := cfg.Maps("measurements")
	if entries == nil {
		return nil, &egerrors.ConfigurationError{Reason: "missing or malformed measurements list"}
	}

	b := New()
	var errs []error
	for i, m := range entries {
		name := m.String("name", "")
		var missing []string
		for _, key := range []string{"name", "kind"} {
			if !m.Has(key) {
				missing = append(missing, key)
			}
		}
		if len(missing) > 0 {
			errs = append(errs, &egerrors.ConfigurationError{Measurement: name, Reason: fmt.Sprintf("entry %d: missing %s", i, strings.Join(missing, " and "))})
			continue
		}
		kind, err := ParseKind(m.String("kind", ""))
		if err != nil {
			errs = append(errs, &egerrors.ConfigurationError{Measurement: name, Reason: fmt.Sprintf("entry %d: %v", i, err)})
			continue
		}
		var stops []int
		for _, f := range m.FloatSlice("stop_categories", nil) {
			stops = append(stops, int(f))
		}
		b.Add(MeasurementSpec{
			Name:           name,
			Kind:           kind,
			VocabSize:      m.Int("vocab_size", 0),
			ValueDim:       m.Int("value_dim", 0),
			Level:          m.Int("level", 0),
			Family:         m.String("family", ""),
			Components:     m.Int("components", 0),
			Function:       m.String("function", ""),
			StopCategories: stops,
		})
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return b.Compile()
}
