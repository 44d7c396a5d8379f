package event

import (
	"errors"
	"maps"
	"slices"

	egerrors "github.com/randalmurphal/eventgpt/pkg/eventgpt/errors"
	"github.com/randalmurphal/eventgpt/pkg/eventgpt/schema"
)

// Event is one timestamped bundle of measurements for a subject.
// The core never mutates an Event.
type Event struct {
	// Time is minutes since the sequence start.
	Time float64

	SubjectID string

	// Measurements maps measurement names to values. Names absent from the
	// map are missing.
	Measurements map[string]Value
}

// Get returns the value for name, or the missing sentinel.
func (e Event) Get(name string) Value {
	if v, ok := e.Measurements[name]; ok {
		return v
	}
	return Missing()
}

// Clone returns a deep copy.
func (e Event) Clone() Event {
	out := Event{Time: e.Time, SubjectID: e.SubjectID}
	if e.Measurements != nil {
		out.Measurements = make(map[string]Value, len(e.Measurements))
		for k, v := range e.Measurements {
			out.Measurements[k] = v.Clone()
		}
	}
	return out
}

// Group holds the values of one dependency graph level of an event.
// Every measurement at the level is present; unobserved ones hold the
// missing sentinel.
type Group struct {
	Level  int
	Values map[string]Value
}

// Split partitions an event's bundle into one Group per schema level, in
// level order, filling unobserved measurements with the missing sentinel.
//
// Split is pure and deterministic. It fails with
// *errors.UnknownMeasurementError for a name the schema does not declare and
// *errors.ShapeMismatchError for a value inconsistent with its spec.
func Split(ev Event, s *schema.Schema) ([]Group, error) {
	return split(ev, s, -1)
}

func split(ev Event, s *schema.Schema, index int) ([]Group, error) {
	// Sorted so the reported error does not depend on map order.
	for _, name := range slices.Sorted(maps.Keys(ev.Measurements)) {
		if _, ok := s.Spec(name); !ok {
			return nil, &egerrors.UnknownMeasurementError{Measurement: name, SubjectID: ev.SubjectID, Event: index}
		}
	}

	groups := make([]Group, s.NumLevels())
	for l := range groups {
		names := s.Level(l)
		g := Group{Level: l, Values: make(map[string]Value, len(names))}
		for _, name := range names {
			m, _ := s.Spec(name)
			v, err := normalize(ev.Get(name), m)
			if err != nil {
				var sme *egerrors.ShapeMismatchError
				if errors.As(err, &sme) && index >= 0 {
					sme.Field = withEventIndex(sme.Field, index)
				}
				return nil, err
			}
			g.Values[name] = v
		}
		groups[l] = g
	}
	return groups, nil
}
