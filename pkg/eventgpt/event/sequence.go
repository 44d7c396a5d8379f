package event

import (
	"fmt"
	"slices"
	"time"

	egerrors "github.com/randalmurphal/eventgpt/pkg/eventgpt/errors"
	"github.com/randalmurphal/eventgpt/pkg/eventgpt/schema"
)

const (
	minutesPerDay  = 24 * 60
	minutesPerYear = 365.25 * minutesPerDay
)

// Sequence is the ordered events of one subject, padded to the batch length.
type Sequence struct {
	SubjectID string

	// StartTime anchors Event.Time. Zero means unknown; time of day and age
	// are then missing.
	StartTime time.Time

	// BirthTime is the subject's birth. Zero means unknown.
	BirthTime time.Time

	Events []Event

	// EventMask is true for real events and false for padding.
	EventMask []bool

	// LevelMask[e][l] is true when level l of event e is real. A nil
	// LevelMask marks every level of every real event valid.
	LevelMask [][]bool
}

// NewSequence builds an unpadded sequence with every event and level valid.
func NewSequence(subjectID string, start time.Time, events ...Event) Sequence {
	seq := Sequence{
		SubjectID: subjectID,
		StartTime: start,
		Events:    make([]Event, len(events)),
		EventMask: make([]bool, len(events)),
	}
	for i, ev := range events {
		if ev.SubjectID == "" {
			ev.SubjectID = subjectID
		}
		seq.Events[i] = ev
		seq.EventMask[i] = true
	}
	return seq
}

// Len returns the padded length.
func (s Sequence) Len() int {
	return len(s.Events)
}

// NumValid returns the number of real events.
func (s Sequence) NumValid() int {
	n := 0
	for _, ok := range s.EventMask {
		if ok {
			n++
		}
	}
	return n
}

// EventValid reports whether event e is real.
func (s Sequence) EventValid(e int) bool {
	return e >= 0 && e < len(s.EventMask) && s.EventMask[e]
}

// LevelValid reports whether level l of event e is real.
func (s Sequence) LevelValid(e, l int) bool {
	if !s.EventValid(e) {
		return false
	}
	if s.LevelMask == nil {
		return true
	}
	return l >= 0 && l < len(s.LevelMask[e]) && s.LevelMask[e][l]
}

// Clone returns a deep copy.
func (s Sequence) Clone() Sequence {
	out := s
	out.Events = make([]Event, len(s.Events))
	for i, ev := range s.Events {
		out.Events[i] = ev.Clone()
	}
	out.EventMask = slices.Clone(s.EventMask)
	if s.LevelMask != nil {
		out.LevelMask = make([][]bool, len(s.LevelMask))
		for i, row := range s.LevelMask {
			out.LevelMask[i] = slices.Clone(row)
		}
	}
	return out
}

// Compact returns a copy without padding events.
func (s Sequence) Compact(numLevels int) Sequence {
	out := s
	out.Events = nil
	out.EventMask = nil
	out.LevelMask = nil
	for e, ev := range s.Events {
		if !s.EventValid(e) {
			continue
		}
		out.Events = append(out.Events, ev.Clone())
		out.EventMask = append(out.EventMask, true)
		row := make([]bool, numLevels)
		for l := range row {
			row[l] = s.LevelValid(e, l)
		}
		out.LevelMask = append(out.LevelMask, row)
	}
	return out
}

// WithEvent returns a copy with ev appended as a real event. levelsValid
// gives the per-level mask of the new event.
func (s Sequence) WithEvent(ev Event, levelsValid []bool) Sequence {
	out := s.Clone()
	if out.LevelMask == nil {
		out.LevelMask = make([][]bool, len(out.Events))
		for e := range out.LevelMask {
			row := make([]bool, len(levelsValid))
			for l := range row {
				row[l] = out.EventValid(e)
			}
			out.LevelMask[e] = row
		}
	}
	out.Events = append(out.Events, ev.Clone())
	out.EventMask = append(out.EventMask, true)
	out.LevelMask = append(out.LevelMask, slices.Clone(levelsValid))
	return out
}

// pad returns a copy extended with padding events to length n.
func (s Sequence) pad(n, numLevels int) Sequence {
	out := s.Clone()
	if out.LevelMask == nil && len(out.Events) < n {
		out.LevelMask = make([][]bool, len(out.Events))
		for e := range out.LevelMask {
			row := make([]bool, numLevels)
			for l := range row {
				row[l] = out.EventValid(e)
			}
			out.LevelMask[e] = row
		}
	}
	for len(out.Events) < n {
		out.Events = append(out.Events, Event{SubjectID: s.SubjectID})
		out.EventMask = append(out.EventMask, false)
		out.LevelMask = append(out.LevelMask, make([]bool, numLevels))
	}
	return out
}

// Batch is a set of sequences sharing a schema and padded length.
type Batch struct {
	Schema    *schema.Schema
	Sequences []Sequence
}

// Len returns the common padded length, or 0 for an empty batch.
func (b *Batch) Len() int {
	if len(b.Sequences) == 0 {
		return 0
	}
	return b.Sequences[0].Len()
}

// Pad returns a copy with every sequence padded to the longest one.
func (b *Batch) Pad() *Batch {
	n := 0
	for _, seq := range b.Sequences {
		n = max(n, seq.Len())
	}
	levels := 0
	if b.Schema != nil {
		levels = b.Schema.NumLevels()
	}
	out := &Batch{Schema: b.Schema, Sequences: make([]Sequence, len(b.Sequences))}
	for i, seq := range b.Sequences {
		out.Sequences[i] = seq.pad(n, levels)
	}
	return out
}

// Validate checks the batch against its schema: a common padded length,
// mask shapes, and non-decreasing times across real events. It does not
// inspect measurement values; SplitSequence does.
func (b *Batch) Validate() error {
	if b.Schema == nil {
		return &egerrors.ConfigurationError{Reason: "batch has no schema"}
	}
	if len(b.Sequences) == 0 {
		return egerrors.ShapeMismatch("sequences", 0, ">= 1")
	}
	n := b.Sequences[0].Len()
	levels := b.Schema.NumLevels()
	for i, seq := range b.Sequences {
		field := func(name string) string { return fmt.Sprintf("sequence[%d].%s", i, name) }
		if seq.Len() != n {
			return egerrors.ShapeMismatch(field("events"), seq.Len(), n)
		}
		if len(seq.EventMask) != n {
			return egerrors.ShapeMismatch(field("event_mask"), len(seq.EventMask), n)
		}
		if seq.LevelMask != nil {
			if len(seq.LevelMask) != n {
				return egerrors.ShapeMismatch(field("level_mask"), len(seq.LevelMask), n)
			}
			for e, row := range seq.LevelMask {
				if len(row) != levels {
					return egerrors.ShapeMismatch(field(fmt.Sprintf("level_mask[%d]", e)), len(row), levels)
				}
			}
		}
		prev := -1
		for e := range seq.Events {
			if !seq.EventValid(e) {
				continue
			}
			if prev >= 0 && seq.Events[e].Time < seq.Events[prev].Time {
				return egerrors.ShapeMismatch(
					field(fmt.Sprintf("events[%d].time", e)),
					seq.Events[e].Time,
					fmt.Sprintf(">= %v", seq.Events[prev].Time),
				)
			}
			prev = e
		}
	}
	return nil
}

// SplitSequence splits every real event of seq into per-level groups.
// Padding events yield nil so their content is never inspected.
//
// When the schema declares a time-to-event measurement and an event does not
// carry it, the gap to the previous real event is used; the first event and
// non-positive gaps are missing. Functional measurements are computed from
// StartTime and BirthTime and override any value in the bundle.
func SplitSequence(seq Sequence, s *schema.Schema) ([][]Group, error) {
	tte, hasTTE := s.TimeToEvent()
	functional := s.Functional()

	out := make([][]Group, len(seq.Events))
	prev := -1
	for e, ev := range seq.Events {
		if !seq.EventValid(e) {
			continue
		}
		if ev.SubjectID == "" {
			ev.SubjectID = seq.SubjectID
		}
		groups, err := split(ev, s, e)
		if err != nil {
			return nil, err
		}

		if hasTTE && groups[0].Values[tte.Name].IsMissing() && prev >= 0 {
			if gap := ev.Time - seq.Events[prev].Time; gap > 0 {
				groups[0].Values[tte.Name] = Scalar(gap)
			}
		}
		for _, f := range functional {
			groups[f.Level].Values[f.Name] = Functional(f, seq, ev.Time)
		}

		out[e] = groups
		prev = e
	}
	return out, nil
}

// Functional computes a functional time-dependent measurement at t minutes
// after the sequence start: hours since midnight for time of day, years
// since birth for age.
func Functional(m schema.MeasurementSpec, seq Sequence, t float64) Value {
	if seq.StartTime.IsZero() {
		return MissingFor(m)
	}
	at := seq.StartTime.Add(time.Duration(t * float64(time.Minute)))
	switch m.Function {
	case schema.FunctionTimeOfDay:
		midnight := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, at.Location())
		return Scalar(at.Sub(midnight).Hours())
	case schema.FunctionAge:
		if seq.BirthTime.IsZero() {
			return MissingFor(m)
		}
		return Scalar(at.Sub(seq.BirthTime).Minutes() / minutesPerYear)
	default:
		return MissingFor(m)
	}
}

func withEventIndex(field string, index int) string {
	return fmt.Sprintf("events[%d].%s", index, field)
}
