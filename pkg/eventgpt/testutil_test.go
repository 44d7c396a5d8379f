package eventgpt_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/eventgpt/pkg/eventgpt"
	"github.com/randalmurphal/eventgpt/pkg/eventgpt/event"
	"github.com/randalmurphal/eventgpt/pkg/eventgpt/schema"
)

var testStart = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// testSchema has two levels: event type and gap at level 0, a lab value and
// diagnoses at level 1, plus time of day.
func testSchema(t *testing.T, stop ...int) *schema.Schema {
	t.Helper()
	s, err := schema.New().
		Add(schema.MeasurementSpec{Name: "event_type", Kind: schema.SingleCategorical, VocabSize: 3, StopCategories: stop}).
		Add(schema.MeasurementSpec{Name: "gap", Kind: schema.TimeToEvent}).
		Add(schema.MeasurementSpec{Name: "tod", Kind: schema.FunctionalTimeDependent, Function: schema.FunctionTimeOfDay}).
		Add(schema.MeasurementSpec{Name: "lab", Kind: schema.Regression, Level: 1}).
		Add(schema.MeasurementSpec{Name: "dx", Kind: schema.MultiCategorical, VocabSize: 4, Level: 1}).
		Compile()
	require.NoError(t, err)
	return s
}

func testModel(t *testing.T, s *schema.Schema, opts ...eventgpt.Option) *eventgpt.Model {
	t.Helper()
	m, err := eventgpt.New(s, eventgpt.DefaultModelConfig(), opts...)
	require.NoError(t, err)
	return m
}

func fullEvent(t float64, typ int, lab float64, dx ...int) event.Event {
	return event.Event{
		Time: t,
		Measurements: map[string]event.Value{
			"event_type": event.Category(typ),
			"lab":        event.Scalar(lab),
			"dx":         event.Labels(4, dx...),
		},
	}
}

func testSequence(subject string) event.Sequence {
	return event.NewSequence(subject, testStart,
		fullEvent(0, 0, 1.5, 1),
		fullEvent(30, 1, -0.5, 0, 2),
		fullEvent(95, 2, 0.25),
	)
}

func batchOf(s *schema.Schema, seqs ...event.Sequence) *event.Batch {
	return (&event.Batch{Schema: s, Sequences: seqs}).Pad()
}
