package embed_test

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/eventgpt/pkg/eventgpt/autograd"
	"github.com/randalmurphal/eventgpt/pkg/eventgpt/embed"
	"github.com/randalmurphal/eventgpt/pkg/eventgpt/event"
	"github.com/randalmurphal/eventgpt/pkg/eventgpt/schema"
)

func newEmbedder(t *testing.T) (*embed.Embedder, *schema.Schema) {
	t.Helper()
	s, err := schema.New().
		Add(schema.MeasurementSpec{Name: "event_type", Kind: schema.SingleCategorical, VocabSize: 3}).
		Add(schema.MeasurementSpec{Name: "gap", Kind: schema.TimeToEvent}).
		Add(schema.MeasurementSpec{Name: "tod", Kind: schema.FunctionalTimeDependent, Function: schema.FunctionTimeOfDay}).
		Add(schema.MeasurementSpec{Name: "dx", Kind: schema.MultiCategorical, VocabSize: 4, Level: 1}).
		Add(schema.MeasurementSpec{Name: "lab", Kind: schema.Regression, Level: 1}).
		Compile()
	require.NoError(t, err)
	e := embed.New(s, embed.Config{HiddenSize: 8, TimeScale: 1000, InitStd: 0.5}, rand.New(rand.NewPCG(1, 2)))
	return e, s
}

func TestMissingIsNotZero(t *testing.T) {
	e, _ := newEmbedder(t)

	zero := e.Measurement("lab", event.Scalar(0))
	missing := e.Measurement("lab", event.Missing())
	assert.NotEqual(t, zero.Data, missing.Data)

	for _, x := range zero.Data {
		assert.Zero(t, x, "observed zero projects to zero")
	}
}

func TestMultiCategorical(t *testing.T) {
	e, _ := newEmbedder(t)

	a := e.Measurement("dx", event.Labels(4, 0))
	b := e.Measurement("dx", event.Labels(4, 2))
	both := e.Measurement("dx", event.Labels(4, 0, 2))
	for i := range both.Data {
		assert.InDelta(t, (a.Data[i]+b.Data[i])/2, both.Data[i], 1e-12)
	}

	none := e.Measurement("dx", event.Labels(4))
	missing := e.Measurement("dx", event.PartialLabels(4, nil))
	assert.NotEqual(t, none.Data, missing.Data, "known absent differs from unobserved")

	partial := e.Measurement("dx", event.PartialLabels(4, map[int]bool{0: true, 1: false}))
	assert.Equal(t, a.Data, partial.Data)
}

func TestSequence_SharedTimeAndPadding(t *testing.T) {
	e, s := newEmbedder(t)
	start := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	seq := event.NewSequence("s", start,
		event.Event{Time: 0, Measurements: map[string]event.Value{"event_type": event.Category(1)}},
		event.Event{Time: 30, Measurements: map[string]event.Value{"lab": event.Scalar(2)}},
	)
	seq = (&event.Batch{Schema: s, Sequences: []event.Sequence{seq, event.NewSequence("t", start, event.Event{}, event.Event{}, event.Event{})}}).Pad().Sequences[0]
	seq.LevelMask[1][1] = false

	groups, err := event.SplitSequence(seq, s)
	require.NoError(t, err)
	tokens := e.Sequence(seq, groups)

	require.Len(t, tokens, 3)
	assert.NotNil(t, tokens[0][0])
	assert.NotNil(t, tokens[0][1])
	assert.NotNil(t, tokens[1][0])
	assert.Nil(t, tokens[1][1], "invalid level")
	assert.Nil(t, tokens[2][0], "padding event")
	for _, tok := range []*autograd.Vec{tokens[0][0], tokens[0][1], tokens[1][0]} {
		assert.Len(t, tok.Data, e.HiddenSize())
	}

	timeEnc := e.Time(30, groups[1][0])
	other := e.Time(31, groups[1][0])
	assert.NotEqual(t, timeEnc.Data, other.Data)
}

func TestParams_GradientsReachUsedRows(t *testing.T) {
	e, s := newEmbedder(t)
	seq := event.NewSequence("s", time.Time{},
		event.Event{Time: 0, Measurements: map[string]event.Value{"event_type": event.Category(2), "lab": event.Scalar(1.5)}},
	)
	groups, err := event.SplitSequence(seq, s)
	require.NoError(t, err)
	tokens := e.Sequence(seq, groups)

	loss := tokens[0][0].Sum().AddS(tokens[0][1].Sum())
	autograd.Backward(loss)

	params := map[string]*autograd.Matrix{}
	for _, p := range e.Params() {
		params[p.Name] = p.Matrix
	}
	require.Contains(t, params, "event_type.table")
	require.Contains(t, params, "functional.missing")

	table := params["event_type.table"]
	assert.NotZero(t, table.Row(2).Grad[0], "observed category row receives gradient")
	assert.Zero(t, table.Row(0).Grad[0], "unused category row is untouched")
	assert.NotZero(t, params["functional.missing"].Row(0).Grad[0], "unknown start time uses the missing row")
	assert.NotZero(t, params["gap.missing"].Row(0).Grad[0])
}
