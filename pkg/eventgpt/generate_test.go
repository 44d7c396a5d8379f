package eventgpt_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/eventgpt/pkg/eventgpt"
	"github.com/randalmurphal/eventgpt/pkg/eventgpt/event"
)

func seedBatch(t *testing.T, m *eventgpt.Model) *event.Batch {
	t.Helper()
	return batchOf(m.Schema(), event.NewSequence("a", testStart, fullEvent(0, 0, 1, 2)))
}

func TestGenerate_OneEventLevelsInOrder(t *testing.T) {
	s := testSchema(t)
	m := testModel(t, s)

	var steps []eventgpt.Step
	out, err := m.Generate(context.Background(), seedBatch(t, m), 1,
		eventgpt.SamplingPolicy{Seed: 3},
		eventgpt.WithStepHook(func(st eventgpt.Step) { steps = append(steps, st) }),
	)
	require.NoError(t, err)

	require.Len(t, out.Sequences, 1)
	seq := out.Sequences[0]
	require.Equal(t, 2, seq.Len())
	for l := 0; l < s.NumLevels(); l++ {
		assert.True(t, seq.LevelValid(1, l))
	}

	gen := seq.Events[1]
	assert.GreaterOrEqual(t, gen.Get("event_type").Index(), 0)
	assert.Greater(t, gen.Time, seq.Events[0].Time, "sampled gap advances time")
	assert.InDelta(t, gen.Time-seq.Events[0].Time, gen.Get("gap").Float(), 1e-12)
	assert.False(t, gen.Get("lab").IsMissing())
	assert.Len(t, gen.Get("dx").Elements, 4)

	want := []struct {
		state eventgpt.GenerationState
		level int
	}{
		{eventgpt.AwaitingLevel, 0},
		{eventgpt.EmbeddingFeedback, 0},
		{eventgpt.AwaitingLevel, 1},
		{eventgpt.EmbeddingFeedback, 1},
		{eventgpt.Stopped, 0},
	}
	require.Len(t, steps, len(want))
	for i, w := range want {
		assert.Equal(t, w.state, steps[i].State, "step %d", i)
		assert.Equal(t, w.level, steps[i].Level, "step %d", i)
	}
	assert.Contains(t, steps[1].Values, "event_type")
	assert.Contains(t, steps[1].Values, "gap")
	assert.NotContains(t, steps[1].Values, "lab", "level 1 is sampled after level 0 is embedded")
	assert.Contains(t, steps[3].Values, "lab")
	assert.False(t, steps[1].Snapshot.LevelValid(1, 1), "snapshot after level 0 holds only level 0")
	assert.Equal(t, eventgpt.StopMaxNewEvents, steps[4].Reason)
}

func TestGenerate_SnapshotsAreImmutable(t *testing.T) {
	s := testSchema(t)
	m := testModel(t, s)

	var snapshots []event.Sequence
	var copies []event.Sequence
	_, err := m.Generate(context.Background(), seedBatch(t, m), 2, eventgpt.SamplingPolicy{Seed: 5},
		eventgpt.WithStepHook(func(st eventgpt.Step) {
			if st.State == eventgpt.EmbeddingFeedback {
				snapshots = append(snapshots, st.Snapshot)
				copies = append(copies, st.Snapshot.Clone())
			}
		}),
	)
	require.NoError(t, err)
	require.Len(t, snapshots, 4)
	assert.Equal(t, copies, snapshots)
}

func TestGenerate_Deterministic(t *testing.T) {
	s := testSchema(t)
	m := testModel(t, s)
	ctx := context.Background()

	a, err := m.Generate(ctx, seedBatch(t, m), 3, eventgpt.SamplingPolicy{Deterministic: true, Seed: 1})
	require.NoError(t, err)
	b, err := m.Generate(ctx, seedBatch(t, m), 3, eventgpt.SamplingPolicy{Deterministic: true, Seed: 2})
	require.NoError(t, err)
	assert.Equal(t, a, b, "mode decoding ignores the seed")

	c, err := m.Generate(ctx, seedBatch(t, m), 3, eventgpt.SamplingPolicy{Seed: 7})
	require.NoError(t, err)
	d, err := m.Generate(ctx, seedBatch(t, m), 3, eventgpt.SamplingPolicy{Seed: 7})
	require.NoError(t, err)
	assert.Equal(t, c, d, "same seed, same samples")
}

func TestGenerate_StopConditions(t *testing.T) {
	ctx := context.Background()

	t.Run("stop category", func(t *testing.T) {
		s := testSchema(t, 0, 1, 2)
		m := testModel(t, s)

		var reason eventgpt.StopReason
		out, err := m.Generate(ctx, seedBatch(t, m), 10, eventgpt.SamplingPolicy{Seed: 1},
			eventgpt.WithStepHook(func(st eventgpt.Step) {
				if st.State == eventgpt.Stopped {
					reason = st.Reason
				}
			}),
		)
		require.NoError(t, err)
		assert.Equal(t, eventgpt.StopCategory, reason)
		assert.Equal(t, 2, out.Sequences[0].Len(), "the stopping event is kept")
	})

	t.Run("max sequence length", func(t *testing.T) {
		s := testSchema(t)
		m := testModel(t, s)

		out, err := m.Generate(ctx, seedBatch(t, m), 10, eventgpt.SamplingPolicy{Seed: 1},
			eventgpt.WithMaxSequenceLength(3))
		require.NoError(t, err)
		assert.Equal(t, 3, out.Sequences[0].Len())
	})

	t.Run("time horizon", func(t *testing.T) {
		s := testSchema(t)
		m := testModel(t, s)

		// The median gap of a freshly initialized log-normal head is close
		// to one minute.
		var reason eventgpt.StopReason
		out, err := m.Generate(ctx, seedBatch(t, m), 10, eventgpt.SamplingPolicy{Deterministic: true},
			eventgpt.WithTimeHorizon(0.5),
			eventgpt.WithStepHook(func(st eventgpt.Step) {
				if st.State == eventgpt.Stopped {
					reason = st.Reason
				}
			}),
		)
		require.NoError(t, err)
		assert.Equal(t, eventgpt.StopTimeHorizon, reason)
		assert.Equal(t, 1, out.Sequences[0].Len(), "the event past the horizon is dropped")
	})

	t.Run("zero new events", func(t *testing.T) {
		s := testSchema(t)
		m := testModel(t, s)

		seed := seedBatch(t, m)
		out, err := m.Generate(ctx, seed, 0, eventgpt.SamplingPolicy{})
		require.NoError(t, err)
		assert.Equal(t, seed.Sequences[0].Events, out.Sequences[0].Events)
	})
}

func TestGenerate_PadsRaggedResults(t *testing.T) {
	s := testSchema(t, 2)
	m := testModel(t, s)

	seed := batchOf(s,
		event.NewSequence("a", testStart, fullEvent(0, 0, 1)),
		testSequence("b"),
	)
	out, err := m.Generate(context.Background(), seed, 2, eventgpt.SamplingPolicy{Seed: 11})
	require.NoError(t, err)
	require.NoError(t, out.Validate())

	assert.LessOrEqual(t, out.Sequences[0].NumValid(), 3)
	assert.LessOrEqual(t, out.Sequences[1].NumValid(), 5)
	assert.GreaterOrEqual(t, out.Sequences[1].NumValid(), 4)
}

func TestGenerate_Errors(t *testing.T) {
	s := testSchema(t)
	m := testModel(t, s)
	ctx := context.Background()

	t.Run("empty seed", func(t *testing.T) {
		_, err := m.Generate(ctx, batchOf(s, event.NewSequence("a", testStart)), 1, eventgpt.SamplingPolicy{})
		var genErr *eventgpt.GenerationError
		require.ErrorAs(t, err, &genErr)
		assert.ErrorIs(t, err, eventgpt.ErrEmptySeed)
	})

	t.Run("negative new events", func(t *testing.T) {
		_, err := m.Generate(ctx, seedBatch(t, m), -1, eventgpt.SamplingPolicy{})
		assert.ErrorIs(t, err, eventgpt.ErrConfiguration)
	})

	t.Run("cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		_, err := m.Generate(cctx, seedBatch(t, m), 5, eventgpt.SamplingPolicy{},
			eventgpt.WithStepHook(func(st eventgpt.Step) {
				if st.State == eventgpt.EmbeddingFeedback && st.Event == 2 && st.Level == 1 {
					cancel()
				}
			}),
		)
		require.ErrorIs(t, err, context.Canceled)

		var cancelErr *eventgpt.CancellationError
		require.ErrorAs(t, err, &cancelErr)
		assert.Equal(t, 3, cancelErr.Event)
		require.NotNil(t, cancelErr.Partial)
		assert.Equal(t, 3, cancelErr.Partial.Sequences[0].NumValid(), "completed events are kept")
	})
}

func TestGenerate_RejectsInvalidPolicy(t *testing.T) {
	s := testSchema(t)
	m := testModel(t, s)

	tests := []struct {
		name   string
		policy eventgpt.SamplingPolicy
	}{
		{"NaN temperature", eventgpt.SamplingPolicy{Temperature: math.NaN()}},
		{"infinite temperature", eventgpt.SamplingPolicy{Temperature: math.Inf(1)}},
		{"negative infinite temperature", eventgpt.SamplingPolicy{Temperature: math.Inf(-1)}},
		{"negative temperature", eventgpt.SamplingPolicy{Temperature: -0.5}},
		{"negative top k", eventgpt.SamplingPolicy{Temperature: 1, TopK: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.policy.Validate(), eventgpt.ErrConfiguration)

			out, err := m.Generate(context.Background(), seedBatch(t, m), 2, tt.policy)
			assert.ErrorIs(t, err, eventgpt.ErrConfiguration)
			assert.Nil(t, out)
		})
	}
}

func TestGenerate_VanishingTemperature(t *testing.T) {
	s := testSchema(t)
	m := testModel(t, s)

	out, err := m.Generate(context.Background(), seedBatch(t, m), 3, eventgpt.SamplingPolicy{Temperature: 1e-320, Seed: 2})
	require.NoError(t, err)

	seq := out.Sequences[0]
	for e := range seq.Events {
		if !seq.EventValid(e) {
			continue
		}
		idx := seq.Events[e].Get("event_type").Index()
		assert.GreaterOrEqual(t, idx, 0)
		assert.Less(t, idx, 3)
	}
}

func TestGenerate_LogsStoppedSequencesWithSubject(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s := testSchema(t)
	m := testModel(t, s, eventgpt.WithLogger(logger))

	_, err := m.Generate(context.Background(), seedBatch(t, m), 1, eventgpt.SamplingPolicy{Seed: 1},
		eventgpt.WithRunID("gen-log"))
	require.NoError(t, err)

	var stopped map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		if rec["msg"] == "sequence stopped" {
			stopped = rec
		}
	}
	require.NotNil(t, stopped)
	assert.Equal(t, "gen-log", stopped["run_id"])
	assert.Equal(t, "a", stopped["subject_id"])
	assert.Equal(t, string(eventgpt.StopMaxNewEvents), stopped["reason"])
}
