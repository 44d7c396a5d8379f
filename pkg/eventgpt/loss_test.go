package eventgpt_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/randalmurphal/eventgpt/pkg/eventgpt"
	"github.com/randalmurphal/eventgpt/pkg/eventgpt/event"
	"github.com/randalmurphal/eventgpt/pkg/eventgpt/schema"
)

func TestForwardAndLoss_MissingValueRemovesExactlyItsTerm(t *testing.T) {
	s := testSchema(t)
	m := testModel(t, s)
	ctx := context.Background()

	full := testSequence("a")
	missing := full.Clone()
	missing.Events[2].Measurements["lab"] = event.Missing()

	withAll, err := m.ForwardAndLoss(ctx, batchOf(s, full))
	require.NoError(t, err)
	without, err := m.ForwardAndLoss(ctx, batchOf(s, missing))
	require.NoError(t, err)

	// The lab term of event 2 is scored from the hidden state of (2, 0).
	hidden, err := m.Hidden(ctx, batchOf(s, full))
	require.NoError(t, err)
	head, ok := m.Head("lab")
	require.True(t, ok)
	dist, err := head.Distribution(hidden[0][2][0])
	require.NoError(t, err)
	ll, observed := dist.LogLikelihood(event.Scalar(0.25))
	require.True(t, observed)

	assert.Equal(t, withAll.Triples-1, without.Triples)
	assert.Less(t, without.Sum, withAll.Sum)
	assert.InDelta(t, -ll.Data, withAll.Sum-without.Sum, 1e-9)
	assert.InDelta(t, withAll.ByMeasurement["lab"].NLL-without.ByMeasurement["lab"].NLL, -ll.Data, 1e-9)
	assert.Equal(t, withAll.ByMeasurement["event_type"], without.ByMeasurement["event_type"])
}

func TestForwardAndLoss_PaddingHasNoInfluence(t *testing.T) {
	s := testSchema(t)
	m := testModel(t, s)
	ctx := context.Background()

	short := event.NewSequence("short", testStart, fullEvent(0, 1, 2), fullEvent(10, 0, 1, 3))
	long := testSequence("long")

	alone, err := m.ForwardAndLoss(ctx, batchOf(s, short))
	require.NoError(t, err)
	longAlone, err := m.ForwardAndLoss(ctx, batchOf(s, long))
	require.NoError(t, err)
	padded, err := m.ForwardAndLoss(ctx, batchOf(s, short, long))
	require.NoError(t, err)

	assert.InDelta(t, alone.Sum+longAlone.Sum, padded.Sum, 1e-9)
	assert.Equal(t, alone.Triples+longAlone.Triples, padded.Triples)

	// Garbage in padding events is never read.
	batch := batchOf(s, short, long)
	batch.Sequences[0].Events[2].Measurements = map[string]event.Value{"not_in_schema": event.Scalar(1)}
	again, err := m.ForwardAndLoss(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, padded.Sum, again.Sum)
}

func TestForwardAndLoss_TripleAccounting(t *testing.T) {
	s := testSchema(t)
	m := testModel(t, s)

	result, err := m.ForwardAndLoss(context.Background(), batchOf(s, testSequence("a")))
	require.NoError(t, err)

	// Event 0 level 0 has no predecessor and its gap is missing anyway.
	// Level 1 of every event scores lab and dx; level 0 of events 1 and 2
	// scores event type and gap.
	assert.Equal(t, 3*2+2*2, result.Triples)
	assert.Equal(t, 3, result.ByMeasurement["lab"].Count)
	assert.Equal(t, 2, result.ByMeasurement["gap"].Count)
	assert.Equal(t, 2, result.ByKind[schema.SingleCategorical].Count)
	assert.InDelta(t, result.Sum/float64(result.Triples), result.Value(), 1e-12)

	total := 0.0
	for _, b := range result.ByMeasurement {
		total += b.NLL
	}
	assert.InDelta(t, result.Sum, total, 1e-9)
}

func TestForwardAndLoss_AllMissingIsZero(t *testing.T) {
	s := testSchema(t)
	m := testModel(t, s)

	seq := event.NewSequence("a", testStart, event.Event{Time: 0}, event.Event{Time: 0})
	result, err := m.ForwardAndLoss(context.Background(), batchOf(s, seq))
	require.NoError(t, err)

	assert.Zero(t, result.Triples)
	assert.Zero(t, result.Value())
	result.Backward()
}

func TestForwardAndLoss_Errors(t *testing.T) {
	s := testSchema(t)
	m := testModel(t, s)
	ctx := context.Background()

	t.Run("unknown measurement", func(t *testing.T) {
		seq := event.NewSequence("a", testStart, event.Event{Measurements: map[string]event.Value{"heart_rate": event.Scalar(80)}})
		_, err := m.ForwardAndLoss(ctx, batchOf(s, seq))
		var unknown *eventgpt.UnknownMeasurementError
		require.ErrorAs(t, err, &unknown)
		assert.Equal(t, "heart_rate", unknown.Measurement)
	})

	t.Run("ragged batch", func(t *testing.T) {
		batch := &event.Batch{Schema: s, Sequences: []event.Sequence{
			testSequence("a"),
			event.NewSequence("b", testStart, fullEvent(0, 0, 0)),
		}}
		_, err := m.ForwardAndLoss(ctx, batch)
		assert.ErrorIs(t, err, eventgpt.ErrShapeMismatch)
	})

	t.Run("cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := m.ForwardAndLoss(cctx, batchOf(s, testSequence("a")))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestForwardAndLoss_Observability(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	original := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(original) })

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	s := testSchema(t)
	m := testModel(t, s, eventgpt.WithLogger(logger), eventgpt.WithTracing(true), eventgpt.WithMetrics(false))

	_, err := m.ForwardAndLoss(context.Background(), batchOf(s, testSequence("a")))
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "forward completed")

	var names []string
	for _, span := range recorder.Ended() {
		names = append(names, span.Name())
	}
	assert.Contains(t, names, "eventgpt.forward")
}
