package eventgpt

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	egerrors "github.com/randalmurphal/eventgpt/pkg/eventgpt/errors"
	"github.com/randalmurphal/eventgpt/pkg/eventgpt/event"
	"github.com/randalmurphal/eventgpt/pkg/eventgpt/heads"
	"github.com/randalmurphal/eventgpt/pkg/eventgpt/observability"
	"github.com/randalmurphal/eventgpt/pkg/eventgpt/schema"
)

// SamplingPolicy controls how Generate draws values.
type SamplingPolicy struct {
	// Temperature divides categorical and Bernoulli logits. Zero is read as
	// 1. Negative and non-finite values are rejected.
	Temperature float64

	// TopK keeps the K most likely categories of single categorical
	// measurements. Zero disables.
	TopK int

	// Deterministic decodes the mode of every distribution instead of
	// sampling: argmax, mean, or median.
	Deterministic bool

	// Seed makes sampling reproducible. Sequence i draws from a PCG stream
	// seeded with (Seed, i).
	Seed uint64
}

// Validate reports a policy Generate cannot sample with.
func (p SamplingPolicy) Validate() error {
	if math.IsNaN(p.Temperature) || math.IsInf(p.Temperature, 0) || p.Temperature < 0 {
		return &egerrors.ConfigurationError{Reason: fmt.Sprintf("temperature must be a finite non-negative number, got %v", p.Temperature)}
	}
	if p.TopK < 0 {
		return &egerrors.ConfigurationError{Reason: fmt.Sprintf("top k must be >= 0, got %d", p.TopK)}
	}
	return nil
}

func (p SamplingPolicy) headPolicy() heads.Policy {
	return heads.Policy{Temperature: p.Temperature, TopK: p.TopK, Deterministic: p.Deterministic}
}

// GenerationState is a state of the per-sequence generation machine.
//
// A sequence cycles AwaitingLevel(e, 0) -> EmbeddingFeedback(e, 0) ->
// AwaitingLevel(e, 1) -> ... -> EmbeddingFeedback(e, L-1) ->
// AwaitingLevel(e+1, 0) until a stop condition moves it to Stopped.
type GenerationState int

const (
	// AwaitingLevel: the stack is about to run and level Level of event
	// Event is about to be sampled.
	AwaitingLevel GenerationState = iota

	// EmbeddingFeedback: level Level has been sampled and is folded into a
	// new sequence snapshot for the next forward pass.
	EmbeddingFeedback

	// Stopped is terminal.
	Stopped
)

// String returns the state name.
func (s GenerationState) String() string {
	switch s {
	case AwaitingLevel:
		return "awaiting_level"
	case EmbeddingFeedback:
		return "embedding_feedback"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StopReason names the condition that ended a sequence.
type StopReason string

// Stop reasons.
const (
	StopMaxNewEvents      StopReason = "max_new_events"
	StopMaxSequenceLength StopReason = "max_sequence_length"
	StopCategory          StopReason = "stop_category"
	StopTimeHorizon       StopReason = "time_horizon"
)

// Step describes one transition of the generation machine.
type Step struct {
	Sequence int
	Event    int
	Level    int
	State    GenerationState

	// Values holds the values sampled at Level. Set for EmbeddingFeedback.
	Values map[string]event.Value

	// Snapshot is the sequence after the transition. It is never mutated
	// afterwards. Set for EmbeddingFeedback and Stopped.
	Snapshot event.Sequence

	// Reason is set for Stopped.
	Reason StopReason
}

// StepHook observes generation transitions.
type StepHook func(Step)

// Generate extends every sequence of seed by up to maxNewEvents sampled
// events.
//
// Each new event is produced level by level: the stack runs over the
// current snapshot, the heads of level l sample from the hidden state of
// the preceding token, and the sampled level is appended to a new snapshot
// before level l+1 is sampled. A sampled time to event advances the event
// time. Sequences stop independently on maxNewEvents, the maximum sequence
// length, a stop category, or the time horizon. The result is padded to
// the longest sequence.
//
// Cancellation is checked before every event; a *CancellationError carries
// what was generated so far.
func (m *Model) Generate(ctx context.Context, seed *event.Batch, maxNewEvents int, policy SamplingPolicy, opts ...GenerateOption) (out *event.Batch, err error) {
	if err := m.checkBatch(seed); err != nil {
		return nil, err
	}
	if maxNewEvents < 0 {
		return nil, &egerrors.ConfigurationError{Reason: fmt.Sprintf("max new events must be >= 0, got %d", maxNewEvents)}
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	cfg := generateConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.runID == "" {
		cfg.runID = uuid.NewString()
	}

	elapsed := observability.TimedOperation()
	observability.LogGenerateStart(m.opts.logger, cfg.runID, len(seed.Sequences), maxNewEvents)

	ctx, span := m.opts.spans.StartGenerateSpan(ctx, cfg.runID, len(seed.Sequences))
	defer func() {
		m.opts.spans.EndSpanWithError(span, err)
	}()

	start := time.Now()
	levels := m.schema.NumLevels()
	done := make([]event.Sequence, len(seed.Sequences))
	for i, seq := range seed.Sequences {
		done[i] = seq.Compact(levels)
	}

	produced := 0
	for i := range done {
		var n int
		done[i], n, err = m.generateSequence(ctx, i, done[i], maxNewEvents, policy, &cfg)
		produced += n
		if err != nil {
			var cancelErr *CancellationError
			if errors.As(err, &cancelErr) {
				cancelErr.Partial = (&event.Batch{Schema: m.schema, Sequences: done}).Pad()
			}
			break
		}
	}

	m.opts.metrics.RecordGenerate(ctx, produced, time.Since(start), err)
	if err != nil {
		observability.LogGenerateError(m.opts.logger, cfg.runID, err, elapsed())
		return nil, err
	}
	observability.LogGenerateComplete(m.opts.logger, cfg.runID, produced, elapsed())
	return (&event.Batch{Schema: m.schema, Sequences: done}).Pad(), nil
}

// generateSequence runs the state machine for one compacted sequence and
// returns the extended sequence and the number of events added.
func (m *Model) generateSequence(ctx context.Context, idx int, seq event.Sequence, maxNew int, policy SamplingPolicy, cfg *generateConfig) (event.Sequence, int, error) {
	if seq.Len() == 0 {
		return seq, 0, &GenerationError{Sequence: idx, Err: ErrEmptySeed}
	}
	src := rand.NewPCG(policy.Seed, uint64(idx))
	p := policy.headPolicy()

	cur := seq
	added := 0
	var reason StopReason
	for reason == "" {
		switch {
		case added >= maxNew:
			reason = StopMaxNewEvents
			continue
		case cfg.maxSequenceLength > 0 && cur.Len() >= cfg.maxSequenceLength:
			reason = StopMaxSequenceLength
			continue
		}
		if err := ctx.Err(); err != nil {
			return cur, added, &CancellationError{Sequence: idx, Event: cur.Len(), Cause: err}
		}

		evCtx, span := m.opts.spans.StartEventSpan(ctx, idx, cur.Len())
		next, stop, err := m.generateEvent(evCtx, idx, cur, src, p, cfg)
		m.opts.spans.EndSpanWithError(span, err)
		if err != nil {
			return cur, added, err
		}
		if stop == StopTimeHorizon {
			reason = stop
			continue
		}
		cur = next
		added++
		reason = stop
	}

	cfg.emit(Step{Sequence: idx, Event: cur.Len(), State: Stopped, Snapshot: cur, Reason: reason})
	observability.LogSequenceStopped(observability.EnrichLogger(m.opts.logger, cfg.runID, cur.SubjectID), idx, string(reason), added)
	return cur, added, nil
}

// generateEvent samples one event level by level. It returns the snapshot
// holding the new event and, if the event triggers one, a stop reason. For
// StopTimeHorizon the event is not part of the returned snapshot.
func (m *Model) generateEvent(ctx context.Context, idx int, cur event.Sequence, src rand.Source, p heads.Policy, cfg *generateConfig) (event.Sequence, StopReason, error) {
	e := cur.Len()
	prevTime := cur.Events[e-1].Time
	ev := event.Event{
		SubjectID:    cur.SubjectID,
		Time:         prevTime,
		Measurements: make(map[string]event.Value),
	}
	levels := make([]bool, m.schema.NumLevels())
	tte, hasTTE := m.schema.TimeToEvent()

	var stop StopReason
	working := cur
	for l := range levels {
		cfg.emit(Step{Sequence: idx, Event: e, Level: l, State: AwaitingLevel})

		_, hidden, err := m.encode(working)
		if err != nil {
			return cur, "", &GenerationError{Sequence: idx, Event: e, Level: l, Err: err}
		}
		h := predecessor(hidden, e, l)
		if h == nil {
			return cur, "", &GenerationError{Sequence: idx, Event: e, Level: l, Err: ErrEmptySeed}
		}

		values := make(map[string]event.Value)
		for _, name := range m.schema.Generative(l) {
			head := m.heads[name]
			dist, err := head.Distribution(h)
			if err != nil {
				return cur, "", &GenerationError{Sequence: idx, Event: e, Level: l, Err: err}
			}
			v := dist.Sample(src, p)
			values[name] = v
			ev.Measurements[name] = v

			spec := head.Spec()
			if spec.Kind == schema.SingleCategorical && spec.IsStop(v.Index()) {
				stop = StopCategory
			}
		}

		if hasTTE && tte.Level == l {
			if gap := values[tte.Name].Float(); !math.IsNaN(gap) {
				ev.Time = prevTime + gap
			}
			if cfg.timeHorizon > 0 && ev.Time > cfg.timeHorizon {
				return cur, StopTimeHorizon, nil
			}
		}

		levels[l] = true
		working = cur.WithEvent(ev, levels)
		cfg.emit(Step{Sequence: idx, Event: e, Level: l, State: EmbeddingFeedback, Values: values, Snapshot: working})
		m.opts.spans.AddSpanEvent(ctx, "level_sampled", attribute.Int("level", l))
	}
	return working, stop, nil
}

func (c *generateConfig) emit(s Step) {
	if c.hook != nil {
		c.hook(s)
	}
}
