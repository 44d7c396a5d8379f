package eventgpt

import (
	"context"
	"time"

	"github.com/randalmurphal/eventgpt/pkg/eventgpt/autograd"
	"github.com/randalmurphal/eventgpt/pkg/eventgpt/event"
	"github.com/randalmurphal/eventgpt/pkg/eventgpt/observability"
	"github.com/randalmurphal/eventgpt/pkg/eventgpt/schema"
)

// Breakdown is the negative log-likelihood contributed by one measurement
// or one kind.
type Breakdown struct {
	// NLL is the summed negative log-likelihood.
	NLL float64
	// Count is the number of scored (event, measurement) pairs.
	Count int
}

// Mean returns NLL / Count, or 0 when nothing was scored.
func (b Breakdown) Mean() float64 {
	if b.Count == 0 {
		return 0
	}
	return b.NLL / float64(b.Count)
}

// LossResult is the outcome of one forward pass.
type LossResult struct {
	// Loss is Sum / Triples as a differentiable scalar. It is an exact zero
	// leaf when nothing was scored.
	Loss *autograd.Scalar

	// Total is the differentiable summed negative log-likelihood.
	Total *autograd.Scalar

	// Sum is Total's value.
	Sum float64

	// Triples counts scored (sequence, event, measurement) triples.
	Triples int

	ByMeasurement map[string]Breakdown
	ByKind        map[schema.Kind]Breakdown
}

// Value returns the scalar loss.
func (r *LossResult) Value() float64 {
	if r == nil || r.Loss == nil {
		return 0
	}
	return r.Loss.Data
}

// Backward propagates gradients from Loss into the model parameters.
func (r *LossResult) Backward() {
	autograd.Backward(r.Loss)
}

// ForwardAndLoss computes the masked negative log-likelihood of batch.
//
// Each observed measurement at level l of event e is scored under the head
// distribution built from the hidden state of the most recent valid token
// before (e, l). With every level valid that is (e, l-1), or the last level
// of event e-1 when l is 0. The first token of a sequence has no
// predecessor and is not scored. Padding and missing values contribute
// exactly zero.
func (m *Model) ForwardAndLoss(ctx context.Context, batch *event.Batch) (result *LossResult, err error) {
	if err := m.checkBatch(batch); err != nil {
		return nil, err
	}

	elapsed := observability.TimedOperation()
	observability.LogForwardStart(m.opts.logger, len(batch.Sequences), batch.Len())

	ctx, span := m.opts.spans.StartForwardSpan(ctx, len(batch.Sequences), batch.Len())
	defer func() {
		m.opts.spans.EndSpanWithError(span, err)
	}()

	start := time.Now()
	result, err = m.forwardAndLoss(ctx, batch)
	m.opts.metrics.RecordForward(ctx, len(batch.Sequences), result.Value(), time.Since(start), err)

	if err != nil {
		observability.LogForwardError(m.opts.logger, err, elapsed())
		return nil, err
	}
	observability.LogForwardComplete(m.opts.logger, result.Value(), result.Triples, elapsed())
	return result, nil
}

func (m *Model) forwardAndLoss(ctx context.Context, batch *event.Batch) (*LossResult, error) {
	result := &LossResult{
		ByMeasurement: make(map[string]Breakdown),
		ByKind:        make(map[schema.Kind]Breakdown),
	}
	var terms []*autograd.Scalar

	for _, seq := range batch.Sequences {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		groups, hidden, err := m.encode(seq)
		if err != nil {
			return nil, err
		}
		for e := range seq.Events {
			if groups[e] == nil {
				continue
			}
			for l := 0; l < m.schema.NumLevels(); l++ {
				if !seq.LevelValid(e, l) {
					continue
				}
				h := predecessor(hidden, e, l)
				if h == nil {
					continue
				}
				for _, name := range m.schema.Generative(l) {
					dist, err := m.heads[name].Distribution(h)
					if err != nil {
						return nil, err
					}
					ll, observed := dist.LogLikelihood(groups[e][l].Values[name])
					if !observed {
						continue
					}
					nll := ll.Neg()
					terms = append(terms, nll)
					result.Triples++
					result.add(m.heads[name].Spec(), nll.Data)
				}
			}
		}
	}

	result.Total = autograd.SumScalars(terms)
	result.Sum = result.Total.Data
	if result.Triples == 0 {
		result.Loss = autograd.NewScalar(0)
		return result, nil
	}
	result.Loss = result.Total.MulF(1 / float64(result.Triples))
	return result, nil
}

func (r *LossResult) add(spec schema.MeasurementSpec, nll float64) {
	b := r.ByMeasurement[spec.Name]
	b.NLL += nll
	b.Count++
	r.ByMeasurement[spec.Name] = b

	k := r.ByKind[spec.Kind]
	k.NLL += nll
	k.Count++
	r.ByKind[spec.Kind] = k
}
