package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer is the eventgpt tracer instance.
// Uses the global OTel tracer provider.
var tracer = otel.Tracer("eventgpt")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartForwardSpan starts a span for a forward pass over a batch.
	StartForwardSpan(ctx context.Context, sequences, events int) (context.Context, trace.Span)

	// StartGenerateSpan starts a span for a whole generation run.
	StartGenerateSpan(ctx context.Context, runID string, sequences int) (context.Context, trace.Span)

	// StartEventSpan starts a span for generating one event of one sequence.
	// It should be a child of the generate span.
	StartEventSpan(ctx context.Context, sequence, event int) (context.Context, trace.Span)

	// StartTrainStepSpan starts a span for one trainer step.
	StartTrainStepSpan(ctx context.Context, runID string, step int) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

func (m *otelSpanManager) StartForwardSpan(ctx context.Context, sequences, events int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "eventgpt.forward",
		trace.WithAttributes(
			attribute.Int("batch.sequences", sequences),
			attribute.Int("batch.events", events),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) StartGenerateSpan(ctx context.Context, runID string, sequences int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "eventgpt.generate",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.Int("batch.sequences", sequences),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) StartEventSpan(ctx context.Context, sequence, event int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "eventgpt.generate.event",
		trace.WithAttributes(
			attribute.Int("sequence.index", sequence),
			attribute.Int("event.index", event),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) StartTrainStepSpan(ctx context.Context, runID string, step int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "eventgpt.train.step",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.Int("train.step", step),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	EndSpanWithError(span, err)
}

// AddSpanEvent adds an event to the current span.
func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	AddSpanEvent(ctx, name, attrs...)
}

// EndSpanWithError completes a span, optionally recording an error.
func EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span in context.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
