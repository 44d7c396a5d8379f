package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Train step outcomes recorded by RecordTrainStep.
const (
	OutcomeOK      = "ok"
	OutcomeRetried = "retried"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// MetricsRecorder records eventgpt metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordForward records a forward pass with its loss, duration, and error status.
	RecordForward(ctx context.Context, sequences int, loss float64, duration time.Duration, err error)

	// RecordGenerate records a generation run.
	RecordGenerate(ctx context.Context, events int, duration time.Duration, err error)

	// RecordTrainStep records one trainer step and how it ended.
	RecordTrainStep(ctx context.Context, outcome string, lr float64)

	// RecordCheckpoint records a checkpoint save operation.
	RecordCheckpoint(ctx context.Context, runID string, sizeBytes int64)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	forwardCount    metric.Int64Counter
	forwardLatency  metric.Float64Histogram
	forwardLoss     metric.Float64Histogram
	forwardErrors   metric.Int64Counter
	generateEvents  metric.Int64Counter
	generateLatency metric.Float64Histogram
	trainSteps      metric.Int64Counter
	learningRate    metric.Float64Gauge
	checkpointSize  metric.Int64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("eventgpt")

	forwardCount, err := meter.Int64Counter("eventgpt.forward.count",
		metric.WithDescription("Number of forward passes"),
	)
	if err != nil {
		return nil, err
	}

	forwardLatency, err := meter.Float64Histogram("eventgpt.forward.latency_ms",
		metric.WithDescription("Forward pass latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	forwardLoss, err := meter.Float64Histogram("eventgpt.forward.loss",
		metric.WithDescription("Mean negative log-likelihood per scored triple"),
	)
	if err != nil {
		return nil, err
	}

	forwardErrors, err := meter.Int64Counter("eventgpt.forward.errors",
		metric.WithDescription("Number of failed forward passes"),
	)
	if err != nil {
		return nil, err
	}

	generateEvents, err := meter.Int64Counter("eventgpt.generate.events",
		metric.WithDescription("Number of generated events"),
	)
	if err != nil {
		return nil, err
	}

	generateLatency, err := meter.Float64Histogram("eventgpt.generate.latency_ms",
		metric.WithDescription("Generation run latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	trainSteps, err := meter.Int64Counter("eventgpt.train.steps",
		metric.WithDescription("Number of trainer steps by outcome"),
	)
	if err != nil {
		return nil, err
	}

	learningRate, err := meter.Float64Gauge("eventgpt.train.learning_rate",
		metric.WithDescription("Learning rate of the last trainer step"),
	)
	if err != nil {
		return nil, err
	}

	checkpointSize, err := meter.Int64Histogram("eventgpt.checkpoint.size_bytes",
		metric.WithDescription("Checkpoint size in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		forwardCount:    forwardCount,
		forwardLatency:  forwardLatency,
		forwardLoss:     forwardLoss,
		forwardErrors:   forwardErrors,
		generateEvents:  generateEvents,
		generateLatency: generateLatency,
		trainSteps:      trainSteps,
		learningRate:    learningRate,
		checkpointSize:  checkpointSize,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordForward records a forward pass.
func (m *otelMetrics) RecordForward(ctx context.Context, sequences int, loss float64, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.Bool("success", err == nil))
	m.forwardCount.Add(ctx, 1, attrs)
	m.forwardLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	if err != nil {
		m.forwardErrors.Add(ctx, 1)
		return
	}
	m.forwardLoss.Record(ctx, loss, metric.WithAttributes(attribute.Int("sequences", sequences)))
}

// RecordGenerate records a generation run.
func (m *otelMetrics) RecordGenerate(ctx context.Context, events int, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.Bool("success", err == nil))
	m.generateEvents.Add(ctx, int64(events), attrs)
	m.generateLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
}

// RecordTrainStep records a trainer step.
func (m *otelMetrics) RecordTrainStep(ctx context.Context, outcome string, lr float64) {
	m.trainSteps.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	m.learningRate.Record(ctx, lr)
}

// RecordCheckpoint records a checkpoint save.
func (m *otelMetrics) RecordCheckpoint(ctx context.Context, runID string, sizeBytes int64) {
	m.checkpointSize.Record(ctx, sizeBytes, metric.WithAttributes(attribute.String("run_id", runID)))
}
