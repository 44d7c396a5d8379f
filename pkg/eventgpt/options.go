package eventgpt

import (
	"log/slog"

	"github.com/randalmurphal/eventgpt/pkg/eventgpt/observability"
)

// modelOptions holds the ambient wiring of a Model.
type modelOptions struct {
	logger         *slog.Logger
	metrics        observability.MetricsRecorder
	metricsEnabled bool
	spans          observability.SpanManager
	tracingEnabled bool
}

func defaultModelOptions() modelOptions {
	return modelOptions{
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
	}
}

// Option configures a Model.
type Option func(*modelOptions)

// WithLogger sets the structured logger. A nil logger disables logging.
func WithLogger(logger *slog.Logger) Option {
	return func(o *modelOptions) {
		o.logger = logger
	}
}

// WithMetrics enables or disables OpenTelemetry metrics.
// Default: disabled
//
// Instruments are created on the global MeterProvider.
func WithMetrics(enabled bool) Option {
	return func(o *modelOptions) {
		o.metricsEnabled = enabled
		if enabled {
			o.metrics = observability.NewMetricsRecorder()
		} else {
			o.metrics = observability.NoopMetrics{}
		}
	}
}

// WithMetricsRecorder installs a custom recorder and enables metrics.
func WithMetricsRecorder(r observability.MetricsRecorder) Option {
	return func(o *modelOptions) {
		if r == nil {
			return
		}
		o.metricsEnabled = true
		o.metrics = r
	}
}

// WithTracing enables or disables OpenTelemetry spans.
// Default: disabled
func WithTracing(enabled bool) Option {
	return func(o *modelOptions) {
		o.tracingEnabled = enabled
		if enabled {
			o.spans = observability.NewSpanManager()
		} else {
			o.spans = observability.NoopSpanManager{}
		}
	}
}

// generateConfig holds configuration for one Generate call.
type generateConfig struct {
	maxSequenceLength int
	timeHorizon       float64
	hook              StepHook
	runID             string
}

// GenerateOption configures Generate.
type GenerateOption func(*generateConfig)

// WithMaxSequenceLength stops a sequence once it holds n events, seed
// included. Zero disables the limit.
func WithMaxSequenceLength(n int) GenerateOption {
	return func(c *generateConfig) {
		if n >= 0 {
			c.maxSequenceLength = n
		}
	}
}

// WithTimeHorizon stops a sequence when a sampled event would fall more than
// minutes after the sequence start. The event past the horizon is dropped.
// Zero disables the limit.
func WithTimeHorizon(minutes float64) GenerateOption {
	return func(c *generateConfig) {
		if minutes >= 0 {
			c.timeHorizon = minutes
		}
	}
}

// WithStepHook observes every state transition of every sequence.
// The hook runs synchronously on the generating goroutine.
func WithStepHook(hook StepHook) GenerateOption {
	return func(c *generateConfig) {
		c.hook = hook
	}
}

// WithRunID sets the run ID used in logs and spans.
// Default: a random UUID
func WithRunID(id string) GenerateOption {
	return func(c *generateConfig) {
		c.runID = id
	}
}
