package train

import (
	"log/slog"

	"github.com/randalmurphal/eventgpt/pkg/eventgpt/checkpoint"
	"github.com/randalmurphal/eventgpt/pkg/eventgpt/observability"
)

// Option configures a Trainer.
type Option func(*Trainer)

// WithLogger sets the structured logger. A nil logger disables logging.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Trainer) {
		t.logger = logger
	}
}

// WithMetrics enables or disables OpenTelemetry metrics.
// Default: disabled
func WithMetrics(enabled bool) Option {
	return func(t *Trainer) {
		if enabled {
			t.metrics = observability.NewMetricsRecorder()
		} else {
			t.metrics = observability.NoopMetrics{}
		}
	}
}

// WithMetricsRecorder installs a custom recorder.
func WithMetricsRecorder(r observability.MetricsRecorder) Option {
	return func(t *Trainer) {
		if r != nil {
			t.metrics = r
		}
	}
}

// WithTracing enables or disables OpenTelemetry spans.
// Default: disabled
func WithTracing(enabled bool) Option {
	return func(t *Trainer) {
		if enabled {
			t.spans = observability.NewSpanManager()
		} else {
			t.spans = observability.NoopSpanManager{}
		}
	}
}

// WithCheckpointStore enables checkpointing to store.
func WithCheckpointStore(store checkpoint.Store) Option {
	return func(t *Trainer) {
		t.store = store
	}
}

// WithRunID sets the run ID used for checkpoints, logs and spans.
// Default: a random UUID
func WithRunID(id string) Option {
	return func(t *Trainer) {
		t.runID = id
	}
}
