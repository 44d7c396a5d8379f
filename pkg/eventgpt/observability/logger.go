// Package observability provides structured logging, metrics, and tracing
// for eventgpt models and trainers.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
// Every Log helper accepts a nil logger.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds run context to a logger.
// Returns a new logger with run_id and, when non-empty, subject_id fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "run-123", "subject-7")
//	enriched.Info("sampled event") // includes run_id, subject_id
func EnrichLogger(logger *slog.Logger, runID, subjectID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	if subjectID == "" {
		return logger.With(slog.String("run_id", runID))
	}
	return logger.With(
		slog.String("run_id", runID),
		slog.String("subject_id", subjectID),
	)
}

// LogForwardStart logs the start of a forward pass.
func LogForwardStart(logger *slog.Logger, sequences, events int) {
	if logger == nil {
		return
	}
	logger.Debug("forward starting",
		slog.Int("sequences", sequences),
		slog.Int("events", events),
	)
}

// LogForwardComplete logs a finished forward pass.
func LogForwardComplete(logger *slog.Logger, loss float64, triples int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("forward completed",
		slog.Float64("loss", loss),
		slog.Int("triples", triples),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogForwardError logs a failed forward pass.
func LogForwardError(logger *slog.Logger, err error, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Error("forward failed",
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogGenerateStart logs the start of a generation run.
func LogGenerateStart(logger *slog.Logger, runID string, sequences, maxNewEvents int) {
	if logger == nil {
		return
	}
	logger.Info("generation starting",
		slog.String("run_id", runID),
		slog.Int("sequences", sequences),
		slog.Int("max_new_events", maxNewEvents),
	)
}

// LogGenerateComplete logs a finished generation run.
func LogGenerateComplete(logger *slog.Logger, runID string, events int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("generation completed",
		slog.String("run_id", runID),
		slog.Int("events_generated", events),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogGenerateError logs a failed generation run.
func LogGenerateError(logger *slog.Logger, runID string, err error, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Error("generation failed",
		slog.String("run_id", runID),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogSequenceStopped logs the terminal state of one generated sequence.
func LogSequenceStopped(logger *slog.Logger, sequence int, reason string, events int) {
	if logger == nil {
		return
	}
	logger.Debug("sequence stopped",
		slog.Int("sequence", sequence),
		slog.String("reason", reason),
		slog.Int("events", events),
	)
}

// LogTrainStep logs a completed optimizer step.
func LogTrainStep(logger *slog.Logger, step int, loss, lr float64) {
	if logger == nil {
		return
	}
	logger.Info("train step",
		slog.Int("step", step),
		slog.Float64("loss", loss),
		slog.Float64("learning_rate", lr),
	)
}

// LogTrainRetry logs a step retried at a lower learning rate.
func LogTrainRetry(logger *slog.Logger, step int, fromLR, toLR float64, err error) {
	if logger == nil {
		return
	}
	logger.Warn("train step retrying",
		slog.Int("step", step),
		slog.Float64("from_lr", fromLR),
		slog.Float64("to_lr", toLR),
		slog.String("error", err.Error()),
	)
}

// LogTrainSkip logs a batch skipped because of bad data.
func LogTrainSkip(logger *slog.Logger, step int, err error) {
	if logger == nil {
		return
	}
	logger.Warn("batch skipped",
		slog.Int("step", step),
		slog.String("error", err.Error()),
	)
}

// LogCheckpoint logs checkpoint creation.
func LogCheckpoint(logger *slog.Logger, runID string, step int, sizeBytes int) {
	if logger == nil {
		return
	}
	logger.Debug("checkpoint saved",
		slog.String("run_id", runID),
		slog.Int("step", step),
		slog.Int("size_bytes", sizeBytes),
	)
}

// LogCheckpointError logs checkpoint failure (non-fatal).
func LogCheckpointError(logger *slog.Logger, runID string, op string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("checkpoint failed",
		slog.String("run_id", runID),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
