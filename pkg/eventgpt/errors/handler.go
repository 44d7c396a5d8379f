package errors

import (
	"context"
	"log/slog"
)

// Handler coordinates error handling strategies for training steps:
// retry with a lower learning rate, skip the batch, or abort.
type Handler struct {
	retry       RetryConfig
	logger      *slog.Logger
	onRetry     func(from, to float64, err error)
	onSkip      func(err error)
	onExhausted func(err error)
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// NewHandler creates a new error handler with the given options.
func NewHandler(opts ...HandlerOption) *Handler {
	h := &Handler{
		retry:  DefaultRetry,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(cfg RetryConfig) HandlerOption {
	return func(h *Handler) {
		h.retry = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithOnRetry sets a callback invoked each time the learning rate is lowered.
func WithOnRetry(fn func(from, to float64, err error)) HandlerOption {
	return func(h *Handler) {
		h.onRetry = fn
	}
}

// WithOnSkip sets a callback for skipped batches.
func WithOnSkip(fn func(err error)) HandlerOption {
	return func(h *Handler) {
		h.onSkip = fn
	}
}

// WithOnExhausted sets a callback for when retries are exhausted or the
// error is permanent.
func WithOnExhausted(fn func(err error)) HandlerOption {
	return func(h *Handler) {
		h.onExhausted = fn
	}
}

// ExecuteResult contains the result of a handled execution.
type ExecuteResult[T any] struct {
	// Value is the result if successful.
	Value T

	// Err is the error if failed. Nil when the batch was skipped.
	Err error

	// Skipped reports that the batch was unusable and was dropped.
	Skipped bool

	// SkipReason is the error that caused the skip.
	SkipReason error

	// LearningRate is the rate of the last attempt. Callers that keep
	// training should continue from it.
	LearningRate float64

	// Attempts is the total number of attempts made.
	Attempts int
}

// Execute runs fn with full error handling and no return value.
func (h *Handler) Execute(
	ctx context.Context,
	lr float64,
	fn func(ctx context.Context, lr float64) error,
) ExecuteResult[struct{}] {
	return Execute(ctx, h, lr, func(ctx context.Context, lr float64) (struct{}, error) {
		return struct{}{}, fn(ctx, lr)
	})
}

// Execute runs fn with full error handling and returns a value.
func Execute[T any](
	ctx context.Context,
	h *Handler,
	lr float64,
	fn func(ctx context.Context, lr float64) (T, error),
) ExecuteResult[T] {
	current := lr
	var lastErr error
	result := WithRetryContext(ctx, h.retry, lr, func(ctx context.Context, attemptLR float64) (T, error) {
		if lastErr != nil {
			h.logger.Info("lowering learning rate after unstable step",
				"from", current,
				"to", attemptLR,
				"error", lastErr,
			)
			if h.onRetry != nil {
				h.onRetry(current, attemptLR, lastErr)
			}
			current = attemptLR
		}
		v, err := fn(ctx, attemptLR)
		lastErr = err
		return v, err
	})

	out := ExecuteResult[T]{
		Value:        result.Value,
		LearningRate: result.LearningRate,
		Attempts:     result.Attempts,
	}
	if result.Err == nil {
		return out
	}

	switch Categorize(result.Err) {
	case CategorySkipBatch:
		h.logger.Warn("skipping batch", "error", result.Err)
		if h.onSkip != nil {
			h.onSkip(result.Err)
		}
		out.Skipped = true
		out.SkipReason = result.Err
		return out

	case CategoryCancelled:
		out.Err = result.Err
		return out

	default:
		// Permanent, or numeric failures that survived every retry
		if h.onExhausted != nil {
			h.onExhausted(result.Err)
		}
		out.Err = result.Err
		return out
	}
}
