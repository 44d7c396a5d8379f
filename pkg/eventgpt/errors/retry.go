package errors

import (
	"context"
	"time"
)

// RetryConfig configures retry behavior for numerically unstable steps.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	MaxAttempts int

	// LRFactor multiplies the learning rate after each retryable failure.
	LRFactor float64

	// MinLearningRate is the floor below which the learning rate is not lowered.
	MinLearningRate float64

	// RetryableFunc optionally overrides the default retryability check.
	RetryableFunc func(error) bool
}

// DefaultRetry is the standard retry configuration.
var DefaultRetry = RetryConfig{
	MaxAttempts:     3,
	LRFactor:        0.5,
	MinLearningRate: 1e-6,
}

// AggressiveRetry retries more times and lowers the rate faster.
var AggressiveRetry = RetryConfig{
	MaxAttempts:     5,
	LRFactor:        0.25,
	MinLearningRate: 1e-7,
}

// NoRetry disables retries.
var NoRetry = RetryConfig{
	MaxAttempts: 1,
	LRFactor:    1,
}

// RetryResult contains the result of a retry operation.
type RetryResult[T any] struct {
	// Value is the result if successful.
	Value T

	// Err is the final error if all attempts failed.
	Err error

	// Attempts is the number of attempts made.
	Attempts int

	// LearningRate is the rate used by the last attempt.
	LearningRate float64

	// Duration is the total time spent retrying.
	Duration time.Duration
}

// WithRetry executes fn with retries, lowering the learning rate between
// attempts. Context cancellation is not observed.
func WithRetry[T any](cfg RetryConfig, lr float64, fn func(lr float64) (T, error)) RetryResult[T] {
	return WithRetryContext(context.Background(), cfg, lr, func(_ context.Context, lr float64) (T, error) {
		return fn(lr)
	})
}

// WithRetryContext executes fn with retries, respecting context cancellation.
// Each retryable failure multiplies lr by cfg.LRFactor, clamped at
// cfg.MinLearningRate.
func WithRetryContext[T any](
	ctx context.Context,
	cfg RetryConfig,
	lr float64,
	fn func(ctx context.Context, lr float64) (T, error),
) RetryResult[T] {
	start := time.Now()
	var lastErr error

	isRetryable := cfg.RetryableFunc
	if isRetryable == nil {
		isRetryable = IsRetryable
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		// Check context before each attempt
		if err := ctx.Err(); err != nil {
			return RetryResult[T]{
				Err:          &CategorizedError{Err: err, Category: CategoryCancelled, Context: "context cancelled"},
				Attempts:     attempt,
				LearningRate: lr,
				Duration:     time.Since(start),
			}
		}

		result, err := fn(ctx, lr)
		if err == nil {
			return RetryResult[T]{
				Value:        result,
				Attempts:     attempt + 1,
				LearningRate: lr,
				Duration:     time.Since(start),
			}
		}

		lastErr = err

		if !isRetryable(err) {
			return RetryResult[T]{
				Err: &CategorizedError{
					Err:      err,
					Category: Categorize(err),
					Retries:  attempt + 1,
				},
				Attempts:     attempt + 1,
				LearningRate: lr,
				Duration:     time.Since(start),
			}
		}

		// Don't lower the rate after the last attempt
		if attempt < attempts-1 {
			lr = lowerLR(lr, cfg)
		}
	}

	return RetryResult[T]{
		Err: &CategorizedError{
			Err:      lastErr,
			Category: Categorize(lastErr),
			Retries:  attempts,
			Context:  "max retries exceeded",
		},
		Attempts:     attempts,
		LearningRate: lr,
		Duration:     time.Since(start),
	}
}

// lowerLR applies the decay factor and floor.
func lowerLR(lr float64, cfg RetryConfig) float64 {
	factor := cfg.LRFactor
	if factor <= 0 || factor > 1 {
		factor = DefaultRetry.LRFactor
	}
	next := lr * factor
	if next < cfg.MinLearningRate {
		next = cfg.MinLearningRate
	}
	return next
}

// RetryOption configures retry behavior.
type RetryOption func(*RetryConfig)

// WithMaxAttempts sets the maximum number of attempts.
func WithMaxAttempts(n int) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.MaxAttempts = n
	}
}

// WithLRFactor sets the learning-rate decay applied after a retryable failure.
func WithLRFactor(f float64) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.LRFactor = f
	}
}

// WithMinLearningRate sets the learning-rate floor.
func WithMinLearningRate(lr float64) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.MinLearningRate = lr
	}
}

// WithRetryableFunc sets a custom retryability check.
func WithRetryableFunc(fn func(error) bool) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.RetryableFunc = fn
	}
}

// NewRetryConfig creates a retry configuration with the given options.
func NewRetryConfig(opts ...RetryOption) RetryConfig {
	cfg := DefaultRetry
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
