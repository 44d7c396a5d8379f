package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"testing"
)

// discardLogger returns a logger that discards all output.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCategoryString(t *testing.T) {
	tests := []struct {
		category Category
		expected string
	}{
		{CategoryPermanent, "permanent"},
		{CategoryRetryLowerLR, "retry_lower_lr"},
		{CategorySkipBatch, "skip_batch"},
		{CategoryCancelled, "cancelled"},
		{Category(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.category.String(); got != tt.expected {
				t.Errorf("Category(%d).String() = %s, want %s", tt.category, got, tt.expected)
			}
		})
	}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Category
	}{
		{"nil error", nil, CategoryPermanent},
		{"configuration", &ConfigurationError{Reason: "empty schema"}, CategoryPermanent},
		{"unknown measurement", &UnknownMeasurementError{Measurement: "lab"}, CategorySkipBatch},
		{"shape mismatch", ShapeMismatch("event_mask", 3, 4), CategorySkipBatch},
		{"invalid parameter", &InvalidDistributionParameterError{Measurement: "dx", Parameter: "logits", Value: math.NaN()}, CategoryRetryLowerLR},
		{"wrapped invalid parameter", fmt.Errorf("step 4: %w", &InvalidDistributionParameterError{Parameter: "log_var"}), CategoryRetryLowerLR},
		{"cancelled", context.Canceled, CategoryCancelled},
		{"deadline", context.DeadlineExceeded, CategoryCancelled},
		{"categorized error", &CategorizedError{Category: CategorySkipBatch}, CategorySkipBatch},
		{"unknown error", errors.New("unknown"), CategoryPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Categorize(tt.err); got != tt.expected {
				t.Errorf("Categorize() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestCategorizedError(t *testing.T) {
	t.Run("error message with context", func(t *testing.T) {
		err := NewCategorized(errors.New("failed"), CategorySkipBatch, "batch 3")
		expected := "batch 3: failed (category: skip_batch, attempts: 0)"
		if got := err.Error(); got != expected {
			t.Errorf("Error() = %q, want %q", got, expected)
		}
	})

	t.Run("error message without context", func(t *testing.T) {
		err := &CategorizedError{Err: errors.New("failed"), Category: CategoryPermanent, Retries: 2}
		expected := "failed (category: permanent, attempts: 2)"
		if got := err.Error(); got != expected {
			t.Errorf("Error() = %q, want %q", got, expected)
		}
	})

	t.Run("unwrap", func(t *testing.T) {
		inner := &ShapeMismatchError{Field: "value"}
		err := NewCategorized(inner, CategorySkipBatch, "")
		if !errors.Is(err, ErrShapeMismatch) {
			t.Error("expected errors.Is to find ErrShapeMismatch through CategorizedError")
		}
	})
}

func TestTypedErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		message  string
	}{
		{
			name:     "configuration with measurement",
			err:      &ConfigurationError{Measurement: "dx", Reason: "vocabulary is empty"},
			sentinel: ErrConfiguration,
			message:  `configuration error: measurement "dx": vocabulary is empty`,
		},
		{
			name:     "configuration without measurement",
			err:      &ConfigurationError{Reason: "no levels"},
			sentinel: ErrConfiguration,
			message:  "configuration error: no levels",
		},
		{
			name:     "unknown measurement in subject",
			err:      &UnknownMeasurementError{Measurement: "lab", SubjectID: "s1", Event: 2},
			sentinel: ErrUnknownMeasurement,
			message:  `unknown measurement "lab" in subject s1 event 2`,
		},
		{
			name:     "invalid parameter value",
			err:      &InvalidDistributionParameterError{Measurement: "bp", Parameter: "mean", Index: 1, Value: math.Inf(1)},
			sentinel: ErrInvalidDistributionParameter,
			message:  `invalid distribution parameter mean[1]=+Inf for "bp"`,
		},
		{
			name:     "invalid parameter reason",
			err:      &InvalidDistributionParameterError{Measurement: "tte", Parameter: "family", Reason: "gaussian has unbounded support"},
			sentinel: ErrInvalidDistributionParameter,
			message:  `invalid distribution parameter family for "tte": gaussian has unbounded support`,
		},
		{
			name:     "shape mismatch",
			err:      ShapeMismatch("level_mask", 2, 3),
			sentinel: ErrShapeMismatch,
			message:  "shape mismatch in level_mask: got 2, want 3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false", tt.err, tt.sentinel)
			}
			if got := tt.err.Error(); got != tt.message {
				t.Errorf("Error() = %q, want %q", got, tt.message)
			}
		})
	}
}

func TestHelperFunctions(t *testing.T) {
	if !IsRetryable(&InvalidDistributionParameterError{}) {
		t.Error("IsRetryable should be true for InvalidDistributionParameterError")
	}
	if IsRetryable(&ConfigurationError{}) {
		t.Error("IsRetryable should be false for ConfigurationError")
	}
	if !IsSkippable(&UnknownMeasurementError{}) {
		t.Error("IsSkippable should be true for UnknownMeasurementError")
	}
	if IsSkippable(&InvalidDistributionParameterError{}) {
		t.Error("IsSkippable should be false for InvalidDistributionParameterError")
	}
}

func TestWithRetry(t *testing.T) {
	t.Run("success on first attempt", func(t *testing.T) {
		result := WithRetry(DefaultRetry, 0.01, func(lr float64) (float64, error) {
			return lr, nil
		})
		if result.Err != nil {
			t.Fatalf("unexpected error: %v", result.Err)
		}
		if result.Attempts != 1 {
			t.Errorf("Attempts = %d, want 1", result.Attempts)
		}
		if result.LearningRate != 0.01 {
			t.Errorf("LearningRate = %v, want 0.01", result.LearningRate)
		}
	})

	t.Run("lowers learning rate until success", func(t *testing.T) {
		var seen []float64
		cfg := RetryConfig{MaxAttempts: 4, LRFactor: 0.5, MinLearningRate: 1e-6}
		result := WithRetry(cfg, 0.08, func(lr float64) (int, error) {
			seen = append(seen, lr)
			if len(seen) < 3 {
				return 0, &InvalidDistributionParameterError{Parameter: "logits", Value: math.NaN()}
			}
			return 42, nil
		})
		if result.Err != nil {
			t.Fatalf("unexpected error: %v", result.Err)
		}
		if result.Value != 42 {
			t.Errorf("Value = %d, want 42", result.Value)
		}
		want := []float64{0.08, 0.04, 0.02}
		if len(seen) != len(want) {
			t.Fatalf("attempts = %v, want %v", seen, want)
		}
		for i := range want {
			if math.Abs(seen[i]-want[i]) > 1e-12 {
				t.Errorf("attempt %d lr = %v, want %v", i, seen[i], want[i])
			}
		}
		if math.Abs(result.LearningRate-0.02) > 1e-12 {
			t.Errorf("LearningRate = %v, want 0.02", result.LearningRate)
		}
	})

	t.Run("respects learning rate floor", func(t *testing.T) {
		cfg := RetryConfig{MaxAttempts: 5, LRFactor: 0.1, MinLearningRate: 1e-3}
		result := WithRetry(cfg, 0.01, func(lr float64) (int, error) {
			return 0, &InvalidDistributionParameterError{Parameter: "log_var"}
		})
		if result.Err == nil {
			t.Fatal("expected error")
		}
		if result.Attempts != 5 {
			t.Errorf("Attempts = %d, want 5", result.Attempts)
		}
		if result.LearningRate != 1e-3 {
			t.Errorf("LearningRate = %v, want floor 1e-3", result.LearningRate)
		}
		var catErr *CategorizedError
		if !errors.As(result.Err, &catErr) || catErr.Context != "max retries exceeded" {
			t.Errorf("expected max retries CategorizedError, got %v", result.Err)
		}
	})

	t.Run("does not retry skippable errors", func(t *testing.T) {
		calls := 0
		result := WithRetry(DefaultRetry, 0.01, func(lr float64) (int, error) {
			calls++
			return 0, ShapeMismatch("value", 2, 3)
		})
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
		if !errors.Is(result.Err, ErrShapeMismatch) {
			t.Errorf("expected ErrShapeMismatch, got %v", result.Err)
		}
	})

	t.Run("custom retryable func", func(t *testing.T) {
		calls := 0
		cfg := NewRetryConfig(WithMaxAttempts(2), WithRetryableFunc(func(error) bool { return true }))
		_ = WithRetry(cfg, 0.01, func(lr float64) (int, error) {
			calls++
			return 0, errors.New("anything")
		})
		if calls != 2 {
			t.Errorf("calls = %d, want 2", calls)
		}
	})
}

func TestWithRetryContext(t *testing.T) {
	t.Run("cancelled before first attempt", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		calls := 0
		result := WithRetryContext(ctx, DefaultRetry, 0.01, func(ctx context.Context, lr float64) (int, error) {
			calls++
			return 0, nil
		})
		if calls != 0 {
			t.Errorf("calls = %d, want 0", calls)
		}
		if Categorize(result.Err) != CategoryCancelled {
			t.Errorf("category = %s, want cancelled", Categorize(result.Err))
		}
	})

	t.Run("cancelled between attempts", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		result := WithRetryContext(ctx, DefaultRetry, 0.01, func(ctx context.Context, lr float64) (int, error) {
			calls++
			cancel()
			return 0, &InvalidDistributionParameterError{}
		})
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
		if !errors.Is(result.Err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", result.Err)
		}
	})
}

func TestHandler(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		h := NewHandler(WithLogger(discardLogger()))
		result := h.Execute(context.Background(), 0.01, func(ctx context.Context, lr float64) error {
			return nil
		})
		if result.Err != nil || result.Skipped {
			t.Errorf("unexpected result: %+v", result)
		}
	})

	t.Run("retry callback sees lowered rate", func(t *testing.T) {
		var from, to []float64
		h := NewHandler(
			WithLogger(discardLogger()),
			WithRetryConfig(RetryConfig{MaxAttempts: 3, LRFactor: 0.5}),
			WithOnRetry(func(f, tt float64, err error) {
				if !errors.Is(err, ErrInvalidDistributionParameter) {
					t.Errorf("retry callback error = %v", err)
				}
				from = append(from, f)
				to = append(to, tt)
			}),
		)
		calls := 0
		result := Execute(context.Background(), h, 0.1, func(ctx context.Context, lr float64) (float64, error) {
			calls++
			if calls == 1 {
				return 0, &InvalidDistributionParameterError{Parameter: "mean"}
			}
			return lr, nil
		})
		if result.Err != nil {
			t.Fatalf("unexpected error: %v", result.Err)
		}
		if result.Value != 0.05 {
			t.Errorf("Value = %v, want 0.05", result.Value)
		}
		if len(from) != 1 || from[0] != 0.1 || to[0] != 0.05 {
			t.Errorf("retry callback from=%v to=%v", from, to)
		}
	})

	t.Run("skips unusable batch", func(t *testing.T) {
		var skipped error
		h := NewHandler(WithLogger(discardLogger()), WithOnSkip(func(err error) { skipped = err }))
		result := h.Execute(context.Background(), 0.01, func(ctx context.Context, lr float64) error {
			return &UnknownMeasurementError{Measurement: "lab"}
		})
		if result.Err != nil {
			t.Errorf("Err = %v, want nil for skipped batch", result.Err)
		}
		if !result.Skipped {
			t.Error("expected Skipped")
		}
		if !errors.Is(skipped, ErrUnknownMeasurement) {
			t.Errorf("skip callback error = %v", skipped)
		}
	})

	t.Run("aborts on configuration error", func(t *testing.T) {
		var exhausted error
		h := NewHandler(WithLogger(discardLogger()), WithOnExhausted(func(err error) { exhausted = err }))
		result := h.Execute(context.Background(), 0.01, func(ctx context.Context, lr float64) error {
			return &ConfigurationError{Reason: "bad"}
		})
		if !errors.Is(result.Err, ErrConfiguration) {
			t.Errorf("Err = %v, want configuration error", result.Err)
		}
		if exhausted == nil {
			t.Error("expected exhausted callback")
		}
	})
}

func TestNewRetryConfig(t *testing.T) {
	cfg := NewRetryConfig(
		WithMaxAttempts(7),
		WithLRFactor(0.3),
		WithMinLearningRate(1e-5),
	)
	if cfg.MaxAttempts != 7 {
		t.Errorf("MaxAttempts = %d, want 7", cfg.MaxAttempts)
	}
	if cfg.LRFactor != 0.3 {
		t.Errorf("LRFactor = %v, want 0.3", cfg.LRFactor)
	}
	if cfg.MinLearningRate != 1e-5 {
		t.Errorf("MinLearningRate = %v, want 1e-5", cfg.MinLearningRate)
	}
}
