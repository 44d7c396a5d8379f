// Package errors provides the error taxonomy of the model core and the
// policies a training harness applies to it.
//
// The package implements a layered approach:
//   - Taxonomy: ConfigurationError, UnknownMeasurementError,
//     InvalidDistributionParameterError, ShapeMismatchError
//   - Categorization: classify errors for appropriate handling
//   - Retry: rerun a step with a lowered learning rate after numeric failures
//   - Handling: retry, skip the batch, or abort the run
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Category represents how an error should be handled by the harness.
type Category int

const (
	// CategoryPermanent indicates the run cannot continue.
	// Examples: malformed schema, invalid configuration.
	CategoryPermanent Category = iota

	// CategoryRetryLowerLR indicates the step should be retried with a
	// smaller learning rate. Examples: non-finite logits or variances.
	CategoryRetryLowerLR

	// CategorySkipBatch indicates the batch is unusable but the run is fine.
	// Examples: unknown measurement, shape mismatch.
	CategorySkipBatch

	// CategoryCancelled indicates the caller cancelled the operation.
	CategoryCancelled
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryPermanent:
		return "permanent"
	case CategoryRetryLowerLR:
		return "retry_lower_lr"
	case CategorySkipBatch:
		return "skip_batch"
	case CategoryCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// CategorizedError wraps an error with its category and context.
type CategorizedError struct {
	// Err is the underlying error.
	Err error

	// Category indicates how this error should be handled.
	Category Category

	// Retries is the number of attempts that have been made.
	Retries int

	// Context describes what operation was being attempted.
	Context string
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (category: %s, attempts: %d)",
			e.Context, e.Err, e.Category, e.Retries)
	}
	return fmt.Sprintf("%s (category: %s, attempts: %d)",
		e.Err, e.Category, e.Retries)
}

// Unwrap returns the underlying error.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// NewCategorized creates a new categorized error.
func NewCategorized(err error, category Category, context string) *CategorizedError {
	return &CategorizedError{
		Err:      err,
		Category: category,
		Context:  context,
	}
}

// Categorize determines how an error should be handled.
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent // shouldn't happen, fail safe
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CategoryCancelled
	case errors.Is(err, ErrInvalidDistributionParameter):
		return CategoryRetryLowerLR
	case errors.Is(err, ErrUnknownMeasurement), errors.Is(err, ErrShapeMismatch):
		return CategorySkipBatch
	case errors.Is(err, ErrConfiguration):
		return CategoryPermanent
	}

	// Unknown errors are permanent (fail safe)
	return CategoryPermanent
}

// IsRetryable reports whether the step should be retried with a lower
// learning rate.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryRetryLowerLR
}

// IsSkippable reports whether the batch should be skipped.
func IsSkippable(err error) bool {
	return Categorize(err) == CategorySkipBatch
}
