package eventgpt

import (
	"errors"
	"fmt"

	egerrors "github.com/randalmurphal/eventgpt/pkg/eventgpt/errors"
	"github.com/randalmurphal/eventgpt/pkg/eventgpt/event"
)

// Taxonomy re-exported from the errors package so callers can match with a
// single import.
type (
	ConfigurationError                = egerrors.ConfigurationError
	UnknownMeasurementError           = egerrors.UnknownMeasurementError
	InvalidDistributionParameterError = egerrors.InvalidDistributionParameterError
	ShapeMismatchError                = egerrors.ShapeMismatchError
)

// Sentinel errors matched by the typed errors via errors.Is.
var (
	ErrConfiguration                = egerrors.ErrConfiguration
	ErrUnknownMeasurement           = egerrors.ErrUnknownMeasurement
	ErrInvalidDistributionParameter = egerrors.ErrInvalidDistributionParameter
	ErrShapeMismatch                = egerrors.ErrShapeMismatch
)

// Sentinel errors for generation.
var (
	// ErrEmptySeed indicates a seed sequence without any real event. The
	// first generated event needs a predecessor to condition on.
	ErrEmptySeed = errors.New("seed sequence has no events")

	// ErrSchemaMismatch indicates a batch built for a different schema than
	// the model's.
	ErrSchemaMismatch = errors.New("batch schema does not match model schema")
)

// CancellationError captures the sequences generated when the context was
// cancelled. Partial holds every sequence as far as it got, including
// events completed before cancellation.
type CancellationError struct {
	// Sequence is the sequence being generated.
	Sequence int
	// Event is the index of the event that was about to be generated.
	Event int
	// Partial is the batch generated so far.
	Partial *event.Batch
	// Cause is context.Canceled or context.DeadlineExceeded.
	Cause error
}

// Error implements the error interface.
func (e *CancellationError) Error() string {
	return fmt.Sprintf("generation cancelled at sequence %d event %d: %v", e.Sequence, e.Event, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CancellationError) Unwrap() error {
	return e.Cause
}

// GenerationError wraps a failure while sampling one level of one event.
type GenerationError struct {
	Sequence int
	Event    int
	Level    int
	Err      error
}

// Error implements the error interface.
func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate sequence %d event %d level %d: %v", e.Sequence, e.Event, e.Level, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *GenerationError) Unwrap() error {
	return e.Err
}
