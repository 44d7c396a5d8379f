package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors matched by the typed errors below via errors.Is.
var (
	// ErrConfiguration indicates a malformed measurement schema or model config.
	ErrConfiguration = errors.New("configuration error")

	// ErrUnknownMeasurement indicates batch data names a measurement absent from the schema.
	ErrUnknownMeasurement = errors.New("unknown measurement")

	// ErrInvalidDistributionParameter indicates non-finite or out-of-support head parameters.
	ErrInvalidDistributionParameter = errors.New("invalid distribution parameter")

	// ErrShapeMismatch indicates batch shapes inconsistent with the schema.
	ErrShapeMismatch = errors.New("shape mismatch")
)

// ConfigurationError describes one schema or configuration defect.
// Fatal; surfaced before any forward pass.
type ConfigurationError struct {
	// Measurement is the offending measurement name, if any.
	Measurement string
	// Reason describes the defect.
	Reason string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	if e.Measurement != "" {
		return fmt.Sprintf("configuration error: measurement %q: %s", e.Measurement, e.Reason)
	}
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// Unwrap returns ErrConfiguration for errors.Is support.
func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// UnknownMeasurementError reports a measurement in batch data that the
// schema does not declare. Fatal for the batch.
type UnknownMeasurementError struct {
	Measurement string
	SubjectID   string
	// Event is the event index within its sequence, or -1 when not known.
	Event int
}

// Error implements the error interface.
func (e *UnknownMeasurementError) Error() string {
	if e.SubjectID != "" {
		return fmt.Sprintf("unknown measurement %q in subject %s event %d", e.Measurement, e.SubjectID, e.Event)
	}
	return fmt.Sprintf("unknown measurement %q", e.Measurement)
}

// Unwrap returns ErrUnknownMeasurement for errors.Is support.
func (e *UnknownMeasurementError) Unwrap() error { return ErrUnknownMeasurement }

// InvalidDistributionParameterError reports numeric instability in a head's
// parameters or a distribution family that cannot honour its support.
type InvalidDistributionParameterError struct {
	Measurement string
	// Parameter names the offending parameter ("logits", "mean", "log_var", "family", ...).
	Parameter string
	// Index is the offending element, or -1.
	Index int
	Value float64
	// Reason is set when the problem is not a single bad value.
	Reason string
}

// Error implements the error interface.
func (e *InvalidDistributionParameterError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid distribution parameter %s for %q: %s", e.Parameter, e.Measurement, e.Reason)
	}
	return fmt.Sprintf("invalid distribution parameter %s[%d]=%v for %q", e.Parameter, e.Index, e.Value, e.Measurement)
}

// Unwrap returns ErrInvalidDistributionParameter for errors.Is support.
func (e *InvalidDistributionParameterError) Unwrap() error { return ErrInvalidDistributionParameter }

// ShapeMismatchError reports batch data inconsistent with schema-declared
// dimensions.
type ShapeMismatchError struct {
	// Field names what was inspected ("event_mask", "value", ...).
	Field string
	Got   string
	Want  string
}

// Error implements the error interface.
func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("shape mismatch in %s: got %s, want %s", e.Field, e.Got, e.Want)
}

// Unwrap returns ErrShapeMismatch for errors.Is support.
func (e *ShapeMismatchError) Unwrap() error { return ErrShapeMismatch }

// ShapeMismatch builds a ShapeMismatchError from formatted got/want values.
func ShapeMismatch(field string, got, want any) *ShapeMismatchError {
	return &ShapeMismatchError{Field: field, Got: fmt.Sprint(got), Want: fmt.Sprint(want)}
}
