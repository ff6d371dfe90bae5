package evaluator

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotConfigured means the generation service has no credential.
	// No request is attempted.
	ErrNotConfigured = errors.New("evaluation service api key is not set")

	// ErrNoJSON means the model reply held no {...} span at all.
	ErrNoJSON = errors.New("no JSON found in model response")
)

// TransportError wraps a failed call to the generation service.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "generation request failed: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// TimeoutError means the generation call outlived its deadline.
type TimeoutError struct {
	After time.Duration
	Err   error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("generation request timed out after %s", e.After)
}
func (e *TimeoutError) Unwrap() error { return e.Err }

// ParseError means the extracted span is not valid JSON. Raw is the span.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse JSON response: %v\n%s", e.Err, e.Raw)
}
func (e *ParseError) Unwrap() error { return e.Err }

// ShapeError means the JSON parsed but does not describe a SessionEvaluation.
// Object is the offending document, pretty-printed.
type ShapeError struct {
	Reason string
	Object string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("invalid evaluation format (%s). Response does not match expected structure: %s", e.Reason, e.Object)
}

// Kind classifies an Evaluate error for metrics and events.
func Kind(err error) string {
	var (
		transport *TransportError
		timeout   *TimeoutError
		parse     *ParseError
		shape     *ShapeError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotConfigured):
		return "config"
	case errors.As(err, &timeout):
		return "timeout"
	case errors.As(err, &transport):
		return "transport"
	case errors.Is(err, ErrNoJSON):
		return "no_json"
	case errors.As(err, &parse):
		return "parse"
	case errors.As(err, &shape):
		return "shape"
	default:
		return "unknown"
	}
}
