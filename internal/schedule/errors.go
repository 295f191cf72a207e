package schedule

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedPayload is returned when model output is not parseable JSON.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrConstraintViolation is returned when the payload parses but breaks a schedule rule.
	ErrConstraintViolation = errors.New("constraint violation")
)

// ValidationError describes why a payload was rejected.
// Kind is ErrMalformedPayload or ErrConstraintViolation.
type ValidationError struct {
	Kind   error
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	msg := e.Kind.Error()
	if e.Field != "" {
		msg += ": " + e.Field
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is lets errors.Is match on the kind sentinel.
func (e *ValidationError) Is(target error) bool {
	return target == e.Kind
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func malformed(err error) error {
	return &ValidationError{Kind: ErrMalformedPayload, Err: err}
}

func violation(field, format string, args ...any) error {
	return &ValidationError{Kind: ErrConstraintViolation, Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Category returns a short label for logging and metrics.
func Category(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrMalformedPayload):
		return "malformed_payload"
	case errors.Is(err, ErrConstraintViolation):
		return "constraint_violation"
	default:
		return "provider_error"
	}
}
