package topology

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound matches every *NotFoundError with errors.Is.
	ErrNotFound = errors.New("not found")

	// ErrValidation matches every *ValidationError with errors.Is.
	ErrValidation = errors.New("validation failed")
)

// NotFoundError reports a reference that does not resolve, either in the
// target environment (network, identity) or in the builder itself (a topic
// or compute group that was never declared).
type NotFoundError struct {
	Kind   Kind
	ID     string
	Reason string
	Err    error
}

func (e *NotFoundError) Error() string {
	msg := fmt.Sprintf("%s %q not found", e.Kind, e.ID)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func (e *NotFoundError) Unwrap() error { return e.Err }

// ValidationError reports a malformed declaration parameter.
type ValidationError struct {
	Resource string
	Field    string
	Reason   string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Resource != "" && e.Field != "":
		return fmt.Sprintf("invalid %s of %s: %s", e.Field, e.Resource, e.Reason)
	case e.Field != "":
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	case e.Resource != "":
		return fmt.Sprintf("invalid %s: %s", e.Resource, e.Reason)
	}
	return "invalid declaration: " + e.Reason
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func notFound(kind Kind, id, reason string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id, Reason: reason}
}

func invalid(resource, field, format string, args ...any) *ValidationError {
	return &ValidationError{Resource: resource, Field: field, Reason: fmt.Sprintf(format, args...)}
}
