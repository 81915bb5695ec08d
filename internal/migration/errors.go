package migration

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline errors that are surfaced synchronously to callers.
// Row and chunk level failures are recorded on the session instead and never
// raised as errors.
type Kind string

const (
	KindInvalidConfiguration Kind = "invalid_configuration"
	KindInvalidState         Kind = "invalid_state"
	KindConflict             Kind = "conflict"
	KindBlockingIssues       Kind = "blocking_issues_remain"
	KindNotFound             Kind = "not_found"
)

// Error is a pipeline error with a closed kind for transport mapping.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a pipeline error.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a kind and message to an underlying error.
func WrapError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from an error chain, or "" when the error is not a
// pipeline error.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
