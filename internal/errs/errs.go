// Package errs defines the small closed set of error kinds surfaced by the
// lifecycle managers. Handlers translate kinds into HTTP responses; background
// jobs use them to decide whether a failure is worth retrying.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for callers.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindDependency Kind = "dependency"
	KindInternal   Kind = "internal"
)

// Error is a tagged error carrying a caller-safe message and an optional cause.
type Error struct {
	Kind    Kind
	Code    string
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

// Validation reports bad input or a failed precondition.
func Validation(code, format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports an absent entity, or one the caller may not see.
func NotFound(entity string) error {
	return &Error{Kind: KindNotFound, Code: entity + "_not_found", Message: entity + " not found"}
}

// Conflict reports a transition requested from the wrong state, or a stale write.
func Conflict(code, format string, args ...interface{}) error {
	return &Error{Kind: KindConflict, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Dependency wraps a failure of a remote collaborator (gateway, peer service).
func Dependency(message string, err error) error {
	return &Error{Kind: KindDependency, Code: "dependency_failure", Message: message, Err: err}
}

// Internal wraps an unexpected failure. Its message is never shown to clients.
func Internal(message string, err error) error {
	return &Error{Kind: KindInternal, Code: "internal_error", Message: message, Err: err}
}

// StaleVersion is returned when an optimistic-concurrency check fails.
func StaleVersion(entity string) error {
	return &Error{
		Kind:    KindConflict,
		Code:    "stale_version",
		Message: entity + " was modified concurrently, reload and retry",
	}
}

// KindOf returns the kind of the first tagged error in the chain, or
// KindInternal for untagged errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the machine-readable code of a tagged error.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal_error"
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// PublicMessage returns a message that is safe to show a client.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Message
	}
	return "An unexpected error occurred"
}
