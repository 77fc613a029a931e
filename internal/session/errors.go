package session

import (
	"errors"
	"fmt"
)

// Stable error kinds surfaced to callers. These strings are part of the HTTP
// contract and must not change between releases.
const (
	KindNotFound              = "NotFound"
	KindInvalidState          = "InvalidState"
	KindConcurrentFinalize    = "ConcurrentFinalize"
	KindDependencyUnavailable = "DependencyUnavailable"
	KindDeliveryFailed        = "DeliveryFailed"
)

// Store-level sentinel errors.
var (
	// ErrNotFound is returned when no record exists for a session ID.
	ErrNotFound = errors.New("session not found")
	// ErrStaleState is returned when a compare-and-transition precondition fails.
	ErrStaleState = errors.New("session state changed")
	// ErrLeaseHeld is returned when a finalize lease is already held.
	ErrLeaseHeld = errors.New("finalize lease already held")
	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("session store is closed")
)

// Error is a structured failure with a stable kind and human-readable detail.
// The raw captured secret never appears in Message or the wrapped cause chain
// surfaced to callers.
type Error struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// NewError creates a structured error with the given kind.
func NewError(kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError creates a structured error wrapping an underlying cause.
func WrapError(kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// KindOf extracts the stable kind from an error chain, or "" if untyped.
func KindOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind string) bool {
	return KindOf(err) == kind
}
