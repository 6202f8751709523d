// Package apperr defines the error kinds shared across the service.
// Handlers map each kind to an HTTP status in one place.
package apperr

import (
	"errors"
	"fmt"
)

// Sentinel error kinds.
var (
	// ErrNotFound indicates an identifier or path absent from a store.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a task already running or a unique-key
	// violation.
	ErrConflict = errors.New("conflict")
	// ErrBadRequest indicates a missing credential, invalid mode, or
	// malformed input.
	ErrBadRequest = errors.New("bad request")
	// ErrProviderAuth indicates upstream LLM or embedding credentials were
	// rejected. Never retried.
	ErrProviderAuth = errors.New("provider authentication failed")
	// ErrProviderTransient indicates a rate limit or network timeout.
	// Retried with backoff.
	ErrProviderTransient = errors.New("provider transient error")
)

// NotFound wraps ErrNotFound with a formatted message.
func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Conflict wraps ErrConflict with a formatted message.
func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// BadRequest wraps ErrBadRequest with a formatted message.
func BadRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, fmt.Sprintf(format, args...))
}

// IsNotFound reports whether err is an ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict reports whether err is an ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsBadRequest reports whether err is an ErrBadRequest.
func IsBadRequest(err error) bool { return errors.Is(err, ErrBadRequest) }
