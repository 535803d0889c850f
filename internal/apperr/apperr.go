// Package apperr defines the error taxonomy shared by services and handlers.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors. Services wrap these with %w and context; handlers map
// them to HTTP statuses with Status.
var (
	// ErrUnauthorized means no trusted identity was resolved.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden means the identity lacks access to the resource.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound means the addressed entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument means a request field failed validation.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrTransientStore means a store operation failed in a way the caller
	// may retry as a whole. The core never retries it internally.
	ErrTransientStore = errors.New("transient store failure")
)

// Forbiddenf wraps ErrForbidden with a reason.
func Forbiddenf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrForbidden}, args...)...)
}

// NotFoundf wraps ErrNotFound with the missing entity.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrNotFound}, args...)...)
}

// Invalidf wraps ErrInvalidArgument naming the offending field.
func Invalidf(field, format string, args ...any) error {
	return fmt.Errorf("%w: field %q: "+format, append([]any{ErrInvalidArgument, field}, args...)...)
}

// Transient wraps a store error as retryable-by-caller.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransientStore, err)
}

// Status maps an error to its HTTP status code.
func Status(err error) int {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, ErrTransientStore):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
