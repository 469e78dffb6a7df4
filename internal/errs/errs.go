// Package errs defines the error taxonomy shared by every layer of the service.
//
// Client-facing errors (everything except ErrUnavailable) are deterministic and
// must not be retried. ErrUnavailable marks storage or connectivity failures.
package errs

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrBadRequest      = errors.New("bad request")

	ErrInvalidTransition = fmt.Errorf("%w: invalid transition", ErrBadRequest)
	ErrValidation        = fmt.Errorf("%w: validation failed", ErrBadRequest)

	// ErrUnavailable is the only retryable error.
	ErrUnavailable = errors.New("storage unavailable")

	// ErrStale is returned by repositories when an optimistic status or version check fails.
	ErrStale = errors.New("entity changed concurrently")
)

// ForbiddenError names the action code or guard that denied the request.
type ForbiddenError struct {
	Action string
	Reason string
}

func (e *ForbiddenError) Error() string {
	switch {
	case e.Action != "" && e.Reason != "":
		return fmt.Sprintf("forbidden: %s (%s)", e.Reason, e.Action)
	case e.Action != "":
		return "forbidden: missing action " + e.Action
	case e.Reason != "":
		return "forbidden: " + e.Reason
	}
	return "forbidden"
}

func (e *ForbiddenError) Unwrap() error { return ErrForbidden }

// Forbidden returns a ForbiddenError for the missing action code.
func Forbidden(action string) error {
	return &ForbiddenError{Action: action}
}

// TransitionError reports an operation that is not legal from the current status.
type TransitionError struct {
	Kind string
	Op   string
	From string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s %q not allowed from %s", e.Kind, e.Op, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// Validation wraps a message as ErrValidation.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Unavailable marks err as a retryable infrastructure failure. Errors that
// already belong to the client taxonomy are returned unchanged.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	if IsClient(err) || errors.Is(err, ErrUnavailable) || errors.Is(err, ErrStale) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// Retryable reports whether the caller may retry the operation unchanged.
func Retryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsClient reports whether err belongs to the client-facing taxonomy.
func IsClient(err error) bool {
	for _, target := range []error{ErrUnauthenticated, ErrForbidden, ErrNotFound, ErrConflict, ErrBadRequest} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
