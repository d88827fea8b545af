package errors

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized   = fmt.Errorf("unauthorized")
	ErrForbidden      = fmt.Errorf("forbidden")
	ErrBlocked        = fmt.Errorf("sender is blocked")
	ErrInvalidPayload = fmt.Errorf("invalid payload")
	ErrNotFound       = fmt.Errorf("not found")
	ErrTransient      = fmt.Errorf("transient failure")

	ErrUserAlreadyExists  = fmt.Errorf("user already exists")
	ErrInvalidCredentials = fmt.Errorf("invalid credentials")
	ErrInvalidPassword    = fmt.Errorf("password too weak")

	ErrWorkerPanic   = fmt.Errorf("worker panic")
	ErrEmptyWordList = fmt.Errorf("no banned words have been found")
)

// CodeOf maps an error to the wire code carried by the client-facing
// "error" event. Unknown errors are reported as INTERNAL rather than
// leaking their message.
func CodeOf(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, ErrBlocked):
		return "BLOCKED"
	case errors.Is(err, ErrInvalidPayload):
		return "INVALID_PAYLOAD"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrTransient):
		return "TRANSIENT"
	default:
		return "INTERNAL"
	}
}

// IsTerminal reports whether the error must be surfaced immediately
// instead of being retried.
func IsTerminal(err error) bool {
	return !errors.Is(err, ErrTransient)
}
