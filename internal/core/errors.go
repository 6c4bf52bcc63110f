package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers unknown projects, agents, messages and leases.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when a caller tries to release a lease it
	// does not hold.
	ErrForbidden = errors.New("forbidden")

	// ErrUnavailable wraps transient backing-store failures. Mutations
	// surface it immediately; read-only aggregation retries then degrades.
	ErrUnavailable = errors.New("storage unavailable")
)

// InvalidError flags a request field the caller can correct.
type InvalidError struct {
	Field  string
	Reason string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalidf builds an InvalidError with a formatted reason.
func Invalidf(field, format string, args ...any) error {
	return &InvalidError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsInvalid reports whether err is (or wraps) an InvalidError.
func IsInvalid(err error) bool {
	var ie *InvalidError
	return errors.As(err, &ie)
}
