package theme

import (
	"errors"
	"fmt"
)

// InvalidReferenceError is returned when a theme string cannot be resolved:
// bad grammar, a disallowed host, or a missing local directory.
type InvalidReferenceError struct {
	Input  string
	Reason string
}

func (e *InvalidReferenceError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%q is not a valid remote theme", e.Input)
	}
	return fmt.Sprintf("%q is not a valid remote theme: %s", e.Input, e.Reason)
}

// IsInvalidReference reports whether err is, or wraps, an InvalidReferenceError.
func IsInvalidReference(err error) bool {
	var target *InvalidReferenceError
	return errors.As(err, &target)
}

func invalid(input, reason string) *InvalidReferenceError {
	return &InvalidReferenceError{Input: input, Reason: reason}
}
