package model

import (
	"errors"
	"fmt"
)

// ErrValidation marks a domain validation failure. It is raised before any
// state change and never carries permission semantics.
var ErrValidation = errors.New("validation failed")

// Invalidf wraps ErrValidation with detail.
func Invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
