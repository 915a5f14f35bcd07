package event

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidEvent is returned for events that violate the CloudEvents
// attribute rules.
var ErrInvalidEvent = errors.New("invalid cloudevent")

// ValidationError lists the problems found on one event.
type ValidationError struct {
	EventID  string
	Problems []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("event %q: %s", e.EventID, strings.Join(e.Problems, "; "))
}

// Unwrap returns ErrInvalidEvent for errors.Is checks.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidEvent
}
