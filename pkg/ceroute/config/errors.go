package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidConfiguration is returned when a snapshot fails validation.
// The kernel rejects such a snapshot and keeps the previous one active.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// InvalidConfigurationError lists every problem found in a snapshot.
type InvalidConfigurationError struct {
	Version  string
	Problems []string
}

// Error implements the error interface.
func (e *InvalidConfigurationError) Error() string {
	version := e.Version
	if version == "" {
		version = "<unversioned>"
	}
	return fmt.Sprintf("invalid configuration %s: %s", version, strings.Join(e.Problems, "; "))
}

// Unwrap returns ErrInvalidConfiguration for errors.Is checks.
func (e *InvalidConfigurationError) Unwrap() error {
	return ErrInvalidConfiguration
}

// Invalid builds an InvalidConfigurationError for a single problem.
func Invalid(version, format string, args ...any) error {
	return &InvalidConfigurationError{
		Version:  version,
		Problems: []string{fmt.Sprintf(format, args...)},
	}
}
