// Package errors classifies failures seen by ports so they can be turned
// into processing results and retried where that helps.
//
// Two categories matter to a broker:
//   - Transient: the same event may succeed later (broker unreachable,
//     timeouts, connection resets). Inputs requeue; connects are retried.
//   - Permanent: retrying the same event will fail again (malformed event,
//     rejected by the destination). Inputs drop or dead-letter it.
package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// Category represents how a failure should be handled.
type Category int

const (
	// CategoryTransient indicates retry will likely help.
	CategoryTransient Category = iota

	// CategoryPermanent indicates retry won't help.
	CategoryPermanent
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// CategorizedError wraps an error with its category and context.
type CategorizedError struct {
	// Err is the underlying error.
	Err error

	// Category indicates how this error should be handled.
	Category Category

	// Attempts is the number of attempts that have been made.
	Attempts int

	// Context describes what operation was being attempted.
	Context string
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	msg := fmt.Sprintf("%s (%s", e.Err, e.Category)
	if e.Attempts > 0 {
		msg += fmt.Sprintf(", attempts: %d", e.Attempts)
	}
	msg += ")"
	if e.Context != "" {
		return e.Context + ": " + msg
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// Transient marks err as worth retrying.
func Transient(err error, context string) *CategorizedError {
	return &CategorizedError{Err: err, Category: CategoryTransient, Context: context}
}

// Permanent marks err as not worth retrying.
func Permanent(err error, context string) *CategorizedError {
	return &CategorizedError{Err: err, Category: CategoryPermanent, Context: context}
}

// Categorize determines how an error should be handled.
//
// Explicitly categorized errors win. Decoding and validation failures are
// permanent. Network, timeout and connection failures are transient.
// Anything unrecognised is transient: for at-least-once delivery a retry is
// the safe outcome.
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}

	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		return CategoryPermanent
	}

	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return CategoryPermanent
	}

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return CategoryTransient
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return CategoryTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return CategoryTransient
	}

	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return CategoryTransient
	}

	var temp interface{ Temporary() bool }
	if errors.As(err, &temp) && !temp.Temporary() {
		return CategoryPermanent
	}

	if errors.Is(err, errors.ErrUnsupported) {
		return CategoryPermanent
	}

	return CategoryTransient
}

// IsRetryable reports whether the error should be retried.
func IsRetryable(err error) bool {
	return err != nil && Categorize(err) == CategoryTransient
}
