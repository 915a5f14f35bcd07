package ceroute

import (
	"errors"
	"fmt"

	"github.com/randalmurphal/ceroute/pkg/ceroute/config"
)

// Sentinel errors for delivery.
var (
	// ErrDeliveryTimeout resolves a ticket whose output did not answer
	// within its ack timeout. It counts as a transient nack.
	ErrDeliveryTimeout = errors.New("delivery timed out")

	// ErrPortUnavailable resolves deliveries to an output that is configured
	// but has no running unit, and tickets left pending when an output stops
	// or crashes.
	ErrPortUnavailable = errors.New("port unavailable")

	// ErrKernelShutdown resolves the tickets still pending when the drain
	// deadline passes.
	ErrKernelShutdown = errors.New("kernel shutting down")

	// ErrRouterPanic rejects an event whose routing panicked. The event is
	// nacked as permanent and the kernel keeps running.
	ErrRouterPanic = errors.New("router panicked")
)

// Sentinel errors for the kernel lifecycle.
var (
	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("kernel already running")
)

// RouteError reports why an event could not be routed. Routing failures
// are permanent: the same event would fail the same way again.
type RouteError struct {
	// EventID is the id of the event.
	EventID string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *RouteError) Error() string {
	return fmt.Sprintf("route event %s: %v", e.EventID, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *RouteError) Unwrap() error {
	return e.Err
}

// PortError wraps a lifecycle failure of one port.
type PortError struct {
	// PortID is the port that failed.
	PortID config.PortID
	// Op is the operation that failed ("build", "start", "stop").
	Op string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *PortError) Error() string {
	return fmt.Sprintf("port %s: %s: %v", e.PortID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *PortError) Unwrap() error {
	return e.Err
}

// LoopPanicError is returned by Run when the broker loop itself panicked.
// It is fatal; the process supervisor decides what happens next.
type LoopPanicError struct {
	// Value is the value passed to panic().
	Value any
	// Stack is the stack trace at the point of panic.
	Stack string
}

// Error implements the error interface.
func (e *LoopPanicError) Error() string {
	return fmt.Sprintf("broker loop panicked: %v", e.Value)
}
