package errors

import (
	"fmt"
	"time"
)

// DecodeError reports an inbound message that is not a valid CloudEvent.
type DecodeError struct {
	Source string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode event from %s: %v", e.Source, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// RejectedError reports a destination that refused an event outright,
// such as a negative publisher confirm.
type RejectedError struct {
	Destination string
	Reason      string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("rejected by %s: %s", e.Destination, e.Reason)
}

// TimeoutError reports an operation that did not finish in time.
type TimeoutError struct {
	Operation string
	Duration  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Operation, e.Duration)
}

// ConnectError reports a failure to reach an external system.
type ConnectError struct {
	Address string
	Err     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Address, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}
