// Package scheduler runs broker components (ports) concurrently and reports
// when they start, stop and crash.
//
// The kernel never spawns goroutines for ports itself. It hands the
// scheduler a Unit and gets back a Handle; stopping goes through the same
// scheduler. How units are mapped onto execution resources is a Strategy:
// plain goroutines by default, or goroutines pinned to OS threads for
// adapters that call thread-affine native code.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrStartFailed is returned when a unit fails to become ready within
	// its start grace period.
	ErrStartFailed = errors.New("component start failed")

	// ErrUngracefulStop is returned when a unit does not exit within the
	// stop grace period and is abandoned.
	ErrUngracefulStop = errors.New("component did not stop gracefully")

	// ErrComponentCrashed wraps the cause reported in a Crash.
	ErrComponentCrashed = errors.New("component crashed")
)

// Unit is a schedulable component.
type Unit interface {
	// Init prepares the unit and returns once it is ready to run.
	Init(ctx context.Context) error

	// Run does the unit's work until ctx is cancelled. Returning while ctx
	// is live is a crash.
	Run(ctx context.Context) error
}

// Spec describes a unit to start.
type Spec struct {
	ID         string
	Unit       Unit
	StartGrace time.Duration
}

// Scheduler starts and stops units. Implementations must be safe for
// concurrent use.
type Scheduler interface {
	// Start runs the unit's Init within the start grace period and, once it
	// succeeds, runs the unit. Cancelling ctx aborts a pending start but does
	// not stop a started unit; use Stop for that.
	Start(ctx context.Context, spec Spec) (*Handle, error)

	// Stop signals the unit and waits up to grace for it to exit.
	Stop(h *Handle, grace time.Duration) error

	// Crashes reports units that exited without being stopped.
	Crashes() <-chan Crash
}

// Crash reports a unit that terminated unexpectedly.
type Crash struct {
	ID  string
	Err error
	At  time.Time
}

// StartError reports why a unit failed to start. It matches both
// ErrStartFailed and its cause under errors.Is.
type StartError struct {
	ID  string
	Err error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start %s: %v", e.ID, e.Err)
}

func (e *StartError) Unwrap() []error {
	return []error{ErrStartFailed, e.Err}
}

// State is the lifecycle state of a scheduled unit.
type State int

const (
	// StateStarting means Init is running.
	StateStarting State = iota
	// StateRunning means Init succeeded and Run is executing.
	StateRunning
	// StateStopping means Stop was requested and Run has not returned yet.
	StateStopping
	// StateStopped means Run returned after Stop.
	StateStopped
	// StateCrashed means Run returned without Stop.
	StateCrashed
	// StateFailed means the unit never became ready.
	StateFailed
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateCrashed:
		return "crashed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Handle refers to one scheduled unit.
type Handle struct {
	id      string
	cancel  context.CancelFunc
	done    chan struct{}
	running chan struct{}

	mu        sync.Mutex
	state     State
	err       error
	startedAt time.Time
}

func newHandle(id string, cancel context.CancelFunc) *Handle {
	return &Handle{
		id:      id,
		cancel:  cancel,
		done:    make(chan struct{}),
		running: make(chan struct{}),
		state:   StateStarting,
	}
}

// ID returns the unit id.
func (h *Handle) ID() string { return h.id }

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Err returns the error that ended the unit, if any.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// StartedAt returns when the unit became ready.
func (h *Handle) StartedAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.startedAt
}

// Done is closed once the unit's goroutine has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }
