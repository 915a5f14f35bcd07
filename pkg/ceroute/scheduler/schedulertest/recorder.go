// Package schedulertest provides a scheduler double for kernel tests.
package schedulertest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/randalmurphal/ceroute/pkg/ceroute/scheduler"
)

// Call is one recorded scheduler operation.
type Call struct {
	Op string // "start" or "stop"
	ID string
}

// Recorder wraps a real scheduler, records every Start and Stop, and can be
// told to fail the next starts of a given unit.
type Recorder struct {
	inner scheduler.Scheduler

	mu       sync.Mutex
	calls    []Call
	failures map[string][]error
}

// Compile-time interface check.
var _ scheduler.Scheduler = (*Recorder)(nil)

// NewRecorder wraps inner. A nil inner uses a Local scheduler with short
// grace periods.
func NewRecorder(inner scheduler.Scheduler) *Recorder {
	if inner == nil {
		inner = scheduler.NewLocal(scheduler.Config{
			StartGrace: time.Second,
			StopGrace:  time.Second,
		})
	}
	return &Recorder{
		inner:    inner,
		failures: make(map[string][]error),
	}
}

// FailStart makes the next start of id fail with err without running the
// unit. id is either a full unit id or the prefix before '#', which matches
// every generation of that unit. Multiple calls queue up.
func (r *Recorder) FailStart(id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[id] = append(r.failures[id], err)
}

// Start implements scheduler.Scheduler.
func (r *Recorder) Start(ctx context.Context, spec scheduler.Spec) (*scheduler.Handle, error) {
	r.mu.Lock()
	r.calls = append(r.calls, Call{Op: "start", ID: spec.ID})
	var injected error
	for _, key := range []string{spec.ID, baseID(spec.ID)} {
		if queue := r.failures[key]; len(queue) > 0 {
			injected = queue[0]
			r.failures[key] = queue[1:]
			break
		}
	}
	r.mu.Unlock()

	if injected != nil {
		return nil, &scheduler.StartError{ID: spec.ID, Err: injected}
	}
	return r.inner.Start(ctx, spec)
}

// Stop implements scheduler.Scheduler.
func (r *Recorder) Stop(h *scheduler.Handle, grace time.Duration) error {
	if h != nil {
		r.mu.Lock()
		r.calls = append(r.calls, Call{Op: "stop", ID: h.ID()})
		r.mu.Unlock()
	}
	return r.inner.Stop(h, grace)
}

// Crashes implements scheduler.Scheduler.
func (r *Recorder) Crashes() <-chan scheduler.Crash {
	return r.inner.Crashes()
}

// Calls returns a copy of the recorded operations in order.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Starts returns the ids passed to Start, in order.
func (r *Recorder) Starts() []string {
	return r.filter("start")
}

// Stops returns the ids passed to Stop, in order.
func (r *Recorder) Stops() []string {
	return r.filter("stop")
}

// Reset forgets recorded calls.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

func (r *Recorder) filter(op string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, c := range r.calls {
		if c.Op == op {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

// baseID strips a "#generation" suffix.
func baseID(id string) string {
	if i := strings.LastIndexByte(id, '#'); i >= 0 {
		return id[:i]
	}
	return id
}
