package ceroute

import (
	"container/heap"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/randalmurphal/ceroute/pkg/ceroute/port"
)

// ticketState is the lifecycle of one delivery.
type ticketState int

const (
	ticketPending ticketState = iota
	ticketAcked
	ticketNacked
	ticketTimedOut
)

func (s ticketState) String() string {
	switch s {
	case ticketPending:
		return "pending"
	case ticketAcked:
		return "ack"
	case ticketNacked:
		return "nack"
	case ticketTimedOut:
		return "timeout"
	default:
		return "unknown"
	}
}

// ticket tracks one event copy sent to one output.
type ticket struct {
	id       port.DeliveryID
	batch    *batch
	dest     *portEntry
	deadline time.Time
	state    ticketState

	// heap position; -1 once removed
	index int
}

// batch groups the tickets created for one incoming event. It resolves
// once every ticket has.
type batch struct {
	origin   *portEntry
	incoming port.IncomingID
	eventID  string
	started  time.Time
	span     trace.Span

	tickets     []*ticket
	outstanding int
	results     []port.Result
	resolved    bool
}

// record folds one destination outcome into the batch and reports whether
// the batch is now complete.
func (b *batch) record(r port.Result) bool {
	b.results = append(b.results, r)
	return b.outstanding == 0
}

// result is the aggregate outcome reported to the origin.
func (b *batch) result() port.Result {
	return port.Aggregate(b.results...)
}

// deadlineHeap orders pending tickets by deadline so a single timer covers
// all of them.
type deadlineHeap []*ticket

func (h deadlineHeap) Len() int           { return len(h) }
func (h deadlineHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }

func (h deadlineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *deadlineHeap) Push(x any) {
	t := x.(*ticket)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// add schedules t.
func (h *deadlineHeap) add(t *ticket) {
	heap.Push(h, t)
}

// remove unschedules t if it is still scheduled.
func (h *deadlineHeap) remove(t *ticket) {
	if t.index >= 0 && t.index < len(*h) && (*h)[t.index] == t {
		heap.Remove(h, t.index)
	}
}

// next returns the earliest deadline.
func (h deadlineHeap) next() (time.Time, bool) {
	if len(h) == 0 {
		return time.Time{}, false
	}
	return h[0].deadline, true
}

// expired pops every ticket whose deadline is not after now.
func (h *deadlineHeap) expired(now time.Time) []*ticket {
	var out []*ticket
	for h.Len() > 0 && !(*h)[0].deadline.After(now) {
		out = append(out, heap.Pop(h).(*ticket))
	}
	return out
}
