package port

import (
	"context"
	"errors"
	"sync"

	"github.com/randalmurphal/ceroute/pkg/ceroute/channel"
	"github.com/randalmurphal/ceroute/pkg/ceroute/event"
)

// ResultFunc receives the aggregated result of one emitted event.
type ResultFunc func(Result)

// Input tracks the events an input port has handed to the kernel and routes
// the kernel's Processed replies back to per-event callbacks. Every emitted
// event gets exactly one callback invocation: from the kernel's reply, or a
// transient result when the input shuts down first.
type Input struct {
	ep *Endpoint

	mu      sync.Mutex
	next    IncomingID
	pending map[IncomingID]ResultFunc
	closed  bool
}

// NewInput wraps the port side of a kernel channel.
func NewInput(ep *Endpoint) *Input {
	return &Input{
		ep:      ep,
		pending: make(map[IncomingID]ResultFunc),
	}
}

// Emit hands evt to the kernel, blocking while the channel is full. onResult
// may be nil when the transport has nothing to acknowledge.
func (in *Input) Emit(ctx context.Context, evt *event.Event, onResult ResultFunc) error {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return channel.ErrChannelClosed
	}
	in.next++
	id := in.next
	if onResult == nil {
		onResult = func(Result) {}
	}
	in.pending[id] = onResult
	in.mu.Unlock()

	if err := in.ep.SendContext(ctx, Incoming{ID: id, Event: evt}); err != nil {
		in.mu.Lock()
		delete(in.pending, id)
		in.mu.Unlock()
		return err
	}
	return nil
}

// EmitWait hands evt to the kernel and waits for its result.
func (in *Input) EmitWait(ctx context.Context, evt *event.Event) (Result, error) {
	done := make(chan Result, 1)
	if err := in.Emit(ctx, evt, func(r Result) { done <- r }); err != nil {
		return ResultTransientError, err
	}
	select {
	case r := <-done:
		return r, nil
	case <-ctx.Done():
		return ResultTransientError, ctx.Err()
	}
}

// Dispatch invokes the callback for a Processed reply. Replies for unknown
// ids are ignored and reported as false.
func (in *Input) Dispatch(msg Processed) bool {
	in.mu.Lock()
	fn, ok := in.pending[msg.ID]
	delete(in.pending, msg.ID)
	in.mu.Unlock()
	if ok {
		fn(msg.Result)
	}
	return ok
}

// Pending returns the number of emitted events still awaiting a result.
func (in *Input) Pending() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.pending)
}

// Run receives kernel replies until ctx is done or the kernel closes its
// side, then fails every outstanding event with a transient result.
// Replies already buffered when ctx is cancelled are still dispatched.
func (in *Input) Run(ctx context.Context) error {
	defer in.shutdown()
	for {
		msg, err := in.ep.ReceiveContext(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				in.drain()
				return nil
			}
			if errors.Is(err, channel.ErrChannelClosed) {
				return nil
			}
			return err
		}
		if p, ok := msg.(Processed); ok {
			in.Dispatch(p)
		}
	}
}

func (in *Input) drain() {
	for {
		msg, ok, _ := in.ep.TryReceive()
		if !ok {
			return
		}
		if p, isProcessed := msg.(Processed); isProcessed {
			in.Dispatch(p)
		}
	}
}

func (in *Input) shutdown() {
	in.mu.Lock()
	in.closed = true
	pending := in.pending
	in.pending = make(map[IncomingID]ResultFunc)
	in.mu.Unlock()

	for _, fn := range pending {
		fn(ResultTransientError)
	}
}
