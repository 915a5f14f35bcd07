// Package channel provides the bounded, bidirectional message pair that
// connects the kernel to each port.
//
// A pair is two endpoints over two buffered Go channels. Each endpoint
// sends one message type and receives the other. Messages are delivered in
// FIFO order per direction, and the buffer bound provides backpressure: a
// full buffer is reported to the sender, which decides per call site
// whether to fail fast (TrySend) or wait (Send).
//
//	kernelSide, portSide := channel.NewPair[ToPort, FromPort](256)
//	go runPort(portSide)
//	if err := kernelSide.TrySend(msg); errors.Is(err, channel.ErrChannelFull) {
//	    // backpressure
//	}
//
// Closing an endpoint is idempotent. The peer keeps receiving whatever was
// already buffered and then gets ErrChannelClosed.
package channel

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrChannelFull is returned when the buffer stays full for the whole
	// send window.
	ErrChannelFull = errors.New("channel full")

	// ErrChannelClosed is returned when sending on a closed endpoint, when
	// sending to a peer that has closed, and when receiving after the peer
	// closed and the buffer is drained.
	ErrChannelClosed = errors.New("channel closed")

	// ErrTimeout is returned when Receive finds no message within its
	// timeout.
	ErrTimeout = errors.New("receive timeout")
)

// DefaultCapacity is the buffer size used when NewPair gets a non-positive
// capacity.
const DefaultCapacity = 64

// Endpoint is one side of a pair. It sends S and receives R.
// All methods are safe for concurrent use.
type Endpoint[S, R any] struct {
	out chan S
	in  chan R

	closed     chan struct{}
	peerClosed chan struct{}
	closeOnce  *sync.Once
}

// NewPair creates two connected endpoints. The first sends A and receives
// B; the second is its mirror image.
func NewPair[A, B any](capacity int) (*Endpoint[A, B], *Endpoint[B, A]) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	aToB := make(chan A, capacity)
	bToA := make(chan B, capacity)
	aClosed := make(chan struct{})
	bClosed := make(chan struct{})

	a := &Endpoint[A, B]{
		out:        aToB,
		in:         bToA,
		closed:     aClosed,
		peerClosed: bClosed,
		closeOnce:  &sync.Once{},
	}
	b := &Endpoint[B, A]{
		out:        bToA,
		in:         aToB,
		closed:     bClosed,
		peerClosed: aClosed,
		closeOnce:  &sync.Once{},
	}
	return a, b
}

// TrySend enqueues msg without waiting.
func (e *Endpoint[S, R]) TrySend(msg S) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	select {
	case e.out <- msg:
		return nil
	default:
		return ErrChannelFull
	}
}

// Send enqueues msg, waiting up to timeout for buffer space. A non-positive
// timeout behaves like TrySend.
func (e *Endpoint[S, R]) Send(msg S, timeout time.Duration) error {
	if timeout <= 0 {
		return e.TrySend(msg)
	}
	if err := e.checkOpen(); err != nil {
		return err
	}
	select {
	case e.out <- msg:
		return nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case e.out <- msg:
		return nil
	case <-e.closed:
		return ErrChannelClosed
	case <-e.peerClosed:
		return ErrChannelClosed
	case <-timer.C:
		return ErrChannelFull
	}
}

// SendContext enqueues msg, waiting until there is buffer space, either
// side closes, or ctx is done.
func (e *Endpoint[S, R]) SendContext(ctx context.Context, msg S) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	select {
	case e.out <- msg:
		return nil
	case <-e.closed:
		return ErrChannelClosed
	case <-e.peerClosed:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive waits up to timeout for the next message. A non-positive timeout
// waits until a message arrives or the peer closes.
func (e *Endpoint[S, R]) Receive(timeout time.Duration) (R, error) {
	var zero R
	select {
	case msg := <-e.in:
		return msg, nil
	default:
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case msg := <-e.in:
		return msg, nil
	case <-e.peerClosed:
		return e.drainOne()
	case <-expired:
		return zero, ErrTimeout
	}
}

// ReceiveContext waits for the next message until the peer closes or ctx
// is done.
func (e *Endpoint[S, R]) ReceiveContext(ctx context.Context) (R, error) {
	var zero R
	select {
	case msg := <-e.in:
		return msg, nil
	case <-e.peerClosed:
		return e.drainOne()
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// TryReceive returns the next buffered message without waiting. ok is false
// when nothing is buffered; err is ErrChannelClosed once the peer closed and
// the buffer is empty.
func (e *Endpoint[S, R]) TryReceive() (msg R, ok bool, err error) {
	select {
	case msg = <-e.in:
		return msg, true, nil
	default:
	}
	select {
	case <-e.peerClosed:
		return msg, false, ErrChannelClosed
	default:
		return msg, false, nil
	}
}

// Messages exposes the raw inbound stream for multiplexed waits. The stream
// never closes; combine it with PeerClosed to detect the end.
func (e *Endpoint[S, R]) Messages() <-chan R {
	return e.in
}

// Outbound exposes the raw outbound stream for multiplexed sends. Sends on
// it bypass the closed checks, so callers must watch Done and PeerClosed
// themselves.
func (e *Endpoint[S, R]) Outbound() chan<- S {
	return e.out
}

// PeerClosed is closed once the other endpoint has been closed.
func (e *Endpoint[S, R]) PeerClosed() <-chan struct{} {
	return e.peerClosed
}

// Done is closed once this endpoint has been closed.
func (e *Endpoint[S, R]) Done() <-chan struct{} {
	return e.closed
}

// Close marks the endpoint closed. It is idempotent.
func (e *Endpoint[S, R]) Close() {
	e.closeOnce.Do(func() {
		close(e.closed)
	})
}

// Len returns the number of messages waiting to be received.
func (e *Endpoint[S, R]) Len() int {
	return len(e.in)
}

// Cap returns the buffer size of each direction.
func (e *Endpoint[S, R]) Cap() int {
	return cap(e.in)
}

func (e *Endpoint[S, R]) checkOpen() error {
	select {
	case <-e.closed:
		return ErrChannelClosed
	case <-e.peerClosed:
		return ErrChannelClosed
	default:
		return nil
	}
}

// drainOne returns a message still buffered after the peer closed.
func (e *Endpoint[S, R]) drainOne() (R, error) {
	var zero R
	select {
	case msg := <-e.in:
		return msg, nil
	default:
		return zero, ErrChannelClosed
	}
}
