package loader

import (
	"context"
	"errors"
	"sync"

	"github.com/randalmurphal/ceroute/pkg/ceroute/config"
)

// ErrLoaderClosed is returned by Push after the consumer went away.
var ErrLoaderClosed = errors.New("loader closed")

// Rejection records a snapshot the kernel refused.
type Rejection struct {
	Snapshot *config.Snapshot
	Err      error
}

// Push is a loader fed by the embedding program.
type Push struct {
	queue chan *config.Snapshot
	done  chan struct{}
	once  sync.Once

	mu         sync.Mutex
	rejections []Rejection
	notify     chan struct{}
}

// Compile-time interface checks.
var (
	_ config.Loader        = (*Push)(nil)
	_ config.RejectionSink = (*Push)(nil)
)

// NewPush creates a push loader. Snapshots pushed before the kernel starts
// are buffered up to buffer entries.
func NewPush(buffer int) *Push {
	if buffer <= 0 {
		buffer = 1
	}
	return &Push{
		queue:  make(chan *config.Snapshot, buffer),
		done:   make(chan struct{}),
		notify: make(chan struct{}, 1),
	}
}

// Push hands s to the kernel, waiting for buffer space.
func (l *Push) Push(ctx context.Context, s *config.Snapshot) error {
	select {
	case <-l.done:
		return ErrLoaderClosed
	default:
	}
	select {
	case l.queue <- s:
		return nil
	case <-l.done:
		return ErrLoaderClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshots implements config.Loader. It may be called once.
func (l *Push) Snapshots(ctx context.Context) (<-chan *config.Snapshot, error) {
	out := make(chan *config.Snapshot)
	go func() {
		defer close(out)
		defer l.once.Do(func() { close(l.done) })
		for {
			select {
			case s := <-l.queue:
				select {
				case out <- s:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Rejected implements config.RejectionSink.
func (l *Push) Rejected(s *config.Snapshot, err error) {
	l.mu.Lock()
	l.rejections = append(l.rejections, Rejection{Snapshot: s, Err: err})
	l.mu.Unlock()
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// Rejections returns the snapshots refused so far, oldest first.
func (l *Push) Rejections() []Rejection {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Rejection(nil), l.rejections...)
}

// RejectionNotify fires after each rejection. Notifications coalesce, so
// re-check Rejections after receiving one.
func (l *Push) RejectionNotify() <-chan struct{} {
	return l.notify
}
