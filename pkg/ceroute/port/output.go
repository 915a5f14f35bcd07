package port

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/randalmurphal/ceroute/pkg/ceroute/channel"
	"github.com/randalmurphal/ceroute/pkg/ceroute/event"
)

// DeliverFunc delivers one event to the external transport. A nil error is
// an ack; errors are classified with ResultFromError.
type DeliverFunc func(ctx context.Context, evt *event.Event) error

// OutputOptions tune ServeOutput.
type OutputOptions struct {
	// Logger receives delivery failures. Defaults to slog.Default().
	Logger *slog.Logger

	// DrainTimeout bounds each delivery made after ctx is cancelled.
	DrainTimeout time.Duration

	// ReplyTimeout bounds how long a reply may wait for channel space.
	ReplyTimeout time.Duration
}

// DefaultOutputOptions are used for zero fields of OutputOptions.
var DefaultOutputOptions = OutputOptions{
	DrainTimeout: 5 * time.Second,
	ReplyTimeout: 5 * time.Second,
}

// ServeOutput runs the standard output loop: every Deliver is passed to
// deliver and answered with exactly one Delivered. When ctx is cancelled the
// deliveries already buffered are still processed, so in-flight tickets
// resolve instead of timing out.
func ServeOutput(ctx context.Context, ep *Endpoint, deliver DeliverFunc, opts OutputOptions) error {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = DefaultOutputOptions.DrainTimeout
	}
	if opts.ReplyTimeout <= 0 {
		opts.ReplyTimeout = DefaultOutputOptions.ReplyTimeout
	}

	handle := func(ctx context.Context, msg KernelMessage) {
		d, ok := msg.(Deliver)
		if !ok {
			return
		}
		err := deliver(ctx, d.Event)
		res := ResultFromError(err)
		if err != nil {
			opts.Logger.Warn("delivery failed",
				slog.String("event_id", d.Event.ID()),
				slog.String("result", res.String()),
				slog.String("error", err.Error()),
			)
		}
		if sendErr := ep.Send(Delivered{ID: d.ID, Result: res, Err: err}, opts.ReplyTimeout); sendErr != nil {
			opts.Logger.Error("delivery reply lost",
				slog.String("event_id", d.Event.ID()),
				slog.String("error", sendErr.Error()),
			)
		}
	}

	for {
		msg, err := ep.ReceiveContext(ctx)
		if err != nil {
			if errors.Is(err, channel.ErrChannelClosed) {
				return nil
			}
			if ctx.Err() != nil {
				drainOutput(context.WithoutCancel(ctx), ep, opts.DrainTimeout, handle)
				return nil
			}
			return err
		}
		handle(ctx, msg)
	}
}

func drainOutput(base context.Context, ep *Endpoint, timeout time.Duration, handle func(context.Context, KernelMessage)) {
	for {
		msg, ok, _ := ep.TryReceive()
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(base, timeout)
		handle(ctx, msg)
		cancel()
	}
}
