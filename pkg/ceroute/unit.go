package ceroute

import (
	"context"
	"log/slog"
	"time"

	"github.com/randalmurphal/ceroute/pkg/ceroute/config"
	"github.com/randalmurphal/ceroute/pkg/ceroute/port"
	"github.com/randalmurphal/ceroute/pkg/ceroute/scheduler"
)

// portUnit adapts a Port to the scheduler. The port side of the channel
// is closed when Serve returns, so the kernel fails further deliveries
// fast instead of filling a buffer nobody reads.
type portUnit struct {
	port port.Port
	ep   *port.Endpoint
}

// Compile-time interface check.
var _ scheduler.Unit = (*portUnit)(nil)

func (u *portUnit) Init(ctx context.Context) error {
	return u.port.Open(ctx)
}

func (u *portUnit) Run(ctx context.Context) error {
	defer u.ep.Close()
	return u.port.Serve(ctx, u.ep)
}

// portEntry is the kernel's record of one configured port. A restart
// creates a new entry, so batches compare entry pointers to tell the
// current instance of an input from a previous one.
type portEntry struct {
	spec       config.PortSpec
	unitID     string
	handle     *scheduler.Handle
	ep         *port.KernelEndpoint
	ackTimeout time.Duration
	logger     *slog.Logger
	startedAt  time.Time

	// tickets addressed to this port while it is an output
	pending map[port.DeliveryID]*ticket

	// results the origin's buffer had no room for, oldest first
	outbox []port.Processed

	// crash restarts so far
	restarts int
}

func (e *portEntry) id() config.PortID { return e.spec.ID }

// available reports whether the port has a running unit.
func (e *portEntry) available() bool {
	return e.handle != nil && e.ep != nil
}

func (e *portEntry) isInput() bool {
	return e.spec.Direction == config.DirectionInput
}
