package port

import (
	"github.com/randalmurphal/ceroute/pkg/ceroute/channel"
	"github.com/randalmurphal/ceroute/pkg/ceroute/event"
)

// DeliveryID identifies one delivery ticket: one event sent to one output.
type DeliveryID uint64

// IncomingID identifies one event handed to the kernel by an input port.
// It is scoped to the port that assigned it.
type IncomingID uint64

// KernelMessage is sent by the kernel to a port.
type KernelMessage interface {
	kernelMessage()
}

// PortMessage is sent by a port to the kernel.
type PortMessage interface {
	portMessage()
}

// Deliver asks an output port to deliver one event. The port must answer
// with exactly one Delivered carrying the same ID.
type Deliver struct {
	ID    DeliveryID
	Event *event.Event
}

// Processed reports the aggregated outcome of an event back to the input
// port that produced it.
type Processed struct {
	ID     IncomingID
	Result Result
}

// Incoming hands an event from an input port to the kernel.
type Incoming struct {
	ID    IncomingID
	Event *event.Event
}

// Delivered answers a Deliver. Err optionally explains a nack.
type Delivered struct {
	ID     DeliveryID
	Result Result
	Err    error
}

func (Deliver) kernelMessage()   {}
func (Processed) kernelMessage() {}
func (Incoming) portMessage()    {}
func (Delivered) portMessage()   {}

// Endpoint is the port side of the kernel-port channel.
type Endpoint = channel.Endpoint[PortMessage, KernelMessage]

// KernelEndpoint is the kernel side of the kernel-port channel.
type KernelEndpoint = channel.Endpoint[KernelMessage, PortMessage]

// NewPair creates a connected kernel/port endpoint pair.
func NewPair(capacity int) (*KernelEndpoint, *Endpoint) {
	return channel.NewPair[KernelMessage, PortMessage](capacity)
}
