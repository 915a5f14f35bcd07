package router

import (
	"github.com/randalmurphal/ceroute/pkg/ceroute/config"
	"github.com/randalmurphal/ceroute/pkg/ceroute/event"
)

// Broadcast sends every event to every configured output port.
type Broadcast struct{}

// Compile-time interface check.
var _ Router = Broadcast{}

// Route implements Router.
func (Broadcast) Route(_ *event.Event, t *Table) ([]config.PortID, error) {
	return append([]config.PortID(nil), t.Outputs...), nil
}
