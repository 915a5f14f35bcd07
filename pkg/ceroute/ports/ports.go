// Package ports wires every bundled adapter into a port registry.
package ports

import (
	"github.com/randalmurphal/ceroute/pkg/ceroute/port"
	"github.com/randalmurphal/ceroute/pkg/ceroute/ports/amqp"
	"github.com/randalmurphal/ceroute/pkg/ceroute/ports/generator"
	"github.com/randalmurphal/ceroute/pkg/ceroute/ports/kafka"
	"github.com/randalmurphal/ceroute/pkg/ceroute/ports/mqtt"
	"github.com/randalmurphal/ceroute/pkg/ceroute/ports/nats"
	"github.com/randalmurphal/ceroute/pkg/ceroute/ports/printer"
	"github.com/randalmurphal/ceroute/pkg/ceroute/ports/store"
	"github.com/randalmurphal/ceroute/pkg/ceroute/ports/unixsocket"
)

// RegisterAll adds every bundled port type to r.
func RegisterAll(r *port.Registry) error {
	for _, register := range []func(*port.Registry) error{
		generator.Register,
		printer.Register,
		unixsocket.Register,
		amqp.Register,
		nats.Register,
		kafka.Register,
		mqtt.Register,
		store.Register,
	} {
		if err := register(r); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry holding every bundled port type.
func NewRegistry() (*port.Registry, error) {
	r := port.NewRegistry()
	if err := RegisterAll(r); err != nil {
		return nil, err
	}
	return r, nil
}
