package port

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/randalmurphal/ceroute/pkg/ceroute/config"
	"github.com/randalmurphal/ceroute/pkg/ceroute/registry"
)

// Port is an adapter between the kernel and an external transport.
//
// Open connects to the transport and returns once the port is ready; the
// scheduler bounds it with a start grace period. Serve then exchanges
// messages with the kernel until ctx is cancelled. On cancellation a port
// stops taking new external input, finishes the work it already received,
// and returns. Returning while ctx is still live is reported as a crash.
type Port interface {
	Open(ctx context.Context) error
	Serve(ctx context.Context, ep *Endpoint) error
}

// Factory builds a port from its configuration. Factories validate the
// blob and return an error for bad keys; they must not connect anywhere.
type Factory func(spec config.PortSpec, logger *slog.Logger) (Port, error)

// Registration describes one adapter type.
type Registration struct {
	Factory    Factory
	Directions []config.Direction
}

// Registry maps the type names used in snapshots to adapter factories.
type Registry struct {
	types *registry.Registry[Registration]
}

// NewRegistry creates an empty port type registry.
func NewRegistry() *Registry {
	return &Registry{types: registry.New[Registration]("port type")}
}

// Register adds an adapter type that supports the given directions.
func (r *Registry) Register(name string, factory Factory, directions ...config.Direction) error {
	if factory == nil {
		return fmt.Errorf("port type %q: nil factory", name)
	}
	if len(directions) == 0 {
		return fmt.Errorf("port type %q: no directions", name)
	}
	return r.types.Register(name, Registration{Factory: factory, Directions: directions})
}

// MustRegister is Register for program setup; it panics on error.
func (r *Registry) MustRegister(name string, factory Factory, directions ...config.Direction) {
	if err := r.Register(name, factory, directions...); err != nil {
		panic(err)
	}
}

// Check reports whether spec names a registered type that supports its
// direction.
func (r *Registry) Check(spec config.PortSpec) error {
	reg, err := r.types.Lookup(spec.Type)
	if err != nil {
		return err
	}
	if !slices.Contains(reg.Directions, spec.Direction) {
		return fmt.Errorf("port type %q does not support direction %s", spec.Type, spec.Direction)
	}
	return nil
}

// Build creates the port described by spec.
func (r *Registry) Build(spec config.PortSpec, logger *slog.Logger) (Port, error) {
	if err := r.Check(spec); err != nil {
		return nil, err
	}
	reg, _ := r.types.Lookup(spec.Type)
	p, err := reg.Factory(spec, logger)
	if err != nil {
		return nil, fmt.Errorf("build port %q (%s): %w", spec.ID, spec.Type, err)
	}
	return p, nil
}

// Types returns the registered type names in sorted order.
func (r *Registry) Types() []string {
	return r.types.Names()
}
