// Package router decides which output ports receive an event.
//
// A Router is a pure function of the event and the routing table of the
// active snapshot. It keeps no state between calls and may be invoked from
// any goroutine. The kernel swaps tables atomically on reconfiguration, so
// a router never observes a half-applied snapshot.
package router

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/randalmurphal/ceroute/pkg/ceroute/config"
	"github.com/randalmurphal/ceroute/pkg/ceroute/event"
	"github.com/randalmurphal/ceroute/pkg/ceroute/registry"
)

// ErrUnknownDestination is returned when a routing configuration names an
// output port the snapshot does not define.
var ErrUnknownDestination = errors.New("unknown destination")

// Router computes the destinations of an event.
type Router interface {
	Route(evt *event.Event, t *Table) ([]config.PortID, error)
}

// Validator is implemented by routers whose configuration can reference
// ports. The kernel calls it before accepting a snapshot.
type Validator interface {
	ValidateTable(t *Table) error
}

// Func adapts a function to the Router interface.
type Func func(evt *event.Event, t *Table) ([]config.PortID, error)

// Route implements Router.
func (f Func) Route(evt *event.Event, t *Table) ([]config.PortID, error) {
	return f(evt, t)
}

// Table is the routing view of one snapshot: its output ports in
// declaration order and the router's opaque configuration.
type Table struct {
	Outputs []config.PortID
	Config  config.Config

	outputSet map[config.PortID]struct{}

	mu    sync.Mutex
	cache map[string]cached
}

type cached struct {
	value any
	err   error
}

// NewTable builds the routing table for a snapshot.
func NewTable(s *config.Snapshot) *Table {
	outputs := s.Outputs()
	set := make(map[config.PortID]struct{}, len(outputs))
	for _, id := range outputs {
		set[id] = struct{}{}
	}
	return &Table{
		Outputs:   outputs,
		Config:    s.Routing.Config,
		outputSet: set,
		cache:     make(map[string]cached),
	}
}

// HasOutput reports whether id is an output port of the snapshot.
func (t *Table) HasOutput(id config.PortID) bool {
	if t.outputSet == nil {
		return slices.Contains(t.Outputs, id)
	}
	_, ok := t.outputSet[id]
	return ok
}

// Memo returns the value built for key, building it on first use. Routers
// use it to parse their configuration once per snapshot instead of once per
// event. Errors are memoised too.
func (t *Table) Memo(key string, build func() (any, error)) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cache == nil {
		t.cache = make(map[string]cached)
	}
	if c, ok := t.cache[key]; ok {
		return c.value, c.err
	}
	v, err := build()
	t.cache[key] = cached{value: v, err: err}
	return v, err
}

// CheckDestinations reports every id that is not an output of the table.
func (t *Table) CheckDestinations(ids []string) error {
	var unknown []string
	for _, id := range ids {
		if !t.HasOutput(config.PortID(id)) {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("%w: %v", ErrUnknownDestination, unknown)
	}
	return nil
}

// Registry maps routing type names to routers.
type Registry = registry.Registry[Router]

// NewRegistry creates an empty router registry.
func NewRegistry() *Registry {
	return registry.New[Router]("router")
}

// DefaultRegistry returns a registry holding the built-in routers:
// "broadcast" and "rules".
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister("broadcast", Broadcast{})
	r.MustRegister("rules", NewRules())
	return r
}

// Vars exposes an event's attributes and extensions to rule expressions.
func Vars(evt *event.Event) map[string]any {
	vars := evt.Extensions()
	if vars == nil {
		vars = make(map[string]any, 7)
	}
	vars["id"] = evt.ID()
	vars["source"] = evt.Source()
	vars["type"] = evt.Type()
	vars["subject"] = evt.Subject()
	vars["datacontenttype"] = evt.DataContentType()
	vars["dataschema"] = evt.DataSchema()
	vars["time"] = evt.Time()
	return vars
}
