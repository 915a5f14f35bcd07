package config

import (
	"fmt"
	"strings"
)

// PortID identifies a configured port. It is unique within a snapshot and
// stable across snapshots that keep the port.
type PortID string

// Direction tells whether a port feeds events into the kernel or receives
// them from it.
type Direction int

const (
	// DirectionUnknown is the zero value and never valid in a snapshot.
	DirectionUnknown Direction = iota
	// DirectionInput ports produce events and receive processing results.
	DirectionInput
	// DirectionOutput ports receive deliveries and reply with outcomes.
	DirectionOutput
)

// String returns the direction name used in configuration files.
func (d Direction) String() string {
	switch d {
	case DirectionInput:
		return "input"
	case DirectionOutput:
		return "output"
	default:
		return "unknown"
	}
}

// ParseDirection converts a configuration value to a Direction.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "input", "in":
		return DirectionInput, nil
	case "output", "out":
		return DirectionOutput, nil
	default:
		return DirectionUnknown, fmt.Errorf("unknown direction %q", s)
	}
}

// PortSpec describes one port: which adapter type runs it, which way events
// flow, and the adapter's opaque configuration blob.
type PortSpec struct {
	ID        PortID
	Direction Direction
	Type      string
	Config    Config
}

// Equal reports whether two specs describe the same running port.
// A port whose spec changed between snapshots is restarted.
func (p PortSpec) Equal(other PortSpec) bool {
	return p.ID == other.ID &&
		p.Direction == other.Direction &&
		p.Type == other.Type &&
		p.Config.Equal(other.Config)
}

// RoutingSpec selects the router and carries its opaque configuration.
type RoutingSpec struct {
	Type   string
	Config Config
}

// Equal reports whether two routing specs are identical.
func (r RoutingSpec) Equal(other RoutingSpec) bool {
	return r.Type == other.Type && r.Config.Equal(other.Config)
}

// Snapshot is a complete, immutable broker configuration. Snapshots are
// never merged: each one replaces the previous in full.
type Snapshot struct {
	Version string
	Ports   []PortSpec
	Routing RoutingSpec
}

// Port returns the spec for id.
func (s *Snapshot) Port(id PortID) (PortSpec, bool) {
	for _, p := range s.Ports {
		if p.ID == id {
			return p, true
		}
	}
	return PortSpec{}, false
}

// Inputs returns the input port IDs in declaration order.
func (s *Snapshot) Inputs() []PortID {
	return s.byDirection(DirectionInput)
}

// Outputs returns the output port IDs in declaration order.
func (s *Snapshot) Outputs() []PortID {
	return s.byDirection(DirectionOutput)
}

func (s *Snapshot) byDirection(d Direction) []PortID {
	ids := make([]PortID, 0, len(s.Ports))
	for _, p := range s.Ports {
		if p.Direction == d {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

// Validate checks the structural rules every snapshot must satisfy.
// Adapter types and routing references are checked by the kernel, which
// knows the registered factories.
func (s *Snapshot) Validate() error {
	if s == nil {
		return Invalid("", "snapshot is nil")
	}
	var problems []string
	seen := make(map[PortID]bool, len(s.Ports))
	for i, p := range s.Ports {
		switch {
		case p.ID == "":
			problems = append(problems, fmt.Sprintf("port #%d has an empty id", i))
		case seen[p.ID]:
			problems = append(problems, fmt.Sprintf("duplicate port id %q", p.ID))
		}
		seen[p.ID] = true
		if p.Direction != DirectionInput && p.Direction != DirectionOutput {
			problems = append(problems, fmt.Sprintf("port %q has no valid direction", p.ID))
		}
		if p.Type == "" {
			problems = append(problems, fmt.Sprintf("port %q has no type", p.ID))
		}
	}
	if s.Routing.Type == "" {
		problems = append(problems, "routing type is required")
	}
	if len(problems) > 0 {
		return &InvalidConfigurationError{Version: s.Version, Problems: problems}
	}
	return nil
}

// Diff classifies the ports of one snapshot against its successor.
type Diff struct {
	Removed   []PortID
	Added     []PortID
	Changed   []PortID
	Unchanged []PortID
}

// Empty reports whether applying the diff would touch no port.
func (d Diff) Empty() bool {
	return len(d.Removed) == 0 && len(d.Added) == 0 && len(d.Changed) == 0
}

// Diff computes which ports must be stopped, started or restarted to move
// from s to next. A nil receiver is treated as the empty snapshot, so every
// port of next is added.
func (s *Snapshot) Diff(next *Snapshot) Diff {
	var d Diff
	current := make(map[PortID]PortSpec)
	if s != nil {
		for _, p := range s.Ports {
			current[p.ID] = p
		}
	}
	nextIDs := make(map[PortID]bool, len(next.Ports))
	for _, p := range next.Ports {
		nextIDs[p.ID] = true
		old, ok := current[p.ID]
		switch {
		case !ok:
			d.Added = append(d.Added, p.ID)
		case old.Equal(p):
			d.Unchanged = append(d.Unchanged, p.ID)
		default:
			d.Changed = append(d.Changed, p.ID)
		}
	}
	if s != nil {
		for _, p := range s.Ports {
			if !nextIDs[p.ID] {
				d.Removed = append(d.Removed, p.ID)
			}
		}
	}
	return d
}

// Equal reports whether two snapshots configure identical ports and routing.
// The version string is ignored.
func (s *Snapshot) Equal(other *Snapshot) bool {
	if s == nil || other == nil {
		return s == other
	}
	if len(s.Ports) != len(other.Ports) || !s.Routing.Equal(other.Routing) {
		return false
	}
	return s.Diff(other).Empty()
}
