package ceroute

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/randalmurphal/ceroute/pkg/ceroute/config"
	"github.com/randalmurphal/ceroute/pkg/ceroute/observability"
	"github.com/randalmurphal/ceroute/pkg/ceroute/port"
	"github.com/randalmurphal/ceroute/pkg/ceroute/router"
)

// plan is a validated snapshot ready to apply.
type plan struct {
	snapshot *config.Snapshot
	diff     config.Diff
	router   router.Router
	table    *router.Table
	built    map[config.PortID]port.Port
}

// reconfigure applies next or rejects it. Intake is paused for the whole
// call because the loop handles nothing else meanwhile; events keep
// queueing in the port channels.
func (k *Kernel) reconfigure(ctx context.Context, next *config.Snapshot) {
	prev := k.State()
	k.setState(StateReconfiguring)

	elapsed := observability.TimedOperation()
	toVersion := ""
	if next != nil {
		toVersion = next.Version
	}
	_, span := k.cfg.spans.StartReconfigureSpan(k.obsCtx, k.Version(), toVersion)

	err := k.apply(ctx, next)
	k.cfg.spans.EndSpanWithError(span, err)
	k.cfg.metrics.RecordReconfiguration(k.obsCtx, err == nil, elapsed())

	if err != nil {
		k.setState(prev)
		k.reject(next, err)
		return
	}
	k.setState(StateRunning)
}

// apply validates next completely before touching any port, then starts
// added ports, stops removed ones, restarts changed ones and swaps the
// routing table. Only a failure to start an added port rolls back.
func (k *Kernel) apply(ctx context.Context, next *config.Snapshot) error {
	elapsed := observability.TimedOperation()
	p, err := k.plan(next)
	if err != nil {
		return err
	}

	from := k.Version()
	if k.current != nil && k.current.snapshot.Equal(next) {
		k.current = &active{snapshot: next, router: p.router, table: p.table}
		k.version.Store(next.Version)
		k.logger.Debug("snapshot unchanged, no ports touched",
			slog.String("from_version", from),
			slog.String("to_version", next.Version),
		)
		return nil
	}

	started := make([]*portEntry, 0, len(p.diff.Added))
	for _, id := range p.diff.Added {
		spec, _ := next.Port(id)
		e, err := k.startEntry(ctx, spec, p.built[id])
		if err != nil {
			for _, s := range started {
				k.stopEntry(s, fmt.Errorf("%w: configuration %s rolled back", ErrPortUnavailable, next.Version))
			}
			return err
		}
		started = append(started, e)
	}

	for _, id := range p.diff.Removed {
		e := k.registry[id]
		delete(k.registry, id)
		if e != nil {
			k.stopEntry(e, fmt.Errorf("%w: %s removed", ErrPortUnavailable, id))
		}
	}

	for _, id := range p.diff.Changed {
		if old := k.registry[id]; old != nil {
			k.stopEntry(old, fmt.Errorf("%w: %s restarting", ErrPortUnavailable, id))
		}
		spec, _ := next.Port(id)
		e, err := k.startEntry(ctx, spec, p.built[id])
		if err != nil {
			k.logger.Error("changed port failed to start, port unavailable",
				slog.String("port_id", string(id)),
				slog.String("error", err.Error()),
			)
			e = k.unavailableEntry(spec)
		}
		k.registry[id] = e
	}

	for _, e := range started {
		k.registry[e.id()] = e
	}
	for _, id := range p.diff.Unchanged {
		if e := k.registry[id]; e != nil {
			spec, _ := next.Port(id)
			e.spec = spec
		}
	}

	k.current = &active{snapshot: next, router: p.router, table: p.table}
	k.version.Store(next.Version)
	k.casesDirty = true
	observability.LogReconfigure(k.logger, from, next.Version,
		len(p.diff.Added), len(p.diff.Removed), len(p.diff.Changed), elapsed())
	return nil
}

// plan runs every check that does not need a running port: structure,
// adapter types, factory validation and the routing configuration.
func (k *Kernel) plan(next *config.Snapshot) (*plan, error) {
	r, table, err := checkSnapshot(next, k.ports, k.routers)
	if err != nil {
		return nil, err
	}

	var problems []string
	var prev *config.Snapshot
	if k.current != nil {
		prev = k.current.snapshot
	}
	diff := prev.Diff(next)

	built := make(map[config.PortID]port.Port, len(diff.Added)+len(diff.Changed))
	for _, ids := range [][]config.PortID{diff.Added, diff.Changed} {
		for _, id := range ids {
			spec, _ := next.Port(id)
			logger := observability.EnrichLogger(k.logger, string(id), spec.Direction.String())
			pt, err := k.ports.Build(spec, logger)
			if err != nil {
				problems = append(problems, fmt.Sprintf("port %q: %v", id, err))
				continue
			}
			built[id] = pt
		}
	}
	if len(problems) > 0 {
		return nil, &config.InvalidConfigurationError{Version: next.Version, Problems: problems}
	}

	return &plan{snapshot: next, diff: diff, router: r, table: table, built: built}, nil
}

// reject reports a refused snapshot. The active configuration is untouched.
func (k *Kernel) reject(s *config.Snapshot, err error) {
	if s == nil {
		s = &config.Snapshot{}
	}
	observability.LogSnapshotRejected(k.logger, s.Version, err)
	if sink, ok := k.loader.(config.RejectionSink); ok {
		sink.Rejected(s, err)
	}
	if k.cfg.onReject != nil {
		k.cfg.onReject(s, err)
	}
}

// checkSnapshot validates s against the registered port and router types.
func checkSnapshot(s *config.Snapshot, ports *port.Registry, routers *router.Registry) (router.Router, *router.Table, error) {
	if err := s.Validate(); err != nil {
		return nil, nil, err
	}

	var problems []string
	for _, spec := range s.Ports {
		if err := ports.Check(spec); err != nil {
			problems = append(problems, fmt.Sprintf("port %q: %v", spec.ID, err))
		}
	}

	r, err := routers.Lookup(s.Routing.Type)
	if err != nil {
		problems = append(problems, fmt.Sprintf("routing: %v", err))
	}
	table := router.NewTable(s)
	if v, ok := r.(router.Validator); ok {
		if err := v.ValidateTable(table); err != nil {
			problems = append(problems, fmt.Sprintf("routing %s: %v", s.Routing.Type, err))
		}
	}
	if len(problems) > 0 {
		return nil, nil, &config.InvalidConfigurationError{Version: s.Version, Problems: problems}
	}
	return r, table, nil
}

// Validate reports whether a kernel using ports and routers would accept s.
// Every port is built but none is opened. A nil routers uses
// router.DefaultRegistry.
func Validate(s *config.Snapshot, ports *port.Registry, routers *router.Registry) error {
	if routers == nil {
		routers = router.DefaultRegistry()
	}
	if _, _, err := checkSnapshot(s, ports, routers); err != nil {
		return err
	}
	var problems []string
	for _, spec := range s.Ports {
		if _, err := ports.Build(spec, slog.New(slog.DiscardHandler)); err != nil {
			problems = append(problems, fmt.Sprintf("port %q: %v", spec.ID, err))
		}
	}
	if len(problems) > 0 {
		return &config.InvalidConfigurationError{Version: s.Version, Problems: problems}
	}
	return nil
}
