package ceroute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"runtime/debug"
	"sort"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/ceroute/pkg/ceroute/channel"
	"github.com/randalmurphal/ceroute/pkg/ceroute/config"
	"github.com/randalmurphal/ceroute/pkg/ceroute/event"
	"github.com/randalmurphal/ceroute/pkg/ceroute/observability"
	"github.com/randalmurphal/ceroute/pkg/ceroute/port"
	"github.com/randalmurphal/ceroute/pkg/ceroute/router"
	"github.com/randalmurphal/ceroute/pkg/ceroute/scheduler"
)

// active is the configuration intake routes against. It is replaced as a
// whole, never patched.
type active struct {
	snapshot *config.Snapshot
	router   router.Router
	table    *router.Table
}

// Kernel brokers events between ports. All fields below the atomics are
// owned by the loop goroutine and need no locking.
type Kernel struct {
	loader  config.Loader
	sched   scheduler.Scheduler
	ports   *port.Registry
	routers *router.Registry
	cfg     kernelConfig
	logger  *slog.Logger

	state   atomic.Int32
	version atomic.Value
	started atomic.Bool

	obsCtx       context.Context
	current      *active
	registry     map[config.PortID]*portEntry
	units        map[string]*portEntry
	tickets      map[port.DeliveryID]*ticket
	batches      map[*batch]struct{}
	deadlines    deadlineHeap
	nextDelivery port.DeliveryID
	generation   uint64

	timer       *time.Timer
	casesDirty  bool
	cases       []reflect.SelectCase
	portCases   []reflect.SelectCase
	caseEntries []*portEntry
	sendEntries []*portEntry
}

// New creates a kernel. Nothing runs until Run is called.
//
// Example:
//
//	k := ceroute.New(
//	    loader.NewFile("ceroute.yaml", logger),
//	    scheduler.NewLocal(scheduler.Config{}),
//	    ports,
//	    router.DefaultRegistry(),
//	    ceroute.WithLogger(logger),
//	)
//	err := k.Run(ctx)
func New(loader config.Loader, sched scheduler.Scheduler, ports *port.Registry, routers *router.Registry, opts ...Option) *Kernel {
	cfg := defaultKernelConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.resolve()
	if routers == nil {
		routers = router.DefaultRegistry()
	}
	if ports == nil {
		ports = port.NewRegistry()
	}
	k := &Kernel{
		loader:   loader,
		sched:    sched,
		ports:    ports,
		routers:  routers,
		cfg:      cfg,
		logger:   cfg.logger,
		obsCtx:   context.Background(),
		registry: make(map[config.PortID]*portEntry),
		units:    make(map[string]*portEntry),
		tickets:  make(map[port.DeliveryID]*ticket),
		batches:  make(map[*batch]struct{}),
	}
	k.version.Store("")
	return k
}

// State returns the current lifecycle state. Safe for concurrent use.
func (k *Kernel) State() State {
	return State(k.state.Load())
}

// Version returns the version of the active snapshot, or "" before the
// first one is applied. Safe for concurrent use.
func (k *Kernel) Version() string {
	v, _ := k.version.Load().(string)
	return v
}

func (k *Kernel) setState(s State) {
	old := State(k.state.Swap(int32(s)))
	if old != s {
		k.logger.Debug("kernel state changed",
			slog.String("from", old.String()),
			slog.String("to", s.String()),
		)
	}
}

// Run brokers events until ctx is cancelled, then drains pending batches,
// stops every port and returns nil. It returns an error only when the
// loader cannot be started or the loop itself panics.
func (k *Kernel) Run(ctx context.Context) (runErr error) {
	if !k.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	loaderCtx, cancelLoader := context.WithCancel(ctx)
	defer cancelLoader()
	snapshots, err := k.loader.Snapshots(loaderCtx)
	if err != nil {
		k.setState(StateStopped)
		return fmt.Errorf("start loader: %w", err)
	}
	k.obsCtx = context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			k.logger.Error("broker loop panicked",
				slog.Any("panic", r),
				slog.String("stack", stack),
			)
			k.abandon()
			k.setState(StateStopped)
			runErr = &LoopPanicError{Value: r, Stack: stack}
		}
	}()

	k.loop(ctx, snapshots)
	k.shutdown()
	return nil
}

const (
	caseCtx = iota
	caseSnapshot
	caseCrash
	caseTicketTimer
	caseDrainTimer
	numFixedCases
)

// loop waits on every source at once and handles exactly one message per
// wake. reflect.Select picks uniformly among ready cases, so no source can
// starve the others.
func (k *Kernel) loop(ctx context.Context, snapshots <-chan *config.Snapshot) {
	k.timer = time.NewTimer(time.Hour)
	k.timer.Stop()
	defer k.timer.Stop()

	fixed := make([]reflect.SelectCase, numFixedCases)
	for i := range fixed {
		fixed[i].Dir = reflect.SelectRecv
	}
	fixed[caseCtx].Chan = reflect.ValueOf(ctx.Done())
	fixed[caseSnapshot].Chan = reflect.ValueOf(snapshots)
	fixed[caseCrash].Chan = reflect.ValueOf(k.sched.Crashes())

	var drain *time.Timer
	defer func() {
		if drain != nil {
			drain.Stop()
		}
	}()

	for {
		if k.State() == StateShuttingDown && len(k.batches) == 0 && !k.outboxPending() {
			return
		}
		k.armTimer(&fixed[caseTicketTimer])

		chosen, value, ok := reflect.Select(k.selectCases(fixed))
		switch chosen {
		case caseCtx:
			k.beginShutdown()
			fixed[caseCtx].Chan = reflect.Value{}
			fixed[caseSnapshot].Chan = reflect.Value{}
			drain = time.NewTimer(k.cfg.drainTimeout)
			fixed[caseDrainTimer].Chan = reflect.ValueOf(drain.C)

		case caseSnapshot:
			if !ok {
				k.logger.Info("configuration stream ended")
				fixed[caseSnapshot].Chan = reflect.Value{}
				continue
			}
			s, _ := value.Interface().(*config.Snapshot)
			k.reconfigure(ctx, s)

		case caseCrash:
			if !ok {
				fixed[caseCrash].Chan = reflect.Value{}
				continue
			}
			k.handleCrash(ctx, value.Interface().(scheduler.Crash))

		case caseTicketTimer:
			k.expireTickets(time.Now())

		case caseDrainTimer:
			k.logger.Warn("drain deadline reached, failing pending events",
				slog.Int("pending_batches", len(k.batches)),
			)
			return

		default:
			i := chosen - numFixedCases
			if i >= len(k.caseEntries) {
				e := k.sendEntries[i-len(k.caseEntries)]
				e.outbox[0] = port.Processed{}
				e.outbox = e.outbox[1:]
				continue
			}
			msg, _ := value.Interface().(port.PortMessage)
			k.handlePortMessage(k.caseEntries[i], msg)
		}
	}
}

// armTimer points the ticket timer at the earliest pending deadline.
func (k *Kernel) armTimer(c *reflect.SelectCase) {
	next, ok := k.deadlines.next()
	if !ok {
		k.timer.Stop()
		c.Chan = reflect.Value{}
		return
	}
	k.timer.Reset(time.Until(next))
	c.Chan = reflect.ValueOf(k.timer.C)
}

// selectCases appends one receive case per readable port endpoint, then one
// send case per origin with queued results. Inputs are left out of the
// receive cases once shutdown starts so no new batches are created.
func (k *Kernel) selectCases(fixed []reflect.SelectCase) []reflect.SelectCase {
	if k.casesDirty {
		k.casesDirty = false
		k.portCases = k.portCases[:0]
		k.caseEntries = k.caseEntries[:0]
		shuttingDown := k.State() == StateShuttingDown
		for _, e := range k.registry {
			if !e.available() || (shuttingDown && e.isInput()) {
				continue
			}
			k.caseEntries = append(k.caseEntries, e)
			k.portCases = append(k.portCases, reflect.SelectCase{
				Dir:  reflect.SelectRecv,
				Chan: reflect.ValueOf(e.ep.Messages()),
			})
		}
	}
	k.cases = append(k.cases[:0], fixed...)
	k.cases = append(k.cases, k.portCases...)

	k.sendEntries = k.sendEntries[:0]
	for _, e := range k.registry {
		if len(e.outbox) == 0 || !e.available() {
			continue
		}
		k.sendEntries = append(k.sendEntries, e)
		k.cases = append(k.cases, reflect.SelectCase{
			Dir:  reflect.SelectSend,
			Chan: reflect.ValueOf(e.ep.Outbound()),
			Send: reflect.ValueOf(port.KernelMessage(e.outbox[0])),
		})
	}
	return k.cases
}

// outboxPending reports whether any origin still has queued results.
func (k *Kernel) outboxPending() bool {
	for _, e := range k.registry {
		if len(e.outbox) > 0 && e.available() {
			return true
		}
	}
	return false
}

func (k *Kernel) handlePortMessage(e *portEntry, msg port.PortMessage) {
	switch m := msg.(type) {
	case port.Incoming:
		if !e.isInput() {
			e.logger.Warn("output port sent an event, dropping it")
			k.cfg.metrics.RecordEventDropped(k.obsCtx, string(e.id()), "not_an_input")
			return
		}
		k.intake(e, m)
	case port.Delivered:
		k.delivered(e, m)
	default:
		e.logger.Warn("unexpected message from port", slog.String("type", fmt.Sprintf("%T", msg)))
	}
}

// intake routes one event and fans it out.
func (k *Kernel) intake(origin *portEntry, in port.Incoming) {
	now := time.Now()
	b := &batch{origin: origin, incoming: in.ID, started: now}
	k.batches[b] = struct{}{}

	evt := in.Event
	if evt == nil {
		b.results = append(b.results, port.ResultPermanentError)
		k.finishBatch(b, fmt.Errorf("nil event"))
		return
	}
	b.eventID = evt.ID()
	k.cfg.metrics.RecordEventReceived(k.obsCtx, string(origin.id()))
	_, b.span = k.cfg.spans.StartBatchSpan(k.obsCtx, string(origin.id()), evt.ID(), evt.Type())

	if err := evt.Validate(); err != nil {
		origin.logger.Warn("invalid event rejected",
			slog.String("event_id", evt.ID()),
			slog.String("error", err.Error()),
		)
		b.results = append(b.results, port.ResultPermanentError)
		k.finishBatch(b, err)
		return
	}

	dests, err := k.route(evt)
	if err != nil {
		origin.logger.Warn("event not routable",
			slog.String("event_id", evt.ID()),
			slog.String("error", err.Error()),
		)
		b.results = append(b.results, port.ResultPermanentError)
		k.finishBatch(b, err)
		return
	}

	for _, id := range dests {
		dest := k.registry[id]
		if dest == nil || !dest.available() {
			origin.logger.Debug("destination unavailable",
				slog.String("event_id", evt.ID()),
				slog.String("destination", string(id)),
			)
			b.results = append(b.results, port.ResultTransientError)
			continue
		}

		k.nextDelivery++
		t := &ticket{
			id:       k.nextDelivery,
			batch:    b,
			dest:     dest,
			deadline: now.Add(dest.ackTimeout),
			index:    -1,
		}
		if err := dest.ep.Send(port.Deliver{ID: t.id, Event: evt.Clone()}, k.cfg.sendTimeout); err != nil {
			dest.logger.Warn("delivery not enqueued",
				slog.String("event_id", evt.ID()),
				slog.String("error", err.Error()),
			)
			b.results = append(b.results, port.ResultTransientError)
			continue
		}
		b.tickets = append(b.tickets, t)
		b.outstanding++
		k.tickets[t.id] = t
		dest.pending[t.id] = t
		k.deadlines.add(t)
	}

	if b.outstanding == 0 {
		k.finishBatch(b, nil)
	}
}

// route asks the router for destinations against the active table. Every
// destination must be an output of that same snapshot.
func (k *Kernel) route(evt *event.Event) ([]config.PortID, error) {
	cur := k.current
	if cur == nil {
		return nil, &RouteError{EventID: evt.ID(), Err: fmt.Errorf("no active configuration")}
	}
	dests, err := safeRoute(cur.router, evt, cur.table)
	if err != nil {
		return nil, &RouteError{EventID: evt.ID(), Err: err}
	}

	seen := make(map[config.PortID]struct{}, len(dests))
	unique := dests[:0:0]
	for _, id := range dests {
		if _, dup := seen[id]; dup {
			continue
		}
		if !cur.table.HasOutput(id) {
			return nil, &RouteError{
				EventID: evt.ID(),
				Err:     fmt.Errorf("%w: %s", router.ErrUnknownDestination, id),
			}
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	return unique, nil
}

// safeRoute turns a router panic into an error so one bad event cannot
// take the loop down.
func safeRoute(r router.Router, evt *event.Event, t *router.Table) (dests []config.PortID, err error) {
	defer func() {
		if v := recover(); v != nil {
			dests, err = nil, fmt.Errorf("%w: %v", ErrRouterPanic, v)
		}
	}()
	return r.Route(evt, t)
}

// delivered resolves the ticket an output answered.
func (k *Kernel) delivered(from *portEntry, d port.Delivered) {
	t, ok := k.tickets[d.ID]
	if !ok {
		from.logger.Debug("reply for unknown or expired delivery",
			slog.Uint64("delivery_id", uint64(d.ID)),
		)
		return
	}
	if t.dest != from {
		from.logger.Warn("reply for a delivery addressed to another port",
			slog.Uint64("delivery_id", uint64(d.ID)),
			slog.String("addressed_to", string(t.dest.id())),
		)
		return
	}
	state := ticketAcked
	if !d.Result.Ok() {
		state = ticketNacked
	}
	k.resolveTicket(t, state, d.Result)
}

func (k *Kernel) resolveTicket(t *ticket, state ticketState, result port.Result) {
	if t.state != ticketPending {
		return
	}
	t.state = state
	delete(k.tickets, t.id)
	delete(t.dest.pending, t.id)
	k.deadlines.remove(t)

	b := t.batch
	b.outstanding--
	k.cfg.spans.AddSpanEvent(b.span, "ticket."+state.String(),
		attribute.String("port.id", string(t.dest.id())),
		attribute.String("result", result.String()),
	)
	if b.record(result) {
		k.finishBatch(b, nil)
	}
}

// finishBatch reports the aggregate result to the origin, once.
func (k *Kernel) finishBatch(b *batch, cause error) {
	if b.resolved {
		return
	}
	b.resolved = true
	delete(k.batches, b)

	res := b.result()
	k.cfg.metrics.RecordBatchResolved(k.obsCtx, res.String(), len(b.tickets), time.Since(b.started))
	if cause == nil && !res.Ok() {
		cause = fmt.Errorf("batch resolved %s", res)
	}
	if res.Ok() {
		cause = nil
	}
	k.cfg.spans.EndSpanWithError(b.span, cause)

	origin := b.origin
	if k.registry[origin.id()] != origin || !origin.available() {
		k.logger.Warn("origin port gone, result dropped",
			slog.String("port_id", string(origin.id())),
			slog.String("event_id", b.eventID),
			slog.String("result", res.String()),
		)
		return
	}
	k.reply(origin, port.Processed{ID: b.incoming, Result: res}, b.eventID)
}

// reply sends a result to its origin. When the origin's buffer is full the
// result is queued behind any earlier ones and the loop sends it once the
// origin makes room, so results keep their order.
func (k *Kernel) reply(origin *portEntry, p port.Processed, eventID string) {
	if len(origin.outbox) == 0 {
		err := origin.ep.Send(p, k.cfg.sendTimeout)
		if err == nil {
			return
		}
		if !errors.Is(err, channel.ErrChannelFull) {
			origin.logger.Warn("result not delivered to origin",
				slog.String("event_id", eventID),
				slog.String("result", p.Result.String()),
				slog.String("error", err.Error()),
			)
			return
		}
	}
	origin.logger.Debug("origin busy, result queued",
		slog.String("event_id", eventID),
		slog.Int("queued", len(origin.outbox)+1),
	)
	origin.outbox = append(origin.outbox, p)
}

// flushOutbox hands queued results to the origin, waiting up to the send
// timeout for each. It stops at the first one that does not fit.
func (k *Kernel) flushOutbox(e *portEntry) {
	for len(e.outbox) > 0 && e.available() {
		if err := e.ep.Send(e.outbox[0], k.cfg.sendTimeout); err != nil {
			return
		}
		e.outbox[0] = port.Processed{}
		e.outbox = e.outbox[1:]
	}
}

// expireTickets times out every ticket whose deadline has passed.
func (k *Kernel) expireTickets(now time.Time) {
	for _, t := range k.deadlines.expired(now) {
		k.cfg.metrics.RecordTicketTimeout(k.obsCtx, string(t.dest.id()))
		t.dest.logger.Warn("delivery timed out",
			slog.String("event_id", t.batch.eventID),
			slog.Duration("ack_timeout", t.dest.ackTimeout),
			slog.String("error", ErrDeliveryTimeout.Error()),
		)
		k.resolveTicket(t, ticketTimedOut, port.ResultTransientError)
	}
}

// detach disconnects an entry whose unit is gone: it closes the kernel
// endpoint, handles the replies still buffered, and nacks what is left.
// It returns the number of tickets nacked.
func (k *Kernel) detach(e *portEntry, cause error) int {
	if e.ep != nil {
		e.ep.Close()
		for {
			msg, ok, _ := e.ep.TryReceive()
			if !ok {
				break
			}
			switch m := msg.(type) {
			case port.Delivered:
				k.delivered(e, m)
			case port.Incoming:
				e.logger.Warn("dropping event from stopped input",
					slog.Uint64("incoming_id", uint64(m.ID)),
				)
				k.cfg.metrics.RecordEventDropped(k.obsCtx, string(e.id()), "input_stopped")
			}
		}
		e.ep = nil
	}
	for _, p := range e.outbox {
		e.logger.Warn("origin port gone, result dropped",
			slog.Uint64("incoming_id", uint64(p.ID)),
			slog.String("result", p.Result.String()),
		)
		k.cfg.metrics.RecordEventDropped(k.obsCtx, string(e.id()), "origin_stopped")
	}
	e.outbox = nil
	e.handle = nil
	delete(k.units, e.unitID)
	k.casesDirty = true

	left := make([]*ticket, 0, len(e.pending))
	for _, t := range e.pending {
		left = append(left, t)
	}
	sort.Slice(left, func(i, j int) bool { return left[i].id < left[j].id })
	for _, t := range left {
		t.dest.logger.Debug("nacking pending delivery",
			slog.String("event_id", t.batch.eventID),
			slog.String("reason", cause.Error()),
		)
		k.resolveTicket(t, ticketNacked, port.ResultTransientError)
	}
	return len(left)
}

// handleCrash applies the crash policy to a unit that exited on its own.
func (k *Kernel) handleCrash(ctx context.Context, c scheduler.Crash) {
	e, ok := k.units[c.ID]
	if !ok {
		k.logger.Debug("crash report for inactive unit", slog.String("unit", c.ID))
		return
	}
	k.cfg.metrics.RecordPortCrash(k.obsCtx, string(e.id()))
	restart := k.State() != StateShuttingDown && k.cfg.crashPolicy(e.id(), e.restarts, c.Err)
	observability.LogPortCrashed(k.logger, string(e.id()), c.Err, restart)

	k.detach(e, fmt.Errorf("%w: %w", ErrPortUnavailable, c.Err))
	if !restart || k.registry[e.id()] != e {
		return
	}

	p, err := k.ports.Build(e.spec, e.logger)
	if err != nil {
		k.logger.Error("port rebuild failed, port unavailable",
			slog.String("port_id", string(e.id())),
			slog.String("error", err.Error()),
		)
		return
	}
	next, err := k.startEntry(ctx, e.spec, p)
	if err != nil {
		k.logger.Error("port restart failed, port unavailable",
			slog.String("port_id", string(e.id())),
			slog.String("error", err.Error()),
		)
		return
	}
	next.restarts = e.restarts + 1
	k.registry[e.id()] = next
}

// startEntry schedules a built port and registers its unit.
func (k *Kernel) startEntry(ctx context.Context, spec config.PortSpec, p port.Port) (*portEntry, error) {
	logger := observability.EnrichLogger(k.logger, string(spec.ID), spec.Direction.String())
	kep, pep := port.NewPair(spec.Config.Int(KeyCapacity, k.cfg.channelCapacity))

	k.generation++
	unitID := fmt.Sprintf("%s#%d", spec.ID, k.generation)
	elapsed := observability.TimedOperation()
	h, err := k.sched.Start(ctx, scheduler.Spec{
		ID:         unitID,
		Unit:       &portUnit{port: p, ep: pep},
		StartGrace: spec.Config.Duration(KeyStartGrace, k.cfg.startGrace),
	})
	if err != nil {
		kep.Close()
		return nil, &PortError{PortID: spec.ID, Op: "start", Err: err}
	}

	e := &portEntry{
		spec:       spec,
		unitID:     unitID,
		handle:     h,
		ep:         kep,
		ackTimeout: spec.Config.Duration(KeyAckTimeout, k.cfg.ackTimeout),
		logger:     logger,
		startedAt:  h.StartedAt(),
		pending:    make(map[port.DeliveryID]*ticket),
	}
	k.units[unitID] = e
	k.casesDirty = true
	observability.LogPortStarted(k.logger, string(spec.ID), spec.Type, elapsed())
	return e, nil
}

// unavailableEntry records a configured port that has no running unit.
func (k *Kernel) unavailableEntry(spec config.PortSpec) *portEntry {
	return &portEntry{
		spec:       spec,
		ackTimeout: spec.Config.Duration(KeyAckTimeout, k.cfg.ackTimeout),
		logger:     observability.EnrichLogger(k.logger, string(spec.ID), spec.Direction.String()),
		pending:    make(map[port.DeliveryID]*ticket),
	}
}

// stopEntry stops a port's unit and detaches it. The port still answers
// buffered deliveries while it stops; what it leaves unanswered is nacked.
func (k *Kernel) stopEntry(e *portEntry, cause error) {
	var stopErr error
	if e.handle != nil {
		stopErr = k.sched.Stop(e.handle, k.cfg.stopGrace)
	}
	n := k.detach(e, cause)
	observability.LogPortStopped(k.logger, string(e.id()), n, stopErr)
}

func (k *Kernel) beginShutdown() {
	k.setState(StateShuttingDown)
	k.casesDirty = true
	k.logger.Info("shutting down",
		slog.Int("pending_batches", len(k.batches)),
		slog.Duration("drain_timeout", k.cfg.drainTimeout),
	)
}

// shutdown fails what the drain left pending, then stops inputs before
// outputs so every result reaches its origin first.
func (k *Kernel) shutdown() {
	k.setState(StateShuttingDown)

	pending := make([]*batch, 0, len(k.batches))
	for b := range k.batches {
		pending = append(pending, b)
	}
	for _, b := range pending {
		for _, t := range b.tickets {
			k.resolveTicket(t, ticketNacked, port.ResultTransientError)
		}
		k.finishBatch(b, ErrKernelShutdown)
	}

	var inputs, outputs []*portEntry
	for _, e := range k.sortedEntries() {
		if e.isInput() {
			k.flushOutbox(e)
			inputs = append(inputs, e)
		} else {
			outputs = append(outputs, e)
		}
	}
	k.stopGroup(inputs, ErrKernelShutdown)
	k.stopGroup(outputs, ErrKernelShutdown)

	k.registry = make(map[config.PortID]*portEntry)
	k.current = nil
	k.setState(StateStopped)
	k.logger.Info("kernel stopped")
}

// stopGroup stops units concurrently, then detaches them on the loop
// goroutine.
func (k *Kernel) stopGroup(entries []*portEntry, cause error) {
	errs := make([]error, len(entries))
	var g errgroup.Group
	for i, e := range entries {
		h := e.handle
		if h == nil {
			continue
		}
		g.Go(func() error {
			errs[i] = k.sched.Stop(h, k.cfg.stopGrace)
			return errs[i]
		})
	}
	if err := g.Wait(); err != nil {
		k.logger.Warn("ports did not stop gracefully", slog.String("error", err.Error()))
	}
	for i, e := range entries {
		n := k.detach(e, cause)
		observability.LogPortStopped(k.logger, string(e.id()), n, errs[i])
	}
}

// abandon stops whatever is running after the loop panicked.
func (k *Kernel) abandon() {
	defer func() {
		if r := recover(); r != nil {
			k.logger.Error("cleanup after loop panic failed", slog.Any("panic", r))
		}
	}()
	var g errgroup.Group
	for _, e := range k.registry {
		h, ep := e.handle, e.ep
		if ep != nil {
			ep.Close()
		}
		if h == nil {
			continue
		}
		g.Go(func() error { return k.sched.Stop(h, k.cfg.stopGrace) })
	}
	_ = g.Wait()
}

func (k *Kernel) sortedEntries() []*portEntry {
	entries := make([]*portEntry, 0, len(k.registry))
	for _, e := range k.registry {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].id() < entries[j].id() })
	return entries
}
