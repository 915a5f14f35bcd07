// Package porttest provides in-memory ports for kernel tests.
//
// A Hub is registered as port type "test" for both directions. Every port
// it builds is recorded under its id, so a test can reach the current
// instance of a port, including one the kernel restarted:
//
//	hub := porttest.NewHub()
//	ports := port.NewRegistry()
//	hub.Register(ports)
//	...
//	res, err := hub.Source(t, "in").Emit(ctx, evt)
//	assert.Len(t, hub.Sink(t, "out").Received(), 1)
//
// Blob keys understood by the test type:
//
//	mode: ack | nack | permanent | hold   (outputs, default ack)
//	open_error: string                    (Open fails with this message)
//	open_delay: duration                  (Open sleeps first)
//	invalid: true                         (the factory rejects the spec)
package porttest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/randalmurphal/ceroute/pkg/ceroute/config"
	ceerrors "github.com/randalmurphal/ceroute/pkg/ceroute/errors"
	"github.com/randalmurphal/ceroute/pkg/ceroute/event"
	"github.com/randalmurphal/ceroute/pkg/ceroute/port"
)

// Type is the port type name registered by Hub.Register.
const Type = "test"

// Mode is how a Sink answers deliveries.
type Mode string

const (
	// ModeAck acks every delivery.
	ModeAck Mode = "ack"
	// ModeNack nacks every delivery as transient.
	ModeNack Mode = "nack"
	// ModePermanent nacks every delivery as permanent.
	ModePermanent Mode = "permanent"
	// ModeHold answers nothing until Release is called.
	ModeHold Mode = "hold"
)

// ErrRejected is the transient error returned by a nacking Sink.
var ErrRejected = errors.New("rejected by test sink")

// Hub builds and tracks test ports.
type Hub struct {
	mu      sync.Mutex
	sources map[config.PortID]*Source
	sinks   map[config.PortID]*Sink
	builds  map[config.PortID]int
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		sources: make(map[config.PortID]*Source),
		sinks:   make(map[config.PortID]*Sink),
		builds:  make(map[config.PortID]int),
	}
}

// Register adds the test type to r for both directions.
func (h *Hub) Register(r *port.Registry) {
	r.MustRegister(Type, h.Factory, config.DirectionInput, config.DirectionOutput)
}

// Factory implements port.Factory.
func (h *Hub) Factory(spec config.PortSpec, logger *slog.Logger) (port.Port, error) {
	if spec.Config.Bool("invalid", false) {
		return nil, fmt.Errorf("port %s marked invalid", spec.ID)
	}
	mode := Mode(spec.Config.String("mode", string(ModeAck)))
	switch mode {
	case ModeAck, ModeNack, ModePermanent, ModeHold:
	default:
		return nil, fmt.Errorf("unknown mode %q", mode)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.builds[spec.ID]++
	if spec.Direction == config.DirectionInput {
		s := &Source{}
		s.init(spec, logger)
		h.sources[spec.ID] = s
		return s, nil
	}
	s := &Sink{mode: mode}
	s.init(spec, logger)
	h.sinks[spec.ID] = s
	return s, nil
}

// Builds returns how many times the factory built id.
func (h *Hub) Builds(id config.PortID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.builds[id]
}

// Source waits for the latest instance of input id to be serving.
func (h *Hub) Source(t testing.TB, id config.PortID) *Source {
	t.Helper()
	var s *Source
	waitFor(t, fmt.Sprintf("source %s", id), func() bool {
		h.mu.Lock()
		s = h.sources[id]
		h.mu.Unlock()
		return s != nil && s.isServing()
	})
	return s
}

// Sink waits for the latest instance of output id to be serving.
func (h *Hub) Sink(t testing.TB, id config.PortID) *Sink {
	t.Helper()
	var s *Sink
	waitFor(t, fmt.Sprintf("sink %s", id), func() bool {
		h.mu.Lock()
		s = h.sinks[id]
		h.mu.Unlock()
		return s != nil && s.isServing()
	})
	return s
}

func waitFor(t testing.TB, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// base holds what sources and sinks share.
type base struct {
	id        config.PortID
	logger    *slog.Logger
	openErr   string
	openDelay time.Duration

	opened     chan struct{}
	openedOnce sync.Once
	crash      chan error

	mu      sync.Mutex
	serve   bool
	stopped bool
}

func (b *base) init(spec config.PortSpec, logger *slog.Logger) {
	b.id = spec.ID
	b.logger = logger
	b.openErr = spec.Config.String("open_error", "")
	b.openDelay = spec.Config.Duration("open_delay", 0)
	b.opened = make(chan struct{})
	b.crash = make(chan error, 1)
}

func (b *base) open(ctx context.Context) error {
	if b.openDelay > 0 {
		select {
		case <-time.After(b.openDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if b.openErr != "" {
		return errors.New(b.openErr)
	}
	b.openedOnce.Do(func() { close(b.opened) })
	return nil
}

func (b *base) setServing(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.serve = v
	if !v {
		b.stopped = true
	}
}

func (b *base) isServing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.serve
}

// Stopped reports whether Serve has returned.
func (b *base) Stopped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopped
}

// Crash makes Serve return err while its context is still live.
func (b *base) Crash(err error) {
	select {
	case b.crash <- err:
	default:
	}
}

// Source is an input port driven by the test.
type Source struct {
	base

	inMu sync.Mutex
	in   *port.Input
}

// Open implements port.Port.
func (s *Source) Open(ctx context.Context) error { return s.open(ctx) }

// Serve implements port.Port.
func (s *Source) Serve(ctx context.Context, ep *port.Endpoint) error {
	in := port.NewInput(ep)
	s.inMu.Lock()
	s.in = in
	s.inMu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- in.Run(runCtx) }()

	s.setServing(true)
	defer s.setServing(false)

	select {
	case err := <-done:
		return err
	case err := <-s.crash:
		cancel()
		<-done
		return err
	}
}

func (s *Source) input() *port.Input {
	s.inMu.Lock()
	defer s.inMu.Unlock()
	return s.in
}

// Emit hands evt to the kernel and waits for its aggregated result.
func (s *Source) Emit(ctx context.Context, evt *event.Event) (port.Result, error) {
	return s.input().EmitWait(ctx, evt)
}

// EmitAsync hands evt to the kernel and returns a channel that receives its
// result.
func (s *Source) EmitAsync(ctx context.Context, evt *event.Event) (<-chan port.Result, error) {
	out := make(chan port.Result, 1)
	err := s.input().Emit(ctx, evt, func(r port.Result) { out <- r })
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Pending returns the emitted events still awaiting a result.
func (s *Source) Pending() int {
	return s.input().Pending()
}

// Sink is an output port that records deliveries and answers them
// according to its mode.
type Sink struct {
	base

	dmu      sync.Mutex
	mode     Mode
	received []*event.Event
	held     []port.DeliveryID
	ep       *port.Endpoint
}

// Open implements port.Port.
func (s *Sink) Open(ctx context.Context) error { return s.open(ctx) }

// Serve implements port.Port.
func (s *Sink) Serve(ctx context.Context, ep *port.Endpoint) error {
	s.dmu.Lock()
	s.ep = ep
	s.dmu.Unlock()

	s.setServing(true)
	defer s.setServing(false)

	for {
		select {
		case <-ctx.Done():
			s.drain()
			return nil
		case err := <-s.crash:
			return err
		case msg, ok := <-ep.Messages():
			if !ok {
				return nil
			}
			s.handle(msg)
		}
	}
}

func (s *Sink) drain() {
	for {
		msg, ok, _ := s.ep.TryReceive()
		if !ok {
			return
		}
		s.handle(msg)
	}
}

func (s *Sink) handle(msg port.KernelMessage) {
	d, ok := msg.(port.Deliver)
	if !ok {
		return
	}
	s.dmu.Lock()
	s.received = append(s.received, d.Event)
	mode := s.mode
	if mode == ModeHold {
		s.held = append(s.held, d.ID)
	}
	s.dmu.Unlock()

	if mode == ModeHold {
		return
	}
	s.reply(d.ID, mode)
}

func (s *Sink) reply(id port.DeliveryID, mode Mode) {
	var err error
	switch mode {
	case ModeNack:
		err = ErrRejected
	case ModePermanent:
		err = ceerrors.Permanent(ErrRejected, "test sink")
	}
	reply := port.Delivered{ID: id, Result: port.ResultFromError(err), Err: err}
	if sendErr := s.ep.Send(reply, time.Second); sendErr != nil && s.logger != nil {
		s.logger.Warn("test sink reply lost", slog.String("error", sendErr.Error()))
	}
}

// SetMode changes how later deliveries are answered.
func (s *Sink) SetMode(m Mode) {
	s.dmu.Lock()
	defer s.dmu.Unlock()
	s.mode = m
}

// Release answers every held delivery as mode and returns how many there
// were.
func (s *Sink) Release(mode Mode) int {
	s.dmu.Lock()
	held := s.held
	s.held = nil
	s.dmu.Unlock()
	for _, id := range held {
		s.reply(id, mode)
	}
	return len(held)
}

// Held returns the number of deliveries waiting for Release.
func (s *Sink) Held() int {
	s.dmu.Lock()
	defer s.dmu.Unlock()
	return len(s.held)
}

// Received returns the events delivered so far, in arrival order.
func (s *Sink) Received() []*event.Event {
	s.dmu.Lock()
	defer s.dmu.Unlock()
	return append([]*event.Event(nil), s.received...)
}

// ReceivedIDs returns the ids of the events delivered so far.
func (s *Sink) ReceivedIDs() []string {
	evts := s.Received()
	ids := make([]string, len(evts))
	for i, e := range evts {
		ids[i] = e.ID()
	}
	return ids
}
