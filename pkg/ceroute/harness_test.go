package ceroute_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/ceroute/pkg/ceroute"
	"github.com/randalmurphal/ceroute/pkg/ceroute/config"
	"github.com/randalmurphal/ceroute/pkg/ceroute/event"
	"github.com/randalmurphal/ceroute/pkg/ceroute/loader"
	"github.com/randalmurphal/ceroute/pkg/ceroute/port"
	"github.com/randalmurphal/ceroute/pkg/ceroute/port/porttest"
	"github.com/randalmurphal/ceroute/pkg/ceroute/router"
	"github.com/randalmurphal/ceroute/pkg/ceroute/scheduler/schedulertest"
)

const waitTimeout = 5 * time.Second

// harness runs a kernel over test ports fed by a push loader.
type harness struct {
	t       *testing.T
	hub     *porttest.Hub
	loader  *loader.Push
	sched   *schedulertest.Recorder
	routers *router.Registry
	kernel  *ceroute.Kernel
	types   []func(*port.Registry)

	cancel context.CancelFunc
	done   chan error
	runErr error
	ended  bool
}

type harnessOption func(*harness)

// withPortType registers an extra port type next to the test hub.
func withPortType(name string, f port.Factory, dirs ...config.Direction) harnessOption {
	return func(h *harness) {
		h.types = append(h.types, func(r *port.Registry) { r.MustRegister(name, f, dirs...) })
	}
}

// withRouter registers an extra router type.
func withRouter(name string, r router.Router) harnessOption {
	return func(h *harness) { h.routers.MustRegister(name, r) }
}

func newHarness(t *testing.T, hopts []harnessOption, opts ...ceroute.Option) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		hub:     porttest.NewHub(),
		loader:  loader.NewPush(8),
		sched:   schedulertest.NewRecorder(nil),
		routers: router.DefaultRegistry(),
		done:    make(chan error, 1),
	}
	for _, o := range hopts {
		o(h)
	}

	ports := port.NewRegistry()
	h.hub.Register(ports)
	for _, register := range h.types {
		register(ports)
	}

	base := []ceroute.Option{
		ceroute.WithLogger(discardLogger()),
		ceroute.WithStopGrace(time.Second),
		ceroute.WithDrainTimeout(2 * time.Second),
	}
	h.kernel = ceroute.New(h.loader, h.sched, ports, h.routers, append(base, opts...)...)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.kernel.Run(ctx) }()

	t.Cleanup(func() { h.stop() })
	return h
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func parseSnapshot(t *testing.T, doc string) *config.Snapshot {
	t.Helper()
	s, err := config.SnapshotFromYAML([]byte(doc))
	require.NoError(t, err)
	return s
}

// push hands a snapshot to the kernel without waiting for it.
func (h *harness) push(doc string) *config.Snapshot {
	h.t.Helper()
	s := parseSnapshot(h.t, doc)
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(h.t, h.loader.Push(ctx, s))
	return s
}

// apply pushes a snapshot and waits until it is active.
func (h *harness) apply(doc string) *config.Snapshot {
	h.t.Helper()
	s := h.push(doc)
	require.Eventually(h.t, func() bool {
		return h.kernel.Version() == s.Version && h.kernel.State() == ceroute.StateRunning
	}, waitTimeout, 5*time.Millisecond, "snapshot %s not applied", s.Version)
	return s
}

// awaitRejections waits until n snapshots have been rejected.
func (h *harness) awaitRejections(n int) []loader.Rejection {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return len(h.loader.Rejections()) >= n
	}, waitTimeout, 5*time.Millisecond, "expected %d rejections", n)
	return h.loader.Rejections()
}

// emit sends evt from input id and waits for its result.
func (h *harness) emit(id config.PortID, evt *event.Event) port.Result {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	res, err := h.hub.Source(h.t, id).Emit(ctx, evt)
	require.NoError(h.t, err)
	return res
}

// emitAsync sends evt from input id and returns the pending result.
func (h *harness) emitAsync(id config.PortID, evt *event.Event) <-chan port.Result {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	ch, err := h.hub.Source(h.t, id).EmitAsync(ctx, evt)
	require.NoError(h.t, err)
	return ch
}

// stop cancels the kernel and returns what Run returned.
func (h *harness) stop() error {
	h.t.Helper()
	if h.ended {
		return h.runErr
	}
	h.cancel()
	select {
	case h.runErr = <-h.done:
	case <-time.After(waitTimeout):
		h.t.Fatal("kernel did not stop")
	}
	h.ended = true
	return h.runErr
}

func awaitResult(t *testing.T, ch <-chan port.Result) port.Result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(waitTimeout):
		t.Fatal("no result for emitted event")
		return port.ResultTransientError
	}
}

func evt(id string) *event.Event {
	return event.New("com.example.test", "/test", event.WithID(id))
}

const oneToOne = `
version: "1"
ports:
  - {id: in1, direction: input, type: test}
  - {id: out1, direction: output, type: test}
routing:
  type: broadcast
`

const oneToTwo = `
version: "1"
ports:
  - {id: in1, direction: input, type: test}
  - {id: out1, direction: output, type: test}
  - {id: out2, direction: output, type: test}
routing:
  type: broadcast
`
