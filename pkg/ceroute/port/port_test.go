package port_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/randalmurphal/ceroute/pkg/ceroute/config"
	ceerrors "github.com/randalmurphal/ceroute/pkg/ceroute/errors"
	"github.com/randalmurphal/ceroute/pkg/ceroute/event"
	"github.com/randalmurphal/ceroute/pkg/ceroute/port"
	"github.com/randalmurphal/ceroute/pkg/ceroute/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name    string
		results []port.Result
		want    port.Result
	}{
		{"no destinations", nil, port.ResultAck},
		{"all ack", []port.Result{port.ResultAck, port.ResultAck}, port.ResultAck},
		{"one transient", []port.Result{port.ResultAck, port.ResultTransientError}, port.ResultTransientError},
		{"permanent wins", []port.Result{port.ResultTransientError, port.ResultPermanentError, port.ResultAck}, port.ResultPermanentError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, port.Aggregate(tt.results...))
		})
	}
}

func TestResultFromError(t *testing.T) {
	assert.Equal(t, port.ResultAck, port.ResultFromError(nil))
	assert.Equal(t, port.ResultTransientError, port.ResultFromError(io.EOF))
	assert.Equal(t, port.ResultPermanentError,
		port.ResultFromError(&ceerrors.DecodeError{Source: "x", Err: errors.New("bad")}))
	assert.Equal(t, "nack_permanent", port.ResultPermanentError.String())
	assert.True(t, port.ResultAck.Ok())
}

type nopPort struct{}

func (nopPort) Open(context.Context) error { return nil }
func (nopPort) Serve(ctx context.Context, _ *port.Endpoint) error {
	<-ctx.Done()
	return nil
}

func TestRegistry(t *testing.T) {
	r := port.NewRegistry()
	factory := func(config.PortSpec, *slog.Logger) (port.Port, error) { return nopPort{}, nil }
	require.NoError(t, r.Register("nop", factory, config.DirectionOutput))

	assert.ErrorIs(t, r.Register("nop", factory, config.DirectionOutput), registry.ErrDuplicate)
	assert.Error(t, r.Register("nil", nil, config.DirectionOutput))
	assert.Error(t, r.Register("nodir", factory))

	out := config.PortSpec{ID: "o", Direction: config.DirectionOutput, Type: "nop"}
	p, err := r.Build(out, discardLogger())
	require.NoError(t, err)
	assert.NotNil(t, p)

	in := config.PortSpec{ID: "i", Direction: config.DirectionInput, Type: "nop"}
	assert.ErrorContains(t, r.Check(in), "does not support direction input")

	_, err = r.Build(config.PortSpec{ID: "x", Direction: config.DirectionOutput, Type: "missing"}, discardLogger())
	assert.ErrorIs(t, err, registry.ErrNotFound)
	assert.Equal(t, []string{"nop"}, r.Types())
}

func TestRegistryBuildWrapsFactoryError(t *testing.T) {
	r := port.NewRegistry()
	r.MustRegister("bad", func(config.PortSpec, *slog.Logger) (port.Port, error) {
		return nil, errors.New("missing uri")
	}, config.DirectionInput)

	_, err := r.Build(config.PortSpec{ID: "b", Direction: config.DirectionInput, Type: "bad"}, discardLogger())
	assert.ErrorContains(t, err, `build port "b" (bad): missing uri`)
}

// TestInputRoutesResults verifies each emitted event gets its own result.
func TestInputRoutesResults(t *testing.T) {
	kernel, portSide := port.NewPair(8)
	in := port.NewInput(portSide)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- in.Run(ctx) }()

	results := make(chan port.Result, 2)
	require.NoError(t, in.Emit(ctx, event.New("t", "s"), func(r port.Result) { results <- r }))
	require.NoError(t, in.Emit(ctx, event.New("t", "s"), func(r port.Result) { results <- r }))
	assert.Equal(t, 2, in.Pending())

	first, err := kernel.Receive(time.Second)
	require.NoError(t, err)
	second, err := kernel.Receive(time.Second)
	require.NoError(t, err)

	require.NoError(t, kernel.TrySend(port.Processed{ID: second.(port.Incoming).ID, Result: port.ResultPermanentError}))
	assert.Equal(t, port.ResultPermanentError, <-results)
	require.NoError(t, kernel.TrySend(port.Processed{ID: first.(port.Incoming).ID, Result: port.ResultAck}))
	assert.Equal(t, port.ResultAck, <-results)

	assert.False(t, in.Dispatch(port.Processed{ID: 999}), "unknown ids are ignored")

	cancel()
	require.NoError(t, <-done)
}

// TestInputShutdownFailsOutstanding verifies no emitted event is left
// without a result.
func TestInputShutdownFailsOutstanding(t *testing.T) {
	_, portSide := port.NewPair(8)
	in := port.NewInput(portSide)
	ctx, cancel := context.WithCancel(context.Background())

	var got atomic.Int32
	got.Store(-1)
	require.NoError(t, in.Emit(ctx, event.New("t", "s"), func(r port.Result) { got.Store(int32(r)) }))

	cancel()
	require.NoError(t, in.Run(ctx))

	assert.Equal(t, int32(port.ResultTransientError), got.Load())
	assert.Equal(t, 0, in.Pending())
	assert.Error(t, in.Emit(context.Background(), event.New("t", "s"), nil), "emit after shutdown")
}

func TestInputDrainsBufferedRepliesOnShutdown(t *testing.T) {
	kernel, portSide := port.NewPair(8)
	in := port.NewInput(portSide)
	ctx, cancel := context.WithCancel(context.Background())

	var got atomic.Int32
	got.Store(-1)
	require.NoError(t, in.Emit(ctx, event.New("t", "s"), func(r port.Result) { got.Store(int32(r)) }))
	msg, err := kernel.Receive(time.Second)
	require.NoError(t, err)
	require.NoError(t, kernel.TrySend(port.Processed{ID: msg.(port.Incoming).ID, Result: port.ResultAck}))

	cancel()
	require.NoError(t, in.Run(ctx))
	assert.Equal(t, int32(port.ResultAck), got.Load())
}

func TestEmitWait(t *testing.T) {
	kernel, portSide := port.NewPair(8)
	in := port.NewInput(portSide)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = in.Run(ctx) }()

	go func() {
		msg, err := kernel.Receive(time.Second)
		if err != nil {
			return
		}
		_ = kernel.TrySend(port.Processed{ID: msg.(port.Incoming).ID, Result: port.ResultTransientError})
	}()

	res, err := in.EmitWait(ctx, event.New("t", "s"))
	require.NoError(t, err)
	assert.Equal(t, port.ResultTransientError, res)
}

func TestServeOutputRepliesOncePerDelivery(t *testing.T) {
	kernel, portSide := port.NewPair(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliver := func(_ context.Context, evt *event.Event) error {
		if evt.Type() == "fail" {
			return &ceerrors.RejectedError{Destination: "test", Reason: "no"}
		}
		return nil
	}
	done := make(chan error, 1)
	go func() {
		done <- port.ServeOutput(ctx, portSide, deliver, port.OutputOptions{Logger: discardLogger()})
	}()

	require.NoError(t, kernel.TrySend(port.Deliver{ID: 1, Event: event.New("ok", "s")}))
	require.NoError(t, kernel.TrySend(port.Deliver{ID: 2, Event: event.New("fail", "s")}))

	for _, want := range []port.Delivered{{ID: 1, Result: port.ResultAck}, {ID: 2, Result: port.ResultPermanentError}} {
		msg, err := kernel.Receive(time.Second)
		require.NoError(t, err)
		got := msg.(port.Delivered)
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.Result, got.Result)
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ServeOutput did not return after cancel")
	}
}

// TestServeOutputDrainsOnCancel verifies buffered deliveries are answered
// after the port is told to stop.
func TestServeOutputDrainsOnCancel(t *testing.T) {
	kernel, portSide := port.NewPair(8)
	ctx, cancel := context.WithCancel(context.Background())

	for i := 1; i <= 3; i++ {
		require.NoError(t, kernel.TrySend(port.Deliver{ID: port.DeliveryID(i), Event: event.New("t", "s")}))
	}
	cancel()

	err := port.ServeOutput(ctx, portSide, func(context.Context, *event.Event) error { return nil },
		port.OutputOptions{Logger: discardLogger()})
	require.NoError(t, err)

	assert.Equal(t, 3, kernel.Len())
}
