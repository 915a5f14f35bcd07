package ceroute

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/randalmurphal/ceroute/pkg/ceroute/config"
	"github.com/randalmurphal/ceroute/pkg/ceroute/observability"
)

func TestDefaultKernelConfig(t *testing.T) {
	cfg := defaultKernelConfig()
	cfg.resolve()

	assert.Equal(t, 30*time.Second, cfg.ackTimeout)
	assert.Equal(t, 10*time.Second, cfg.drainTimeout)
	assert.Equal(t, 256, cfg.channelCapacity)
	assert.Equal(t, 100*time.Millisecond, cfg.sendTimeout)
	assert.False(t, cfg.metricsEnabled)
	assert.False(t, cfg.tracingEnabled)
	assert.IsType(t, observability.NoopMetrics{}, cfg.metrics)
	assert.IsType(t, observability.NoopSpanManager{}, cfg.spans)
	assert.False(t, cfg.crashPolicy("p", 0, errors.New("x")))
}

func TestOptions(t *testing.T) {
	logger := slog.Default()
	var rejected bool
	cfg := defaultKernelConfig()
	for _, opt := range []Option{
		WithLogger(logger),
		WithAckTimeout(time.Second),
		WithDrainTimeout(2 * time.Second),
		WithStopGrace(3 * time.Second),
		WithStartGrace(4 * time.Second),
		WithChannelCapacity(8),
		WithSendTimeout(time.Millisecond),
		WithCrashPolicy(RestartOnCrash(2)),
		WithRejectHandler(func(*config.Snapshot, error) { rejected = true }),
	} {
		opt(&cfg)
	}

	assert.Same(t, logger, cfg.logger)
	assert.Equal(t, time.Second, cfg.ackTimeout)
	assert.Equal(t, 2*time.Second, cfg.drainTimeout)
	assert.Equal(t, 3*time.Second, cfg.stopGrace)
	assert.Equal(t, 4*time.Second, cfg.startGrace)
	assert.Equal(t, 8, cfg.channelCapacity)
	assert.Equal(t, time.Millisecond, cfg.sendTimeout)
	assert.True(t, cfg.crashPolicy("p", 1, nil))
	assert.False(t, cfg.crashPolicy("p", 2, nil))

	cfg.onReject(nil, nil)
	assert.True(t, rejected)
}

func TestOptionsIgnoreZeroValues(t *testing.T) {
	cfg := defaultKernelConfig()
	for _, opt := range []Option{
		WithLogger(nil),
		WithAckTimeout(0),
		WithDrainTimeout(-time.Second),
		WithChannelCapacity(0),
		WithCrashPolicy(nil),
		WithMetricsRecorder(nil),
		WithSpanManager(nil),
	} {
		opt(&cfg)
	}
	assert.Equal(t, defaultKernelConfig().ackTimeout, cfg.ackTimeout)
	assert.Equal(t, defaultKernelConfig().drainTimeout, cfg.drainTimeout)
	assert.Equal(t, 256, cfg.channelCapacity)
	assert.NotNil(t, cfg.logger)
	assert.NotNil(t, cfg.crashPolicy)
	assert.False(t, cfg.metricsEnabled)
}

func TestWithMetricsAndTracing(t *testing.T) {
	cfg := defaultKernelConfig()
	WithMetrics(true)(&cfg)
	WithTracing(true)(&cfg)
	cfg.resolve()
	assert.True(t, cfg.metricsEnabled)
	assert.True(t, cfg.tracingEnabled)
	_, noop := cfg.metrics.(observability.NoopMetrics)
	assert.False(t, noop)
	_, noopSpans := cfg.spans.(observability.NoopSpanManager)
	assert.False(t, noopSpans)
}

func TestDisabledFlagsOverrideInstalledRecorders(t *testing.T) {
	installed := observability.NewSpanManager()
	cfg := defaultKernelConfig()
	for _, opt := range []Option{
		WithMetricsRecorder(observability.NewMetricsRecorder()),
		WithSpanManager(installed),
		WithMetrics(false),
	} {
		opt(&cfg)
	}
	cfg.resolve()

	assert.False(t, cfg.metricsEnabled)
	assert.IsType(t, observability.NoopMetrics{}, cfg.metrics)
	assert.True(t, cfg.tracingEnabled)
	assert.Same(t, installed, cfg.spans)

	WithTracing(false)(&cfg)
	cfg.resolve()
	assert.IsType(t, observability.NoopSpanManager{}, cfg.spans)
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateInitializing, "initializing"},
		{StateRunning, "running"},
		{StateReconfiguring, "reconfiguring"},
		{StateShuttingDown, "shutting_down"},
		{StateStopped, "stopped"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}

func TestErrorTypes(t *testing.T) {
	cause := errors.New("boom")

	re := &RouteError{EventID: "e1", Err: cause}
	assert.ErrorIs(t, re, cause)
	assert.Contains(t, re.Error(), "e1")

	pe := &PortError{PortID: "out", Op: "start", Err: cause}
	assert.ErrorIs(t, pe, cause)
	assert.Equal(t, "port out: start: boom", pe.Error())

	lp := &LoopPanicError{Value: "oops"}
	assert.Equal(t, "broker loop panicked: oops", lp.Error())
}
