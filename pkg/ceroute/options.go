package ceroute

import (
	"log/slog"
	"time"

	"github.com/randalmurphal/ceroute/pkg/ceroute/config"
	"github.com/randalmurphal/ceroute/pkg/ceroute/observability"
)

// Per-port blob keys understood by the kernel itself.
const (
	// KeyAckTimeout overrides the ack timeout for deliveries to a port.
	KeyAckTimeout = "ack_timeout"
	// KeyCapacity overrides the channel capacity of a port.
	KeyCapacity = "capacity"
	// KeyStartGrace overrides the start grace period of a port.
	KeyStartGrace = "start_grace"
)

// Defaults for the kernel-wide timeouts.
const (
	DefaultAckTimeout   = 30 * time.Second
	DefaultDrainTimeout = 10 * time.Second
)

// CrashPolicy decides whether a crashed port is restarted. restarts is the
// number of times the port has already been restarted after a crash.
type CrashPolicy func(id config.PortID, restarts int, err error) bool

// MarkUnavailable never restarts. The port stays configured but
// unavailable until a snapshot changes or re-adds it.
func MarkUnavailable(config.PortID, int, error) bool { return false }

// RestartOnCrash restarts a crashed port up to max times.
func RestartOnCrash(max int) CrashPolicy {
	return func(_ config.PortID, restarts int, _ error) bool {
		return restarts < max
	}
}

// RejectFunc is called for every snapshot the kernel refuses.
type RejectFunc func(s *config.Snapshot, err error)

// kernelConfig holds the kernel settings.
type kernelConfig struct {
	logger          *slog.Logger
	metrics         observability.MetricsRecorder
	metricsEnabled  bool
	spans           observability.SpanManager
	tracingEnabled  bool
	ackTimeout      time.Duration
	drainTimeout    time.Duration
	stopGrace       time.Duration
	startGrace      time.Duration
	channelCapacity int
	sendTimeout     time.Duration
	crashPolicy     CrashPolicy
	onReject        RejectFunc
}

// defaultKernelConfig returns the default kernel configuration.
func defaultKernelConfig() kernelConfig {
	return kernelConfig{
		logger:          slog.Default(),
		ackTimeout:      DefaultAckTimeout,
		drainTimeout:    DefaultDrainTimeout,
		stopGrace:       5 * time.Second,
		startGrace:      5 * time.Second,
		channelCapacity: 256,
		sendTimeout:     100 * time.Millisecond,
		crashPolicy:     MarkUnavailable,
	}
}

// resolve picks the recorders the kernel uses. A disabled concern gets the
// no-op implementation even when a recorder was installed.
func (c *kernelConfig) resolve() {
	switch {
	case !c.metricsEnabled:
		c.metrics = observability.NoopMetrics{}
	case c.metrics == nil:
		c.metrics = observability.NewMetricsRecorder()
	}
	switch {
	case !c.tracingEnabled:
		c.spans = observability.NoopSpanManager{}
	case c.spans == nil:
		c.spans = observability.NewSpanManager()
	}
}

// Option configures a Kernel.
type Option func(*kernelConfig)

// WithLogger sets the kernel logger. Port loggers are derived from it.
func WithLogger(logger *slog.Logger) Option {
	return func(c *kernelConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics enables or disables OpenTelemetry metrics. Without an
// installed recorder the global meter provider is used. Default: disabled.
func WithMetrics(enabled bool) Option {
	return func(c *kernelConfig) {
		c.metricsEnabled = enabled
	}
}

// WithMetricsRecorder installs a specific recorder, for example one bound
// to a test meter provider, and enables metrics.
func WithMetricsRecorder(m observability.MetricsRecorder) Option {
	return func(c *kernelConfig) {
		if m != nil {
			c.metrics = m
			c.metricsEnabled = true
		}
	}
}

// WithTracing enables or disables OpenTelemetry tracing. Without an
// installed span manager the global tracer provider is used.
// Default: disabled.
func WithTracing(enabled bool) Option {
	return func(c *kernelConfig) {
		c.tracingEnabled = enabled
	}
}

// WithSpanManager installs a specific span manager and enables tracing.
func WithSpanManager(sm observability.SpanManager) Option {
	return func(c *kernelConfig) {
		if sm != nil {
			c.spans = sm
			c.tracingEnabled = true
		}
	}
}

// WithAckTimeout sets the default per-destination ack deadline.
// Default: 30s. A port overrides it with the ack_timeout key.
func WithAckTimeout(d time.Duration) Option {
	return func(c *kernelConfig) {
		if d > 0 {
			c.ackTimeout = d
		}
	}
}

// WithDrainTimeout bounds how long shutdown waits for pending batches.
// Default: 10s.
func WithDrainTimeout(d time.Duration) Option {
	return func(c *kernelConfig) {
		if d > 0 {
			c.drainTimeout = d
		}
	}
}

// WithStopGrace sets how long a port may take to stop. Default: 5s.
func WithStopGrace(d time.Duration) Option {
	return func(c *kernelConfig) {
		if d > 0 {
			c.stopGrace = d
		}
	}
}

// WithStartGrace sets how long a port may take to open. Default: 5s.
func WithStartGrace(d time.Duration) Option {
	return func(c *kernelConfig) {
		if d > 0 {
			c.startGrace = d
		}
	}
}

// WithChannelCapacity sets the buffer size of each kernel-port channel.
// Default: 256. A port overrides it with the capacity key.
func WithChannelCapacity(n int) Option {
	return func(c *kernelConfig) {
		if n > 0 {
			c.channelCapacity = n
		}
	}
}

// WithSendTimeout bounds how long the kernel waits for space in a port
// channel before failing that delivery. A result whose input has no room
// is queued and sent once the input catches up. Default: 100ms.
func WithSendTimeout(d time.Duration) Option {
	return func(c *kernelConfig) {
		if d > 0 {
			c.sendTimeout = d
		}
	}
}

// WithCrashPolicy sets what happens after a port crashes.
// Default: MarkUnavailable.
func WithCrashPolicy(p CrashPolicy) Option {
	return func(c *kernelConfig) {
		if p != nil {
			c.crashPolicy = p
		}
	}
}

// WithRejectHandler registers a callback for refused snapshots, in
// addition to the loader's own RejectionSink.
func WithRejectHandler(fn RejectFunc) Option {
	return func(c *kernelConfig) {
		c.onReject = fn
	}
}
