package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records kernel metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordEventReceived counts an event accepted from an input port.
	RecordEventReceived(ctx context.Context, portID string)

	// RecordEventDropped counts an event that was never routed, for example
	// because its input was removed while the event was buffered.
	RecordEventDropped(ctx context.Context, portID, reason string)

	// RecordBatchResolved records the aggregated outcome of one event.
	RecordBatchResolved(ctx context.Context, result string, destinations int, duration time.Duration)

	// RecordTicketTimeout counts a delivery that was not acknowledged in time.
	RecordTicketTimeout(ctx context.Context, portID string)

	// RecordReconfiguration records an attempt to apply a snapshot.
	RecordReconfiguration(ctx context.Context, success bool, duration time.Duration)

	// RecordPortCrash counts a port that exited without being stopped.
	RecordPortCrash(ctx context.Context, portID string)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	received      metric.Int64Counter
	dropped       metric.Int64Counter
	resolved      metric.Int64Counter
	batchLatency  metric.Float64Histogram
	timeouts      metric.Int64Counter
	reconfigs     metric.Int64Counter
	reconfLatency metric.Float64Histogram
	crashes       metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics(otel.Meter("ceroute"))
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics(meter metric.Meter) (*otelMetrics, error) {
	m := &otelMetrics{}
	var err error

	if m.received, err = meter.Int64Counter("ceroute.events.received",
		metric.WithDescription("Events accepted from input ports"),
	); err != nil {
		return nil, err
	}
	if m.dropped, err = meter.Int64Counter("ceroute.events.dropped",
		metric.WithDescription("Events discarded before routing"),
	); err != nil {
		return nil, err
	}
	if m.resolved, err = meter.Int64Counter("ceroute.batch.resolved",
		metric.WithDescription("Events whose aggregated result was reported to the input"),
	); err != nil {
		return nil, err
	}
	if m.batchLatency, err = meter.Float64Histogram("ceroute.batch.latency_ms",
		metric.WithDescription("Time from event arrival to aggregated result"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.timeouts, err = meter.Int64Counter("ceroute.ticket.timeouts",
		metric.WithDescription("Deliveries that were not acknowledged in time"),
	); err != nil {
		return nil, err
	}
	if m.reconfigs, err = meter.Int64Counter("ceroute.reconfigurations",
		metric.WithDescription("Configuration snapshots processed"),
	); err != nil {
		return nil, err
	}
	if m.reconfLatency, err = meter.Float64Histogram("ceroute.reconfiguration.latency_ms",
		metric.WithDescription("Time to validate and apply a snapshot"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.crashes, err = meter.Int64Counter("ceroute.port.crashes",
		metric.WithDescription("Ports that exited without being stopped"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// NewMetricsRecorderFromMeter returns a MetricsRecorder bound to meter
// instead of the global provider.
func NewMetricsRecorderFromMeter(meter metric.Meter) (MetricsRecorder, error) {
	m, err := newOtelMetrics(meter)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *otelMetrics) RecordEventReceived(ctx context.Context, portID string) {
	m.received.Add(ctx, 1, metric.WithAttributes(attribute.String("port_id", portID)))
}

func (m *otelMetrics) RecordEventDropped(ctx context.Context, portID, reason string) {
	m.dropped.Add(ctx, 1, metric.WithAttributes(
		attribute.String("port_id", portID),
		attribute.String("reason", reason),
	))
}

func (m *otelMetrics) RecordBatchResolved(ctx context.Context, result string, destinations int, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("result", result))
	m.resolved.Add(ctx, 1, attrs)
	m.batchLatency.Record(ctx, durationMs(duration), metric.WithAttributes(
		attribute.String("result", result),
		attribute.Int("destinations", destinations),
	))
}

func (m *otelMetrics) RecordTicketTimeout(ctx context.Context, portID string) {
	m.timeouts.Add(ctx, 1, metric.WithAttributes(attribute.String("port_id", portID)))
}

func (m *otelMetrics) RecordReconfiguration(ctx context.Context, success bool, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	m.reconfigs.Add(ctx, 1, attrs)
	m.reconfLatency.Record(ctx, durationMs(duration), attrs)
}

func (m *otelMetrics) RecordPortCrash(ctx context.Context, portID string) {
	m.crashes.Add(ctx, 1, metric.WithAttributes(attribute.String("port_id", portID)))
}
