package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics is a MetricsRecorder that does nothing.
type NoopMetrics struct{}

// Compile-time interface check.
var _ MetricsRecorder = NoopMetrics{}

func (NoopMetrics) RecordEventReceived(context.Context, string)                     {}
func (NoopMetrics) RecordEventDropped(context.Context, string, string)              {}
func (NoopMetrics) RecordBatchResolved(context.Context, string, int, time.Duration) {}
func (NoopMetrics) RecordTicketTimeout(context.Context, string)                     {}
func (NoopMetrics) RecordReconfiguration(context.Context, bool, time.Duration)      {}
func (NoopMetrics) RecordPortCrash(context.Context, string)                         {}

// NoopSpanManager is a SpanManager that does nothing.
type NoopSpanManager struct{}

// Compile-time interface check.
var _ SpanManager = NoopSpanManager{}

var noopSpan = noop.Span{}

// StartBatchSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartBatchSpan(ctx context.Context, _, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// StartReconfigureSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartReconfigureSpan(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// EndSpanWithError does nothing.
func (NoopSpanManager) EndSpanWithError(trace.Span, error) {}

// AddSpanEvent does nothing.
func (NoopSpanManager) AddSpanEvent(trace.Span, string, ...attribute.KeyValue) {}
