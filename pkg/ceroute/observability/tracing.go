package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "ceroute"

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartBatchSpan starts a span covering one event from arrival until
	// its aggregated result is reported to the input.
	StartBatchSpan(ctx context.Context, inputID, eventID, eventType string) (context.Context, trace.Span)

	// StartReconfigureSpan starts a span for applying a snapshot.
	StartReconfigureSpan(ctx context.Context, fromVersion, toVersion string) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the span.
	AddSpanEvent(span trace.Span, name string, attrs ...attribute.KeyValue)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct {
	tracer trace.Tracer
}

// NewSpanManager returns a SpanManager that uses the global OTel tracer
// provider. Configure the provider before calling this function:
//
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{tracer: otel.Tracer(tracerName)}
}

// NewSpanManagerFromProvider returns a SpanManager bound to tp.
func NewSpanManagerFromProvider(tp trace.TracerProvider) SpanManager {
	return &otelSpanManager{tracer: tp.Tracer(tracerName)}
}

func (m *otelSpanManager) StartBatchSpan(ctx context.Context, inputID, eventID, eventType string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "ceroute.batch",
		trace.WithAttributes(
			attribute.String("port.id", inputID),
			attribute.String("cloudevents.event_id", eventID),
			attribute.String("cloudevents.event_type", eventType),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
}

func (m *otelSpanManager) StartReconfigureSpan(ctx context.Context, fromVersion, toVersion string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "ceroute.reconfigure",
		trace.WithAttributes(
			attribute.String("config.from_version", fromVersion),
			attribute.String("config.to_version", toVersion),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	EndSpanWithError(span, err)
}

func (m *otelSpanManager) AddSpanEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// EndSpanWithError completes a span, optionally recording an error.
func EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
