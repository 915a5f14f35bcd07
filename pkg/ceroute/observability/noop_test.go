package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestNoopMetrics(t *testing.T) {
	m := NoopMetrics{}
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordEventReceived(ctx, "in")
		m.RecordEventDropped(ctx, "in", "input_removed")
		m.RecordBatchResolved(ctx, "ack", 1, time.Millisecond)
		m.RecordTicketTimeout(ctx, "out")
		m.RecordReconfiguration(ctx, false, 0)
		m.RecordPortCrash(ctx, "")
	})
}

func TestNoopSpanManager(t *testing.T) {
	sm := NoopSpanManager{}
	ctx := context.Background()

	newCtx, span := sm.StartBatchSpan(ctx, "in", "1", "t")
	assert.Equal(t, ctx, newCtx, "noop manager must not derive a new context")
	assert.False(t, span.IsRecording())

	newCtx, span = sm.StartReconfigureSpan(ctx, "1", "2")
	assert.Equal(t, ctx, newCtx)

	assert.NotPanics(t, func() {
		sm.AddSpanEvent(span, "ignored", attribute.Int("n", 1))
		sm.EndSpanWithError(span, errors.New("ignored"))
	})
}
