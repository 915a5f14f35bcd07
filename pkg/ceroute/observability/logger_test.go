package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testHandler captures log records for testing.
type testHandler struct {
	buf    *bytes.Buffer
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func newTestHandler() *testHandler {
	return &testHandler{
		buf:   &bytes.Buffer{},
		level: slog.LevelDebug,
	}
}

func (h *testHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *testHandler) Handle(_ context.Context, r slog.Record) error {
	// Build a map from the record
	data := map[string]any{
		"level": r.Level.String(),
		"msg":   r.Message,
	}

	// Add pre-configured attrs
	for _, attr := range h.attrs {
		data[attr.Key] = attr.Value.Any()
	}

	// Add record attrs
	r.Attrs(func(a slog.Attr) bool {
		data[a.Key] = a.Value.Any()
		return true
	})

	// Encode as JSON
	enc := json.NewEncoder(h.buf)
	if err := enc.Encode(data); err != nil {
		return err
	}
	return nil
}

func (h *testHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newH := &testHandler{
		buf:    h.buf,
		level:  h.level,
		attrs:  make([]slog.Attr, len(h.attrs)+len(attrs)),
		groups: h.groups,
	}
	copy(newH.attrs, h.attrs)
	copy(newH.attrs[len(h.attrs):], attrs)
	return newH
}

func (h *testHandler) WithGroup(name string) slog.Handler {
	newH := &testHandler{
		buf:    h.buf,
		level:  h.level,
		attrs:  h.attrs,
		groups: append(h.groups, name),
	}
	return newH
}

func (h *testHandler) last() map[string]any {
	lines := bytes.Split(h.buf.Bytes(), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		if len(lines[i]) > 0 {
			var m map[string]any
			if err := json.Unmarshal(lines[i], &m); err == nil {
				return m
			}
		}
	}
	return nil
}

func (h *testHandler) records() []map[string]any {
	var records []map[string]any
	lines := bytes.Split(h.buf.Bytes(), []byte("\n"))
	for _, line := range lines {
		if len(line) > 0 {
			var m map[string]any
			if err := json.Unmarshal(line, &m); err == nil {
				records = append(records, m)
			}
		}
	}
	return records
}

func TestEnrichLogger(t *testing.T) {
	t.Run("adds port_id and direction", func(t *testing.T) {
		h := newTestHandler()
		enriched := EnrichLogger(slog.New(h), "orders", "output")
		enriched.Info("connected")

		record := h.last()
		require.NotNil(t, record)
		assert.Equal(t, "orders", record["port_id"])
		assert.Equal(t, "output", record["direction"])
		assert.Equal(t, "connected", record["msg"])
	})

	t.Run("nil logger returns nil", func(t *testing.T) {
		assert.Nil(t, EnrichLogger(nil, "orders", "output"))
	})
}

func TestLogPortLifecycle(t *testing.T) {
	h := newTestHandler()
	logger := slog.New(h)

	LogPortStarted(logger, "in", "generator", 1500*time.Microsecond)
	LogPortStopped(logger, "in", 0, nil)
	LogPortStopped(logger, "out", 3, errors.New("grace exceeded"))
	LogPortCrashed(logger, "out", errors.New("boom"), true)
	LogPortCrashed(logger, "out", nil, false)

	records := h.records()
	require.Len(t, records, 5)

	assert.Equal(t, "port started", records[0]["msg"])
	assert.Equal(t, "generator", records[0]["port_type"])
	assert.InDelta(t, 1.5, records[0]["startup_ms"], 0.001)

	assert.Equal(t, "INFO", records[1]["level"])
	assert.Equal(t, "port stopped", records[1]["msg"])

	assert.Equal(t, "WARN", records[2]["level"])
	assert.Equal(t, float64(3), records[2]["pending_nacked"])
	assert.Equal(t, "grace exceeded", records[2]["error"])

	assert.Equal(t, "ERROR", records[3]["level"])
	assert.Equal(t, "port crashed", records[3]["msg"])
	assert.Equal(t, true, records[3]["restarting"])

	assert.Equal(t, "port exited", records[4]["msg"])
	assert.NotContains(t, records[4], "error")
}

func TestLogReconfigure(t *testing.T) {
	h := newTestHandler()
	LogReconfigure(slog.New(h), "1", "2", 1, 2, 3, 10*time.Millisecond)

	record := h.last()
	require.NotNil(t, record)
	assert.Equal(t, "configuration applied", record["msg"])
	assert.Equal(t, "1", record["from_version"])
	assert.Equal(t, "2", record["to_version"])
	assert.Equal(t, float64(1), record["added"])
	assert.Equal(t, float64(2), record["removed"])
	assert.Equal(t, float64(3), record["changed"])
	assert.Equal(t, float64(10), record["duration_ms"])
}

func TestLogSnapshotRejected(t *testing.T) {
	h := newTestHandler()
	LogSnapshotRejected(slog.New(h), "7", errors.New("unknown port type"))

	record := h.last()
	require.NotNil(t, record)
	assert.Equal(t, "ERROR", record["level"])
	assert.Equal(t, "7", record["version"])
	assert.Equal(t, "unknown port type", record["error"])
}

func TestNilLoggerHelpers(t *testing.T) {
	assert.NotPanics(t, func() {
		LogPortStarted(nil, "a", "b", 0)
		LogPortStopped(nil, "a", 0, nil)
		LogPortCrashed(nil, "a", nil, false)
		LogReconfigure(nil, "", "", 0, 0, 0, 0)
		LogSnapshotRejected(nil, "", errors.New("x"))
	})
}

func TestTimedOperation(t *testing.T) {
	done := TimedOperation()
	time.Sleep(5 * time.Millisecond)
	assert.GreaterOrEqual(t, done(), 5*time.Millisecond)
}
