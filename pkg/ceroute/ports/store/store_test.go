package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/ceroute/pkg/ceroute/config"
	"github.com/randalmurphal/ceroute/pkg/ceroute/event"
	"github.com/randalmurphal/ceroute/pkg/ceroute/port"
)

func spec(blob map[string]any) config.PortSpec {
	return config.PortSpec{ID: "archive", Direction: config.DirectionOutput, Type: Type, Config: config.New(blob)}
}

func TestParseSettings(t *testing.T) {
	s, err := ParseSettings(spec(map[string]any{"path": "/tmp/x.db"}))
	require.NoError(t, err)
	assert.Equal(t, Settings{Backend: BackendSQLite, Path: "/tmp/x.db", Table: "events"}, s)

	s, err = ParseSettings(spec(map[string]any{"backend": "memory"}))
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, s.Backend)

	tests := []struct {
		name string
		blob map[string]any
	}{
		{"sqlite without path", map[string]any{}},
		{"unknown backend", map[string]any{"backend": "redis"}},
		{"table injection", map[string]any{"backend": "memory", "table": "events; DROP TABLE x"}},
		{"table starting with digit", map[string]any{"backend": "memory", "table": "1events"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(spec(tt.blob), nil)
			assert.Error(t, err)
		})
	}
}

// backends runs fn against each backend implementation.
func backends(t *testing.T, fn func(t *testing.T, b Backend)) {
	t.Run("sqlite", func(t *testing.T) {
		b, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "events.db"), "events")
		require.NoError(t, err)
		t.Cleanup(func() { _ = b.Close() })
		fn(t, b)
	})
	t.Run("memory", func(t *testing.T) {
		b := NewMemoryBackend()
		t.Cleanup(func() { _ = b.Close() })
		fn(t, b)
	})
}

func TestBackendAppendAndList(t *testing.T) {
	backends(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		first := event.New("com.example.a", "/a", event.WithID("1"),
			event.WithData("application/json", []byte(`{"n":1}`)))

		inserted, err := b.Append(ctx, first)
		require.NoError(t, err)
		assert.True(t, inserted)

		inserted, err = b.Append(ctx, event.New("com.example.b", "/b", event.WithID("1")))
		require.NoError(t, err)
		assert.True(t, inserted, "same id from another source is a different event")

		inserted, err = b.Append(ctx, first.Clone())
		require.NoError(t, err)
		assert.False(t, inserted, "redelivered event must not be stored twice")

		records, err := b.List(ctx)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "/a", records[0].Source)
		assert.Equal(t, "com.example.a", records[0].Type)
		assert.True(t, first.Equal(records[0].Event))
		assert.Equal(t, "/b", records[1].Source)
		assert.False(t, records[0].StoredAt.IsZero())
	})
}

func TestBackendClosed(t *testing.T) {
	backends(t, func(t *testing.T, b Backend) {
		require.NoError(t, b.Close())
		require.NoError(t, b.Close())

		_, err := b.Append(context.Background(), event.New("com.example.a", "/a"))
		assert.ErrorIs(t, err, ErrClosed)
		_, err = b.List(context.Background())
		assert.ErrorIs(t, err, ErrClosed)
	})
}

func TestSQLiteBackendPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	b, err := NewSQLiteBackend(path, "audit")
	require.NoError(t, err)
	_, err = b.Append(context.Background(), event.New("com.example.a", "/a", event.WithID("kept")))
	require.NoError(t, err)
	require.NoError(t, b.Close())

	b, err = NewSQLiteBackend(path, "audit")
	require.NoError(t, err)
	defer b.Close()
	records, err := b.List(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "kept", records[0].ID)
}

func TestStorePortAcksDurableWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	p, err := New(spec(map[string]any{"path": path}), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	require.NoError(t, p.Open(context.Background()))

	kep, pep := port.NewPair(8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Serve(ctx, pep) }()

	ids := []string{"1", "2", "1"}
	for i, id := range ids {
		evt := event.New("com.example.a", "/a", event.WithID(id))
		require.NoError(t, kep.Send(port.Deliver{ID: port.DeliveryID(i + 1), Event: evt}, time.Second))
	}
	for range ids {
		msg, err := kep.Receive(5 * time.Second)
		require.NoError(t, err)
		assert.Equal(t, port.ResultAck, msg.(port.Delivered).Result)
	}
	cancel()
	require.NoError(t, <-done)

	b, err := NewSQLiteBackend(path, "events")
	require.NoError(t, err)
	defer b.Close()
	records, err := b.List(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "1", records[0].ID)
	assert.Equal(t, "2", records[1].ID)
}

type failingBackend struct{ *MemoryBackend }

func (failingBackend) Append(context.Context, *event.Event) (bool, error) {
	return false, errors.New("disk full")
}

func TestStorePortNacksFailedWrites(t *testing.T) {
	p := NewWithBackend(failingBackend{NewMemoryBackend()}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, p.Open(context.Background()))

	kep, pep := port.NewPair(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Serve(ctx, pep) }()

	require.NoError(t, kep.Send(port.Deliver{ID: 1, Event: event.New("com.example.a", "/a")}, time.Second))
	msg, err := kep.Receive(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, port.ResultTransientError, msg.(port.Delivered).Result)
}

func TestRegister(t *testing.T) {
	r := port.NewRegistry()
	require.NoError(t, Register(r))
	_, err := r.Build(spec(map[string]any{"backend": "memory"}), nil)
	assert.NoError(t, err)
}
