package store

import (
	"context"
	"sync"
	"time"

	"github.com/randalmurphal/ceroute/pkg/ceroute/event"
)

type memoryKey struct{ source, id string }

// MemoryBackend keeps events in process memory.
type MemoryBackend struct {
	mu      sync.RWMutex
	records []Record
	seen    map[memoryKey]struct{}
	closed  bool
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{seen: make(map[memoryKey]struct{})}
}

// Append implements Backend.
func (m *MemoryBackend) Append(_ context.Context, evt *event.Event) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	key := memoryKey{evt.Source(), evt.ID()}
	if _, ok := m.seen[key]; ok {
		return false, nil
	}
	m.seen[key] = struct{}{}
	m.records = append(m.records, Record{
		Source:   evt.Source(),
		ID:       evt.ID(),
		Type:     evt.Type(),
		StoredAt: time.Now().UTC(),
		Event:    evt.Clone(),
	})
	return true, nil
}

// List implements Backend.
func (m *MemoryBackend) List(context.Context) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]Record, len(m.records))
	for i, r := range m.records {
		r.Event = r.Event.Clone()
		out[i] = r
	}
	return out, nil
}

// Close implements Backend. The records are dropped.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.records = nil
	m.seen = nil
	return nil
}
