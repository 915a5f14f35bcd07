package benchmarks

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/randalmurphal/ceroute/pkg/ceroute/event"
	"github.com/randalmurphal/ceroute/pkg/ceroute/ports/store"
)

// BenchmarkSQLiteAppend measures durable appends to a WAL database.
func BenchmarkSQLiteAppend(b *testing.B) {
	backend, err := store.NewSQLiteBackend(filepath.Join(b.TempDir(), "bench.db"), "events")
	if err != nil {
		b.Fatal(err)
	}
	defer backend.Close()
	benchmarkAppend(b, backend)
}

// BenchmarkMemoryAppend measures the in-memory backend.
func BenchmarkMemoryAppend(b *testing.B) {
	benchmarkAppend(b, store.NewMemoryBackend())
}

// BenchmarkSQLiteDuplicate measures redelivered events, which are skipped.
func BenchmarkSQLiteDuplicate(b *testing.B) {
	backend, err := store.NewSQLiteBackend(filepath.Join(b.TempDir(), "bench.db"), "events")
	if err != nil {
		b.Fatal(err)
	}
	defer backend.Close()
	evt := event.New("com.example.bench", "/bench", event.WithID("same"))
	ctx := context.Background()
	if _, err := backend.Append(ctx, evt); err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := backend.Append(ctx, evt); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkAppend(b *testing.B, backend store.Backend) {
	ctx := context.Background()
	evts := make([]*event.Event, b.N)
	for i := range evts {
		evts[i] = event.New("com.example.bench", "/bench", event.WithID(strconv.Itoa(i)))
	}
	b.ReportAllocs()
	b.ResetTimer()
	for _, evt := range evts {
		if _, err := backend.Append(ctx, evt); err != nil {
			b.Fatal(err)
		}
	}
}
