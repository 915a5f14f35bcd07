package benchmarks

import (
	"bytes"
	"testing"

	"github.com/randalmurphal/ceroute/pkg/ceroute/event"
)

func sampleEvent(size int) *event.Event {
	payload := append([]byte(`{"blob":"`), bytes.Repeat([]byte("x"), size)...)
	payload = append(payload, `"}`...)
	return event.New("com.example.bench", "/bench",
		event.WithSubject("orders/42"),
		event.WithExtension("tenant", "acme"),
		event.WithData("application/json", payload),
	)
}

// BenchmarkEncode_Small encodes an event with a small JSON payload.
func BenchmarkEncode_Small(b *testing.B) { benchmarkEncode(b, 64) }

// BenchmarkEncode_Large encodes an event with a 64KiB JSON payload.
func BenchmarkEncode_Large(b *testing.B) { benchmarkEncode(b, 64<<10) }

func benchmarkEncode(b *testing.B, size int) {
	evt := sampleEvent(size)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := event.Encode(evt); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkDecode_Small decodes an event with a small JSON payload.
func BenchmarkDecode_Small(b *testing.B) { benchmarkDecode(b, 64) }

// BenchmarkDecode_Large decodes an event with a 64KiB JSON payload.
func BenchmarkDecode_Large(b *testing.B) { benchmarkDecode(b, 64<<10) }

func benchmarkDecode(b *testing.B, size int) {
	data, err := event.Encode(sampleEvent(size))
	if err != nil {
		b.Fatal(err)
	}
	b.SetBytes(int64(len(data)))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := event.Decode(data); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkClone measures the per-destination copy made during fan-out.
func BenchmarkClone(b *testing.B) {
	evt := sampleEvent(1 << 10)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = evt.Clone()
	}
}
