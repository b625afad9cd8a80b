package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func benchEntry(id string, phase Phase) Entry {
	return Entry{
		RequestID:   id,
		Phase:       phase,
		RequesterID: "alice",
		Action:      Action{Type: "transfer", AssetID: "gold-1", Amount: "10"},
		PolicyHash:  "sha256:bench",
	}
}

// writeLifecycles writes n open/close pairs and returns the file size.
func writeLifecycles(b *testing.B, path string, n int) int64 {
	b.Helper()
	l, err := Open(path)
	if err != nil {
		b.Fatal(err)
	}
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("req-%d", i)
		l.Record(benchEntry(id, PhaseOpen))
		l.Record(benchEntry(id, PhaseClose))
	}
	l.Close()
	info, err := os.Stat(path)
	if err != nil {
		b.Fatal(err)
	}
	return info.Size()
}

func BenchmarkRecordLifecycle(b *testing.B) {
	l, err := Open(filepath.Join(b.TempDir(), "bench.jsonl"))
	if err != nil {
		b.Fatal(err)
	}
	defer l.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		id := fmt.Sprintf("req-%d", i)
		l.Record(benchEntry(id, PhaseOpen))
		l.Record(benchEntry(id, PhaseClose))
	}
}

// Reopening a large log only reads its tail.
func BenchmarkOpenLargeLog(b *testing.B) {
	path := filepath.Join(b.TempDir(), "bench.jsonl")
	writeLifecycles(b, path, 20000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l, err := Open(path)
		if err != nil {
			b.Fatal(err)
		}
		l.Close()
	}
}

func benchVerify(b *testing.B, pairs int) {
	b.Helper()
	path := filepath.Join(b.TempDir(), "bench.jsonl")
	b.SetBytes(writeLifecycles(b, path, pairs))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if result := Verify(path); !result.Valid {
			b.Fatal("invalid chain:", result.Error)
		}
	}
}

func BenchmarkVerify_1000(b *testing.B)  { benchVerify(b, 1000) }
func BenchmarkVerify_10000(b *testing.B) { benchVerify(b, 10000) }
