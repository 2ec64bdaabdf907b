package eventlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
)

func TestEmitAndReadBack(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)

	if err := l.Emit("boot", map[string]any{"seed": 42}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if err := l.Emit("chunk_generated", map[string]any{"chunk": "3,3", "ms": 12}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if err := l.Emit("shutdown", nil); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Glob sorts, and hourly file names sort chronologically.
	matches, err := filepath.Glob(filepath.Join(dir, "events", "events-*.jsonl.zst"))
	if err != nil || len(matches) == 0 {
		t.Fatalf("expected event files, got %v (%v)", matches, err)
	}

	var entries []Entry
	for _, path := range matches {
		f, err := os.Open(path)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		dec, err := zstd.NewReader(f)
		if err != nil {
			t.Fatalf("zstd: %v", err)
		}
		sc := bufio.NewScanner(dec)
		for sc.Scan() {
			var e Entry
			if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
				t.Fatalf("bad line %q: %v", sc.Text(), err)
			}
			entries = append(entries, e)
		}
		if err := sc.Err(); err != nil {
			t.Fatalf("scan: %v", err)
		}
		dec.Close()
		_ = f.Close()
	}

	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	wantEvents := []string{"boot", "chunk_generated", "shutdown"}
	for i, want := range wantEvents {
		if entries[i].Event != want {
			t.Fatalf("entry %d: event %q, want %q", i, entries[i].Event, want)
		}
		if entries[i].TS == "" {
			t.Fatalf("entry %d missing timestamp", i)
		}
	}
	if entries[1].Fields["chunk"] != "3,3" {
		t.Fatalf("fields lost: %+v", entries[1].Fields)
	}
}

func TestNilLogIsSafe(t *testing.T) {
	var l *Log
	if err := l.Emit("anything", nil); err != nil {
		t.Fatalf("nil log emit: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("nil log close: %v", err)
	}
}
