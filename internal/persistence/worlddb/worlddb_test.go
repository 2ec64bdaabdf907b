package worlddb

import (
	"database/sql"
	"io"
	"log"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T, dir string) *DB {
	t.Helper()
	d, err := Open(filepath.Join(dir, "world.db"), log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return d
}

func TestEnsureWorldCreatesRow(t *testing.T) {
	d := openTestDB(t, t.TempDir())
	defer d.Close()

	if err := d.EnsureWorld("alpha", 42, 8, "palette-digest", "biome-digest"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	w, err := d.ReadWorld("alpha")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if w.ID != "alpha" || w.Seed != 42 || w.Side != 8 {
		t.Fatalf("row mismatch: %+v", w)
	}
	if w.PaletteDigest != "palette-digest" || w.BiomeDigest != "biome-digest" {
		t.Fatalf("digests lost: %+v", w)
	}
	if w.CreatedAt == "" || w.LastSeenAt == "" {
		t.Fatalf("timestamps missing: %+v", w)
	}

	// Re-opening the same world is fine and refreshes last_seen_at.
	if err := d.EnsureWorld("alpha", 42, 8, "palette-digest", "biome-digest"); err != nil {
		t.Fatalf("second ensure: %v", err)
	}
}

func TestWorldsListsAllRows(t *testing.T) {
	d := openTestDB(t, t.TempDir())
	defer d.Close()

	if rows, err := d.Worlds(); err != nil || len(rows) != 0 {
		t.Fatalf("fresh db: rows=%v err=%v", rows, err)
	}
	if err := d.EnsureWorld("alpha", 42, 8, "p", "b"); err != nil {
		t.Fatalf("ensure alpha: %v", err)
	}
	if err := d.EnsureWorld("beta", 43, 8, "p", "b"); err != nil {
		t.Fatalf("ensure beta: %v", err)
	}
	rows, err := d.Worlds()
	if err != nil {
		t.Fatalf("worlds: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	seen := map[string]int64{}
	for _, r := range rows {
		seen[r.ID] = r.Seed
	}
	if seen["alpha"] != 42 || seen["beta"] != 43 {
		t.Fatalf("rows wrong: %+v", rows)
	}
}

func TestEnsureWorldRejectsMismatch(t *testing.T) {
	d := openTestDB(t, t.TempDir())
	defer d.Close()

	if err := d.EnsureWorld("alpha", 42, 8, "p", "b"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := d.EnsureWorld("alpha", 43, 8, "p", "b"); err == nil {
		t.Fatalf("seed mismatch accepted")
	}
	if err := d.EnsureWorld("alpha", 42, 16, "p", "b"); err == nil {
		t.Fatalf("side mismatch accepted")
	}
	if err := d.EnsureWorld("", 42, 8, "p", "b"); err == nil {
		t.Fatalf("empty world id accepted")
	}
}

func TestRecordStatsSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	d := openTestDB(t, dir)
	if err := d.EnsureWorld("alpha", 42, 8, "p", "b"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	d.RecordStats("alpha", StatsRow{
		Generated: 10,
		FromDisk:  3,
		Degraded:  1,
		Evicted:   4,
		Saved:     5,
		CacheLen:  7,
		Anomalies: 2,
	})
	// Close drains the writer queue before the database closes.
	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	d2 := openTestDB(t, dir)
	defer d2.Close()
	row, at, err := d2.LatestStats("alpha")
	if err != nil {
		t.Fatalf("latest stats: %v", err)
	}
	if at == "" {
		t.Fatalf("missing recorded_at")
	}
	if row.Generated != 10 || row.FromDisk != 3 || row.Degraded != 1 ||
		row.Evicted != 4 || row.Saved != 5 || row.CacheLen != 7 || row.Anomalies != 2 {
		t.Fatalf("stats row mismatch: %+v", row)
	}
}

func TestLatestStatsEmpty(t *testing.T) {
	d := openTestDB(t, t.TempDir())
	defer d.Close()
	if _, _, err := d.LatestStats("nobody"); err != sql.ErrNoRows {
		t.Fatalf("expected ErrNoRows, got %v", err)
	}
}

func TestCloseIdempotentAndRecordAfterClose(t *testing.T) {
	d := openTestDB(t, t.TempDir())
	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	// Must not panic on a closed channel.
	d.RecordStats("alpha", StatsRow{})
}
