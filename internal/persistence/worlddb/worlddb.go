// Package worlddb keeps world metadata and streaming statistics in a small
// SQLite database beside the chunk store. Stat writes go through a buffered
// single-writer goroutine and are dropped rather than ever stalling the
// engine tick.
package worlddb

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

type DB struct {
	db *sql.DB

	ch   chan statsReq
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
	log     *log.Logger
}

// WorldRow mirrors one row of the worlds table.
type WorldRow struct {
	ID            string
	Seed          int64
	Side          int
	PaletteDigest string
	BiomeDigest   string
	CreatedAt     string
	LastSeenAt    string
}

// StatsRow is one streaming sample; counters are cumulative since boot.
type StatsRow struct {
	Generated uint64
	FromDisk  uint64
	Degraded  uint64
	Evicted   uint64
	Saved     uint64
	CacheLen  int
	Anomalies uint64
}

type statsReq struct {
	worldID string
	row     StatsRow
}

func Open(path string, logger *log.Logger) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	d := &DB{
		db:  db,
		ch:  make(chan statsReq, 4096),
		log: logger,
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.loop()
	}()
	return d, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS worlds (
			id TEXT PRIMARY KEY,
			seed INTEGER NOT NULL,
			side INTEGER NOT NULL,
			palette_digest TEXT NOT NULL,
			biome_digest TEXT NOT NULL,
			created_at TEXT NOT NULL,
			last_seen_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS world_stats (
			world_id TEXT NOT NULL,
			recorded_at TEXT NOT NULL,
			generated INTEGER NOT NULL,
			from_disk INTEGER NOT NULL,
			degraded INTEGER NOT NULL,
			evicted INTEGER NOT NULL,
			saved INTEGER NOT NULL,
			cache_len INTEGER NOT NULL,
			anomalies INTEGER NOT NULL,
			PRIMARY KEY (world_id, recorded_at)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_world_stats_world ON world_stats(world_id, recorded_at);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (d *DB) Close() error {
	var err error
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.ch)
		d.wg.Wait()
		err = d.db.Close()
	})
	return err
}

// EnsureWorld registers the world row at boot, or refreshes last_seen_at if
// it exists. Opening an existing world with a different seed is an error:
// the chunk store beside this database was generated under the old seed.
func (d *DB) EnsureWorld(id string, seed int64, side int, paletteDigest, biomeDigest string) error {
	if id == "" {
		return fmt.Errorf("empty world id")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var existingSeed int64
	var existingSide int
	err := d.db.QueryRow(`SELECT seed, side FROM worlds WHERE id = ?`, id).Scan(&existingSeed, &existingSide)
	switch {
	case err == sql.ErrNoRows:
		_, err = d.db.Exec(
			`INSERT INTO worlds(id,seed,side,palette_digest,biome_digest,created_at,last_seen_at) VALUES(?,?,?,?,?,?,?)`,
			id, seed, side, paletteDigest, biomeDigest, now, now,
		)
		return err
	case err != nil:
		return err
	}

	if existingSeed != seed {
		return fmt.Errorf("world %q was created with seed %d, refusing to open with seed %d", id, existingSeed, seed)
	}
	if existingSide != side {
		return fmt.Errorf("world %q was created with chunk side %d, refusing to open with side %d", id, existingSide, side)
	}
	_, err = d.db.Exec(
		`UPDATE worlds SET last_seen_at = ?, palette_digest = ?, biome_digest = ? WHERE id = ?`,
		now, paletteDigest, biomeDigest, id,
	)
	return err
}

func (d *DB) ReadWorld(id string) (WorldRow, error) {
	var w WorldRow
	err := d.db.QueryRow(
		`SELECT id, seed, side, palette_digest, biome_digest, created_at, last_seen_at FROM worlds WHERE id = ?`, id,
	).Scan(&w.ID, &w.Seed, &w.Side, &w.PaletteDigest, &w.BiomeDigest, &w.CreatedAt, &w.LastSeenAt)
	return w, err
}

// Worlds lists every registered world, most recently seen first.
func (d *DB) Worlds() ([]WorldRow, error) {
	rows, err := d.db.Query(
		`SELECT id, seed, side, palette_digest, biome_digest, created_at, last_seen_at FROM worlds ORDER BY last_seen_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []WorldRow
	for rows.Next() {
		var w WorldRow
		if err := rows.Scan(&w.ID, &w.Seed, &w.Side, &w.PaletteDigest, &w.BiomeDigest, &w.CreatedAt, &w.LastSeenAt); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// RecordStats enqueues one sample. When the writer falls behind the sample
// is dropped; streaming stats are advisory and never worth blocking for.
func (d *DB) RecordStats(worldID string, row StatsRow) {
	if d == nil || d.closed.Load() {
		return
	}
	select {
	case d.ch <- statsReq{worldID: worldID, row: row}:
	default:
		n := d.dropped.Add(1)
		if n == 1 || n%1024 == 0 {
			d.log.Printf("worlddb: stats queue full, dropped %d samples", n)
		}
	}
}

// LatestStats returns the most recent sample for a world.
func (d *DB) LatestStats(worldID string) (StatsRow, string, error) {
	var row StatsRow
	var at string
	err := d.db.QueryRow(
		`SELECT recorded_at, generated, from_disk, degraded, evicted, saved, cache_len, anomalies
		 FROM world_stats WHERE world_id = ? ORDER BY recorded_at DESC LIMIT 1`, worldID,
	).Scan(&at, &row.Generated, &row.FromDisk, &row.Degraded, &row.Evicted, &row.Saved, &row.CacheLen, &row.Anomalies)
	return row, at, err
}

func (d *DB) loop() {
	insert, errPrep := d.db.Prepare(
		`INSERT OR REPLACE INTO world_stats(world_id,recorded_at,generated,from_disk,degraded,evicted,saved,cache_len,anomalies)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
	)
	if errPrep != nil {
		d.log.Printf("worlddb: prepare stats insert: %v", errPrep)
	}
	touch, errPrep := d.db.Prepare(`UPDATE worlds SET last_seen_at = ? WHERE id = ?`)
	if errPrep != nil {
		d.log.Printf("worlddb: prepare touch: %v", errPrep)
	}
	defer func() {
		if insert != nil {
			_ = insert.Close()
		}
		if touch != nil {
			_ = touch.Close()
		}
	}()

	for r := range d.ch {
		now := time.Now().UTC().Format(time.RFC3339Nano)
		if insert != nil {
			if _, err := insert.Exec(
				r.worldID, now,
				int64(r.row.Generated), int64(r.row.FromDisk), int64(r.row.Degraded),
				int64(r.row.Evicted), int64(r.row.Saved), r.row.CacheLen, int64(r.row.Anomalies),
			); err != nil {
				d.log.Printf("worlddb: insert stats: %v", err)
				continue
			}
		}
		if touch != nil {
			if _, err := touch.Exec(now, r.worldID); err != nil {
				d.log.Printf("worlddb: touch world: %v", err)
			}
		}
	}
}
