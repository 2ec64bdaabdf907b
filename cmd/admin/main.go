// admin inspects world data offline: registered worlds, their latest
// streaming stats, individual chunk records, and config digest drift.
// Run it against a stopped server; the chunk store takes an exclusive lock.
package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"

	"chunkforge.dev/internal/persistence/chunkdb"
	"chunkforge.dev/internal/persistence/worlddb"
	"chunkforge.dev/internal/world/biome"
	"chunkforge.dev/internal/world/block"
	"chunkforge.dev/internal/world/chunk"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "stats":
			statsCmd(os.Args[2:])
			return
		case "chunk":
			chunkCmd(os.Args[2:])
			return
		case "verify":
			verifyCmd(os.Args[2:])
			return
		case "worlds":
			worldsCmd(os.Args[2:])
			return
		}
	}
	worldsCmd(os.Args[1:])
}

func openIndex(dataDir string) *worlddb.DB {
	d, err := worlddb.Open(filepath.Join(dataDir, "worlds.db"), log.New(io.Discard, "", 0))
	if err != nil {
		fmt.Fprintln(os.Stderr, "open world index:", err)
		os.Exit(1)
	}
	return d
}

func worldsCmd(args []string) {
	fs := flag.NewFlagSet("worlds", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	d := openIndex(*dataDir)
	defer d.Close()

	rows, err := d.Worlds()
	if err != nil {
		fmt.Fprintln(os.Stderr, "list worlds:", err)
		os.Exit(1)
	}
	if len(rows) == 0 {
		fmt.Println("no worlds registered")
		return
	}
	for _, r := range rows {
		fmt.Printf("%s seed=%d side=%d created=%s last_seen=%s\n", r.ID, r.Seed, r.Side, r.CreatedAt, r.LastSeenAt)
	}
}

func statsCmd(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "world_1", "world id")
	_ = fs.Parse(args)

	d := openIndex(*dataDir)
	defer d.Close()

	row, at, err := d.LatestStats(*worldID)
	if errors.Is(err, sql.ErrNoRows) {
		fmt.Printf("no stats recorded for %s yet\n", *worldID)
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "latest stats:", err)
		os.Exit(1)
	}
	fmt.Printf("world %s at %s\n", *worldID, at)
	fmt.Printf("  generated  %d\n", row.Generated)
	fmt.Printf("  from_disk  %d\n", row.FromDisk)
	fmt.Printf("  degraded   %d\n", row.Degraded)
	fmt.Printf("  evicted    %d\n", row.Evicted)
	fmt.Printf("  saved      %d\n", row.Saved)
	fmt.Printf("  cache_len  %d\n", row.CacheLen)
	fmt.Printf("  anomalies  %d\n", row.Anomalies)
}

func chunkCmd(args []string) {
	fs := flag.NewFlagSet("chunk", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "world_1", "world id")
	cx := fs.Int("cx", 0, "chunk x")
	cz := fs.Int("cz", 0, "chunk z")
	_ = fs.Parse(args)

	store, err := chunkdb.Open(filepath.Join(*dataDir, "worlds", *worldID, "chunks"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "open chunk store:", err)
		os.Exit(1)
	}
	defer store.Close()

	key := chunk.Key{CX: int32(*cx), CZ: int32(*cz)}
	p, ok, err := store.Load(key)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load:", err)
		os.Exit(1)
	}
	if !ok {
		fmt.Printf("chunk %s not on disk\n", key)
		return
	}

	minH, maxH := p.HeightMap[0], p.HeightMap[0]
	water := 0
	for i := range p.HeightMap {
		if p.HeightMap[i] < minH {
			minH = p.HeightMap[i]
		}
		if p.HeightMap[i] > maxH {
			maxH = p.HeightMap[i]
		}
		if p.WaterMap[i] {
			water++
		}
	}
	byType := map[block.ID]int{}
	for _, id := range p.Blocks {
		byType[id]++
	}
	type kv struct {
		id block.ID
		n  int
	}
	counts := make([]kv, 0, len(byType))
	for id, n := range byType {
		counts = append(counts, kv{id, n})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].n != counts[j].n {
			return counts[i].n > counts[j].n
		}
		return counts[i].id < counts[j].id
	})

	fmt.Printf("chunk %s side=%d decoration_complete=%v\n", key, p.Side, p.DecorationComplete)
	fmt.Printf("  surface height %d..%d, %d/%d water columns, %d blocks\n",
		minH, maxH, water, len(p.WaterMap), len(p.Blocks))
	for _, c := range counts {
		fmt.Printf("  %-14s %d\n", c.id, c.n)
	}
}

func verifyCmd(args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "world_1", "world id")
	configDir := fs.String("configs", "./configs", "config directory")
	_ = fs.Parse(args)

	d := openIndex(*dataDir)
	defer d.Close()

	row, err := d.ReadWorld(*worldID)
	if errors.Is(err, sql.ErrNoRows) {
		fmt.Fprintf(os.Stderr, "world %s is not registered\n", *worldID)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "read world:", err)
		os.Exit(1)
	}

	reg, err := biome.Load(
		filepath.Join(*configDir, "biomes.json"),
		filepath.Join(*configDir, "schemas", "biomes.schema.json"),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load biomes:", err)
		os.Exit(1)
	}

	drift := false
	if row.PaletteDigest != block.PaletteDigest() {
		drift = true
		fmt.Printf("block palette CHANGED since %s was last opened\n", *worldID)
		fmt.Printf("  recorded %s\n  current  %s\n", row.PaletteDigest, block.PaletteDigest())
	}
	if row.BiomeDigest != reg.Digest {
		drift = true
		fmt.Printf("biome table CHANGED since %s was last opened\n", *worldID)
		fmt.Printf("  recorded %s\n  current  %s\n", row.BiomeDigest, reg.Digest)
	}
	if drift {
		fmt.Println("existing chunk records were generated under the recorded configs; expect visual seams")
		os.Exit(1)
	}
	fmt.Printf("world %s matches the current palette and biome table\n", *worldID)
}
