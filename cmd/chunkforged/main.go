package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"chunkforge.dev/internal/engine"
	"chunkforge.dev/internal/persistence/eventlog"
	"chunkforge.dev/internal/persistence/worlddb"
	"chunkforge.dev/internal/protocol"
	"chunkforge.dev/internal/transport/ws"
	"chunkforge.dev/internal/tuning"
	"chunkforge.dev/internal/world"
	"chunkforge.dev/internal/world/biome"
	"chunkforge.dev/internal/world/block"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		worldID    = flag.String("world", "world_1", "world id")
		seed       = flag.Int64("seed", 1337, "world seed (used only when creating a fresh world)")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[chunkforged] ", log.LstdFlags|log.Lmicroseconds)

	// Optional .env overlay; plain environment variables work without it.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Printf("dotenv: %v", err)
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Default()
	}

	reg, err := biome.Load(
		filepath.Join(*configDir, "biomes.json"),
		filepath.Join(*configDir, "schemas", "biomes.schema.json"),
	)
	if err != nil {
		logger.Fatalf("load biomes: %v", err)
	}

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	if err := os.MkdirAll(worldDir, 0o755); err != nil {
		logger.Fatalf("create world dir: %v", err)
	}

	worlds, err := worlddb.Open(filepath.Join(*dataDir, "worlds.db"), logger)
	if err != nil {
		logger.Fatalf("open world index: %v", err)
	}
	defer worlds.Close()

	// An existing world keeps the seed it was created with; the flag only
	// seeds fresh ones.
	effectiveSeed := *seed
	row, err := worlds.ReadWorld(*worldID)
	switch {
	case err == nil:
		effectiveSeed = row.Seed
		logger.Printf("resuming world %s (seed %d, created %s)", row.ID, row.Seed, row.CreatedAt)
	case errors.Is(err, sql.ErrNoRows):
		logger.Printf("creating world %s with seed %d", *worldID, effectiveSeed)
	default:
		logger.Fatalf("read world row: %v", err)
	}
	if err := worlds.EnsureWorld(*worldID, effectiveSeed, tune.Chunk.Side, block.PaletteDigest(), reg.Digest); err != nil {
		logger.Fatalf("ensure world: %v", err)
	}

	events := eventlog.New(worldDir)
	defer events.Close()

	w, err := world.Open(world.Options{
		Seed:     effectiveSeed,
		Tuning:   tune,
		Registry: reg,
		ChunkDir: filepath.Join(worldDir, "chunks"),
		Events:   events,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatalf("open world: %v", err)
	}

	eng := engine.New(w, worlds, *worldID, events, logger)

	ctx, cancel := signalContext()
	defer cancel()

	go func() {
		if err := eng.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("engine stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		// Served from the stats read model so the handler never touches
		// engine-owned state.
		st, at, err := worlds.LatestStats(*worldID)
		if err != nil {
			fmt.Fprintf(rw, "# no stats recorded yet\n")
			return
		}

		fmt.Fprintf(rw, "# HELP chunkforge_chunks_generated_total Chunks generated since boot.\n")
		fmt.Fprintf(rw, "# TYPE chunkforge_chunks_generated_total counter\n")
		fmt.Fprintf(rw, "chunkforge_chunks_generated_total{world=%q} %d\n", *worldID, st.Generated)

		fmt.Fprintf(rw, "# HELP chunkforge_chunks_from_disk_total Chunks served from disk since boot.\n")
		fmt.Fprintf(rw, "# TYPE chunkforge_chunks_from_disk_total counter\n")
		fmt.Fprintf(rw, "chunkforge_chunks_from_disk_total{world=%q} %d\n", *worldID, st.FromDisk)

		fmt.Fprintf(rw, "# HELP chunkforge_chunks_degraded_total Chunks delivered terrain-only since boot.\n")
		fmt.Fprintf(rw, "# TYPE chunkforge_chunks_degraded_total counter\n")
		fmt.Fprintf(rw, "chunkforge_chunks_degraded_total{world=%q} %d\n", *worldID, st.Degraded)

		fmt.Fprintf(rw, "# HELP chunkforge_chunks_evicted_total Cache evictions since boot.\n")
		fmt.Fprintf(rw, "# TYPE chunkforge_chunks_evicted_total counter\n")
		fmt.Fprintf(rw, "chunkforge_chunks_evicted_total{world=%q} %d\n", *worldID, st.Evicted)

		fmt.Fprintf(rw, "# HELP chunkforge_chunks_saved_total Chunk records persisted since boot.\n")
		fmt.Fprintf(rw, "# TYPE chunkforge_chunks_saved_total counter\n")
		fmt.Fprintf(rw, "chunkforge_chunks_saved_total{world=%q} %d\n", *worldID, st.Saved)

		fmt.Fprintf(rw, "# HELP chunkforge_chunk_cache_len Resident chunks at the last sample.\n")
		fmt.Fprintf(rw, "# TYPE chunkforge_chunk_cache_len gauge\n")
		fmt.Fprintf(rw, "chunkforge_chunk_cache_len{world=%q} %d\n", *worldID, st.CacheLen)

		fmt.Fprintf(rw, "# HELP chunkforge_climate_anomalies_total Climate grid lookups that fell back to the default biome.\n")
		fmt.Fprintf(rw, "# TYPE chunkforge_climate_anomalies_total counter\n")
		fmt.Fprintf(rw, "chunkforge_climate_anomalies_total{world=%q} %d\n", *worldID, st.Anomalies)

		fmt.Fprintf(rw, "# HELP chunkforge_stats_recorded_at Unix timestamp of the sample served above.\n")
		fmt.Fprintf(rw, "# TYPE chunkforge_stats_recorded_at gauge\n")
		if ts, perr := time.Parse(time.RFC3339Nano, at); perr == nil {
			fmt.Fprintf(rw, "chunkforge_stats_recorded_at{world=%q} %d\n", *worldID, ts.Unix())
		}
	})
	mux.HandleFunc("/v1/ws", ws.NewServer(eng, logger).Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	_ = events.Emit("server_boot", map[string]any{
		"world": *worldID, "seed": effectiveSeed, "addr": *addr, "protocol": protocol.Version,
	})
	logger.Printf("world %s listening on %s", *worldID, *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}

	// Orderly teardown: stop producing before flushing the world to disk.
	eng.Stop()
	if err := w.Close(); err != nil {
		logger.Printf("world close: %v", err)
	}
	_ = events.Emit("server_shutdown", map[string]any{"world": *worldID})
	logger.Printf("shutdown complete")
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
