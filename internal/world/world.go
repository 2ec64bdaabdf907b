// Package world assembles the generation stack, persistence, and chunk
// streaming into one engine-facing facade. A World is driven from a single
// engine goroutine: Update on every tick, block edits in between, Close on
// shutdown.
package world

import (
	"errors"
	"fmt"
	"log"
	"os"

	"chunkforge.dev/internal/persistence/chunkdb"
	"chunkforge.dev/internal/persistence/eventlog"
	"chunkforge.dev/internal/tuning"
	"chunkforge.dev/internal/world/biome"
	"chunkforge.dev/internal/world/block"
	"chunkforge.dev/internal/world/chunk"
	"chunkforge.dev/internal/world/gen/climate"
	"chunkforge.dev/internal/world/gen/decor"
	"chunkforge.dev/internal/world/gen/height"
	"chunkforge.dev/internal/world/gen/terrain"
	"chunkforge.dev/internal/world/mathx"
	"chunkforge.dev/internal/world/pipeline"
	"chunkforge.dev/internal/world/stream"
)

// Options configures a World. Registry and ChunkDir are required; a nil
// Logger falls back to stderr and a nil Events log discards events.
type Options struct {
	Seed     int64
	Tuning   tuning.Tuning
	Registry *biome.Registry
	ChunkDir string
	Events   *eventlog.Log
	Logger   *log.Logger
}

type World struct {
	seed    int64
	cfg     tuning.Tuning
	reg     *biome.Registry
	climate *climate.Classifier
	heights *height.Synthesizer
	store   *chunkdb.Store
	pipe    *pipeline.Orchestrator
	ctrl    *stream.Controller
	events  *eventlog.Log
	log     *log.Logger
	closed  bool
}

// Open validates the options, opens the chunk store, and brings up the
// generation pipeline. Decoration is released once everything is wired, so
// chunks requested mid-boot decorate in order afterwards.
func Open(opts Options) (*World, error) {
	if opts.Registry == nil {
		return nil, errors.New("world: biome registry is required")
	}
	if opts.ChunkDir == "" {
		return nil, errors.New("world: chunk directory is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[world] ", log.LstdFlags|log.Lmsgprefix)
	}

	cfg := opts.Tuning
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("world: %w", err)
	}

	cl := climate.New(opts.Seed, opts.Registry, cfg.Climate, logger)
	hs := height.New(opts.Seed, cfg.Chunk, cfg.Height)
	tg := terrain.New(cl, hs, cfg.Chunk)
	dg := decor.New(opts.Seed, opts.Registry, cl, cfg.Decor)

	store, err := chunkdb.Open(opts.ChunkDir)
	if err != nil {
		return nil, fmt.Errorf("world: opening chunk store: %w", err)
	}

	pipe := pipeline.New(cfg.Pipeline, tg, dg, store, opts.Events, logger)
	ctrl := stream.New(cfg.Stream, cfg.Chunk.Side, pipe, store, opts.Events, logger)

	w := &World{
		seed:    opts.Seed,
		cfg:     cfg,
		reg:     opts.Registry,
		climate: cl,
		heights: hs,
		store:   store,
		pipe:    pipe,
		ctrl:    ctrl,
		events:  opts.Events,
		log:     logger,
	}
	pipe.StartDecoration()
	return w, nil
}

// Seed returns the world seed.
func (w *World) Seed() int64 { return w.seed }

// Config returns the normalized tuning in effect.
func (w *World) Config() tuning.Tuning { return w.cfg }

// Registry returns the biome registry.
func (w *World) Registry() *biome.Registry { return w.reg }

// Update advances chunk streaming for the viewer at world (wx, wz).
func (w *World) Update(wx, wz int) (stream.UpdateResult, error) {
	return w.ctrl.Update(wx, wz)
}

// ChunkPayload returns a resident chunk.
func (w *World) ChunkPayload(key chunk.Key) (*chunk.Payload, bool) {
	return w.ctrl.Payload(key)
}

// BlockAt reads one block from a resident chunk.
func (w *World) BlockAt(wx, wy, wz int) (block.ID, error) {
	key := chunk.KeyOfWorld(wx, wz, w.cfg.Chunk.Side)
	p, ok := w.ctrl.Payload(key)
	if !ok {
		return block.Air, fmt.Errorf("chunk %s: %w", key, stream.ErrNotResident)
	}
	id, ok := p.At(mathx.Mod(wx, w.cfg.Chunk.Side), wy, mathx.Mod(wz, w.cfg.Chunk.Side))
	if !ok {
		return block.Air, fmt.Errorf("y=%d is outside the world", wy)
	}
	return id, nil
}

// PlaceBlock sets a block in a resident chunk. Air is not placeable (use
// RemoveBlock), bedrock cannot be replaced, and the position must lie
// inside the vertical world bounds.
func (w *World) PlaceBlock(wx, wy, wz int, id block.ID) error {
	if id == block.Air {
		return errors.New("placing air is a removal")
	}
	if wy < w.cfg.Chunk.BedrockY || wy > w.cfg.Chunk.MaxY {
		return fmt.Errorf("y=%d is outside [%d,%d]", wy, w.cfg.Chunk.BedrockY, w.cfg.Chunk.MaxY)
	}
	cur, err := w.BlockAt(wx, wy, wz)
	if err != nil {
		return err
	}
	if cur == block.Bedrock {
		return errors.New("bedrock cannot be replaced")
	}
	_, err = w.ctrl.ApplyEdit(wx, wy, wz, id)
	return err
}

// RemoveBlock clears a block in a resident chunk. Bedrock and empty cells
// are rejected.
func (w *World) RemoveBlock(wx, wy, wz int) error {
	cur, err := w.BlockAt(wx, wy, wz)
	if err != nil {
		return err
	}
	if cur == block.Air {
		return fmt.Errorf("no block at (%d,%d,%d)", wx, wy, wz)
	}
	if cur == block.Bedrock {
		return errors.New("bedrock cannot be removed")
	}
	_, err = w.ctrl.ApplyEdit(wx, wy, wz, block.Air)
	return err
}

// BiomeAt classifies the column at world (wx, wz) without touching chunks.
func (w *World) BiomeAt(wx, wz int) biome.Descriptor {
	return w.climate.Classify(wx, wz)
}

// SurfaceHeightAt computes the column's terrain surface from seed alone.
func (w *World) SurfaceHeightAt(wx, wz int) int {
	b := w.climate.Classify(wx, wz)
	return w.heights.SurfaceHeight(wx, wz, &b)
}

// SpawnPosition finds the dry column nearest the origin and returns the
// position one block above its surface. Oceans at the origin push the spawn
// outward ring by ring.
func (w *World) SpawnPosition() (x, y, z int) {
	const maxRadius = 256
	for r := 0; r <= maxRadius; r++ {
		for dz := -r; dz <= r; dz++ {
			for dx := -r; dx <= r; dx++ {
				if mathx.AbsInt(dx) != r && mathx.AbsInt(dz) != r {
					continue
				}
				h := w.SurfaceHeightAt(dx, dz)
				if h >= w.cfg.Chunk.WaterLevel {
					return dx, h + 1, dz
				}
			}
		}
	}
	h := w.SurfaceHeightAt(0, 0)
	return 0, h + 1, 0
}

// Stats snapshots the streaming counters.
func (w *World) Stats() stream.Stats {
	return w.ctrl.Stats()
}

// Anomalies reports how many columns fell back to the default biome.
func (w *World) Anomalies() uint64 {
	return w.climate.Anomalies()
}

// Close flushes unsaved chunks and releases the store. Safe to call twice.
func (w *World) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	var firstErr error
	if err := w.pipe.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.ctrl.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
