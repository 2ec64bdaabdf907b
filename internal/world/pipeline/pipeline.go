// Package pipeline drives chunk production: disk load, terrain generation,
// and decoration run on worker pools while a single actor goroutine owns
// every chunk's lifecycle state. Requests for the same chunk share one
// in-flight ticket, and per-stage timeouts degrade or fail a chunk without
// ever blocking the actor.
package pipeline

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"chunkforge.dev/internal/persistence/eventlog"
	"chunkforge.dev/internal/tuning"
	"chunkforge.dev/internal/world/chunk"
	"chunkforge.dev/internal/world/gen/decor"
)

var (
	// ErrBusy rejects new requests while the in-flight table is full; the
	// caller retries on a later tick.
	ErrBusy = errors.New("generation queue is full")
	// ErrClosed rejects requests after shutdown began.
	ErrClosed = errors.New("pipeline closed")
	// ErrTimeout marks a terrain stage that exceeded its deadline.
	ErrTimeout = errors.New("stage timed out")
)

// TerrainGenerator produces the base terrain payload for a chunk.
type TerrainGenerator interface {
	Generate(key chunk.Key) *chunk.Payload
}

// DecorationGenerator decorates a terrain payload in place.
type DecorationGenerator interface {
	Generate(p *chunk.Payload) decor.Result
}

// Store is the persistence surface the pipeline reads through.
type Store interface {
	Load(key chunk.Key) (*chunk.Payload, bool, error)
	Delete(key chunk.Key) error
}

type msgKind uint8

const (
	msgRequest msgKind = iota + 1
	msgLoaded
	msgLoadMiss
	msgLoadFailed
	msgTerrainDone
	msgTerrainFailed
	msgDecorDone
	msgDecorFailed
	msgTimeout
	msgDecorRelease
)

type message struct {
	kind     msgKind
	key      chunk.Key
	seq      uint64
	payload  *chunk.Payload
	decorRes decor.Result
	err      error
	ms       int64
}

type flightState uint8

const (
	stateLoading flightState = iota + 1
	stateTerrain
	stateDecorating
)

// flight is actor-owned per-chunk lifecycle state.
type flight struct {
	key    chunk.Key
	state  flightState
	ticket *Ticket
	origin Origin

	seq       uint64
	timer     *time.Timer
	terrainMS int64

	// preDecor snapshots the terrain-only payload before decoration is
	// dispatched; timeout and failure resolve with it so a worker still
	// mutating the live payload can never race the delivered chunk.
	preDecor *chunk.Payload
}

type genJob struct {
	key chunk.Key
	seq uint64
}

type decorJob struct {
	key     chunk.Key
	seq     uint64
	payload *chunk.Payload
}

type Orchestrator struct {
	cfg     tuning.Pipeline
	terrain TerrainGenerator
	decor   DecorationGenerator
	store   Store
	events  *eventlog.Log
	log     *log.Logger

	mu      sync.Mutex
	pending map[chunk.Key]*Ticket
	closed  bool

	msgs   chan message
	loadQ  chan genJob
	genQ   chan genJob
	decorQ chan decorJob

	decorGate chan struct{}
	gateOnce  sync.Once

	quit chan struct{}
	wg   sync.WaitGroup
}

// New starts the pipeline's workers. Decoration jobs queue up but are not
// executed until StartDecoration releases them.
func New(cfg tuning.Pipeline, tg TerrainGenerator, dg DecorationGenerator, store Store, events *eventlog.Log, logger *log.Logger) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg,
		terrain:   tg,
		decor:     dg,
		store:     store,
		events:    events,
		log:       logger,
		pending:   make(map[chunk.Key]*Ticket),
		msgs:      make(chan message, cfg.QueueSize*4),
		loadQ:     make(chan genJob, cfg.QueueSize),
		genQ:      make(chan genJob, cfg.QueueSize),
		decorQ:    make(chan decorJob, cfg.QueueSize),
		decorGate: make(chan struct{}),
		quit:      make(chan struct{}),
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run()
	}()
	for i := 0; i < cfg.LoadWorkers; i++ {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.loadWorker()
		}()
	}
	for i := 0; i < cfg.TerrainWorkers; i++ {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.terrainWorker()
		}()
	}
	// Decoration is deliberately a single worker: the barren-chunk
	// guarantee is order-sensitive.
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.decorWorker()
	}()
	return o
}

// StartDecoration releases the decoration worker. Jobs queued before this
// replay in request order; their stage timers also start now.
func (o *Orchestrator) StartDecoration() {
	o.gateOnce.Do(func() {
		close(o.decorGate)
		o.post(message{kind: msgDecorRelease})
	})
}

// Request begins (or joins) production of one chunk. The same key always
// shares the in-flight ticket; ErrBusy means the table is full.
func (o *Orchestrator) Request(key chunk.Key) (*Ticket, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrClosed
	}
	if t, ok := o.pending[key]; ok {
		o.mu.Unlock()
		return t, nil
	}
	if len(o.pending) >= o.cfg.QueueSize {
		o.mu.Unlock()
		return nil, ErrBusy
	}
	t := newTicket(key)
	o.pending[key] = t
	o.mu.Unlock()

	o.post(message{kind: msgRequest, key: key})
	return t, nil
}

// InFlight reports the number of chunks currently owned by the pipeline.
func (o *Orchestrator) InFlight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// Close stops the workers and fails every unresolved ticket with ErrClosed.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	close(o.quit)
	o.wg.Wait()

	o.mu.Lock()
	for key, t := range o.pending {
		t.resolve(Result{Key: key, Err: ErrClosed})
		delete(o.pending, key)
	}
	o.mu.Unlock()
	return nil
}

// post hands a message to the actor, abandoning it on shutdown.
func (o *Orchestrator) post(m message) {
	select {
	case o.msgs <- m:
	case <-o.quit:
	}
}

// run is the actor: the only goroutine that touches flights.
func (o *Orchestrator) run() {
	flights := make(map[chunk.Key]*flight)
	var seqCounter uint64
	decorReleased := false

	nextSeq := func() uint64 {
		seqCounter++
		return seqCounter
	}

	armTimer := func(f *flight, d time.Duration) {
		seq := f.seq
		key := f.key
		f.timer = time.AfterFunc(d, func() {
			o.post(message{kind: msgTimeout, key: key, seq: seq})
		})
	}

	resolve := func(f *flight, r Result) {
		if f.timer != nil {
			f.timer.Stop()
		}
		delete(flights, f.key)
		o.mu.Lock()
		delete(o.pending, f.key)
		o.mu.Unlock()
		f.ticket.resolve(r)
	}

	startTerrain := func(f *flight) {
		f.state = stateTerrain
		f.seq = nextSeq()
		f.origin = OriginGenerated
		o.genQ <- genJob{key: f.key, seq: f.seq}
		armTimer(f, time.Duration(o.cfg.TerrainTimeoutMs)*time.Millisecond)
	}

	startDecor := func(f *flight, origin Origin, p *chunk.Payload) {
		f.state = stateDecorating
		f.origin = origin
		f.seq = nextSeq()
		f.timer = nil
		f.preDecor = p.Clone()
		o.decorQ <- decorJob{key: f.key, seq: f.seq, payload: p}
		if decorReleased {
			armTimer(f, time.Duration(o.cfg.DecorTimeoutMs)*time.Millisecond)
		}
	}

	for {
		var m message
		select {
		case <-o.quit:
			for _, f := range flights {
				if f.timer != nil {
					f.timer.Stop()
				}
				f.ticket.resolve(Result{Key: f.key, Err: ErrClosed})
			}
			return
		case m = <-o.msgs:
		}

		if m.kind == msgRequest {
			o.mu.Lock()
			t := o.pending[m.key]
			o.mu.Unlock()
			if t == nil || flights[m.key] != nil {
				continue
			}
			f := &flight{key: m.key, state: stateLoading, ticket: t, seq: nextSeq()}
			flights[m.key] = f
			o.loadQ <- genJob{key: m.key, seq: f.seq}
			continue
		}

		if m.kind == msgDecorRelease {
			decorReleased = true
			for _, f := range flights {
				if f.state == stateDecorating && f.timer == nil {
					armTimer(f, time.Duration(o.cfg.DecorTimeoutMs)*time.Millisecond)
				}
			}
			continue
		}

		f := flights[m.key]
		if f == nil || m.seq != f.seq {
			// A stale completion or timeout from a stage this flight (or a
			// predecessor for the same key) already left behind.
			continue
		}

		switch m.kind {
		case msgLoaded:
			if m.payload.MapsDegenerate() {
				m.payload.RebuildMaps()
			}
			if m.payload.DecorationComplete {
				resolve(f, Result{Key: f.key, Payload: m.payload, Origin: OriginDisk})
			} else {
				startDecor(f, OriginResumed, m.payload)
			}

		case msgLoadMiss, msgLoadFailed:
			startTerrain(f)

		case msgTerrainDone:
			f.timer.Stop()
			f.terrainMS = m.ms
			startDecor(f, OriginGenerated, m.payload)

		case msgTerrainFailed:
			_ = o.events.Emit("generation_failure", map[string]any{
				"chunk": f.key.String(), "stage": "terrain", "error": m.err.Error(),
			})
			o.log.Printf("pipeline: terrain for %s failed: %v", f.key, m.err)
			resolve(f, Result{Key: f.key, Err: fmt.Errorf("terrain for %s: %w", f.key, m.err)})

		case msgDecorDone:
			if m.decorRes.UnknownBiomes > 0 {
				o.log.Printf("pipeline: chunk %s skipped %d columns with unknown biome metadata", f.key, m.decorRes.UnknownBiomes)
			}
			o.emitGenerated(f, m.ms, m.decorRes.Forced)
			resolve(f, Result{
				Key:       f.key,
				Payload:   m.payload,
				Origin:    f.origin,
				TerrainMS: f.terrainMS,
				DecorMS:   m.ms,
				Forced:    m.decorRes.Forced,
			})

		case msgDecorFailed:
			_ = o.events.Emit("decoration_failure", map[string]any{
				"chunk": f.key.String(), "error": m.err.Error(),
			})
			o.log.Printf("pipeline: decoration for %s failed, delivering terrain only: %v", f.key, m.err)
			resolve(f, Result{
				Key:       f.key,
				Payload:   f.preDecor,
				Origin:    f.origin,
				TerrainMS: f.terrainMS,
				Degraded:  true,
			})

		case msgTimeout:
			switch f.state {
			case stateTerrain:
				_ = o.events.Emit("generation_failure", map[string]any{
					"chunk": f.key.String(), "stage": "terrain", "error": "timeout",
				})
				o.log.Printf("pipeline: terrain for %s exceeded %dms", f.key, o.cfg.TerrainTimeoutMs)
				resolve(f, Result{Key: f.key, Err: fmt.Errorf("terrain for %s: %w", f.key, ErrTimeout)})
			case stateDecorating:
				_ = o.events.Emit("decoration_timeout", map[string]any{"chunk": f.key.String()})
				o.log.Printf("pipeline: decoration for %s exceeded %dms, delivering terrain only", f.key, o.cfg.DecorTimeoutMs)
				resolve(f, Result{
					Key:       f.key,
					Payload:   f.preDecor,
					Origin:    f.origin,
					TerrainMS: f.terrainMS,
					Degraded:  true,
				})
			}
		}
	}
}

func (o *Orchestrator) emitGenerated(f *flight, decorMS int64, forced bool) {
	if f.origin == OriginDisk {
		return
	}
	_ = o.events.Emit("chunk_generated", map[string]any{
		"chunk":      f.key.String(),
		"origin":     f.origin.String(),
		"terrain_ms": f.terrainMS,
		"decor_ms":   decorMS,
		"forced":     forced,
	})
}
