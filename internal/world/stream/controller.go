// Package stream keeps the set of resident chunks in step with a moving
// viewer: it pins and requests everything inside the render distance,
// hands newly available chunks to the caller, tells it which chunks left
// the view, and writes modified chunks back to disk without ever dropping
// an unsaved edit.
package stream

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"chunkforge.dev/internal/persistence/eventlog"
	"chunkforge.dev/internal/tuning"
	"chunkforge.dev/internal/world/block"
	"chunkforge.dev/internal/world/cache"
	"chunkforge.dev/internal/world/chunk"
	"chunkforge.dev/internal/world/mathx"
	"chunkforge.dev/internal/world/pipeline"
)

// ErrClosed rejects calls after the controller shut down.
var ErrClosed = errors.New("stream controller closed")

// ErrNotResident marks reads or edits against a chunk that is not in the
// cache right now.
var ErrNotResident = errors.New("chunk is not resident")

// UpdateResult reports one tick's streaming changes.
type UpdateResult struct {
	// Loaded holds chunks that became available this tick, closest first.
	Loaded []*chunk.Payload
	// Unloaded names chunks that left the render distance.
	Unloaded []chunk.Key
	// Busy is set when the pipeline rejected further requests this tick;
	// the remaining chunks are retried on the next one.
	Busy bool
}

// Stats is a snapshot of the controller's counters.
type Stats struct {
	Generated    uint64
	FromDisk     uint64
	Degraded     uint64
	Evicted      uint64
	Saved        uint64
	SaveFailures uint64
	CacheLen     int
	InFlight     int
	Active       int
	Parked       int
}

// Controller is owned by the engine goroutine: Update, ApplyEdit, Payload,
// Stats and Close must all be called from it. Only the saver runs aside.
type Controller struct {
	side    int
	dist    int
	cache   *cache.Cache
	pipe    *pipeline.Orchestrator
	tracker *Tracker
	store   SaveStore
	events  *eventlog.Log
	log     *log.Logger

	active  map[chunk.Key]bool
	tickets map[chunk.Key]*pipeline.Ticket

	// unsaved maps evicted-but-dirty chunks to the payload awaiting its
	// write; a re-entering viewer is served from here, never from the
	// stale record still on disk.
	unsaved    map[chunk.Key]*chunk.Payload
	parked     []saveReq
	lastQueued map[chunk.Key]uint64

	saveQ    chan saveReq
	saveDone chan saveResult
	wg       sync.WaitGroup
	closed   bool

	generated    uint64
	fromDisk     uint64
	degraded     uint64
	evictions    uint64
	saved        uint64
	saveFailures uint64
}

func New(cfg tuning.Stream, side int, pipe *pipeline.Orchestrator, store SaveStore, events *eventlog.Log, logger *log.Logger) *Controller {
	c := &Controller{
		side:       side,
		dist:       cfg.RenderDistance,
		cache:      cache.New(cfg.CacheCapacity),
		pipe:       pipe,
		tracker:    NewTracker(),
		store:      store,
		events:     events,
		log:        logger,
		active:     make(map[chunk.Key]bool),
		tickets:    make(map[chunk.Key]*pipeline.Ticket),
		unsaved:    make(map[chunk.Key]*chunk.Payload),
		lastQueued: make(map[chunk.Key]uint64),
		saveQ:      make(chan saveReq, cfg.SaveQueueSize),
		saveDone:   make(chan saveResult, cfg.SaveQueueSize*2+1),
	}
	c.wg.Add(1)
	go c.saver()
	return c
}

// Tracker exposes the modification tracker for edit bookkeeping.
func (c *Controller) Tracker() *Tracker {
	return c.tracker
}

// Update advances streaming for the viewer at world position (wx, wz):
// finished pipeline work lands in the cache, missing chunks inside the
// render distance are requested closest-first, and chunks outside it are
// reported unloaded. Dirty chunks are queued for saving as snapshots.
func (c *Controller) Update(wx, wz int) (UpdateResult, error) {
	var res UpdateResult
	if c.closed {
		return res, ErrClosed
	}

	c.drainSaves()
	c.flushParked()
	c.collectFinished()

	center := chunk.KeyOfWorld(wx, wz, c.side)
	order := ringOrder(center, c.dist)
	required := make(map[chunk.Key]struct{}, len(order))
	for _, key := range order {
		required[key] = struct{}{}
	}
	c.cache.SetPinned(required)

	for _, key := range order {
		if c.active[key] {
			continue
		}
		if p, ok := c.cache.Get(key); ok {
			c.active[key] = true
			res.Loaded = append(res.Loaded, p)
			continue
		}
		if _, ok := c.tickets[key]; ok {
			continue
		}
		if p, ok := c.unsaved[key]; ok {
			// The on-disk record is behind this payload; resurrect the
			// unsaved copy instead of loading stale data.
			rescued := p.Clone()
			c.handleEvicted(c.cache.Put(key, rescued))
			c.active[key] = true
			res.Loaded = append(res.Loaded, rescued)
			continue
		}
		tk, err := c.pipe.Request(key)
		if errors.Is(err, pipeline.ErrBusy) {
			res.Busy = true
			break
		}
		if err != nil {
			return res, fmt.Errorf("requesting chunk %s: %w", key, err)
		}
		c.tickets[key] = tk
	}

	for key := range c.active {
		if _, ok := required[key]; ok {
			continue
		}
		delete(c.active, key)
		res.Unloaded = append(res.Unloaded, key)
	}

	c.autosave()
	return res, nil
}

// Payload returns a resident chunk without disturbing its cache position.
func (c *Controller) Payload(key chunk.Key) (*chunk.Payload, bool) {
	return c.cache.Peek(key)
}

// ApplyEdit writes one block change into a resident chunk and marks it
// dirty. Edits against chunks outside the cache are rejected.
func (c *Controller) ApplyEdit(wx, wy, wz int, id block.ID) (chunk.Key, error) {
	key := chunk.KeyOfWorld(wx, wz, c.side)
	if c.closed {
		return key, ErrClosed
	}
	p, ok := c.cache.Get(key)
	if !ok {
		return key, fmt.Errorf("chunk %s: %w", key, ErrNotResident)
	}
	lx := mathx.Mod(wx, c.side)
	lz := mathx.Mod(wz, c.side)
	if !p.Set(lx, wy, lz, id) {
		return key, fmt.Errorf("block %d at (%d,%d,%d) is out of range", id, wx, wy, wz)
	}
	p.RecalcColumn(lx, lz)
	c.tracker.MarkDirty(key)
	return key, nil
}

// Stats snapshots the streaming counters.
func (c *Controller) Stats() Stats {
	return Stats{
		Generated:    c.generated,
		FromDisk:     c.fromDisk,
		Degraded:     c.degraded,
		Evicted:      c.evictions,
		Saved:        c.saved,
		SaveFailures: c.saveFailures,
		CacheLen:     c.cache.Len(),
		InFlight:     len(c.tickets),
		Active:       len(c.active),
		Parked:       len(c.parked),
	}
}

// Close flushes every unsaved chunk through the saver and stops it. Chunks
// whose write fails are retried once synchronously before giving up.
func (c *Controller) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	c.drainSaves()
	pending := c.parked
	c.parked = nil
	for _, req := range pending {
		if c.saveSuperseded(req) {
			continue
		}
		c.sendBlocking(req)
	}
	for _, key := range c.tracker.DirtyKeys() {
		v := c.tracker.Version(key)
		if c.lastQueued[key] >= v {
			continue
		}
		p, ok := c.cache.Peek(key)
		if !ok {
			continue
		}
		c.sendBlocking(saveReq{payload: p.Clone(), version: v})
	}

	close(c.saveQ)
	c.wg.Wait()
	c.drainSaves()

	var lastErr error
	retry := c.parked
	c.parked = nil
	for _, req := range retry {
		if c.saveSuperseded(req) {
			continue
		}
		if err := c.store.Save(req.payload); err != nil {
			lastErr = fmt.Errorf("saving chunk %s: %w", req.payload.Key, err)
			c.log.Printf("stream: final save of %s failed, edits lost: %v", req.payload.Key, err)
			continue
		}
		c.saved++
		c.tracker.ClearDirty(req.payload.Key, req.version)
	}
	return lastErr
}

// sendBlocking enqueues a save while keeping the result channel drained so
// the saver can never wedge against a full queue during shutdown.
func (c *Controller) sendBlocking(req saveReq) {
	for {
		select {
		case c.saveQ <- req:
			c.lastQueued[req.payload.Key] = req.version
			return
		case res := <-c.saveDone:
			c.handleSaveResult(res)
		}
	}
}

// collectFinished moves resolved pipeline tickets into the cache.
func (c *Controller) collectFinished() {
	for key, tk := range c.tickets {
		r, ok := tk.Result()
		if !ok {
			continue
		}
		delete(c.tickets, key)
		if r.Err != nil {
			// Still required next tick means a fresh request.
			c.log.Printf("stream: chunk %s failed: %v", key, r.Err)
			continue
		}
		if r.Origin == pipeline.OriginDisk {
			c.fromDisk++
		} else {
			c.generated++
			// Fresh terrain and decoration work has to reach disk.
			c.tracker.MarkDirty(key)
		}
		if r.Degraded {
			c.degraded++
		}
		c.handleEvicted(c.cache.Put(key, r.Payload))
	}
}

// handleEvicted routes cache evictions: dirty payloads head for the saver
// and stay rescuable, clean ones are forgotten.
func (c *Controller) handleEvicted(evicted []*chunk.Payload) {
	for _, p := range evicted {
		c.evictions++
		key := p.Key
		if !c.tracker.IsDirty(key) {
			c.tracker.Forget(key)
			delete(c.lastQueued, key)
			continue
		}
		v := c.tracker.Version(key)
		c.unsaved[key] = p
		if !c.trySave(saveReq{payload: p, version: v}) {
			c.log.Printf("stream: save queue full, parking dirty chunk %s", key)
			c.parked = append(c.parked, saveReq{payload: p, version: v})
		}
	}
}

func (c *Controller) trySave(req saveReq) bool {
	select {
	case c.saveQ <- req:
		c.lastQueued[req.payload.Key] = req.version
		return true
	default:
		return false
	}
}

// saveSuperseded reports a parked request whose edits already reached disk
// through a newer snapshot.
func (c *Controller) saveSuperseded(req saveReq) bool {
	key := req.payload.Key
	if !c.tracker.IsDirty(key) || c.tracker.Version(key) != req.version {
		if c.unsaved[key] == req.payload {
			delete(c.unsaved, key)
		}
		return true
	}
	return false
}

func (c *Controller) flushParked() {
	if len(c.parked) == 0 {
		return
	}
	keep := c.parked[:0]
	for _, req := range c.parked {
		if c.saveSuperseded(req) {
			continue
		}
		if !c.trySave(req) {
			keep = append(keep, req)
		}
	}
	c.parked = keep
}

// autosave snapshots resident dirty chunks whose latest version has not
// been queued yet.
func (c *Controller) autosave() {
	for _, key := range c.tracker.DirtyKeys() {
		v := c.tracker.Version(key)
		if c.lastQueued[key] >= v {
			continue
		}
		p, ok := c.cache.Peek(key)
		if !ok {
			continue
		}
		if !c.trySave(saveReq{payload: p.Clone(), version: v}) {
			return
		}
	}
}

func (c *Controller) drainSaves() {
	for {
		select {
		case res := <-c.saveDone:
			c.handleSaveResult(res)
		default:
			return
		}
	}
}

func (c *Controller) handleSaveResult(res saveResult) {
	if res.err != nil {
		c.saveFailures++
		_ = c.events.Emit("save_failure", map[string]any{
			"chunk": res.key.String(), "error": res.err.Error(),
		})
		c.log.Printf("stream: saving chunk %s: %v", res.key, res.err)
		c.parked = append(c.parked, saveReq{payload: res.payload, version: res.version})
		return
	}
	c.saved++
	if c.unsaved[res.key] != nil && c.tracker.Version(res.key) == res.version {
		delete(c.unsaved, res.key)
	}
	if c.tracker.ClearDirty(res.key, res.version) {
		if _, resident := c.cache.Peek(res.key); !resident {
			c.tracker.Forget(res.key)
			delete(c.lastQueued, res.key)
		}
	}
}

// ringOrder lists the chunk keys within Chebyshev distance dist of center,
// nearest ring first.
func ringOrder(center chunk.Key, dist int) []chunk.Key {
	out := make([]chunk.Key, 0, (2*dist+1)*(2*dist+1))
	out = append(out, center)
	for r := 1; r <= dist; r++ {
		for dz := -r; dz <= r; dz++ {
			for dx := -r; dx <= r; dx++ {
				if mathx.AbsInt(dx) != r && mathx.AbsInt(dz) != r {
					continue
				}
				out = append(out, chunk.Key{CX: center.CX + int32(dx), CZ: center.CZ + int32(dz)})
			}
		}
	}
	return out
}
