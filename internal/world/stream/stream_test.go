package stream

import (
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"chunkforge.dev/internal/tuning"
	"chunkforge.dev/internal/world/block"
	"chunkforge.dev/internal/world/chunk"
	"chunkforge.dev/internal/world/gen/decor"
	"chunkforge.dev/internal/world/mathx"
	"chunkforge.dev/internal/world/pipeline"
)

type flatTerrain struct{}

func (flatTerrain) Generate(key chunk.Key) *chunk.Payload {
	p := chunk.NewPayload(key, 8)
	for x := 0; x < 8; x++ {
		for z := 0; z < 8; z++ {
			p.HeightMap[p.Idx(x, z)] = 10
			p.Set(x, 9, z, block.Dirt)
			p.Set(x, 10, z, block.Grass)
		}
	}
	return p
}

type noopDecor struct{}

func (noopDecor) Generate(p *chunk.Payload) decor.Result {
	p.DecorationComplete = true
	return decor.Result{}
}

// memStore backs both the pipeline's load side and the controller's save
// side with one in-memory record table.
type memStore struct {
	mu        sync.Mutex
	records   map[chunk.Key]*chunk.Payload
	failSaves bool
	saves     int
}

func newMemStore() *memStore {
	return &memStore{records: make(map[chunk.Key]*chunk.Payload)}
}

func (s *memStore) Save(p *chunk.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSaves {
		return errors.New("disk unavailable")
	}
	s.records[p.Key] = p.Clone()
	s.saves++
	return nil
}

func (s *memStore) Load(key chunk.Key) (*chunk.Payload, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.records[key]
	if !ok {
		return nil, false, nil
	}
	return p.Clone(), true, nil
}

func (s *memStore) Delete(key chunk.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

func (s *memStore) setFailSaves(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSaves = v
}

func (s *memStore) get(key chunk.Key) (*chunk.Payload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.records[key]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

type harness struct {
	ctrl  *Controller
	pipe  *pipeline.Orchestrator
	store *memStore
}

func newHarness(t *testing.T, store *memStore, streamCfg tuning.Stream) *harness {
	t.Helper()
	pipeCfg := tuning.Pipeline{
		TerrainWorkers:   2,
		LoadWorkers:      1,
		QueueSize:        64,
		TerrainTimeoutMs: 2000,
		DecorTimeoutMs:   2000,
	}
	logger := log.New(io.Discard, "", 0)
	pipe := pipeline.New(pipeCfg, flatTerrain{}, noopDecor{}, store, nil, logger)
	pipe.StartDecoration()
	ctrl := New(streamCfg, 8, pipe, store, nil, logger)
	t.Cleanup(func() {
		_ = ctrl.Close()
		_ = pipe.Close()
	})
	return &harness{ctrl: ctrl, pipe: pipe, store: store}
}

func defaultStreamCfg() tuning.Stream {
	return tuning.Stream{
		CacheCapacity:  64,
		RenderDistance: 1,
		SaveQueueSize:  16,
		TickMs:         10,
	}
}

// settle ticks the controller until the full square around the viewer is
// active, accumulating everything reported loaded and unloaded.
func (h *harness) settle(t *testing.T, wx, wz int) (loaded []*chunk.Payload, unloaded []chunk.Key) {
	t.Helper()
	want := (2*h.ctrl.dist + 1) * (2*h.ctrl.dist + 1)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		res, err := h.ctrl.Update(wx, wz)
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		loaded = append(loaded, res.Loaded...)
		unloaded = append(unloaded, res.Unloaded...)
		st := h.ctrl.Stats()
		if st.Active == want && st.InFlight == 0 {
			return loaded, unloaded
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("streaming never settled around (%d,%d): %+v", wx, wz, h.ctrl.Stats())
	return nil, nil
}

func TestTrackerVersioning(t *testing.T) {
	tr := NewTracker()
	key := chunk.Key{CX: 1, CZ: 2}

	if tr.IsDirty(key) {
		t.Fatalf("fresh tracker reports dirty")
	}
	v1 := tr.MarkDirty(key)
	v2 := tr.MarkDirty(key)
	if v2 != v1+1 {
		t.Fatalf("versions did not advance: %d then %d", v1, v2)
	}
	if tr.ClearDirty(key, v1) {
		t.Fatalf("stale clear succeeded")
	}
	if !tr.IsDirty(key) {
		t.Fatalf("chunk clean after stale clear")
	}
	if !tr.ClearDirty(key, v2) {
		t.Fatalf("current clear failed")
	}
	if tr.IsDirty(key) {
		t.Fatalf("chunk still dirty after clear")
	}
	if got := tr.Version(key); got != v2 {
		t.Fatalf("version = %d after clear, want %d", got, v2)
	}
	tr.Forget(key)
	if got := tr.Version(key); got != 0 {
		t.Fatalf("version = %d after forget, want 0", got)
	}
}

func TestTrackerForgetKeepsDirty(t *testing.T) {
	tr := NewTracker()
	key := chunk.Key{CX: 5, CZ: 5}
	v := tr.MarkDirty(key)
	tr.Forget(key)
	if !tr.IsDirty(key) {
		t.Fatalf("forget dropped a dirty chunk")
	}
	if got := tr.Version(key); got != v {
		t.Fatalf("version = %d after forget, want %d", got, v)
	}
	keys := tr.DirtyKeys()
	if len(keys) != 1 || keys[0] != key {
		t.Fatalf("dirty keys = %v, want [%s]", keys, key)
	}
}

func TestRingOrderClosestFirst(t *testing.T) {
	center := chunk.Key{CX: 3, CZ: -2}
	order := ringOrder(center, 3)
	if len(order) != 49 {
		t.Fatalf("ring order produced %d keys, want 49", len(order))
	}
	if order[0] != center {
		t.Fatalf("order starts at %s, want %s", order[0], center)
	}
	seen := make(map[chunk.Key]bool, len(order))
	prev := 0
	for _, k := range order {
		if seen[k] {
			t.Fatalf("duplicate key %s", k)
		}
		seen[k] = true
		d := mathx.AbsInt(int(k.CX - center.CX))
		if dz := mathx.AbsInt(int(k.CZ - center.CZ)); dz > d {
			d = dz
		}
		if d < prev {
			t.Fatalf("ring distance regressed from %d to %d at %s", prev, d, k)
		}
		prev = d
	}
}

func TestStreamingGeneratesAndPersists(t *testing.T) {
	store := newMemStore()
	h := newHarness(t, store, defaultStreamCfg())

	loaded, _ := h.settle(t, 0, 0)
	if len(loaded) != 9 {
		t.Fatalf("loaded %d chunks, want 9", len(loaded))
	}
	if loaded[0].Key != (chunk.Key{CX: 0, CZ: 0}) {
		t.Fatalf("first loaded chunk is %s, want the viewer's", loaded[0].Key)
	}
	st := h.ctrl.Stats()
	if st.Generated != 9 || st.FromDisk != 0 {
		t.Fatalf("generated=%d fromDisk=%d, want 9 and 0", st.Generated, st.FromDisk)
	}

	if err := h.ctrl.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := store.count(); got != 9 {
		t.Fatalf("store holds %d records after close, want 9", got)
	}
	for _, p := range loaded {
		saved, ok := store.get(p.Key)
		if !ok {
			t.Fatalf("chunk %s never persisted", p.Key)
		}
		if !saved.DecorationComplete {
			t.Fatalf("chunk %s persisted without decoration", p.Key)
		}
	}
}

func TestSecondBootServesFromDisk(t *testing.T) {
	store := newMemStore()
	h := newHarness(t, store, defaultStreamCfg())
	h.settle(t, 0, 0)
	if err := h.ctrl.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := h.pipe.Close(); err != nil {
		t.Fatalf("pipeline close: %v", err)
	}

	h2 := newHarness(t, store, defaultStreamCfg())
	h2.settle(t, 0, 0)
	st := h2.ctrl.Stats()
	if st.FromDisk != 9 || st.Generated != 0 {
		t.Fatalf("second boot: fromDisk=%d generated=%d, want 9 and 0", st.FromDisk, st.Generated)
	}
}

func TestViewerMoveUnloadsOldSquare(t *testing.T) {
	store := newMemStore()
	h := newHarness(t, store, defaultStreamCfg())

	h.settle(t, 0, 0)
	// 100 blocks east is chunk (12,0), far outside the old square.
	_, unloaded := h.settle(t, 100, 0)
	if len(unloaded) != 9 {
		t.Fatalf("unloaded %d chunks after move, want 9", len(unloaded))
	}
	for _, k := range unloaded {
		if k.CX < -1 || k.CX > 1 || k.CZ < -1 || k.CZ > 1 {
			t.Fatalf("unexpected unload of %s", k)
		}
	}
	st := h.ctrl.Stats()
	if st.Active != 9 {
		t.Fatalf("active = %d after move, want 9", st.Active)
	}
}

func TestEditSurvivesEvictionAndReload(t *testing.T) {
	store := newMemStore()
	cfg := defaultStreamCfg()
	cfg.CacheCapacity = 4
	h := newHarness(t, store, cfg)

	h.settle(t, 0, 0)
	key, err := h.ctrl.ApplyEdit(1, 50, 1, block.OakLog)
	if err != nil {
		t.Fatalf("apply edit: %v", err)
	}
	if key != (chunk.Key{CX: 0, CZ: 0}) {
		t.Fatalf("edit landed in %s, want 0,0", key)
	}
	if !h.ctrl.Tracker().IsDirty(key) {
		t.Fatalf("edited chunk not marked dirty")
	}

	// Moving two squares away unpins the old chunks; a capacity of 4
	// forces evictions as the new square streams in.
	h.settle(t, 200, 200)
	if st := h.ctrl.Stats(); st.Evicted == 0 {
		t.Fatalf("no evictions despite capacity crunch: %+v", st)
	}

	if err := h.ctrl.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	saved, ok := store.get(key)
	if !ok {
		t.Fatalf("edited chunk never reached disk")
	}
	if id, _ := saved.At(1, 50, 1); id != block.OakLog {
		t.Fatalf("saved chunk lost the edit, block = %v", id)
	}
	if got := saved.HeightMap[saved.Idx(1, 1)]; got != 50 {
		t.Fatalf("saved height map = %d at edit column, want 50", got)
	}
}

func TestUnsavedChunkRescuedWhileDiskDown(t *testing.T) {
	store := newMemStore()
	cfg := defaultStreamCfg()
	cfg.CacheCapacity = 4
	h := newHarness(t, store, cfg)

	h.settle(t, 0, 0)
	key, err := h.ctrl.ApplyEdit(2, 60, 2, block.Cactus)
	if err != nil {
		t.Fatalf("apply edit: %v", err)
	}

	store.setFailSaves(true)
	h.settle(t, 200, 200)
	if _, ok := store.get(key); ok {
		t.Fatalf("record reached disk while saves were failing")
	}

	// Returning before any save succeeded must serve the unsaved copy,
	// not regenerate or load a stale record.
	loaded, _ := h.settle(t, 0, 0)
	var reloaded *chunk.Payload
	for _, p := range loaded {
		if p.Key == key {
			reloaded = p
		}
	}
	if reloaded == nil {
		t.Fatalf("edited chunk not reloaded")
	}
	if id, _ := reloaded.At(2, 60, 2); id != block.Cactus {
		t.Fatalf("rescued chunk lost the edit, block = %v", id)
	}

	store.setFailSaves(false)
	if err := h.ctrl.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	saved, ok := store.get(key)
	if !ok {
		t.Fatalf("edit never persisted after disk recovered")
	}
	if id, _ := saved.At(2, 60, 2); id != block.Cactus {
		t.Fatalf("persisted chunk lost the edit, block = %v", id)
	}
}

func TestApplyEditValidation(t *testing.T) {
	store := newMemStore()
	h := newHarness(t, store, defaultStreamCfg())
	h.settle(t, 0, 0)

	if _, err := h.ctrl.ApplyEdit(500, 10, 500, block.Stone); !errors.Is(err, ErrNotResident) {
		t.Fatalf("edit on a non-resident chunk: got %v, want ErrNotResident", err)
	}
	if _, err := h.ctrl.ApplyEdit(1, 20, 1, block.ID(9999)); err == nil {
		t.Fatalf("edit with an unknown block id succeeded")
	}

	if _, err := h.ctrl.ApplyEdit(-3, 40, -3, block.Stone); err != nil {
		t.Fatalf("edit in the negative quadrant failed: %v", err)
	}
	p, ok := h.ctrl.Payload(chunk.Key{CX: -1, CZ: -1})
	if !ok {
		t.Fatalf("negative quadrant chunk not resident")
	}
	if id, _ := p.At(5, 40, 5); id != block.Stone {
		t.Fatalf("negative-coordinate edit landed wrong, block = %v", id)
	}
}

func TestUpdateAfterCloseFails(t *testing.T) {
	store := newMemStore()
	h := newHarness(t, store, defaultStreamCfg())
	h.settle(t, 0, 0)
	if err := h.ctrl.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := h.ctrl.Update(0, 0); !errors.Is(err, ErrClosed) {
		t.Fatalf("update after close error = %v, want ErrClosed", err)
	}
	if _, err := h.ctrl.ApplyEdit(1, 20, 1, block.Stone); !errors.Is(err, ErrClosed) {
		t.Fatalf("edit after close error = %v, want ErrClosed", err)
	}
}
