package stream

import (
	"sync"

	"chunkforge.dev/internal/world/chunk"
)

// Tracker records which chunks carry unsaved modifications. Every edit bumps
// the chunk's version; a save clears the dirty flag only if no newer edit
// landed while the snapshot was being written.
type Tracker struct {
	mu       sync.Mutex
	versions map[chunk.Key]uint64
	dirty    map[chunk.Key]uint64
}

func NewTracker() *Tracker {
	return &Tracker{
		versions: make(map[chunk.Key]uint64),
		dirty:    make(map[chunk.Key]uint64),
	}
}

// MarkDirty bumps and returns the chunk's modification version.
func (t *Tracker) MarkDirty(key chunk.Key) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.versions[key]++
	v := t.versions[key]
	t.dirty[key] = v
	return v
}

// IsDirty reports whether the chunk has modifications not yet persisted.
func (t *Tracker) IsDirty(key chunk.Key) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.dirty[key]
	return ok
}

// Version returns the chunk's current modification version, zero if never
// modified.
func (t *Tracker) Version(key chunk.Key) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.versions[key]
}

// ClearDirty drops the dirty flag if the persisted version is still current.
// It reports whether the chunk is clean afterwards.
func (t *Tracker) ClearDirty(key chunk.Key, version uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.dirty[key]
	if !ok {
		return true
	}
	if cur != version {
		return false
	}
	delete(t.dirty, key)
	return true
}

// DirtyKeys snapshots the chunks awaiting a save.
func (t *Tracker) DirtyKeys() []chunk.Key {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]chunk.Key, 0, len(t.dirty))
	for k := range t.dirty {
		out = append(out, k)
	}
	return out
}

// Forget drops all bookkeeping for a chunk that is clean and unloaded.
func (t *Tracker) Forget(key chunk.Key) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.dirty[key]; ok {
		return
	}
	delete(t.versions, key)
}
