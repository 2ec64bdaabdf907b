package chunkdb

import (
	"errors"
	"testing"

	"chunkforge.dev/internal/world/block"
	"chunkforge.dev/internal/world/chunk"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func samplePayload(key chunk.Key) *chunk.Payload {
	p := chunk.NewPayload(key, 8)
	for lx := 0; lx < 8; lx++ {
		for lz := 0; lz < 8; lz++ {
			p.HeightMap[p.Idx(lx, lz)] = 12
			p.Set(lx, 0, lz, block.Bedrock)
			p.Set(lx, 12, lz, block.Grass)
		}
	}
	p.Set(4, 13, 4, block.OakLog)
	p.DecorationComplete = true
	return p
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)
	key := chunk.Key{CX: 5, CZ: -9}
	want := samplePayload(key)

	if err := s.Save(want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, found, err := s.Load(key)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !found {
		t.Fatalf("saved chunk not found")
	}
	if got.Key != key || !got.DecorationComplete {
		t.Fatalf("loaded header mismatch: %s complete=%v", got.Key, got.DecorationComplete)
	}
	if len(got.Blocks) != len(want.Blocks) {
		t.Fatalf("loaded %d blocks, want %d", len(got.Blocks), len(want.Blocks))
	}
	for l, id := range want.Blocks {
		if got.Blocks[l] != id {
			t.Fatalf("block (%d,%d,%d): got %v, want %v", l.X, l.Y, l.Z, got.Blocks[l], id)
		}
	}
}

func TestLoadAbsent(t *testing.T) {
	s := openTestStore(t)
	p, found, err := s.Load(chunk.Key{CX: 1, CZ: 1})
	if err != nil {
		t.Fatalf("load absent: %v", err)
	}
	if found || p != nil {
		t.Fatalf("absent chunk reported present")
	}
}

func TestLoadCorruptValue(t *testing.T) {
	s := openTestStore(t)
	key := chunk.Key{CX: 2, CZ: 2}

	// Not a zstd frame at all.
	if err := s.db.Put(key.StoreKey(), []byte("not a frame"), nil); err != nil {
		t.Fatalf("put raw: %v", err)
	}
	if _, _, err := s.Load(key); !errors.Is(err, chunk.ErrCorruptRecord) {
		t.Fatalf("garbage value: got %v, want ErrCorruptRecord", err)
	}

	// Valid frame, invalid record.
	bad := s.enc.EncodeAll([]byte{0xde, 0xad, 0xbe, 0xef}, nil)
	if err := s.db.Put(key.StoreKey(), bad, nil); err != nil {
		t.Fatalf("put raw: %v", err)
	}
	if _, _, err := s.Load(key); !errors.Is(err, chunk.ErrCorruptRecord) {
		t.Fatalf("bad record: got %v, want ErrCorruptRecord", err)
	}

	// Valid record stored under the wrong key.
	other := samplePayload(chunk.Key{CX: 9, CZ: 9})
	plain, err := chunk.EncodeRecord(other)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := s.db.Put(key.StoreKey(), s.enc.EncodeAll(plain, nil), nil); err != nil {
		t.Fatalf("put raw: %v", err)
	}
	if _, _, err := s.Load(key); !errors.Is(err, chunk.ErrCorruptRecord) {
		t.Fatalf("mismatched key: got %v, want ErrCorruptRecord", err)
	}
}

func TestDeleteAndHas(t *testing.T) {
	s := openTestStore(t)
	key := chunk.Key{CX: 3, CZ: 3}
	if err := s.Save(samplePayload(key)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if ok, err := s.Has(key); err != nil || !ok {
		t.Fatalf("has after save: %v %v", ok, err)
	}
	if err := s.Delete(key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := s.Has(key); ok {
		t.Fatalf("chunk still present after delete")
	}
	if _, found, err := s.Load(key); err != nil || found {
		t.Fatalf("load after delete: found=%v err=%v", found, err)
	}
	if err := s.Delete(key); err != nil {
		t.Fatalf("double delete should be a no-op, got %v", err)
	}
}

func TestKeysListsSaved(t *testing.T) {
	s := openTestStore(t)
	want := []chunk.Key{{CX: 0, CZ: 0}, {CX: 1, CZ: 0}, {CX: -1, CZ: 4}}
	for _, k := range want {
		if err := s.Save(samplePayload(k)); err != nil {
			t.Fatalf("save %s: %v", k, err)
		}
	}
	keys, err := s.Keys()
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != len(want) {
		t.Fatalf("got %d keys, want %d", len(keys), len(want))
	}
	seen := make(map[chunk.Key]bool, len(keys))
	for _, k := range keys {
		seen[k] = true
	}
	for _, k := range want {
		if !seen[k] {
			t.Fatalf("key %s missing from listing", k)
		}
	}
}

func TestReopenPersists(t *testing.T) {
	dir := t.TempDir()
	key := chunk.Key{CX: 7, CZ: 7}

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Save(samplePayload(key)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	_, found, err := s2.Load(key)
	if err != nil || !found {
		t.Fatalf("chunk lost across reopen: found=%v err=%v", found, err)
	}
}
