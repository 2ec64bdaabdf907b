// Package chunkdb persists chunk records in a LevelDB keyspace. Values are
// the binary record wrapped in a zstd frame; keys are the 8-byte packed
// chunk key, so iteration walks the world in row order.
package chunkdb

import (
	"errors"
	"fmt"
	"sync"

	"github.com/df-mc/goleveldb/leveldb"
	ldberrors "github.com/df-mc/goleveldb/leveldb/errors"
	"github.com/df-mc/goleveldb/leveldb/opt"
	"github.com/klauspost/compress/zstd"

	"chunkforge.dev/internal/world/chunk"
)

type Store struct {
	db   *leveldb.DB
	enc  *zstd.Encoder
	dec  *zstd.Decoder
	once sync.Once
}

// Open opens (or creates) the chunk store at dir, recovering the LevelDB
// manifest if a previous run died mid-compaction. Records are already zstd
// framed, so LevelDB's own block compression is disabled.
func Open(dir string) (*Store, error) {
	o := &opt.Options{Compression: opt.NoCompression}
	db, err := leveldb.OpenFile(dir, o)
	if ldberrors.IsCorrupted(err) {
		db, err = leveldb.RecoverFile(dir, o)
	}
	if err != nil {
		return nil, fmt.Errorf("open chunk store %s: %w", dir, err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, enc: enc, dec: dec}, nil
}

// Save encodes, compresses, and writes one chunk record.
func (s *Store) Save(p *chunk.Payload) error {
	plain, err := chunk.EncodeRecord(p)
	if err != nil {
		return err
	}
	compressed := s.enc.EncodeAll(plain, make([]byte, 0, len(plain)/2))
	if err := s.db.Put(p.Key.StoreKey(), compressed, nil); err != nil {
		return fmt.Errorf("save chunk %s: %w", p.Key, err)
	}
	return nil
}

// Load reads one chunk. Absence is (nil, false, nil); a record that fails
// decompression or decoding returns an error wrapping chunk.ErrCorruptRecord.
func (s *Store) Load(key chunk.Key) (*chunk.Payload, bool, error) {
	raw, err := s.db.Get(key.StoreKey(), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load chunk %s: %w", key, err)
	}
	plain, err := s.dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, false, fmt.Errorf("chunk %s: decompress (%v): %w", key, err, chunk.ErrCorruptRecord)
	}
	p, err := chunk.DecodeRecord(plain)
	if err != nil {
		return nil, false, fmt.Errorf("chunk %s: %w", key, err)
	}
	if p.Key != key {
		return nil, false, fmt.Errorf("chunk %s: record self-identifies as %s: %w", key, p.Key, chunk.ErrCorruptRecord)
	}
	return p, true, nil
}

func (s *Store) Has(key chunk.Key) (bool, error) {
	return s.db.Has(key.StoreKey(), nil)
}

// Delete drops a record; deleting an absent key is not an error.
func (s *Store) Delete(key chunk.Key) error {
	if err := s.db.Delete(key.StoreKey(), nil); err != nil {
		return fmt.Errorf("delete chunk %s: %w", key, err)
	}
	return nil
}

// Keys lists every stored chunk key in keyspace order.
func (s *Store) Keys() ([]chunk.Key, error) {
	it := s.db.NewIterator(nil, nil)
	defer it.Release()

	var keys []chunk.Key
	for it.Next() {
		k, err := chunk.ParseStoreKey(it.Key())
		if err != nil {
			return nil, fmt.Errorf("chunk store: %w", err)
		}
		keys = append(keys, k)
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("chunk store iterate: %w", err)
	}
	return keys, nil
}

func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		_ = s.enc.Close()
		s.dec.Close()
		err = s.db.Close()
	})
	return err
}
