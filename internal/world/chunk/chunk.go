// Package chunk defines the unit of generation, caching, and persistence:
// a fixed-size square grid of world columns with a sparse block map,
// per-column height and water maps, and the binary record codec.
package chunk

import (
	"encoding/binary"
	"fmt"
	"sort"

	"chunkforge.dev/internal/world/block"
	"chunkforge.dev/internal/world/mathx"
)

// Key identifies a chunk. The zero value is the chunk containing the origin.
type Key struct {
	CX int32
	CZ int32
}

func (k Key) String() string {
	return fmt.Sprintf("%d,%d", k.CX, k.CZ)
}

// KeyOfWorld maps a world column to its chunk for a given side length.
func KeyOfWorld(x, z, side int) Key {
	return Key{
		CX: int32(mathx.FloorDiv(x, side)),
		CZ: int32(mathx.FloorDiv(z, side)),
	}
}

// StoreKey packs the key into the 8 bytes used by the disk store,
// big-endian so lexicographic iteration groups nearby rows.
func (k Key) StoreKey() []byte {
	var b [8]byte
	binary.BigEndian.PutUint32(b[0:4], uint32(k.CX))
	binary.BigEndian.PutUint32(b[4:8], uint32(k.CZ))
	return b[:]
}

func ParseStoreKey(b []byte) (Key, error) {
	if len(b) != 8 {
		return Key{}, fmt.Errorf("store key must be 8 bytes, got %d", len(b))
	}
	return Key{
		CX: int32(binary.BigEndian.Uint32(b[0:4])),
		CZ: int32(binary.BigEndian.Uint32(b[4:8])),
	}, nil
}

// Local addresses one block inside a chunk. Field types mirror the record
// encoding exactly.
type Local struct {
	X int8
	Y int16
	Z int8
}

// PlacedBlock is the convenience form used by generators and collaborators.
type PlacedBlock struct {
	X  int
	Y  int
	Z  int
	ID block.ID
}

// Payload is the generation and persistence unit for one chunk. The block
// map holds every placed block (terrain, water, decorations); air is the
// absence of an entry. BiomeMap is per-column generation metadata kept in
// RAM only, never encoded.
type Payload struct {
	Key                Key
	Side               int
	HeightMap          []int16
	WaterMap           []bool
	Blocks             map[Local]block.ID
	BiomeMap           []string
	DecorationComplete bool
}

func NewPayload(key Key, side int) *Payload {
	return &Payload{
		Key:       key,
		Side:      side,
		HeightMap: make([]int16, side*side),
		WaterMap:  make([]bool, side*side),
		Blocks:    make(map[Local]block.ID),
		BiomeMap:  make([]string, side*side),
	}
}

// Idx is the column index for local (x,z); columns are x-major.
func (p *Payload) Idx(x, z int) int {
	return x*p.Side + z
}

func (p *Payload) inBounds(x, y, z int) bool {
	return x >= 0 && x < p.Side && z >= 0 && z < p.Side && y >= -32768 && y <= 32767
}

// Set places a block at local coordinates. Out-of-bounds placements are
// rejected rather than wrapped.
func (p *Payload) Set(x, y, z int, id block.ID) bool {
	if !p.inBounds(x, y, z) || !id.Valid() {
		return false
	}
	if id == block.Air {
		delete(p.Blocks, Local{X: int8(x), Y: int16(y), Z: int8(z)})
		return true
	}
	p.Blocks[Local{X: int8(x), Y: int16(y), Z: int8(z)}] = id
	return true
}

// At reports the block at local coordinates; absent entries are air.
func (p *Payload) At(x, y, z int) (block.ID, bool) {
	if !p.inBounds(x, y, z) {
		return block.Air, false
	}
	id, ok := p.Blocks[Local{X: int8(x), Y: int16(y), Z: int8(z)}]
	if !ok {
		return block.Air, true
	}
	return id, true
}

// Merge applies generated blocks on top of the payload. Placements outside
// the chunk are dropped; existing blocks are overwritten.
func (p *Payload) Merge(blocks []PlacedBlock) {
	for _, b := range blocks {
		p.Set(b.X, b.Y, b.Z, b.ID)
	}
}

// Sorted returns the block set in canonical (x, z, y) order; the codec and
// digests depend on this ordering being stable.
func (p *Payload) Sorted() []PlacedBlock {
	out := make([]PlacedBlock, 0, len(p.Blocks))
	for l, id := range p.Blocks {
		out = append(out, PlacedBlock{X: int(l.X), Y: int(l.Y), Z: int(l.Z), ID: id})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].X != out[j].X {
			return out[i].X < out[j].X
		}
		if out[i].Z != out[j].Z {
			return out[i].Z < out[j].Z
		}
		return out[i].Y < out[j].Y
	})
	return out
}

// Clone deep-copies the payload.
func (p *Payload) Clone() *Payload {
	c := &Payload{
		Key:                p.Key,
		Side:               p.Side,
		HeightMap:          append([]int16(nil), p.HeightMap...),
		WaterMap:           append([]bool(nil), p.WaterMap...),
		Blocks:             make(map[Local]block.ID, len(p.Blocks)),
		BiomeMap:           append([]string(nil), p.BiomeMap...),
		DecorationComplete: p.DecorationComplete,
	}
	for l, id := range p.Blocks {
		c.Blocks[l] = id
	}
	return c
}

// RebuildMaps reconstructs HeightMap and WaterMap by rescanning the block
// map: surface height is the highest non-water block per column, water
// presence is any water block. This is the recovery path for records whose
// maps did not survive; on terrain-only chunks it reproduces what the
// terrain stage emitted.
func (p *Payload) RebuildMaps() {
	n := p.Side * p.Side
	p.HeightMap = make([]int16, n)
	p.WaterMap = make([]bool, n)
	for l, id := range p.Blocks {
		idx := p.Idx(int(l.X), int(l.Z))
		if id == block.Water {
			p.WaterMap[idx] = true
			continue
		}
		if l.Y > p.HeightMap[idx] {
			p.HeightMap[idx] = l.Y
		}
	}
}

// RecalcColumn refreshes HeightMap and WaterMap for one column after an
// edit, scanning only that column's blocks.
func (p *Payload) RecalcColumn(x, z int) {
	if x < 0 || x >= p.Side || z < 0 || z >= p.Side {
		return
	}
	idx := p.Idx(x, z)
	p.HeightMap[idx] = 0
	p.WaterMap[idx] = false
	for l, id := range p.Blocks {
		if int(l.X) != x || int(l.Z) != z {
			continue
		}
		if id == block.Water {
			p.WaterMap[idx] = true
			continue
		}
		if l.Y > p.HeightMap[idx] {
			p.HeightMap[idx] = l.Y
		}
	}
}

// MapsDegenerate reports a payload whose maps are present but clearly not
// derived from its blocks (an all-zero heightmap over a non-empty block
// set). Callers rebuild before trusting the maps.
func (p *Payload) MapsDegenerate() bool {
	if len(p.Blocks) == 0 {
		return false
	}
	for _, h := range p.HeightMap {
		if h != 0 {
			return false
		}
	}
	return true
}
