package chunk

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"chunkforge.dev/internal/world/block"
)

// RecordVersion is the only record layout this build reads or writes.
const RecordVersion = 1

// MaxSide bounds the side field of a record; anything larger is treated as
// corruption rather than an allocation request.
const MaxSide = 64

// ErrCorruptRecord marks records that fail structural validation. Callers
// match it with errors.Is and treat the chunk as absent.
var ErrCorruptRecord = errors.New("corrupt chunk record")

func corruptf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrCorruptRecord)
}

// EncodeRecord serializes a payload into the version-1 record layout:
//
//	version   uint8
//	cx, cz    int32 little-endian
//	side      uint8
//	heightMap side*side int16 little-endian, x-major
//	waterMap  ceil(side*side/8) bytes, LSB-first bitset over column index
//	count     uint32
//	blocks    count * {localX int8, y int16, localZ int8, id uint16}
//	flag      uint8 decoration-complete
//
// Blocks are written in canonical (x, z, y) order so equal payloads encode
// to equal bytes.
func EncodeRecord(p *Payload) ([]byte, error) {
	if p.Side < 1 || p.Side > MaxSide {
		return nil, fmt.Errorf("encode chunk %s: side %d out of range", p.Key, p.Side)
	}
	n := p.Side * p.Side
	if len(p.HeightMap) != n || len(p.WaterMap) != n {
		return nil, fmt.Errorf("encode chunk %s: map length %d/%d, want %d", p.Key, len(p.HeightMap), len(p.WaterMap), n)
	}

	blocks := p.Sorted()
	buf := bytes.NewBuffer(make([]byte, 0, 14+2*n+n/8+8*len(blocks)))
	buf.WriteByte(RecordVersion)
	binary.Write(buf, binary.LittleEndian, p.Key.CX)
	binary.Write(buf, binary.LittleEndian, p.Key.CZ)
	buf.WriteByte(uint8(p.Side))
	binary.Write(buf, binary.LittleEndian, p.HeightMap)

	bits := make([]byte, (n+7)/8)
	for i, w := range p.WaterMap {
		if w {
			bits[i/8] |= 1 << (i % 8)
		}
	}
	buf.Write(bits)

	binary.Write(buf, binary.LittleEndian, uint32(len(blocks)))
	for _, b := range blocks {
		if b.X < 0 || b.X >= p.Side || b.Z < 0 || b.Z >= p.Side {
			return nil, fmt.Errorf("encode chunk %s: block (%d,%d,%d) outside side %d", p.Key, b.X, b.Y, b.Z, p.Side)
		}
		if !b.ID.Valid() || b.ID == block.Air {
			return nil, fmt.Errorf("encode chunk %s: block (%d,%d,%d) has invalid id %d", p.Key, b.X, b.Y, b.Z, b.ID)
		}
		buf.WriteByte(byte(int8(b.X)))
		binary.Write(buf, binary.LittleEndian, int16(b.Y))
		buf.WriteByte(byte(int8(b.Z)))
		binary.Write(buf, binary.LittleEndian, uint16(b.ID))
	}

	if p.DecorationComplete {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	return buf.Bytes(), nil
}

// DecodeRecord parses a version-1 record. Every structural failure wraps
// ErrCorruptRecord; the returned payload has a nil BiomeMap since biome
// metadata is not persisted.
func DecodeRecord(raw []byte) (*Payload, error) {
	r := bytes.NewReader(raw)

	version, err := r.ReadByte()
	if err != nil {
		return nil, corruptf("empty record")
	}
	if version != RecordVersion {
		return nil, corruptf("record version %d, want %d", version, RecordVersion)
	}

	var cx, cz int32
	if err := binary.Read(r, binary.LittleEndian, &cx); err != nil {
		return nil, corruptf("short record reading cx")
	}
	if err := binary.Read(r, binary.LittleEndian, &cz); err != nil {
		return nil, corruptf("short record reading cz")
	}
	side, err := r.ReadByte()
	if err != nil {
		return nil, corruptf("short record reading side")
	}
	if side < 1 || side > MaxSide {
		return nil, corruptf("side %d out of range", side)
	}

	n := int(side) * int(side)
	p := &Payload{
		Key:       Key{CX: cx, CZ: cz},
		Side:      int(side),
		HeightMap: make([]int16, n),
		WaterMap:  make([]bool, n),
		Blocks:    make(map[Local]block.ID),
	}
	if err := binary.Read(r, binary.LittleEndian, p.HeightMap); err != nil {
		return nil, corruptf("short record reading height map")
	}

	bits := make([]byte, (n+7)/8)
	if _, err := io.ReadFull(r, bits); err != nil {
		return nil, corruptf("short record reading water map")
	}
	for i := range p.WaterMap {
		p.WaterMap[i] = bits[i/8]&(1<<(i%8)) != 0
	}

	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, corruptf("short record reading block count")
	}
	// Each entry is 6 bytes and the flag byte follows the block section.
	if int64(count)*6+1 > int64(r.Len()) {
		return nil, corruptf("block count %d exceeds remaining record", count)
	}
	for i := uint32(0); i < count; i++ {
		var entry struct {
			X  int8
			Y  int16
			Z  int8
			ID uint16
		}
		if err := binary.Read(r, binary.LittleEndian, &entry); err != nil {
			return nil, corruptf("short record reading block %d", i)
		}
		if int(entry.X) < 0 || int(entry.X) >= p.Side || int(entry.Z) < 0 || int(entry.Z) >= p.Side {
			return nil, corruptf("block %d at (%d,%d,%d) outside side %d", i, entry.X, entry.Y, entry.Z, side)
		}
		id := block.ID(entry.ID)
		if !id.Valid() || id == block.Air {
			return nil, corruptf("block %d has invalid id %d", i, entry.ID)
		}
		l := Local{X: entry.X, Y: entry.Y, Z: entry.Z}
		if _, dup := p.Blocks[l]; dup {
			return nil, corruptf("duplicate block at (%d,%d,%d)", entry.X, entry.Y, entry.Z)
		}
		p.Blocks[l] = id
	}

	flag, err := r.ReadByte()
	if err != nil {
		return nil, corruptf("short record reading decoration flag")
	}
	if flag > 1 {
		return nil, corruptf("decoration flag %d", flag)
	}
	p.DecorationComplete = flag == 1

	if r.Len() != 0 {
		return nil, corruptf("%d trailing bytes", r.Len())
	}
	return p, nil
}
