// Package block defines the closed set of block types. Serialization, the
// biome table, and decoration placement all resolve block references through
// this one registry so the three can never drift apart.
package block

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

type ID uint16

const (
	Air ID = iota
	Bedrock
	Stone
	Dirt
	Grass
	Sand
	Sandstone
	RedSand
	Clay
	Gravel
	Snow
	Ice
	Mud
	Water
	OakLog
	OakLeaves
	BirchLog
	BirchLeaves
	SpruceLog
	SpruceLeaves
	JungleLog
	JungleLeaves
	Cactus
	Shrub
	TallGrass
	Flower

	count
)

var names = [count]string{
	Air:          "AIR",
	Bedrock:      "BEDROCK",
	Stone:        "STONE",
	Dirt:         "DIRT",
	Grass:        "GRASS",
	Sand:         "SAND",
	Sandstone:    "SANDSTONE",
	RedSand:      "RED_SAND",
	Clay:         "CLAY",
	Gravel:       "GRAVEL",
	Snow:         "SNOW",
	Ice:          "ICE",
	Mud:          "MUD",
	Water:        "WATER",
	OakLog:       "OAK_LOG",
	OakLeaves:    "OAK_LEAVES",
	BirchLog:     "BIRCH_LOG",
	BirchLeaves:  "BIRCH_LEAVES",
	SpruceLog:    "SPRUCE_LOG",
	SpruceLeaves: "SPRUCE_LEAVES",
	JungleLog:    "JUNGLE_LOG",
	JungleLeaves: "JUNGLE_LEAVES",
	Cactus:       "CACTUS",
	Shrub:        "SHRUB",
	TallGrass:    "TALL_GRASS",
	Flower:       "FLOWER",
}

func (id ID) String() string {
	if id >= count {
		return "UNKNOWN"
	}
	return names[id]
}

// Valid reports whether id is a member of the closed block set.
func (id ID) Valid() bool {
	return id < count
}

// Solid reports whether the block occupies its cell for placement purposes.
// Decorations may only anchor on solid ground.
func (id ID) Solid() bool {
	switch id {
	case Air, Water, Shrub, TallGrass, Flower:
		return false
	}
	return id < count
}

// FromName resolves an upper-case block name from config files.
func FromName(name string) (ID, bool) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for i := ID(0); i < count; i++ {
		if names[i] == name {
			return i, true
		}
	}
	return Air, false
}

// Count is the number of registered block types.
func Count() int {
	return int(count)
}

// Names returns the palette in id order; index i is the name of ID(i).
func Names() []string {
	out := make([]string, count)
	copy(out, names[:])
	return out
}

// PaletteDigest identifies the palette for save metadata and handshakes.
func PaletteDigest() string {
	h := sha256.New()
	for i := ID(0); i < count; i++ {
		h.Write([]byte(names[i]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
