// Package biome holds the fixed biome registry: ~11 descriptors keyed by
// name plus the 11x11 temperature/rainfall lookup grid, loaded from JSON and
// schema-validated at startup. Transition descriptors are synthesized by
// Blend and never enter the registry.
package biome

import (
	"math"

	"chunkforge.dev/internal/world/block"
	"chunkforge.dev/internal/world/mathx"
)

// GridSize is the edge length of the climate lookup grid. The classifier's
// index formula floor((v+1)*5) clamped to [0,10] assumes exactly 11.
const GridSize = 11

type Descriptor struct {
	Name          string
	Color         [3]uint8
	HeightMin     int
	HeightMax     int
	Surface       block.ID
	SubSurface    block.ID
	TreeChance    float64
	ShrubChance   float64
	BoulderChance float64
	TreeKind      string
	MegaEligible  bool
}

// HeightCenter is the midpoint of the biome's height-modulation range,
// offset from the world baseline.
func (d *Descriptor) HeightCenter() float64 {
	return (float64(d.HeightMin) + float64(d.HeightMax)) / 2
}

// HeightRange is the full span of the biome's height modulation.
func (d *Descriptor) HeightRange() float64 {
	return float64(d.HeightMax) - float64(d.HeightMin)
}

// Blend synthesizes a transition descriptor between a and b. Continuous
// fields interpolate; block types, tree kind, and eligibility switch
// discretely at w=0.5. w is clamped to [0,1].
func Blend(a, b *Descriptor, w float64) Descriptor {
	w = mathx.Clamp(w, 0, 1)
	out := *a
	if w >= 0.5 {
		out = *b
	}
	for i := 0; i < 3; i++ {
		out.Color[i] = uint8(math.Round(mathx.Lerp(float64(a.Color[i]), float64(b.Color[i]), w)))
	}
	out.HeightMin = mathx.Floor(mathx.Lerp(float64(a.HeightMin), float64(b.HeightMin), w) + 0.5)
	out.HeightMax = mathx.Floor(mathx.Lerp(float64(a.HeightMax), float64(b.HeightMax), w) + 0.5)
	out.TreeChance = mathx.Lerp(a.TreeChance, b.TreeChance, w)
	out.ShrubChance = mathx.Lerp(a.ShrubChance, b.ShrubChance, w)
	out.BoulderChance = mathx.Lerp(a.BoulderChance, b.BoulderChance, w)
	return out
}
