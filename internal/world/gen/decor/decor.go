// Package decor places surface features (trees, shrubs, boulders) on
// generated terrain. Placement is noise-gated per column with per-class
// spacing inside the chunk, and a per-biome guarantee forces a feature
// after too many consecutive barren chunks.
package decor

import (
	"sort"

	"chunkforge.dev/internal/tuning"
	"chunkforge.dev/internal/world/biome"
	"chunkforge.dev/internal/world/block"
	"chunkforge.dev/internal/world/chunk"
	"chunkforge.dev/internal/world/gen/climate"
	"chunkforge.dev/internal/world/gen/noise"
	"chunkforge.dev/internal/world/mathx"
)

// Derived noise channels, offset from the world seed.
const (
	spawnSeedOffset  = 107
	jitterSeedOffset = 108
)

type kind uint8

const (
	kindTree kind = iota
	kindShrub
	kindBoulder
)

// Generator is stateful: the barren-chunk counters advance with every call,
// so chunk order matters. The pipeline runs decoration on a single worker;
// Generate must not be called concurrently.
type Generator struct {
	reg     *biome.Registry
	climate *climate.Classifier
	spawn   *noise.Field
	seed    int64

	spacing        [3]int
	guaranteeAfter int

	barren map[string]int
}

func New(seed int64, reg *biome.Registry, cl *climate.Classifier, cfg tuning.Decor) *Generator {
	return &Generator{
		reg:     reg,
		climate: cl,
		spawn: noise.NewField(seed+spawnSeedOffset, noise.Hash, noise.Config{
			Scale:       cfg.Spawn.Scale,
			Octaves:     cfg.Spawn.Octaves,
			Persistence: cfg.Spawn.Persistence,
		}),
		seed:           seed,
		spacing:        [3]int{cfg.TreeSpacing, cfg.ShrubSpacing, cfg.BoulderSpacing},
		guaranteeAfter: cfg.GuaranteeAfter,
		barren:         make(map[string]int),
	}
}

// Result summarizes one decoration pass.
type Result struct {
	Placed        int
	Forced        bool
	UnknownBiomes int
}

type anchor struct {
	x, z int
}

// Generate decorates the payload in place and marks it decoration-complete.
// Flooded columns and columns with unrecognized biome metadata are skipped.
// Placement is a pure function of seed, chunk key, and column biomes; the
// forced-placement guarantee is the one history-dependent part.
func (g *Generator) Generate(p *chunk.Payload) Result {
	var res Result
	anchors := [3][]anchor{}

	for lx := 0; lx < p.Side; lx++ {
		for lz := 0; lz < p.Side; lz++ {
			idx := p.Idx(lx, lz)
			if p.WaterMap[idx] {
				continue
			}
			desc, ok := g.columnBiome(p, lx, lz)
			if !ok {
				res.UnknownBiomes++
				continue
			}
			if k, roll, ok := g.pickFeature(p, lx, lz, desc, &anchors, false); ok {
				g.place(p, lx, lz, k, desc, roll)
				anchors[k] = append(anchors[k], anchor{lx, lz})
				res.Placed++
			}
		}
	}

	dominant := g.dominantBiome(p)
	if res.Placed > 0 {
		if dominant != "" {
			g.barren[dominant] = 0
		}
		p.DecorationComplete = true
		return res
	}

	if dominant != "" {
		g.barren[dominant]++
		if g.barren[dominant] >= g.guaranteeAfter {
			if g.forcePlacement(p) {
				g.barren[dominant] = 0
				res.Placed++
				res.Forced = true
			}
		}
	}
	p.DecorationComplete = true
	return res
}

// pickFeature rolls the column against each feature class in tree, shrub,
// boulder order. A class blocked by spacing falls through to the next.
func (g *Generator) pickFeature(p *chunk.Payload, lx, lz int, desc *biome.Descriptor, anchors *[3][]anchor, bypassSpacing bool) (kind, uint64, bool) {
	wx := int(p.Key.CX)*p.Side + lx
	wz := int(p.Key.CZ)*p.Side + lz
	boost := 0.5 + (g.spawn.Sample(float64(wx), float64(wz))+1)/2

	for _, k := range [3]kind{kindTree, kindShrub, kindBoulder} {
		chance := featureChance(desc, k)
		if chance <= 0 {
			continue
		}
		roll := mathx.Hash3(g.seed+jitterSeedOffset, wx, int(k), wz)
		if mathx.Unit(roll) >= chance*boost {
			continue
		}
		if !bypassSpacing && blocked(anchors[k], lx, lz, g.spacing[k]) {
			continue
		}
		return k, roll, true
	}
	return 0, 0, false
}

func featureChance(d *biome.Descriptor, k kind) float64 {
	switch k {
	case kindTree:
		return d.TreeChance
	case kindShrub:
		return d.ShrubChance
	default:
		return d.BoulderChance
	}
}

func blocked(placed []anchor, x, z, spacing int) bool {
	for _, a := range placed {
		dx := mathx.AbsInt(a.x - x)
		dz := mathx.AbsInt(a.z - z)
		if dx < spacing && dz < spacing {
			return true
		}
	}
	return false
}

// columnBiome resolves the column's biome by persisted name, re-deriving it
// from the climate fields when the payload carries no biome metadata (a
// chunk reloaded from disk). False means the metadata named something the
// registry does not know.
func (g *Generator) columnBiome(p *chunk.Payload, lx, lz int) (*biome.Descriptor, bool) {
	idx := p.Idx(lx, lz)
	name := ""
	if len(p.BiomeMap) == len(p.HeightMap) {
		name = p.BiomeMap[idx]
	}
	if name == "" {
		wx := int(p.Key.CX)*p.Side + lx
		wz := int(p.Key.CZ)*p.Side + lz
		name = g.climate.Classify(wx, wz).Name
	}
	d, ok := g.reg.ByName[name]
	return d, ok
}

// dominantBiome is the most frequent known column biome, ties broken by
// name so the outcome does not depend on scan order.
func (g *Generator) dominantBiome(p *chunk.Payload) string {
	counts := make(map[string]int)
	for lx := 0; lx < p.Side; lx++ {
		for lz := 0; lz < p.Side; lz++ {
			if d, ok := g.columnBiome(p, lx, lz); ok {
				counts[d.Name]++
			}
		}
	}
	best, bestN := "", 0
	for name, n := range counts {
		if n > bestN || (n == bestN && best != "" && name < best) {
			best, bestN = name, n
		}
	}
	return best
}

// forcePlacement walks columns nearest the chunk center first and drops the
// biome's preferred feature on the first dry, known-biome column, ignoring
// spacing. Fully flooded chunks place nothing and keep their counter.
func (g *Generator) forcePlacement(p *chunk.Payload) bool {
	type cand struct {
		x, z, d int
	}
	center := p.Side / 2
	cands := make([]cand, 0, p.Side*p.Side)
	for lx := 0; lx < p.Side; lx++ {
		for lz := 0; lz < p.Side; lz++ {
			dx, dz := mathx.AbsInt(lx-center), mathx.AbsInt(lz-center)
			d := dx
			if dz > d {
				d = dz
			}
			cands = append(cands, cand{lx, lz, d})
		}
	}
	// Stable order: distance, then x, then z.
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].d != cands[j].d {
			return cands[i].d < cands[j].d
		}
		if cands[i].x != cands[j].x {
			return cands[i].x < cands[j].x
		}
		return cands[i].z < cands[j].z
	})

	for _, c := range cands {
		idx := p.Idx(c.x, c.z)
		if p.WaterMap[idx] {
			continue
		}
		desc, ok := g.columnBiome(p, c.x, c.z)
		if !ok {
			continue
		}
		k := preferredKind(desc)
		if k < 0 {
			continue
		}
		wx := int(p.Key.CX)*p.Side + c.x
		wz := int(p.Key.CZ)*p.Side + c.z
		roll := mathx.Hash3(g.seed+jitterSeedOffset, wx, int(k), wz)
		g.place(p, c.x, c.z, kind(k), desc, roll)
		return true
	}
	return false
}

func preferredKind(d *biome.Descriptor) int {
	bestK, bestC := -1, 0.0
	for _, k := range [3]kind{kindTree, kindShrub, kindBoulder} {
		if c := featureChance(d, k); c > bestC {
			bestK, bestC = int(k), c
		}
	}
	return bestK
}

// place merges a feature into the payload. Feature blocks never replace
// existing blocks: a canopy spilling into a taller neighboring column is
// clipped against the terrain instead of carving it.
func (g *Generator) place(p *chunk.Payload, lx, lz int, k kind, desc *biome.Descriptor, roll uint64) {
	h := int(p.HeightMap[p.Idx(lx, lz)])
	var blocks []chunk.PlacedBlock
	switch k {
	case kindTree:
		blocks = buildTree(desc.TreeKind, lx, h, lz, roll)
	case kindShrub:
		blocks = buildShrub(lx, h, lz, roll)
	default:
		blocks = buildBoulder(lx, h, lz, roll)
	}
	for _, b := range blocks {
		if id, ok := p.At(b.X, b.Y, b.Z); ok && id == block.Air {
			p.Set(b.X, b.Y, b.Z, b.ID)
		}
	}
}

// --- feature shapes ---

// buildTree emits the block list for one tree anchored at (x, h, z); the
// first block sits at h+1. Blocks outside the chunk are clipped by Merge.
func buildTree(treeKind string, x, h, z int, roll uint64) []chunk.PlacedBlock {
	switch treeKind {
	case "oak":
		return canopyTree(x, h, z, 4+int(roll>>32)%2, 1, block.OakLog, block.OakLeaves)
	case "birch":
		return canopyTree(x, h, z, 5+int(roll>>32)%2, 1, block.BirchLog, block.BirchLeaves)
	case "jungle":
		return canopyTree(x, h, z, 6+int(roll>>32)%3, 2, block.JungleLog, block.JungleLeaves)
	case "spruce":
		return spruceTree(x, h, z, 5+int(roll>>32)%2)
	case "cactus":
		return cactus(x, h, z, 2+int(roll>>32)%2)
	default:
		return nil
	}
}

// canopyTree is the oak family: straight trunk, two leaf layers of the
// given radius below the tip, and a plus-shaped cap.
func canopyTree(x, h, z, trunk, radius int, logID, leafID block.ID) []chunk.PlacedBlock {
	top := h + trunk
	out := make([]chunk.PlacedBlock, 0, trunk+24)
	for layer := top - 1; layer <= top; layer++ {
		for dx := -radius; dx <= radius; dx++ {
			for dz := -radius; dz <= radius; dz++ {
				if dx == 0 && dz == 0 {
					continue
				}
				out = append(out, chunk.PlacedBlock{X: x + dx, Y: layer, Z: z + dz, ID: leafID})
			}
		}
	}
	out = append(out,
		chunk.PlacedBlock{X: x, Y: top + 1, Z: z, ID: leafID},
		chunk.PlacedBlock{X: x + 1, Y: top + 1, Z: z, ID: leafID},
		chunk.PlacedBlock{X: x - 1, Y: top + 1, Z: z, ID: leafID},
		chunk.PlacedBlock{X: x, Y: top + 1, Z: z + 1, ID: leafID},
		chunk.PlacedBlock{X: x, Y: top + 1, Z: z - 1, ID: leafID},
	)
	for y := h + 1; y <= top; y++ {
		out = append(out, chunk.PlacedBlock{X: x, Y: y, Z: z, ID: logID})
	}
	return out
}

// spruceTree narrows toward the tip: radius 2, then 1, then the spike.
func spruceTree(x, h, z, trunk int) []chunk.PlacedBlock {
	top := h + trunk
	out := make([]chunk.PlacedBlock, 0, trunk+28)
	for i, radius := range []int{2, 1, 1} {
		layer := top - 2 + i
		for dx := -radius; dx <= radius; dx++ {
			for dz := -radius; dz <= radius; dz++ {
				if dx == 0 && dz == 0 {
					continue
				}
				out = append(out, chunk.PlacedBlock{X: x + dx, Y: layer, Z: z + dz, ID: block.SpruceLeaves})
			}
		}
	}
	out = append(out, chunk.PlacedBlock{X: x, Y: top + 1, Z: z, ID: block.SpruceLeaves})
	for y := h + 1; y <= top; y++ {
		out = append(out, chunk.PlacedBlock{X: x, Y: y, Z: z, ID: block.SpruceLog})
	}
	return out
}

func cactus(x, h, z, height int) []chunk.PlacedBlock {
	out := make([]chunk.PlacedBlock, 0, height)
	for y := h + 1; y <= h+height; y++ {
		out = append(out, chunk.PlacedBlock{X: x, Y: y, Z: z, ID: block.Cactus})
	}
	return out
}

// buildShrub picks one small ground cover block.
func buildShrub(x, h, z int, roll uint64) []chunk.PlacedBlock {
	id := block.Shrub
	switch (roll >> 40) % 10 {
	case 0, 1, 2:
		id = block.TallGrass
	case 3, 4:
		id = block.Flower
	}
	return []chunk.PlacedBlock{{X: x, Y: h + 1, Z: z, ID: id}}
}

// buildBoulder drops a low gravel-and-stone mound.
func buildBoulder(x, h, z int, roll uint64) []chunk.PlacedBlock {
	out := []chunk.PlacedBlock{
		{X: x, Y: h + 1, Z: z, ID: block.Stone},
		{X: x + 1, Y: h + 1, Z: z, ID: block.Gravel},
		{X: x - 1, Y: h + 1, Z: z, ID: block.Gravel},
		{X: x, Y: h + 1, Z: z + 1, ID: block.Gravel},
		{X: x, Y: h + 1, Z: z - 1, ID: block.Gravel},
	}
	if (roll>>48)%2 == 0 {
		out = append(out, chunk.PlacedBlock{X: x, Y: h + 2, Z: z, ID: block.Stone})
	}
	return out
}
