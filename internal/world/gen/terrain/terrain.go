// Package terrain builds the base block volume for a chunk: per-column
// biome classification, surface height synthesis, then column fill from
// bedrock to surface with flooding up to the water level.
package terrain

import (
	"chunkforge.dev/internal/tuning"
	"chunkforge.dev/internal/world/biome"
	"chunkforge.dev/internal/world/block"
	"chunkforge.dev/internal/world/chunk"
	"chunkforge.dev/internal/world/gen/climate"
	"chunkforge.dev/internal/world/gen/height"
)

type Generator struct {
	climate *climate.Classifier
	heights *height.Synthesizer

	side       int
	bedrockY   int
	depth      int
	waterLevel int
}

func New(cl *climate.Classifier, hs *height.Synthesizer, cfg tuning.Chunk) *Generator {
	return &Generator{
		climate:    cl,
		heights:    hs,
		side:       cfg.Side,
		bedrockY:   cfg.BedrockY,
		depth:      cfg.GenerationDepth,
		waterLevel: cfg.WaterLevel,
	}
}

// Generate produces the terrain payload for a chunk. The result carries
// per-column biome names for the decoration stage; the block map holds
// terrain and water only, with DecorationComplete left false.
func (g *Generator) Generate(key chunk.Key) *chunk.Payload {
	p := chunk.NewPayload(key, g.side)
	baseX := int(key.CX) * g.side
	baseZ := int(key.CZ) * g.side
	for lx := 0; lx < g.side; lx++ {
		for lz := 0; lz < g.side; lz++ {
			wx, wz := baseX+lx, baseZ+lz
			desc := g.climate.Classify(wx, wz)
			h := g.heights.SurfaceHeight(wx, wz, &desc)

			idx := p.Idx(lx, lz)
			p.BiomeMap[idx] = desc.Name
			p.HeightMap[idx] = int16(h)
			g.fillColumn(p, lx, lz, h, desc)
		}
	}
	return p
}

func (g *Generator) fillColumn(p *chunk.Payload, lx, lz, h int, desc biome.Descriptor) {
	p.Set(lx, g.bedrockY, lz, block.Bedrock)
	for y := g.bedrockY + 1; y <= h-g.depth-1; y++ {
		p.Set(lx, y, lz, block.Stone)
	}
	for y := h - g.depth; y < h; y++ {
		p.Set(lx, y, lz, desc.SubSurface)
	}
	p.Set(lx, h, lz, desc.Surface)

	if h < g.waterLevel {
		for y := h + 1; y <= g.waterLevel; y++ {
			p.Set(lx, y, lz, block.Water)
		}
		p.WaterMap[p.Idx(lx, lz)] = true
	}
}
