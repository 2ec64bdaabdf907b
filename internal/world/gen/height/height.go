// Package height turns a column's biome into a terrain surface height:
// baseline plus biome-modulated variation noise, micro detail, and a rare
// low-frequency mega-terrain bonus in eligible biomes.
package height

import (
	"chunkforge.dev/internal/tuning"
	"chunkforge.dev/internal/world/biome"
	"chunkforge.dev/internal/world/gen/noise"
	"chunkforge.dev/internal/world/mathx"
)

const (
	variationSeedOffset = 104
	microSeedOffset     = 105
	megaSeedOffset      = 106
)

// Synthesizer is immutable after construction and safe for concurrent use.
type Synthesizer struct {
	variation *noise.Field
	micro     *noise.Field
	mega      *noise.Field

	baseline      float64
	floorY        int
	maxY          int
	megaThreshold float64
	megaBonus     float64
}

func New(seed int64, chunkCfg tuning.Chunk, cfg tuning.Height) *Synthesizer {
	return &Synthesizer{
		variation:     noise.NewField(seed+variationSeedOffset, noise.Gradient, fieldConfig(cfg.Variation)),
		micro:         noise.NewField(seed+microSeedOffset, noise.Hash, fieldConfig(cfg.Micro)),
		mega:          noise.NewField(seed+megaSeedOffset, noise.Gradient, fieldConfig(cfg.Mega)),
		baseline:      float64(chunkCfg.BaselineY),
		floorY:        chunkCfg.BedrockY + chunkCfg.GenerationDepth + 1,
		maxY:          chunkCfg.MaxY,
		megaThreshold: cfg.MegaThreshold,
		megaBonus:     cfg.MegaBonus,
	}
}

func fieldConfig(n tuning.Noise) noise.Config {
	return noise.Config{Scale: n.Scale, Octaves: n.Octaves, Persistence: n.Persistence}
}

// SurfaceHeight computes the integer surface Y for a column. The result is
// clamped so no column ever drops below bedrock plus the generation shell.
func (s *Synthesizer) SurfaceHeight(x, z int, b *biome.Descriptor) int {
	fx, fz := float64(x), float64(z)

	h := s.baseline + b.HeightCenter()
	h += s.variation.Sample(fx, fz) * (b.HeightRange() / 2)
	h += s.micro.Sample(fx, fz) * 0.5

	if b.MegaEligible && s.megaBonus > 0 {
		m := s.mega.Sample(fx, fz)
		if m > s.megaThreshold {
			// Smooth ramp from the threshold up rather than a step.
			ramp := mathx.Smoothstep((m - s.megaThreshold) / (1 - s.megaThreshold))
			h += ramp * s.megaBonus
		}
	}

	return mathx.ClampInt(mathx.Floor(h), s.floorY, s.maxY)
}

// FloorY is the hard minimum surface height.
func (s *Synthesizer) FloorY() int {
	return s.floorY
}
