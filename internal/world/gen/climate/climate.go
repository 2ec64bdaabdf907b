// Package climate resolves world columns to biomes: two noise fields give
// temperature and rainfall, an 11x11 lookup grid names the primary biome,
// and cardinal neighbor sampling blends transitions.
package climate

import (
	"log"
	"sync/atomic"

	"chunkforge.dev/internal/tuning"
	"chunkforge.dev/internal/world/biome"
	"chunkforge.dev/internal/world/gen/noise"
	"chunkforge.dev/internal/world/mathx"
)

// Derived noise channels, offset from the world seed.
const (
	temperatureSeedOffset = 101
	rainfallSeedOffset    = 102
	blendSeedOffset       = 103
)

// Classifier is shared read-only by the terrain workers; the anomaly
// counter is the only mutable field and is atomic.
type Classifier struct {
	reg            *biome.Registry
	temperature    *noise.Field
	rainfall       *noise.Field
	blend          *noise.Field
	neighborOffset int
	blendCap       float64
	anomalies      atomic.Uint64
	log            *log.Logger
}

func New(seed int64, reg *biome.Registry, cfg tuning.Climate, logger *log.Logger) *Classifier {
	return &Classifier{
		reg:            reg,
		temperature:    noise.NewField(seed+temperatureSeedOffset, noise.Gradient, fieldConfig(cfg.Temperature)),
		rainfall:       noise.NewField(seed+rainfallSeedOffset, noise.Gradient, fieldConfig(cfg.Rainfall)),
		blend:          noise.NewField(seed+blendSeedOffset, noise.Hash, fieldConfig(cfg.BlendNoise)),
		neighborOffset: cfg.NeighborOffset,
		blendCap:       cfg.BlendCap,
		log:            logger,
	}
}

func fieldConfig(n tuning.Noise) noise.Config {
	return noise.Config{Scale: n.Scale, Octaves: n.Octaves, Persistence: n.Persistence}
}

// ClimateAt returns the raw temperature and rainfall samples in [-1,1].
func (c *Classifier) ClimateAt(x, z int) (temperature, rainfall float64) {
	fx, fz := float64(x), float64(z)
	return c.temperature.Sample(fx, fz), c.rainfall.Sample(fx, fz)
}

// Classify resolves the biome for a world column. It never returns a zero
// descriptor: grid misses fall back to the registry default. Transitions
// toward a differing cardinal neighbor are blended with a noise-driven
// weight capped below the 0.5 block-switch threshold.
func (c *Classifier) Classify(x, z int) biome.Descriptor {
	primary := c.primaryAt(x, z)

	off := c.neighborOffset
	var neighbor *biome.Descriptor
	for _, d := range [4][2]int{{off, 0}, {-off, 0}, {0, off}, {0, -off}} {
		n := c.primaryAt(x+d[0], z+d[1])
		if n != primary {
			neighbor = n
			break
		}
	}
	if neighbor == nil {
		return *primary
	}

	w := (c.blend.Sample(float64(x), float64(z)) + 1) / 2
	w = mathx.Clamp(w, 0, c.blendCap)
	return biome.Blend(primary, neighbor, w)
}

func (c *Classifier) primaryAt(x, z int) *biome.Descriptor {
	t, r := c.ClimateAt(x, z)
	d, ok := c.reg.Lookup(gridIndex(t), gridIndex(r))
	if !ok {
		n := c.anomalies.Add(1)
		if n == 1 || n%1024 == 0 {
			c.log.Printf("climate: grid miss at (%d,%d) t=%.3f r=%.3f (count=%d), using default %s",
				x, z, t, r, n, c.reg.Default.Name)
		}
		return c.reg.Default
	}
	return d
}

// Anomalies reports how many grid misses fell back to the default biome.
func (c *Classifier) Anomalies() uint64 {
	return c.anomalies.Load()
}

func gridIndex(v float64) int {
	return mathx.ClampInt(mathx.Floor((v+1)*5), 0, biome.GridSize-1)
}
