// Package noise provides the seeded, octave-accumulated 2D noise fields all
// generation stages sample. Two families are available: Gradient (perlin,
// smooth with continuous derivative) for climate and height shaping, and
// Hash (interpolated lattice hash) for cheap small perturbations.
package noise

import (
	"github.com/aquilax/go-perlin"

	"chunkforge.dev/internal/world/mathx"
)

type Family int

const (
	Gradient Family = iota
	Hash
)

// Config controls octave accumulation: each octave doubles frequency and
// multiplies amplitude by Persistence; the sum is normalized by the total
// amplitude so the result stays in [-1,1].
type Config struct {
	Scale       float64
	Octaves     int
	Persistence float64
}

// Field is a deterministic noise sampler. Immutable after construction and
// safe for concurrent use.
type Field struct {
	cfg    Config
	family Family
	seed   int64
	grad   *perlin.Perlin
}

// perlin 2D output stays well inside ±0.7; rescale toward the full range
// before normalization.
const gradientGain = 1.5

func NewField(seed int64, family Family, cfg Config) *Field {
	f := &Field{cfg: cfg, family: family, seed: seed}
	if family == Gradient {
		f.grad = perlin.NewPerlin(2, 2, 1, seed)
	}
	return f
}

// Sample returns the accumulated noise value at (x,z) in [-1,1].
// Zero octaves is defined as 0.
func (f *Field) Sample(x, z float64) float64 {
	if f.cfg.Octaves <= 0 {
		return 0
	}
	freq := f.cfg.Scale
	amp := 1.0
	total := 0.0
	sum := 0.0
	for o := 0; o < f.cfg.Octaves; o++ {
		sum += f.base(x*freq, z*freq, o) * amp
		total += amp
		freq *= 2
		amp *= f.cfg.Persistence
	}
	return mathx.Clamp(sum/total, -1, 1)
}

func (f *Field) base(x, z float64, octave int) float64 {
	switch f.family {
	case Gradient:
		return mathx.Clamp(f.grad.Noise2D(x, z)*gradientGain, -1, 1)
	default:
		return latticeAt(f.seed+int64(octave)*7919, x, z)
	}
}

// latticeAt is smoothed value noise: hash the four surrounding lattice
// corners and interpolate.
func latticeAt(seed int64, x, z float64) float64 {
	x0 := mathx.Floor(x)
	z0 := mathx.Floor(z)
	tx := mathx.Smoothstep(x - float64(x0))
	tz := mathx.Smoothstep(z - float64(z0))

	c00 := mathx.Signed(mathx.Hash2(seed, x0, z0))
	c10 := mathx.Signed(mathx.Hash2(seed, x0+1, z0))
	c01 := mathx.Signed(mathx.Hash2(seed, x0, z0+1))
	c11 := mathx.Signed(mathx.Hash2(seed, x0+1, z0+1))

	top := mathx.Lerp(c00, c10, tx)
	bottom := mathx.Lerp(c01, c11, tx)
	return mathx.Lerp(top, bottom, tz)
}
