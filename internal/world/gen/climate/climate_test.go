package climate

import (
	"io"
	"log"
	"path/filepath"
	"testing"

	"chunkforge.dev/internal/tuning"
	"chunkforge.dev/internal/world/biome"
)

func testRegistry(t *testing.T) *biome.Registry {
	t.Helper()
	reg, err := biome.Load(
		filepath.Join("..", "..", "..", "..", "configs", "biomes.json"),
		filepath.Join("..", "..", "..", "..", "configs", "schemas", "biomes.schema.json"),
	)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestClassifyDeterministicAtOrigin(t *testing.T) {
	reg := testRegistry(t)
	c := New(42, reg, tuning.Default().Climate, quietLogger())
	first := c.Classify(0, 0)
	second := c.Classify(0, 0)
	if first.Name != second.Name {
		t.Fatalf("classify(0,0,seed=42) unstable: %q vs %q", first.Name, second.Name)
	}
	if first != second {
		t.Fatalf("classify(0,0,seed=42) descriptors differ")
	}
}

func TestClassifyDeterministicAcrossInstances(t *testing.T) {
	reg := testRegistry(t)
	cfg := tuning.Default().Climate
	a := New(1337, reg, cfg, quietLogger())
	b := New(1337, reg, cfg, quietLogger())
	for i := -64; i < 64; i += 5 {
		for j := -64; j < 64; j += 7 {
			if a.Classify(i, j) != b.Classify(i, j) {
				t.Fatalf("instances diverge at (%d,%d)", i, j)
			}
		}
	}
}

func TestClassifyNeverZero(t *testing.T) {
	reg := testRegistry(t)
	c := New(7, reg, tuning.Default().Climate, quietLogger())
	for i := 0; i < 500; i++ {
		d := c.Classify(i*13, -i*29)
		if d.Name == "" {
			t.Fatalf("empty descriptor at step %d", i)
		}
		if !d.Surface.Valid() || !d.SubSurface.Valid() {
			t.Fatalf("descriptor %q carries invalid blocks", d.Name)
		}
	}
}

func TestGridIndexMapping(t *testing.T) {
	cases := []struct {
		v    float64
		want int
	}{
		{-1, 0},
		{-0.99, 0},
		{-0.8, 0},
		{-0.79, 1},
		{0, 5},
		{0.99, 9},
		{1, 10},
		{-2, 0},
		{2, 10},
	}
	for _, c := range cases {
		if got := gridIndex(c.v); got != c.want {
			t.Fatalf("gridIndex(%v)=%d want %d", c.v, got, c.want)
		}
	}
}

func TestClassifiedNamesAreRegistered(t *testing.T) {
	reg := testRegistry(t)
	c := New(99, reg, tuning.Default().Climate, quietLogger())
	for i := 0; i < 400; i++ {
		d := c.Classify(i*31, i*-17)
		if _, ok := reg.ByName[d.Name]; !ok {
			t.Fatalf("classified name %q not in registry", d.Name)
		}
	}
	if c.Anomalies() != 0 {
		t.Fatalf("unexpected grid anomalies: %d", c.Anomalies())
	}
}

func TestSeedsChangeClassification(t *testing.T) {
	reg := testRegistry(t)
	cfg := tuning.Default().Climate
	a := New(1, reg, cfg, quietLogger())
	b := New(2, reg, cfg, quietLogger())
	diff := 0
	for i := 0; i < 300; i++ {
		if a.Classify(i*40, i*-40).Name != b.Classify(i*40, i*-40).Name {
			diff++
		}
	}
	if diff == 0 {
		t.Fatalf("different seeds produced identical biome fields")
	}
}
