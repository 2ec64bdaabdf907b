package biome

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"chunkforge.dev/internal/world/block"
)

type Registry struct {
	ByName  map[string]*Descriptor
	Grid    [GridSize][GridSize]*Descriptor
	Default *Descriptor
	Digest  string
}

type descriptorJSON struct {
	Name          string   `json:"name"`
	Color         [3]uint8 `json:"color"`
	HeightMin     int      `json:"height_min"`
	HeightMax     int      `json:"height_max"`
	Surface       string   `json:"surface"`
	SubSurface    string   `json:"sub_surface"`
	TreeChance    float64  `json:"tree_chance"`
	ShrubChance   float64  `json:"shrub_chance"`
	BoulderChance float64  `json:"boulder_chance"`
	TreeKind      string   `json:"tree_kind"`
	MegaEligible  bool     `json:"mega_eligible"`
}

type registryJSON struct {
	Default string           `json:"default"`
	Biomes  []descriptorJSON `json:"biomes"`
	Grid    [][]string       `json:"grid"`
}

// Load reads, schema-validates, and resolves the biome registry. Any
// violation is an error here so that classification can never encounter a
// malformed table at runtime.
func Load(path, schemaPath string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	sch, err := jsonschema.Compile(schemaPath)
	if err != nil {
		return nil, fmt.Errorf("biome schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("biomes.json: %w", err)
	}
	if err := sch.Validate(doc); err != nil {
		return nil, fmt.Errorf("biomes.json: %w", err)
	}

	var parsed registryJSON
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("biomes.json: %w", err)
	}

	reg := &Registry{
		ByName: make(map[string]*Descriptor, len(parsed.Biomes)),
		Digest: sha256Hex(raw),
	}
	for _, d := range parsed.Biomes {
		if d.Name == "" {
			return nil, fmt.Errorf("biomes.json: empty biome name")
		}
		if _, dup := reg.ByName[d.Name]; dup {
			return nil, fmt.Errorf("biomes.json: duplicate biome %q", d.Name)
		}
		if d.HeightMin > d.HeightMax {
			return nil, fmt.Errorf("biome %q: height_min %d > height_max %d", d.Name, d.HeightMin, d.HeightMax)
		}
		surface, ok := block.FromName(d.Surface)
		if !ok {
			return nil, fmt.Errorf("biome %q: unknown surface block %q", d.Name, d.Surface)
		}
		sub, ok := block.FromName(d.SubSurface)
		if !ok {
			return nil, fmt.Errorf("biome %q: unknown sub_surface block %q", d.Name, d.SubSurface)
		}
		reg.ByName[d.Name] = &Descriptor{
			Name:          d.Name,
			Color:         d.Color,
			HeightMin:     d.HeightMin,
			HeightMax:     d.HeightMax,
			Surface:       surface,
			SubSurface:    sub,
			TreeChance:    d.TreeChance,
			ShrubChance:   d.ShrubChance,
			BoulderChance: d.BoulderChance,
			TreeKind:      d.TreeKind,
			MegaEligible:  d.MegaEligible,
		}
	}

	reg.Default = reg.ByName[parsed.Default]
	if reg.Default == nil {
		return nil, fmt.Errorf("biomes.json: default biome %q not registered", parsed.Default)
	}

	if len(parsed.Grid) != GridSize {
		return nil, fmt.Errorf("biomes.json: grid must have %d rows, got %d", GridSize, len(parsed.Grid))
	}
	for ti, row := range parsed.Grid {
		if len(row) != GridSize {
			return nil, fmt.Errorf("biomes.json: grid row %d must have %d cells, got %d", ti, GridSize, len(row))
		}
		for ri, name := range row {
			d := reg.ByName[name]
			if d == nil {
				return nil, fmt.Errorf("biomes.json: grid[%d][%d] references unknown biome %q", ti, ri, name)
			}
			reg.Grid[ti][ri] = d
		}
	}
	return reg, nil
}

// Lookup resolves a grid cell; row is the temperature index, col rainfall.
// A nil cell reports ok=false and the caller falls back to Default.
func (r *Registry) Lookup(row, col int) (*Descriptor, bool) {
	if row < 0 || row >= GridSize || col < 0 || col >= GridSize {
		return nil, false
	}
	d := r.Grid[row][col]
	if d == nil {
		return nil, false
	}
	return d, true
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
