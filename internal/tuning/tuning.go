// Package tuning holds every empirically-tuned generation and streaming
// constant. Values here shape the world but are not load-bearing invariants;
// worlds generated under different tunings are simply different worlds.
package tuning

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	Chunk    Chunk    `yaml:"chunk"`
	Climate  Climate  `yaml:"climate"`
	Height   Height   `yaml:"height"`
	Decor    Decor    `yaml:"decor"`
	Stream   Stream   `yaml:"stream"`
	Pipeline Pipeline `yaml:"pipeline"`
}

// Noise is one octave-accumulated field configuration.
type Noise struct {
	Scale       float64 `yaml:"scale"`
	Octaves     int     `yaml:"octaves"`
	Persistence float64 `yaml:"persistence"`
}

type Chunk struct {
	Side            int `yaml:"side"`
	BedrockY        int `yaml:"bedrock_y"`
	GenerationDepth int `yaml:"generation_depth"`
	BaselineY       int `yaml:"baseline_y"`
	WaterLevel      int `yaml:"water_level"`
	MaxY            int `yaml:"max_y"`
}

type Climate struct {
	Temperature    Noise   `yaml:"temperature"`
	Rainfall       Noise   `yaml:"rainfall"`
	BlendNoise     Noise   `yaml:"blend_noise"`
	NeighborOffset int     `yaml:"neighbor_offset"`
	BlendCap       float64 `yaml:"blend_cap"`
}

type Height struct {
	Variation     Noise   `yaml:"variation"`
	Micro         Noise   `yaml:"micro"`
	Mega          Noise   `yaml:"mega"`
	MegaThreshold float64 `yaml:"mega_threshold"`
	MegaBonus     float64 `yaml:"mega_bonus"`
}

type Decor struct {
	Spawn          Noise `yaml:"spawn"`
	TreeSpacing    int   `yaml:"tree_spacing"`
	ShrubSpacing   int   `yaml:"shrub_spacing"`
	BoulderSpacing int   `yaml:"boulder_spacing"`
	GuaranteeAfter int   `yaml:"guarantee_after"`
}

type Stream struct {
	CacheCapacity  int `yaml:"cache_capacity"`
	RenderDistance int `yaml:"render_distance"`
	SaveQueueSize  int `yaml:"save_queue_size"`
	TickMs         int `yaml:"tick_ms"`
}

type Pipeline struct {
	TerrainWorkers   int `yaml:"terrain_workers"`
	LoadWorkers      int `yaml:"load_workers"`
	QueueSize        int `yaml:"queue_size"`
	TerrainTimeoutMs int `yaml:"terrain_timeout_ms"`
	DecorTimeoutMs   int `yaml:"decor_timeout_ms"`
}

func Default() Tuning {
	return Tuning{
		Chunk: Chunk{
			Side:            8,
			BedrockY:        0,
			GenerationDepth: 3,
			BaselineY:       24,
			WaterLevel:      22,
			MaxY:            192,
		},
		Climate: Climate{
			Temperature:    Noise{Scale: 0.005, Octaves: 3, Persistence: 0.6},
			Rainfall:       Noise{Scale: 0.007, Octaves: 3, Persistence: 0.55},
			BlendNoise:     Noise{Scale: 0.05, Octaves: 2, Persistence: 0.5},
			NeighborOffset: 8,
			BlendCap:       0.3,
		},
		Height: Height{
			Variation:     Noise{Scale: 0.012, Octaves: 4, Persistence: 0.5},
			Micro:         Noise{Scale: 0.08, Octaves: 2, Persistence: 0.5},
			Mega:          Noise{Scale: 0.0015, Octaves: 2, Persistence: 0.5},
			MegaThreshold: 0.65,
			MegaBonus:     40,
		},
		Decor: Decor{
			Spawn:          Noise{Scale: 0.35, Octaves: 2, Persistence: 0.5},
			TreeSpacing:    3,
			ShrubSpacing:   2,
			BoulderSpacing: 5,
			GuaranteeAfter: 8,
		},
		Stream: Stream{
			CacheCapacity:  256,
			RenderDistance: 4,
			SaveQueueSize:  512,
			TickMs:         250,
		},
		Pipeline: Pipeline{
			TerrainWorkers:   2,
			LoadWorkers:      1,
			QueueSize:        256,
			TerrainTimeoutMs: 5000,
			DecorTimeoutMs:   5000,
		},
	}
}

// Load reads the tuning file at path, or returns defaults when path is empty.
func Load(path string) (Tuning, error) {
	t := Default()
	if strings.TrimSpace(path) == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t *Tuning) Normalize() {
	if t == nil {
		return
	}
	def := Default()
	if t.Chunk.Side <= 0 {
		t.Chunk.Side = def.Chunk.Side
	}
	if t.Chunk.MaxY <= 0 {
		t.Chunk.MaxY = def.Chunk.MaxY
	}
	if t.Stream.CacheCapacity <= 0 {
		t.Stream.CacheCapacity = def.Stream.CacheCapacity
	}
	if t.Stream.RenderDistance <= 0 {
		t.Stream.RenderDistance = def.Stream.RenderDistance
	}
	if t.Stream.SaveQueueSize <= 0 {
		t.Stream.SaveQueueSize = def.Stream.SaveQueueSize
	}
	if t.Stream.TickMs <= 0 {
		t.Stream.TickMs = def.Stream.TickMs
	}
	if t.Pipeline.TerrainWorkers <= 0 {
		t.Pipeline.TerrainWorkers = def.Pipeline.TerrainWorkers
	}
	if t.Pipeline.LoadWorkers <= 0 {
		t.Pipeline.LoadWorkers = def.Pipeline.LoadWorkers
	}
	if t.Pipeline.QueueSize <= 0 {
		t.Pipeline.QueueSize = def.Pipeline.QueueSize
	}
	if t.Pipeline.TerrainTimeoutMs <= 0 {
		t.Pipeline.TerrainTimeoutMs = def.Pipeline.TerrainTimeoutMs
	}
	if t.Pipeline.DecorTimeoutMs <= 0 {
		t.Pipeline.DecorTimeoutMs = def.Pipeline.DecorTimeoutMs
	}
	if t.Decor.GuaranteeAfter <= 0 {
		t.Decor.GuaranteeAfter = def.Decor.GuaranteeAfter
	}
}

func (t Tuning) Validate() error {
	if t.Chunk.Side < 1 || t.Chunk.Side > 64 {
		return fmt.Errorf("chunk.side must be in [1,64], got %d", t.Chunk.Side)
	}
	if t.Chunk.GenerationDepth < 1 {
		return fmt.Errorf("chunk.generation_depth must be >= 1, got %d", t.Chunk.GenerationDepth)
	}
	if t.Chunk.BedrockY < 0 {
		return fmt.Errorf("chunk.bedrock_y must be >= 0, got %d", t.Chunk.BedrockY)
	}
	floor := t.Chunk.BedrockY + t.Chunk.GenerationDepth + 1
	if t.Chunk.MaxY <= floor {
		return fmt.Errorf("chunk.max_y %d must exceed the height floor %d", t.Chunk.MaxY, floor)
	}
	if t.Chunk.BaselineY < floor || t.Chunk.BaselineY > t.Chunk.MaxY {
		return fmt.Errorf("chunk.baseline_y %d outside [%d,%d]", t.Chunk.BaselineY, floor, t.Chunk.MaxY)
	}
	if t.Chunk.WaterLevel < 0 || t.Chunk.WaterLevel > t.Chunk.MaxY {
		return fmt.Errorf("chunk.water_level %d outside [0,%d]", t.Chunk.WaterLevel, t.Chunk.MaxY)
	}
	if t.Climate.BlendCap < 0 || t.Climate.BlendCap > 1 {
		return fmt.Errorf("climate.blend_cap must be in [0,1], got %v", t.Climate.BlendCap)
	}
	if t.Climate.NeighborOffset <= 0 {
		return fmt.Errorf("climate.neighbor_offset must be > 0, got %d", t.Climate.NeighborOffset)
	}
	for _, n := range []struct {
		name string
		n    Noise
	}{
		{"climate.temperature", t.Climate.Temperature},
		{"climate.rainfall", t.Climate.Rainfall},
		{"climate.blend_noise", t.Climate.BlendNoise},
		{"height.variation", t.Height.Variation},
		{"height.micro", t.Height.Micro},
		{"height.mega", t.Height.Mega},
		{"decor.spawn", t.Decor.Spawn},
	} {
		if n.n.Scale <= 0 {
			return fmt.Errorf("%s.scale must be > 0, got %v", n.name, n.n.Scale)
		}
		if n.n.Octaves < 0 {
			return fmt.Errorf("%s.octaves must be >= 0, got %d", n.name, n.n.Octaves)
		}
		if n.n.Persistence <= 0 || n.n.Persistence > 1 {
			return fmt.Errorf("%s.persistence must be in (0,1], got %v", n.name, n.n.Persistence)
		}
	}
	if t.Height.MegaThreshold < 0 || t.Height.MegaThreshold >= 1 {
		return fmt.Errorf("height.mega_threshold must be in [0,1), got %v", t.Height.MegaThreshold)
	}
	if t.Height.MegaBonus < 0 {
		return fmt.Errorf("height.mega_bonus must be >= 0, got %v", t.Height.MegaBonus)
	}
	if t.Decor.TreeSpacing < 0 || t.Decor.ShrubSpacing < 0 || t.Decor.BoulderSpacing < 0 {
		return fmt.Errorf("decor spacings must be >= 0")
	}
	return nil
}
