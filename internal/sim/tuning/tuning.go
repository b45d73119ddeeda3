package tuning

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Tuning is the engine configuration loaded from engine.yaml.
type Tuning struct {
	Level     LevelConfig     `yaml:"level" json:"level"`
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
	Stream    StreamConfig    `yaml:"stream" json:"stream"`
	Generator GeneratorConfig `yaml:"generator" json:"generator"`
	Runtime   RuntimeConfig   `yaml:"runtime" json:"runtime"`
	Transport TransportConfig `yaml:"transport" json:"transport"`
}

type LevelConfig struct {
	ID      string `yaml:"id" json:"id"`
	DataDir string `yaml:"data_dir" json:"data_dir"`
}

type StorageConfig struct {
	// Backend is "sqlite" or "leveldb".
	Backend  string `yaml:"backend" json:"backend"`
	Path     string `yaml:"path" json:"path"`
	Compress bool   `yaml:"compress" json:"compress"`
}

// StreamConfig tunes the chunk map. LowWater/HighWater bound the number of in-flight loads:
// ring expansion pauses at HighWater and resumes once the count drops to LowWater.
type StreamConfig struct {
	LowWater  int `yaml:"low_water" json:"low_water"`
	HighWater int `yaml:"high_water" json:"high_water"`
	Workers   int `yaml:"workers" json:"workers"`
	MaxRadius int `yaml:"max_radius" json:"max_radius"`
	MinChunkY int `yaml:"min_chunk_y" json:"min_chunk_y"`
	MaxChunkY int `yaml:"max_chunk_y" json:"max_chunk_y"`
}

type GeneratorConfig struct {
	Seed      int64 `yaml:"seed" json:"seed"`
	SeaLevel  int   `yaml:"sea_level" json:"sea_level"`
	Amplitude int   `yaml:"amplitude" json:"amplitude"`
}

type RuntimeConfig struct {
	TickHz          int `yaml:"tick_hz" json:"tick_hz"`
	SaveEveryTicks  int `yaml:"save_every_ticks" json:"save_every_ticks"`
	ChunksPerTick   int `yaml:"chunks_per_tick" json:"chunks_per_tick"`
	ChunksPerSecond int `yaml:"chunks_per_second" json:"chunks_per_second"`
	ChunkBurst      int `yaml:"chunk_burst" json:"chunk_burst"`
}

type TransportConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// Defaults returns the configuration used when no file is given.
func Defaults() Tuning {
	return Tuning{
		Level:   LevelConfig{ID: "overworld", DataDir: "data"},
		Storage: StorageConfig{Backend: "sqlite", Path: "level.db", Compress: true},
		Stream: StreamConfig{
			LowWater:  64,
			HighWater: 256,
			MaxRadius: 12,
			MinChunkY: -4,
			MaxChunkY: 15,
		},
		Generator: GeneratorConfig{Seed: 1337, SeaLevel: 62, Amplitude: 24},
		Runtime: RuntimeConfig{
			TickHz:          20,
			SaveEveryTicks:  600,
			ChunksPerTick:   32,
			ChunksPerSecond: 256,
			ChunkBurst:      64,
		},
		Transport: TransportConfig{Addr: ":8080"},
	}
}

// Load reads path over Defaults, normalizes and validates the result. An empty path yields the
// defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		t.Normalize()
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := validateSchema(raw); err != nil {
		return t, fmt.Errorf("engine.yaml: %w", err)
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("engine.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("engine.yaml: %w", err)
	}
	return t, nil
}

func (t *Tuning) Normalize() {
	if t == nil {
		return
	}
	t.Level.ID = strings.TrimSpace(t.Level.ID)
	t.Storage.Backend = strings.ToLower(strings.TrimSpace(t.Storage.Backend))
	if t.Storage.Backend == "" {
		t.Storage.Backend = "sqlite"
	}
	if t.Stream.Workers <= 0 {
		t.Stream.Workers = runtime.NumCPU()
	}
	if t.Runtime.TickHz <= 0 {
		t.Runtime.TickHz = 20
	}
	if t.Runtime.ChunkBurst <= 0 {
		t.Runtime.ChunkBurst = t.Runtime.ChunksPerTick
	}
}

func (t Tuning) Validate() error {
	if t.Level.ID == "" {
		return fmt.Errorf("level.id is required")
	}
	switch t.Storage.Backend {
	case "sqlite", "leveldb":
	default:
		return fmt.Errorf("storage.backend: unknown backend %q", t.Storage.Backend)
	}
	if t.Stream.LowWater < 0 || t.Stream.HighWater <= 0 {
		return fmt.Errorf("stream: water marks must be positive")
	}
	if t.Stream.LowWater > t.Stream.HighWater {
		return fmt.Errorf("stream: low_water %d above high_water %d", t.Stream.LowWater, t.Stream.HighWater)
	}
	if t.Stream.MinChunkY > t.Stream.MaxChunkY {
		return fmt.Errorf("stream: min_chunk_y %d above max_chunk_y %d", t.Stream.MinChunkY, t.Stream.MaxChunkY)
	}
	if t.Stream.MaxRadius < 0 {
		return fmt.Errorf("stream.max_radius must be >= 0")
	}
	if t.Runtime.ChunksPerTick <= 0 || t.Runtime.ChunksPerSecond <= 0 {
		return fmt.Errorf("runtime: chunk send budget must be positive")
	}
	return nil
}

// validateSchema checks the raw document against the embedded schema. yaml maps decode with string
// keys, so a JSON round trip gives the validator the value shapes it expects.
func validateSchema(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	return engineSchema().Validate(v)
}
