package gen

import (
	"voxelstream.ai/internal/sim/catalogs"
	"voxelstream.ai/internal/sim/chunk"
	"voxelstream.ai/internal/sim/cube"
	"voxelstream.ai/internal/sim/mathx"
)

// Palette holds the cell ids the generator places.
type Palette struct {
	Air       chunk.CellID
	Stone     chunk.CellID
	Dirt      chunk.CellID
	Grass     chunk.CellID
	Sand      chunk.CellID
	Gravel    chunk.CellID
	Bedrock   chunk.CellID
	Water     chunk.CellID
	CoalOre   chunk.CellID
	IronOre   chunk.CellID
	CopperOre chunk.CellID
	Log       chunk.CellID
}

// PaletteFrom resolves generator cells by name. Missing names fall back to air.
func PaletteFrom(t *catalogs.Table) Palette {
	return Palette{
		Air:       t.ByName("AIR"),
		Stone:     t.ByName("STONE"),
		Dirt:      t.ByName("DIRT"),
		Grass:     t.ByName("GRASS"),
		Sand:      t.ByName("SAND"),
		Gravel:    t.ByName("GRAVEL"),
		Bedrock:   t.ByName("BEDROCK"),
		Water:     t.ByName("WATER"),
		CoalOre:   t.ByName("COAL_ORE"),
		IronOre:   t.ByName("IRON_ORE"),
		CopperOre: t.ByName("COPPER_ORE"),
		Log:       t.ByName("LOG"),
	}
}

type Config struct {
	Seed      int64
	SeaLevel  int
	Amplitude int
	// BedrockY is the world y at and below which every cell is bedrock.
	BedrockY        int
	BiomeRegionSize int
	// OreScalePermille scales every ore cluster probability.
	OreScalePermille int
}

// Generator produces deterministic hash terrain. It holds no mutable state and is safe for
// concurrent use.
type Generator struct {
	cfg     Config
	pal     Palette
	factory *chunk.Factory
}

func New(cfg Config, pal Palette, factory *chunk.Factory) *Generator {
	if cfg.Amplitude < 0 {
		cfg.Amplitude = 0
	}
	if cfg.BiomeRegionSize <= 0 {
		cfg.BiomeRegionSize = 128
	}
	if cfg.BedrockY == 0 {
		cfg.BedrockY = -64
	}
	return &Generator{cfg: cfg, pal: pal, factory: factory}
}

// HeightAt is the world y of the topmost solid cell of column (x,z).
func (g *Generator) HeightAt(x, z int) int {
	a := g.cfg.Amplitude
	if a == 0 {
		return g.cfg.SeaLevel
	}
	broad := ValueNoise(g.cfg.Seed, x, z, 64)
	detail := ValueNoise(g.cfg.Seed+7, x, z, 16)
	n := (broad*3 + detail) / 4
	return g.cfg.SeaLevel - a/2 + n*a/1000
}

func (g *Generator) maxHeight() int { return g.cfg.SeaLevel - g.cfg.Amplitude/2 + g.cfg.Amplitude + treeHeight }

const treeHeight = 4

// GenerateChunk builds the chunk at pos.
func (g *Generator) GenerateChunk(pos cube.ChunkPos) (*chunk.Chunk, error) {
	oy := int(pos.Y) * cube.ChunkEdge
	if oy > g.maxHeight() && oy > g.cfg.SeaLevel {
		return g.factory.Empty(pos, true), nil
	}

	ids := make([]chunk.CellID, cube.ChunkVolume)
	ox, oz := int(pos.X)*cube.ChunkEdge, int(pos.Z)*cube.ChunkEdge
	for z := 0; z < cube.ChunkEdge; z++ {
		for x := 0; x < cube.ChunkEdge; x++ {
			wx, wz := ox+x, oz+z
			h := g.HeightAt(wx, wz)
			biome := BiomeAt(g.cfg.Seed, wx, wz, g.cfg.BiomeRegionSize)
			tree := biome == "FOREST" && h > g.cfg.SeaLevel && mathx.Hash2(g.cfg.Seed+201, wx, wz)%1000 < 12
			for y := 0; y < cube.ChunkEdge; y++ {
				ids[cube.CellIndex(x, y, z)] = g.cell(wx, oy+y, wz, h, biome, tree)
			}
		}
	}
	return g.factory.FromCells(pos, ids)
}

func (g *Generator) cell(wx, wy, wz, h int, biome string, tree bool) chunk.CellID {
	p := g.pal
	switch {
	case wy <= g.cfg.BedrockY:
		return p.Bedrock
	case wy > h:
		if tree && wy <= h+treeHeight {
			return p.Log
		}
		if wy <= g.cfg.SeaLevel {
			return p.Water
		}
		return p.Air
	case wy == h:
		if biome == "DESERT" || h <= g.cfg.SeaLevel+1 {
			return p.Sand
		}
		return p.Grass
	case wy >= h-3:
		if biome == "DESERT" {
			return p.Sand
		}
		return p.Dirt
	}
	return g.rock(wx, wy, wz)
}

func (g *Generator) rock(wx, wy, wz int) chunk.CellID {
	s, scale := g.cfg.Seed, g.cfg.OreScalePermille
	switch {
	case wy < g.cfg.SeaLevel-40 && InCluster3(s+101, wx, wy, wz, 24, 2, ScalePermille(250, scale)):
		return g.pal.IronOre
	case InCluster3(s+102, wx, wy, wz, 24, 2, ScalePermille(200, scale)):
		return g.pal.CopperOre
	case InCluster3(s+103, wx, wy, wz, 16, 2, ScalePermille(350, scale)):
		return g.pal.CoalOre
	case InCluster3(s+104, wx, wy, wz, 32, 3, ScalePermille(150, scale)):
		return g.pal.Gravel
	}
	return g.pal.Stone
}
