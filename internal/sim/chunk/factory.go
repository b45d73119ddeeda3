package chunk

import (
	"fmt"

	"voxelstream.ai/internal/sim/cube"
)

// Table is the part of the global cell table the factory needs.
type Table interface {
	Len() int
}

// Factory builds chunks whose ids are valid for one cell table. It is immutable and safe for
// concurrent use by loader goroutines.
type Factory struct {
	size CellID
}

func NewFactory(t Table) *Factory {
	return &Factory{size: CellID(t.Len())}
}

// TableSize returns the number of ids of the table this factory validates against.
func (f *Factory) TableSize() int { return int(f.size) }

// Empty returns an all-air chunk. Non-writable empties stand in for chunks outside the level.
func (f *Factory) Empty(pos cube.ChunkPos, writable bool) *Chunk {
	return &Chunk{pos: pos, kind: KindUniform, fill: Air, writable: writable, limit: f.size}
}

// Filled returns a writable uniform chunk.
func (f *Factory) Filled(pos cube.ChunkPos, id CellID) (*Chunk, error) {
	if id >= f.size {
		return nil, fmt.Errorf("%w: %d (table has %d)", ErrCellOutOfRange, id, f.size)
	}
	return &Chunk{pos: pos, kind: KindUniform, fill: id, writable: true, limit: f.size}, nil
}

// FromCells copies ids into a new writable chunk. A slice whose values are all equal yields the
// uniform form.
func (f *Factory) FromCells(pos cube.ChunkPos, ids []CellID) (*Chunk, error) {
	if len(ids) != cube.ChunkVolume {
		return nil, fmt.Errorf("chunk %v: got %d cells want %d", pos, len(ids), cube.ChunkVolume)
	}
	uniform := true
	for i, id := range ids {
		if id >= f.size {
			return nil, fmt.Errorf("%w: %d at cell %d (table has %d)", ErrCellOutOfRange, id, i, f.size)
		}
		if id != ids[0] {
			uniform = false
		}
	}
	if uniform {
		return &Chunk{pos: pos, kind: KindUniform, fill: ids[0], writable: true, limit: f.size}, nil
	}
	cells := new([cube.ChunkVolume]CellID)
	copy(cells[:], ids)
	return &Chunk{pos: pos, kind: KindDense, cells: cells, writable: true, limit: f.size}, nil
}
