package chunk

import (
	"errors"
	"fmt"

	"voxelstream.ai/internal/sim/cube"
)

// CellID is an index into the level's global cell table. 0 is always the default (air) cell.
type CellID uint32

const Air CellID = 0

var (
	ErrReadOnly       = errors.New("chunk is not writable")
	ErrCellOutOfRange = errors.New("cell id out of range")
)

// Kind tags the representation a Chunk currently uses.
type Kind uint8

const (
	// KindUniform broadcasts a single implicit value over all cells.
	KindUniform Kind = iota
	// KindDense stores one id per cell.
	KindDense
)

func (k Kind) String() string {
	switch k {
	case KindUniform:
		return "uniform"
	case KindDense:
		return "dense"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Chunk is a 16x16x16 cube of cell ids. It is not safe for concurrent mutation; the tick goroutine
// owns resident chunks.
type Chunk struct {
	pos      cube.ChunkPos
	kind     Kind
	fill     CellID
	cells    *[cube.ChunkVolume]CellID
	writable bool
	dirty    bool

	// limit is the size of the cell table the chunk was built against.
	limit CellID
}

func (c *Chunk) Pos() cube.ChunkPos { return c.pos }
func (c *Chunk) Kind() Kind         { return c.kind }
func (c *Chunk) Writable() bool     { return c.writable }

// Dirty reports whether the chunk changed since it was last marked clean.
func (c *Chunk) Dirty() bool { return c.dirty }
func (c *Chunk) MarkDirty()  { c.dirty = true }
func (c *Chunk) MarkClean()  { c.dirty = false }

// IsEmpty reports whether every cell is air.
func (c *Chunk) IsEmpty() bool {
	v, ok := c.Uniform()
	return ok && v == Air
}

// Uniform returns the single value of the chunk if all cells share it. Dense chunks are scanned.
func (c *Chunk) Uniform() (CellID, bool) {
	if c.kind == KindUniform {
		return c.fill, true
	}
	first := c.cells[0]
	for _, v := range c.cells[1:] {
		if v != first {
			return 0, false
		}
	}
	return first, true
}

// Get returns the cell at in-chunk coordinates (x,y,z), each in [0,16).
func (c *Chunk) Get(x, y, z int) CellID {
	if c.kind == KindUniform {
		return c.fill
	}
	return c.cells[cube.CellIndex(x, y, z)]
}

// Set writes a cell. Writing to a uniform chunk materializes dense storage unless the value is
// unchanged. Ids outside the chunk's cell table are rejected.
func (c *Chunk) Set(x, y, z int, id CellID) error {
	if !c.writable {
		return ErrReadOnly
	}
	if id >= c.limit {
		return fmt.Errorf("%w: %d (table has %d)", ErrCellOutOfRange, id, c.limit)
	}
	if c.kind == KindUniform {
		if id == c.fill {
			return nil
		}
		c.densify()
	}
	i := cube.CellIndex(x, y, z)
	if c.cells[i] == id {
		return nil
	}
	c.cells[i] = id
	c.dirty = true
	return nil
}

func (c *Chunk) densify() {
	cells := new([cube.ChunkVolume]CellID)
	if c.fill != 0 {
		for i := range cells {
			cells[i] = c.fill
		}
	}
	c.cells = cells
	c.kind = KindDense
}

// CopyOut writes all 4096 cells into dst, which must have room for cube.ChunkVolume ids, and
// returns the filled prefix.
func (c *Chunk) CopyOut(dst []CellID) []CellID {
	dst = dst[:cube.ChunkVolume]
	if c.kind == KindUniform {
		for i := range dst {
			dst[i] = c.fill
		}
		return dst
	}
	copy(dst, c.cells[:])
	return dst
}

// Cells returns a fresh copy of all cell ids.
func (c *Chunk) Cells() []CellID {
	return c.CopyOut(make([]CellID, cube.ChunkVolume))
}

// Compact collapses a dense chunk whose cells are all equal back to the uniform form.
func (c *Chunk) Compact() {
	if c.kind != KindDense {
		return
	}
	if v, ok := c.Uniform(); ok {
		c.kind = KindUniform
		c.fill = v
		c.cells = nil
	}
}

// Equal reports whether both chunks hold identical cells, regardless of representation.
func (c *Chunk) Equal(o *Chunk) bool {
	if c.kind == KindUniform && o.kind == KindUniform {
		return c.fill == o.fill
	}
	for i := 0; i < cube.ChunkVolume; i++ {
		if c.at(i) != o.at(i) {
			return false
		}
	}
	return true
}

func (c *Chunk) at(i int) CellID {
	if c.kind == KindUniform {
		return c.fill
	}
	return c.cells[i]
}
