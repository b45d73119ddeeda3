package chunk

import (
	"errors"
	"testing"

	"voxelstream.ai/internal/sim/cube"
)

type tableLen int

func (t tableLen) Len() int { return int(t) }

func TestEmptyChunk(t *testing.T) {
	f := NewFactory(tableLen(8))
	c := f.Empty(cube.Pos(1, 2, 3), true)
	if !c.IsEmpty() || c.Kind() != KindUniform {
		t.Fatalf("expected empty uniform chunk, got kind=%v", c.Kind())
	}
	if c.Get(5, 5, 5) != Air {
		t.Fatalf("expected air")
	}
	if c.Pos() != cube.Pos(1, 2, 3) {
		t.Fatalf("pos mismatch: %v", c.Pos())
	}
}

func TestSetMaterializesDense(t *testing.T) {
	f := NewFactory(tableLen(8))
	c, err := f.Filled(cube.Pos(0, 0, 0), 3)
	if err != nil {
		t.Fatalf("Filled: %v", err)
	}
	if err := c.Set(1, 1, 1, 3); err != nil {
		t.Fatalf("Set same value: %v", err)
	}
	if c.Kind() != KindUniform || c.Dirty() {
		t.Fatalf("writing the fill value must not materialize or dirty the chunk")
	}
	if err := c.Set(1, 2, 3, 5); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if c.Kind() != KindDense || !c.Dirty() {
		t.Fatalf("expected dense dirty chunk")
	}
	if c.Get(1, 2, 3) != 5 || c.Get(0, 0, 0) != 3 {
		t.Fatalf("unexpected cells: %d %d", c.Get(1, 2, 3), c.Get(0, 0, 0))
	}
	if _, ok := c.Uniform(); ok {
		t.Fatalf("mixed chunk reported uniform")
	}

	if err := c.Set(1, 2, 3, 3); err != nil {
		t.Fatalf("Set: %v", err)
	}
	c.Compact()
	if v, ok := c.Uniform(); !ok || v != 3 || c.Kind() != KindUniform {
		t.Fatalf("expected compacted uniform chunk of 3, got %d ok=%v kind=%v", v, ok, c.Kind())
	}
}

func TestReadOnlyChunkRejectsWrites(t *testing.T) {
	f := NewFactory(tableLen(2))
	c := f.Empty(cube.Pos(0, 0, 0), false)
	if err := c.Set(0, 0, 0, 1); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
}

func TestSetRejectsIDsOutsideTable(t *testing.T) {
	f := NewFactory(tableLen(4))
	for _, c := range []*Chunk{f.Empty(cube.Pos(0, 0, 0), true), mustFilled(t, f, 2)} {
		if err := c.Set(1, 1, 1, 4); !errors.Is(err, ErrCellOutOfRange) {
			t.Fatalf("%v chunk: expected ErrCellOutOfRange, got %v", c.Kind(), err)
		}
		if c.Dirty() || c.Get(1, 1, 1) == 4 {
			t.Fatalf("rejected write changed the chunk")
		}
		if err := c.Set(1, 1, 1, 3); err != nil {
			t.Fatalf("Set last id: %v", err)
		}
	}
}

func mustFilled(t *testing.T, f *Factory, id CellID) *Chunk {
	t.Helper()
	c, err := f.Filled(cube.Pos(0, 0, 0), id)
	if err != nil {
		t.Fatalf("Filled: %v", err)
	}
	return c
}

func TestFromCells(t *testing.T) {
	f := NewFactory(tableLen(4))
	ids := make([]CellID, cube.ChunkVolume)
	c, err := f.FromCells(cube.Pos(0, 0, 0), ids)
	if err != nil {
		t.Fatalf("FromCells: %v", err)
	}
	if !c.IsEmpty() {
		t.Fatalf("all-zero cells must yield the empty uniform form")
	}

	ids[cube.CellIndex(15, 15, 15)] = 3
	c, err = f.FromCells(cube.Pos(0, 0, 0), ids)
	if err != nil {
		t.Fatalf("FromCells: %v", err)
	}
	if c.Kind() != KindDense || c.Get(15, 15, 15) != 3 {
		t.Fatalf("unexpected chunk: kind=%v cell=%d", c.Kind(), c.Get(15, 15, 15))
	}
	ids[0] = 9
	if _, err := f.FromCells(cube.Pos(0, 0, 0), ids); !errors.Is(err, ErrCellOutOfRange) {
		t.Fatalf("expected ErrCellOutOfRange, got %v", err)
	}
	if _, err := f.FromCells(cube.Pos(0, 0, 0), ids[:10]); err == nil {
		t.Fatalf("expected length error")
	}
}

func TestCopyOutAndEqual(t *testing.T) {
	f := NewFactory(tableLen(4))
	a, _ := f.Filled(cube.Pos(0, 0, 0), 2)
	ids := a.Cells()
	b, err := f.FromCells(cube.Pos(0, 0, 0), ids)
	if err != nil {
		t.Fatalf("FromCells: %v", err)
	}
	if !a.Equal(b) {
		t.Fatalf("expected equal chunks")
	}
	_ = b.Set(4, 4, 4, 1)
	if a.Equal(b) {
		t.Fatalf("expected chunks to differ after Set")
	}
	out := b.CopyOut(make([]CellID, cube.ChunkVolume+10))
	if len(out) != cube.ChunkVolume || out[cube.CellIndex(4, 4, 4)] != 1 {
		t.Fatalf("unexpected CopyOut result")
	}
}
