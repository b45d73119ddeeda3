package protocol_test

import (
	"testing"

	"voxelstream.ai/internal/protocol"
)

func TestChunkCellsExpand(t *testing.T) {
	seven := uint32(7)
	cells, err := protocol.ChunkCells{Value: &seven}.Expand(nil)
	if err != nil || len(cells) != protocol.ChunkCellCount || cells[0] != 7 || cells[4095] != 7 {
		t.Fatalf("uniform Expand len=%d err=%v", len(cells), err)
	}

	data := make([]uint32, protocol.ChunkCellCount)
	data[300] = 5000
	scratch := make([]uint32, 0, protocol.ChunkCellCount)
	got, err := protocol.ChunkCells{Data: data}.Expand(scratch)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if &got[0] != &scratch[:1][0] {
		t.Fatalf("scratch buffer not reused")
	}
	if got[300] != 5000 || got[301] != 0 {
		t.Fatalf("cells not copied: %d %d", got[300], got[301])
	}
	data[300] = 1
	if got[300] != 5000 {
		t.Fatalf("Expand aliases the payload")
	}

	bad := map[string]protocol.ChunkCells{
		"short":      {Data: make([]uint32, 10)},
		"empty":      {},
		"value+data": {Value: &seven, Data: make([]uint32, protocol.ChunkCellCount)},
	}
	for name, c := range bad {
		if _, err := c.Expand(nil); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
