package protocol

import "fmt"

// ChunkCellCount is the number of cells in one chunk snapshot.
const ChunkCellCount = 16 * 16 * 16

// CHUNK_LOAD (server -> client)
type ChunkLoadMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	LevelGUID       string     `json:"level_guid"`
	Pos             [3]int32   `json:"pos"`
	Cells           ChunkCells `json:"cells"`
}

// ChunkCells is the decoded snapshot of a chunk's cell ids, x fastest then z then y. A uniform
// chunk carries only Value; any other chunk carries all ChunkCellCount ids in Data.
type ChunkCells struct {
	Value *uint32  `json:"value,omitempty"`
	Data  []uint32 `json:"data,omitempty"`
}

// Uniform reports the single cell id of a uniform snapshot.
func (c ChunkCells) Uniform() (uint32, bool) {
	if c.Value == nil {
		return 0, false
	}
	return *c.Value, true
}

// Expand returns the snapshot as ChunkCellCount cell ids, reusing dst when it is large enough.
func (c ChunkCells) Expand(dst []uint32) ([]uint32, error) {
	if v, ok := c.Uniform(); ok {
		if len(c.Data) != 0 {
			return nil, fmt.Errorf("chunk cells: both value and data set")
		}
		dst = grow(dst)
		for i := range dst {
			dst[i] = v
		}
		return dst, nil
	}
	if len(c.Data) != ChunkCellCount {
		return nil, fmt.Errorf("chunk cells: got %d ids want %d", len(c.Data), ChunkCellCount)
	}
	dst = grow(dst)
	copy(dst, c.Data)
	return dst, nil
}

func grow(dst []uint32) []uint32 {
	if cap(dst) < ChunkCellCount {
		return make([]uint32, ChunkCellCount)
	}
	return dst[:ChunkCellCount]
}

// CHUNK_UNLOAD (server -> client)
type ChunkUnloadMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	LevelGUID       string   `json:"level_guid"`
	Pos             [3]int32 `json:"pos"`
}
