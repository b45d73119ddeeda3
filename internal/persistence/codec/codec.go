package codec

import (
	"errors"
	"fmt"
	"math/bits"

	"voxelstream.ai/internal/persistence/palette"
	"voxelstream.ai/internal/sim/chunk"
	"voxelstream.ai/internal/sim/cube"
)

var (
	// ErrMalformed covers records that cannot describe a chunk: bad fields, a data length that does not
	// match a bit width, or a local index outside the local dictionary.
	ErrMalformed = errors.New("malformed chunk record")
	// ErrUnmappedID means a stored id has no current id; the content was removed from the dictionary.
	ErrUnmappedID = errors.New("unmapped palette id")
	// ErrUnknownVersion means the record names a palette version the save does not have.
	ErrUnknownVersion = errors.New("unknown palette version")
)

// localOverhead is the fixed cost in bits of carrying a local dictionary (its array length).
const localOverhead = 32

// Palette is the part of a palette collection the codec reads.
type Palette interface {
	CurrentVersionID() int32
	TryGetConverter(version int32) (palette.Converter, bool)
}

// Codec converts chunks to and from records for one palette. It is safe for concurrent use.
type Codec struct {
	palette Palette
	factory *chunk.Factory
}

func New(p Palette, f *chunk.Factory) *Codec {
	return &Codec{palette: p, factory: f}
}

// Encode builds the record of c stamped with the current palette version.
func (c *Codec) Encode(ch *chunk.Chunk) Record {
	rec := Record{PaletteVersion: c.palette.CurrentVersionID()}
	if v, ok := ch.Uniform(); ok {
		rec.Value = int32(v)
		return rec
	}

	cells := ch.Cells()
	var maxID chunk.CellID
	local := map[chunk.CellID]uint32{}
	var order []int32
	for _, id := range cells {
		maxID = max(maxID, id)
		if _, ok := local[id]; !ok {
			local[id] = uint32(len(order))
			order = append(order, int32(id))
		}
	}

	bitsGlobal := bits.Len32(uint32(maxID))
	bitsLocal := bits.Len32(uint32(len(order)))
	globalSize := bitsGlobal * cube.ChunkVolume
	localSize := bitsLocal*cube.ChunkVolume + len(order)*32 + localOverhead

	vals := make([]uint32, cube.ChunkVolume)
	if localSize < globalSize {
		for i, id := range cells {
			vals[i] = local[id]
		}
		rec.Data = pack(vals, bitsLocal)
		rec.Local = order
		return rec
	}
	for i, id := range cells {
		vals[i] = uint32(id)
	}
	rec.Data = pack(vals, bitsGlobal)
	return rec
}

// Decode rebuilds the chunk at pos from rec, converting ids written under an older palette
// version. Ids that no longer exist fail the decode with ErrUnmappedID.
func (c *Codec) Decode(pos cube.ChunkPos, rec Record) (*chunk.Chunk, error) {
	conv, err := c.converter(rec.PaletteVersion)
	if err != nil {
		return nil, fmt.Errorf("chunk %v: %w", pos, err)
	}

	if rec.Scalar() {
		if len(rec.Local) > 0 {
			return nil, fmt.Errorf("chunk %v: %w: local dictionary without data", pos, ErrMalformed)
		}
		if rec.Value < 0 {
			return nil, fmt.Errorf("chunk %v: %w: negative value %d", pos, ErrMalformed, rec.Value)
		}
		id, err := convert(conv, uint32(rec.Value))
		if err != nil {
			return nil, fmt.Errorf("chunk %v: %w", pos, err)
		}
		ch, err := c.factory.Filled(pos, chunk.CellID(id))
		if err != nil {
			return nil, fmt.Errorf("chunk %v: %w: %v", pos, ErrMalformed, err)
		}
		return ch, nil
	}

	width, err := rec.Width()
	if err != nil {
		return nil, fmt.Errorf("chunk %v: %w", pos, err)
	}
	vals := make([]uint32, cube.ChunkVolume)
	unpack(rec.Data, width, vals)

	if len(rec.Local) > 0 {
		for i, v := range vals {
			if int(v) >= len(rec.Local) {
				return nil, fmt.Errorf("chunk %v: %w: local index %d of %d at cell %d", pos, ErrMalformed, v, len(rec.Local), i)
			}
			g := rec.Local[v]
			if g < 0 {
				return nil, fmt.Errorf("chunk %v: %w: negative local entry %d", pos, ErrMalformed, g)
			}
			vals[i] = uint32(g)
		}
	}

	ids := make([]chunk.CellID, cube.ChunkVolume)
	for i, v := range vals {
		id, err := convert(conv, v)
		if err != nil {
			return nil, fmt.Errorf("chunk %v: cell %d: %w", pos, i, err)
		}
		ids[i] = chunk.CellID(id)
	}
	ch, err := c.factory.FromCells(pos, ids)
	if err != nil {
		return nil, fmt.Errorf("chunk %v: %w: %v", pos, ErrMalformed, err)
	}
	return ch, nil
}

// converter returns nil for the current version, whose ids need no conversion.
func (c *Codec) converter(version int32) (palette.Converter, error) {
	if version == c.palette.CurrentVersionID() {
		return nil, nil
	}
	conv, ok := c.palette.TryGetConverter(version)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVersion, version)
	}
	return conv, nil
}

func convert(conv palette.Converter, id uint32) (uint32, error) {
	if conv == nil {
		return id, nil
	}
	out, ok := conv.Convert(id)
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnmappedID, id)
	}
	return out, nil
}

// EncodeDoc encodes ch straight to a store document.
func (c *Codec) EncodeDoc(ch *chunk.Chunk) ([]byte, error) {
	return Marshal(c.Encode(ch))
}

// DecodeDoc decodes a store document.
func (c *Codec) DecodeDoc(pos cube.ChunkPos, doc []byte) (*chunk.Chunk, int32, error) {
	rec, err := Unmarshal(doc)
	if err != nil {
		return nil, 0, fmt.Errorf("chunk %v: %w", pos, err)
	}
	ch, err := c.Decode(pos, rec)
	return ch, rec.PaletteVersion, err
}
