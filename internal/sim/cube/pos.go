// Package cube holds chunk-grid coordinate arithmetic. Everything here is a pure value type.
package cube

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"voxelstream.ai/internal/sim/mathx"
)

const (
	// ChunkEdge is the number of cells along one axis of a chunk.
	ChunkEdge = 16
	// ChunkVolume is the number of cells in a chunk.
	ChunkVolume = ChunkEdge * ChunkEdge * ChunkEdge

	keyBits = 21
	keyMask = 1<<keyBits - 1
	// KeyLimit bounds every component of a ChunkPos that can be turned into a store key.
	KeyLimit = 1 << (keyBits - 1)
)

// ChunkPos identifies a chunk in chunk-grid units.
type ChunkPos struct {
	X, Y, Z int32
}

func Pos(x, y, z int) ChunkPos {
	return ChunkPos{X: int32(x), Y: int32(y), Z: int32(z)}
}

func (p ChunkPos) String() string {
	return fmt.Sprintf("(%d,%d,%d)", p.X, p.Y, p.Z)
}

func (p ChunkPos) Add(o ChunkPos) ChunkPos {
	return ChunkPos{X: p.X + o.X, Y: p.Y + o.Y, Z: p.Z + o.Z}
}

func (p ChunkPos) Sub(o ChunkPos) ChunkPos {
	return ChunkPos{X: p.X - o.X, Y: p.Y - o.Y, Z: p.Z - o.Z}
}

// Array returns the position as [x,y,z], the form used on the wire.
func (p ChunkPos) Array() [3]int32 {
	return [3]int32{p.X, p.Y, p.Z}
}

// Chebyshev returns the ring distance between two chunk positions.
func Chebyshev(a, b ChunkPos) int {
	d := a.Sub(b)
	return mathx.MaxAbs3(int(d.X), int(d.Y), int(d.Z))
}

// Key packs the position into a deterministic int64 document id (21 bits per axis).
// ok is false when a component falls outside [-KeyLimit, KeyLimit).
func (p ChunkPos) Key() (key int64, ok bool) {
	for _, v := range [3]int32{p.X, p.Y, p.Z} {
		if v < -KeyLimit || v >= KeyLimit {
			return 0, false
		}
	}
	ux := uint64(uint32(p.X)) & keyMask
	uy := uint64(uint32(p.Y)) & keyMask
	uz := uint64(uint32(p.Z)) & keyMask
	return int64(ux<<(2*keyBits) | uy<<keyBits | uz), true
}

// PosFromKey is the inverse of ChunkPos.Key.
func PosFromKey(key int64) ChunkPos {
	u := uint64(key)
	return ChunkPos{
		X: signExtend(u >> (2 * keyBits) & keyMask),
		Y: signExtend(u >> keyBits & keyMask),
		Z: signExtend(u & keyMask),
	}
}

func signExtend(v uint64) int32 {
	if v&(1<<(keyBits-1)) != 0 {
		return int32(int64(v) - (1 << keyBits))
	}
	return int32(v)
}

// FromCell returns the chunk containing the world cell (x,y,z).
func FromCell(x, y, z int) ChunkPos {
	return Pos(mathx.FloorDiv(x, ChunkEdge), mathx.FloorDiv(y, ChunkEdge), mathx.FloorDiv(z, ChunkEdge))
}

// FromVec3 returns the chunk containing a continuous world position, such as an observer's eyes.
func FromVec3(v mgl64.Vec3) ChunkPos {
	return FromCell(int(math.Floor(v[0])), int(math.Floor(v[1])), int(math.Floor(v[2])))
}

// Origin returns the world cell at the minimum corner of the chunk.
func (p ChunkPos) Origin() mgl64.Vec3 {
	return mgl64.Vec3{float64(p.X) * ChunkEdge, float64(p.Y) * ChunkEdge, float64(p.Z) * ChunkEdge}
}

// CellIndex maps in-chunk coordinates to a flat index; x varies fastest, then z, then y.
func CellIndex(x, y, z int) int {
	return x + z*ChunkEdge + y*ChunkEdge*ChunkEdge
}

// CellCoords is the inverse of CellIndex.
func CellCoords(i int) (x, y, z int) {
	return i % ChunkEdge, i / (ChunkEdge * ChunkEdge), (i / ChunkEdge) % ChunkEdge
}

// LocalCell splits a world cell into its chunk and in-chunk coordinates.
func LocalCell(x, y, z int) (ChunkPos, int, int, int) {
	return FromCell(x, y, z), mathx.Mod(x, ChunkEdge), mathx.Mod(y, ChunkEdge), mathx.Mod(z, ChunkEdge)
}
