package cube

// ShellSize returns the number of positions at exactly Chebyshev distance k.
func ShellSize(k int) int {
	if k <= 0 {
		return 1
	}
	side := 2*k + 1
	inner := 2*k - 1
	return side*side*side - inner*inner*inner
}

// Shell appends to dst every position at exactly Chebyshev distance k from center, in a fixed
// order (y, then z, then x ascending), and returns the extended slice.
func Shell(dst []ChunkPos, center ChunkPos, k int) []ChunkPos {
	if k < 0 {
		return dst
	}
	if k == 0 {
		return append(dst, center)
	}
	r := int32(k)
	for dy := -r; dy <= r; dy++ {
		yFace := dy == -r || dy == r
		for dz := -r; dz <= r; dz++ {
			if yFace || dz == -r || dz == r {
				for dx := -r; dx <= r; dx++ {
					dst = append(dst, ChunkPos{X: center.X + dx, Y: center.Y + dy, Z: center.Z + dz})
				}
				continue
			}
			dst = append(dst,
				ChunkPos{X: center.X - r, Y: center.Y + dy, Z: center.Z + dz},
				ChunkPos{X: center.X + r, Y: center.Y + dy, Z: center.Z + dz},
			)
		}
	}
	return dst
}

// Bounds is the spatial filter of a level. A zero Bounds admits everything.
type Bounds struct {
	Min, Max ChunkPos
	Limited  bool
}

// VerticalBounds admits only chunk rows minY..maxY (inclusive).
func VerticalBounds(minY, maxY int) Bounds {
	return Bounds{
		Min:     ChunkPos{X: -KeyLimit, Y: int32(minY), Z: -KeyLimit},
		Max:     ChunkPos{X: KeyLimit - 1, Y: int32(maxY), Z: KeyLimit - 1},
		Limited: true,
	}
}

func (b Bounds) Contains(p ChunkPos) bool {
	if !b.Limited {
		return true
	}
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// Filter keeps the positions in ps admitted by b, reusing ps' storage.
func (b Bounds) Filter(ps []ChunkPos) []ChunkPos {
	if !b.Limited {
		return ps
	}
	out := ps[:0]
	for _, p := range ps {
		if b.Contains(p) {
			out = append(out, p)
		}
	}
	return out
}
