package gen

import "voxelstream.ai/internal/sim/mathx"

func BiomeFrom(noise uint64) string {
	switch noise % 3 {
	case 0:
		return "PLAINS"
	case 1:
		return "FOREST"
	default:
		return "DESERT"
	}
}

func BiomeAt(seed int64, x, z, regionSize int) string {
	if regionSize <= 0 {
		regionSize = 1
	}
	rx := mathx.FloorDiv(x, regionSize)
	rz := mathx.FloorDiv(z, regionSize)
	return BiomeFrom(mathx.Hash2(seed, rx, rz))
}

func ScalePermille(base uint64, scalePermille int) uint64 {
	if scalePermille <= 0 {
		scalePermille = 1000
	}
	scaled := (base*uint64(scalePermille) + 500) / 1000
	if scaled > 1000 {
		return 1000
	}
	return scaled
}

// ValueNoise returns smooth noise in [0,1000) with features roughly cell cells apart.
func ValueNoise(seed int64, x, z, cell int) int {
	gx, gz := mathx.FloorDiv(x, cell), mathx.FloorDiv(z, cell)
	tx := mathx.Mod(x, cell) * 1000 / cell
	tz := mathx.Mod(z, cell) * 1000 / cell
	corner := func(dx, dz int) int { return int(mathx.Hash2(seed, gx+dx, gz+dz) % 1000) }
	top := mathx.Lerp(corner(0, 0), corner(1, 0), tx)
	bottom := mathx.Lerp(corner(0, 1), corner(1, 1), tx)
	return mathx.Lerp(top, bottom, tz)
}

// InCluster3 reports whether (x,y,z) lies inside one of the spheres scattered over a grid of
// cubes of edge grid. Each grid cube holds a sphere with probability probPermille.
func InCluster3(seed int64, x, y, z, grid, radius int, probPermille uint64) bool {
	if grid <= 0 || radius <= 0 || probPermille == 0 {
		return false
	}
	gx := mathx.FloorDiv(x, grid)
	gy := mathx.FloorDiv(y, grid)
	gz := mathx.FloorDiv(z, grid)
	r2 := radius * radius

	for dy := -1; dy <= 1; dy++ {
		for dz := -1; dz <= 1; dz++ {
			for dx := -1; dx <= 1; dx++ {
				cgx, cgy, cgz := gx+dx, gy+dy, gz+dz
				h := mathx.Hash3(seed, cgx, cgy, cgz)
				if h%1000 >= probPermille {
					continue
				}
				cx := cgx*grid + int((h>>10)%uint64(grid))
				cy := cgy*grid + int((h>>20)%uint64(grid))
				cz := cgz*grid + int((h>>30)%uint64(grid))
				ddx, ddy, ddz := x-cx, y-cy, z-cz
				if ddx*ddx+ddy*ddy+ddz*ddz <= r2 {
					return true
				}
			}
		}
	}
	return false
}
