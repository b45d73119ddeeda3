package codec

import "voxelstream.ai/internal/sim/cube"

// bytesPerBit is the packed size contributed by each bit of width for one chunk.
const bytesPerBit = cube.ChunkVolume / 8

// pack writes vals back to back at width bits each. Value i occupies stream bits
// [i*width, (i+1)*width), and stream bit b is bit b%8 of byte b/8, so values are laid out low bit
// first.
func pack(vals []uint32, width int) []byte {
	out := make([]byte, len(vals)*width/8+boolInt(len(vals)*width%8 != 0))
	var acc uint64
	n := 0
	o := 0
	mask := uint64(1)<<width - 1
	for _, v := range vals {
		acc |= (uint64(v) & mask) << n
		n += width
		for n >= 8 {
			out[o] = byte(acc)
			o++
			acc >>= 8
			n -= 8
		}
	}
	if n > 0 {
		out[o] = byte(acc)
	}
	return out
}

// unpack is the inverse of pack; it fills dst completely.
func unpack(data []byte, width int, dst []uint32) {
	var acc uint64
	n := 0
	i := 0
	mask := uint64(1)<<width - 1
	for k := range dst {
		for n < width {
			acc |= uint64(data[i]) << n
			i++
			n += 8
		}
		dst[k] = uint32(acc & mask)
		acc >>= width
		n -= width
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
