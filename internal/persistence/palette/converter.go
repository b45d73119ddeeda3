package palette

// Unmapped marks a stored id whose descriptor no longer exists in the current dictionary.
const Unmapped int32 = -1

// Converter maps the ids of one stored dictionary version onto current ids. It is never mutated
// after the collection is loaded and may be shared between goroutines.
type Converter []int32

// Convert maps a stored id. ok is false when the id is out of range or unmapped.
func (c Converter) Convert(id uint32) (uint32, bool) {
	if uint64(id) >= uint64(len(c)) {
		return 0, false
	}
	v := c[id]
	if v == Unmapped {
		return 0, false
	}
	return uint32(v), true
}

// IsIdentity reports whether the converter maps a dictionary of size n onto itself unchanged.
func (c Converter) IsIdentity(n int) bool {
	if len(c) != n {
		return false
	}
	for i, v := range c {
		if v != int32(i) {
			return false
		}
	}
	return true
}

// UnmappedCount returns how many stored ids have no current id.
func (c Converter) UnmappedCount() int {
	n := 0
	for _, v := range c {
		if v == Unmapped {
			n++
		}
	}
	return n
}

func identity(n int) Converter {
	c := make(Converter, n)
	for i := range c {
		c[i] = int32(i)
	}
	return c
}
