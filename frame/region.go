package frame

import "fmt"

// Region is a self-contained strip of word-addressed stack memory. It
// stands in for the portion of a suspended thread's stack that an unwind
// pass touches, without requiring a full machine behind it.
type Region struct {
	base  uint32
	words []uint32
}

// NewRegion creates a region of sizeBytes bytes starting at base. Both
// values are rounded up to word alignment.
func NewRegion(base, sizeBytes uint32) *Region {
	base = Align(base, WordSize)
	sizeBytes = Align(sizeBytes, WordSize)
	return &Region{
		base:  base,
		words: make([]uint32, sizeBytes/WordSize),
	}
}

// Base returns the lowest address covered by the region.
func (r *Region) Base() uint32 {
	return r.base
}

// Size returns the region size in bytes.
func (r *Region) Size() uint32 {
	return uint32(len(r.words)) * WordSize
}

// End returns the first address past the region.
func (r *Region) End() uint32 {
	return r.base + r.Size()
}

func (r *Region) index(addr uint32) int {
	if addr%WordSize != 0 {
		panic(fmt.Sprintf("frame: unaligned stack access at %#x", addr))
	}
	if addr < r.base || addr >= r.End() {
		panic(fmt.Sprintf("frame: stack access at %#x outside region [%#x, %#x)", addr, r.base, r.End()))
	}
	return int((addr - r.base) / WordSize)
}

// ReadWord returns the word stored at addr.
func (r *Region) ReadWord(addr uint32) uint32 {
	return r.words[r.index(addr)]
}

// WriteWord stores v at addr.
func (r *Region) WriteWord(addr uint32, v uint32) {
	r.words[r.index(addr)] = v
}

var _ Memory = (*Region)(nil)
