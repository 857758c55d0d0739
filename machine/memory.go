package machine

import (
	"github.com/unwindlab/quickctx/frame"
)

// pageSize is the granularity of sparse memory allocation.
const pageSize = 4096

// Memory is the harness core's sparse byte-addressable memory. Pages
// are allocated on first touch; reads of untouched memory return zero.
// Values are little-endian.
type Memory struct {
	pages map[uint32]*[pageSize]byte
}

// NewMemory creates an empty memory.
func NewMemory() *Memory {
	return &Memory{pages: make(map[uint32]*[pageSize]byte)}
}

func (m *Memory) page(addr uint32, allocate bool) *[pageSize]byte {
	key := addr / pageSize
	p, ok := m.pages[key]
	if !ok && allocate {
		p = new([pageSize]byte)
		m.pages[key] = p
	}
	return p
}

// Read8 returns the byte at addr.
func (m *Memory) Read8(addr uint32) byte {
	p := m.page(addr, false)
	if p == nil {
		return 0
	}
	return p[addr%pageSize]
}

// Write8 stores b at addr.
func (m *Memory) Write8(addr uint32, b byte) {
	m.page(addr, true)[addr%pageSize] = b
}

// Read32 returns the little-endian 32-bit value at addr.
func (m *Memory) Read32(addr uint32) uint32 {
	var v uint32
	for i := uint32(0); i < 4; i++ {
		v |= uint32(m.Read8(addr+i)) << (8 * i)
	}
	return v
}

// Write32 stores v at addr, little-endian.
func (m *Memory) Write32(addr uint32, v uint32) {
	for i := uint32(0); i < 4; i++ {
		m.Write8(addr+i, byte(v>>(8*i)))
	}
}

// ReadWord returns the word stored at addr.
func (m *Memory) ReadWord(addr uint32) uint32 {
	return m.Read32(addr)
}

// WriteWord stores v at addr.
func (m *Memory) WriteWord(addr uint32, v uint32) {
	m.Write32(addr, v)
}

var _ frame.Memory = (*Memory)(nil)
