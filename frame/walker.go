package frame

import "fmt"

// Cursor exposes the compiled-code activation currently visited by a
// stack walk. A register context consumes this interface to locate the
// visited frame's spill slots.
type Cursor interface {
	// MethodInfo returns the spill metadata of the visited activation's
	// method.
	MethodInfo() Info

	// SpillAddress returns the address of the given word slot, counted
	// from the visited frame's base.
	SpillAddress(slot int, frameSizeBytes uint32) uint32
}

// Walker iterates the physical quick frames of a suspended thread,
// newest to oldest. Frames are located by size: each frame's saved
// return address identifies the caller's method, whose frame begins
// directly above.
type Walker struct {
	mem   Memory
	table map[uint32]Info
	base  uint32
	info  Info
	depth int
}

// NewWalker starts a walk at the newest frame. sp is that frame's base
// address and pc the code address of the method executing in it; table
// maps code addresses to the owning method's frame info.
func NewWalker(mem Memory, table map[uint32]Info, sp, pc uint32) *Walker {
	info, ok := table[pc]
	if !ok {
		panic(fmt.Sprintf("frame: no method at pc %#x", pc))
	}
	return &Walker{
		mem:   mem,
		table: table,
		base:  sp,
		info:  info,
	}
}

// MethodInfo returns the visited activation's frame info.
func (w *Walker) MethodInfo() Info {
	return w.info
}

// SpillAddress returns the address of the given word slot within the
// visited frame. Slots outside the frame are a fatal metadata
// inconsistency.
func (w *Walker) SpillAddress(slot int, frameSizeBytes uint32) uint32 {
	if slot < 0 || slot >= int(frameSizeBytes/WordSize) {
		panic(fmt.Sprintf("frame: spill slot %d outside frame of %d bytes", slot, frameSizeBytes))
	}
	return w.base + uint32(slot)*WordSize
}

// FrameBase returns the visited frame's base address.
func (w *Walker) FrameBase() uint32 {
	return w.base
}

// ReturnAddress returns the visited frame's saved return address.
func (w *Walker) ReturnAddress() uint32 {
	slot := ReturnAddressSlotIndex(w.info.FrameSizeInBytes())
	return w.mem.ReadWord(w.base + uint32(slot)*WordSize)
}

// Depth returns the number of frames crossed so far.
func (w *Walker) Depth() int {
	return w.depth
}

// Next advances to the caller's frame. It returns false when the saved
// return address does not belong to a compiled method, which marks the
// end of the managed portion of the stack.
func (w *Walker) Next() bool {
	info, ok := w.table[w.ReturnAddress()]
	if !ok {
		return false
	}
	w.base += w.info.FrameSizeInBytes()
	w.info = info
	w.depth++
	return true
}

var _ Cursor = (*Walker)(nil)
