// Package frame describes the layout of compiled-code ("quick") stack
// frames and provides word-addressed access to the stack memory they
// occupy.
//
// A quick frame of S bytes spans S/4 word slots counted from the frame
// base. The top slot holds the saved return address. The general-purpose
// spill area sits directly below it, with the highest-numbered spilled
// register nearest the top, and the floating-point spill area sits below
// that under the same ordering rule, two word slots per register with the
// low half at the lower address.
package frame

import (
	"fmt"
	"math/bits"

	"golang.org/x/exp/constraints"
)

// WordSize is the machine word size in bytes.
const WordSize = 4

// ReturnAddressSlots is the number of leading word slots at the top of
// every frame reserved for the saved return address.
const ReturnAddressSlots = 1

// Memory provides word-granularity access to stack memory. Slot bindings
// held by a register context resolve through this interface, so writes
// land in the live frame rather than in a copy.
type Memory interface {
	// ReadWord returns the word stored at addr.
	ReadWord(addr uint32) uint32

	// WriteWord stores v at addr.
	WriteWord(addr uint32, v uint32)
}

// Info holds the spill metadata of one compiled method: which registers
// its activations save to the frame and how large the frame is.
type Info struct {
	frameSizeBytes uint32
	coreSpillMask  uint32
	fpSpillMask    uint32
}

// NewInfo creates frame info for a method with the given frame size and
// spill masks. The frame size must be word-aligned and large enough to
// hold the return address plus every spill the masks name.
func NewInfo(frameSizeBytes, coreSpillMask, fpSpillMask uint32) Info {
	if frameSizeBytes%WordSize != 0 {
		panic(fmt.Sprintf("frame: size %d not word aligned", frameSizeBytes))
	}
	need := uint32(ReturnAddressSlots+bits.OnesCount32(coreSpillMask)+2*bits.OnesCount32(fpSpillMask)) * WordSize
	if frameSizeBytes < need {
		panic(fmt.Sprintf("frame: size %d too small for spill masks (need %d)", frameSizeBytes, need))
	}
	return Info{
		frameSizeBytes: frameSizeBytes,
		coreSpillMask:  coreSpillMask,
		fpSpillMask:    fpSpillMask,
	}
}

// FrameSizeInBytes returns the total frame size, including the return
// address slot and both spill areas.
func (i Info) FrameSizeInBytes() uint32 {
	return i.frameSizeBytes
}

// CoreSpillMask returns the bitmask of spilled general-purpose registers.
func (i Info) CoreSpillMask() uint32 {
	return i.coreSpillMask
}

// FpSpillMask returns the bitmask of spilled floating-point registers.
func (i Info) FpSpillMask() uint32 {
	return i.fpSpillMask
}

// SpillCount returns the number of spilled general-purpose registers.
func (i Info) SpillCount() int {
	return bits.OnesCount32(i.coreSpillMask)
}

// FpSpillCount returns the number of spilled floating-point registers.
func (i Info) FpSpillCount() int {
	return bits.OnesCount32(i.fpSpillMask)
}

// SpillSlotIndex returns the word index, counted from the frame base, of
// the spill slot holding general-purpose register reg. The lowest-numbered
// spilled register sits farthest from the top of the frame. Asking for a
// register the mask does not name is a fatal metadata inconsistency.
func SpillSlotIndex(coreSpillMask uint32, reg int, frameSizeBytes uint32) int {
	if coreSpillMask>>reg&1 == 0 {
		panic(fmt.Sprintf("frame: register %d not in core spill mask %#x", reg, coreSpillMask))
	}
	words := int(frameSizeBytes / WordSize)
	count := bits.OnesCount32(coreSpillMask)
	below := bits.OnesCount32(coreSpillMask & (1<<reg - 1))
	slot := words - ReturnAddressSlots - (count - below)
	if slot < 0 {
		panic(fmt.Sprintf("frame: core spill mask %#x overflows frame of %d bytes", coreSpillMask, frameSizeBytes))
	}
	return slot
}

// FpSpillSlotIndexes returns the word indexes, counted from the frame
// base, of the two slots holding floating-point register reg: the low
// half at lo and the high half at hi == lo+1. The floating-point area
// sits below the general-purpose area, under the same ordering rule.
func FpSpillSlotIndexes(coreSpillMask, fpSpillMask uint32, reg int, frameSizeBytes uint32) (lo, hi int) {
	if fpSpillMask>>reg&1 == 0 {
		panic(fmt.Sprintf("frame: register %d not in fp spill mask %#x", reg, fpSpillMask))
	}
	words := int(frameSizeBytes / WordSize)
	count := bits.OnesCount32(coreSpillMask)
	fpCount := bits.OnesCount32(fpSpillMask)
	below := bits.OnesCount32(fpSpillMask & (1<<reg - 1))
	base := words - ReturnAddressSlots - count - 2*fpCount
	if base < 0 {
		panic(fmt.Sprintf("frame: spill masks %#x/%#x overflow frame of %d bytes", coreSpillMask, fpSpillMask, frameSizeBytes))
	}
	lo = base + 2*below
	return lo, lo + 1
}

// ReturnAddressSlotIndex returns the word index, counted from the frame
// base, of the saved return address.
func ReturnAddressSlotIndex(frameSizeBytes uint32) int {
	return int(frameSizeBytes/WordSize) - ReturnAddressSlots
}

// Align rounds v up to the next multiple of boundary, which must be a
// power of two.
func Align[I constraints.Integer](v, boundary I) I {
	return (v + boundary - 1) &^ (boundary - 1)
}
