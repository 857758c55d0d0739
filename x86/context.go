package x86

import (
	"fmt"

	"github.com/unwindlab/quickctx/frame"
	"github.com/unwindlab/quickctx/unwind"
)

// slotState tags a register slot. The tag, not an address value, encodes
// the unset and protected states, so no representable address is ever
// reserved as a sentinel.
type slotState uint8

const (
	// slotUnset means the register's location is not known at this point
	// in the walk.
	slotUnset slotState = iota

	// slotBound means the slot references a word of stack memory.
	slotBound

	// slotStackPointer means the slot references the context's internal
	// stack pointer scalar. Only ever held by the ESP slot.
	slotStackPointer

	// slotZero means the slot references the process-wide read-only zero
	// word. Reads yield zero; writes are a fatal contract violation.
	slotZero
)

type slot struct {
	state slotState
	addr  uint32
}

// Context is the x86-32 register context for one unwind pass. Slots
// reference words of the stack memory behind mem; the context owns none
// of that memory and must not outlive the frames it references.
type Context struct {
	mem      frame.Memory
	transfer Transfer

	gprs [NumGPRs]slot
	fprs [NumFPRWords]slot

	// esp backs the stack pointer slot: the long jump computes the stack
	// pointer's value fresh, so it is never bound to a spill location.
	esp uint32

	// eip is the resume address. Always a value, produced by the
	// unwinder rather than read from a spill.
	eip uint32
}

// NewContext creates a reset context over the given stack memory.
// transfer is the machine-level restore target consumed by DoLongJump;
// passing nil leaves the long jump unimplemented, which aborts if
// reached.
func NewContext(mem frame.Memory, transfer Transfer) *Context {
	c := &Context{mem: mem, transfer: transfer}
	c.Reset()
	return c
}

// Reset clears every slot to unset, rebinds the stack pointer slot to
// its internal scalar, and seeds the stack pointer and return address
// with out-of-range debug values so accidental use of an unpopulated
// context fails loudly.
func (c *Context) Reset() {
	for i := range c.gprs {
		c.gprs[i] = slot{state: slotUnset}
	}
	for i := range c.fprs {
		c.fprs[i] = slot{state: slotUnset}
	}
	c.gprs[ESP] = slot{state: slotStackPointer}
	c.esp = badGPRBase + ESP
	c.eip = badGPRBase + NumGPRs
}

// FillCalleeSaves binds the registers spilled by the visited activation
// to their spill slots in that frame. Registers whose mask bit is clear
// keep the binding (or lack of one) they already had, since one context
// accumulates state across a multi-frame walk.
func (c *Context) FillCalleeSaves(cur frame.Cursor) {
	info := cur.MethodInfo()
	size := info.FrameSizeInBytes()
	if info.SpillCount() > 0 {
		mask := info.CoreSpillMask()
		// Lowest-numbered spill is farthest from the top of the frame.
		for reg := 0; reg < NumGPRs; reg++ {
			if mask>>reg&1 == 0 {
				continue
			}
			idx := frame.SpillSlotIndex(mask, reg, size)
			c.gprs[reg] = slot{state: slotBound, addr: cur.SpillAddress(idx, size)}
		}
	}
	if info.FpSpillCount() > 0 {
		mask := info.FpSpillMask()
		for reg := 0; reg < NumXMMs; reg++ {
			if mask>>reg&1 == 0 {
				continue
			}
			// Two word slots per XMM register, low half first.
			lo, hi := frame.FpSpillSlotIndexes(info.CoreSpillMask(), mask, reg, size)
			c.fprs[2*reg] = slot{state: slotBound, addr: cur.SpillAddress(lo, size)}
			c.fprs[2*reg+1] = slot{state: slotBound, addr: cur.SpillAddress(hi, size)}
		}
	}
}

// SmashCallerSaves overwrites every register not preserved across a
// call: EAX and EDX, the integer/object return pair, are bound to the
// protected zero so a handler expecting no result sees zero; ECX and
// EBX become unset; every floating-point slot becomes unset.
func (c *Context) SmashCallerSaves() {
	c.gprs[EAX] = slot{state: slotZero}
	c.gprs[EDX] = slot{state: slotZero}
	c.gprs[ECX] = slot{state: slotUnset}
	c.gprs[EBX] = slot{state: slotUnset}
	for i := range c.fprs {
		c.fprs[i] = slot{state: slotUnset}
	}
}

// SetGPR writes value through the binding of general-purpose register
// reg. An out-of-range index, an unset slot, or the protected zero slot
// is a fatal contract violation.
func (c *Context) SetGPR(reg int, value uint32) {
	if reg < 0 || reg >= NumGPRs {
		panic(fmt.Sprintf("x86: GPR index %d out of range", reg))
	}
	if !IsAccessibleGPR(reg) {
		panic(fmt.Sprintf("x86: GPR %d not accessible", reg))
	}
	c.writeSlot(&c.gprs[reg], "GPR", reg, value)
}

// SetFPR writes value through the binding of floating-point word slot
// reg, under the same fatality rules as SetGPR.
func (c *Context) SetFPR(reg int, value uint32) {
	if reg < 0 || reg >= NumFPRWords {
		panic(fmt.Sprintf("x86: FPR index %d out of range", reg))
	}
	if !IsAccessibleFPR(reg) {
		panic(fmt.Sprintf("x86: FPR %d not accessible", reg))
	}
	c.writeSlot(&c.fprs[reg], "FPR", reg, value)
}

func (c *Context) writeSlot(s *slot, kind string, reg int, value uint32) {
	switch s.state {
	case slotZero:
		panic(fmt.Sprintf("x86: %s %d is bound to the protected zero", kind, reg))
	case slotUnset:
		panic(fmt.Sprintf("x86: %s %d has no storage to write through", kind, reg))
	case slotStackPointer:
		c.esp = value
	case slotBound:
		c.mem.WriteWord(s.addr, value)
	}
}

// SetStackPointer sets the stack pointer value the long jump will
// reconstruct.
func (c *Context) SetStackPointer(value uint32) {
	c.SetGPR(ESP, value)
}

// SetReturnAddress sets the instruction address the long jump resumes
// at.
func (c *Context) SetReturnAddress(value uint32) {
	c.eip = value
}

// GPR reads the current logical value of reg through its binding. ok is
// false for an unset slot.
func (c *Context) GPR(reg int) (value uint32, ok bool) {
	if reg < 0 || reg >= NumGPRs {
		panic(fmt.Sprintf("x86: GPR index %d out of range", reg))
	}
	return c.readSlot(c.gprs[reg])
}

// FPR reads the current logical value of floating-point word slot reg
// through its binding. ok is false for an unset slot.
func (c *Context) FPR(reg int) (value uint32, ok bool) {
	if reg < 0 || reg >= NumFPRWords {
		panic(fmt.Sprintf("x86: FPR index %d out of range", reg))
	}
	return c.readSlot(c.fprs[reg])
}

func (c *Context) readSlot(s slot) (uint32, bool) {
	switch s.state {
	case slotBound:
		return c.mem.ReadWord(s.addr), true
	case slotStackPointer:
		return c.esp, true
	case slotZero:
		return 0, true
	default:
		return 0, false
	}
}

// GPRAddress returns the stack address reg is bound to. ok is false
// when the slot is unset or backed by internal or protected storage.
func (c *Context) GPRAddress(reg int) (addr uint32, ok bool) {
	if reg < 0 || reg >= NumGPRs {
		panic(fmt.Sprintf("x86: GPR index %d out of range", reg))
	}
	s := c.gprs[reg]
	return s.addr, s.state == slotBound
}

// FPRAddress returns the stack address floating-point word slot reg is
// bound to. ok is false when the slot is not bound to stack memory.
func (c *Context) FPRAddress(reg int) (addr uint32, ok bool) {
	if reg < 0 || reg >= NumFPRWords {
		panic(fmt.Sprintf("x86: FPR index %d out of range", reg))
	}
	s := c.fprs[reg]
	return s.addr, s.state == slotBound
}

// StackPointer returns the current stack pointer scalar.
func (c *Context) StackPointer() uint32 {
	return c.esp
}

// ReturnAddress returns the current resume address scalar.
func (c *Context) ReturnAddress() uint32 {
	return c.eip
}

var _ unwind.Context = (*Context)(nil)
