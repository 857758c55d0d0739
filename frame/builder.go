package frame

// Builder materializes synthetic quick frames in stack memory. It is
// used by tests and by the demo harness to lay out call chains with
// known spill contents.
type Builder struct {
	mem Memory
}

// NewBuilder creates a builder writing through the given memory.
func NewBuilder(mem Memory) *Builder {
	return &Builder{mem: mem}
}

// Activation pairs a code address with the frame info of the method
// executing at that address.
type Activation struct {
	PC   uint32
	Info Info
}

// PlaceFrame writes one frame at base: the return address in the top
// slot and zeros in both spill areas.
func (b *Builder) PlaceFrame(base uint32, info Info, returnAddress uint32) {
	size := info.FrameSizeInBytes()
	for slot := 0; slot < int(size/WordSize); slot++ {
		b.mem.WriteWord(base+uint32(slot)*WordSize, 0)
	}
	b.mem.WriteWord(base+uint32(ReturnAddressSlotIndex(size))*WordSize, returnAddress)
}

// SetSpill stores v in the frame's spill slot for general-purpose
// register reg.
func (b *Builder) SetSpill(base uint32, info Info, reg int, v uint32) {
	slot := SpillSlotIndex(info.CoreSpillMask(), reg, info.FrameSizeInBytes())
	b.mem.WriteWord(base+uint32(slot)*WordSize, v)
}

// SetFpSpill stores the two word halves of floating-point register reg
// in the frame's spill slots, low half first.
func (b *Builder) SetFpSpill(base uint32, info Info, reg int, lo, hi uint32) {
	ls, hs := FpSpillSlotIndexes(info.CoreSpillMask(), info.FpSpillMask(), reg, info.FrameSizeInBytes())
	b.mem.WriteWord(base+uint32(ls)*WordSize, lo)
	b.mem.WriteWord(base+uint32(hs)*WordSize, hi)
}

// PlaceChain lays out a call chain starting with the newest activation
// at sp, each frame's return address pointing at the next activation's
// code address. The final frame returns to callerPC, which is expected
// to lie outside the managed method table. It returns the method table
// the chain implies, ready to seed a Walker.
func (b *Builder) PlaceChain(sp uint32, acts []Activation, callerPC uint32) map[uint32]Info {
	table := make(map[uint32]Info, len(acts))
	base := sp
	for i, act := range acts {
		ret := callerPC
		if i+1 < len(acts) {
			ret = acts[i+1].PC
		}
		b.PlaceFrame(base, act.Info, ret)
		table[act.PC] = act.Info
		base += act.Info.FrameSizeInBytes()
	}
	return table
}
