// Package x86 implements the register context for 32-bit x86 quick
// frames: slot bookkeeping, spill-mask decoding, caller-save smashing,
// and the long-jump restore sequence.
package x86

// x86-32 general-purpose register numbers, in hardware encoding order.
const (
	EAX = 0
	ECX = 1
	EDX = 2
	EBX = 3
	ESP = 4
	EBP = 5
	ESI = 6
	EDI = 7

	// NumGPRs is the number of general-purpose registers.
	NumGPRs = 8
)

// XMM registers hold scalar doubles, spilled as two 32-bit words each.
const (
	// NumXMMs is the number of floating-point registers.
	NumXMMs = 8

	// NumFPRWords is the number of word-sized floating-point slots: two
	// per XMM register, low half at the even index.
	NumFPRWords = NumXMMs * 2
)

// Debug sentinels seeded into unreconstructed registers. They are
// deliberately outside any mapped address range so a stray use faults
// recognizably instead of reading plausible garbage.
const (
	badGPRBase uint32 = 0xebad6070
	badFPRBase uint32 = 0xebad8070
)

// IsAccessibleGPR reports whether reg may be written through the
// context. On x86 every general-purpose register is accessible; the
// check exists because some architectures reserve indexes (a zero or
// link register) that must reject writes.
func IsAccessibleGPR(reg int) bool {
	return reg >= 0 && reg < NumGPRs
}

// IsAccessibleFPR reports whether the floating-point word slot reg may
// be written through the context.
func IsAccessibleFPR(reg int) bool {
	return reg >= 0 && reg < NumFPRWords
}
