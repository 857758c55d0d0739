// Package machine provides the x86-32 execution harness the register
// context subsystem restores into: a register file, sparse stack memory
// with an optional cache model in front, and native-routine dispatch at
// code addresses so resumed execution can be observed.
package machine

import (
	"fmt"

	"github.com/unwindlab/quickctx/x86"
)

// RegFile represents the harness core's x86-32 register file.
type RegFile struct {
	// GPR holds the general-purpose registers, indexed by hardware
	// register number (x86.EAX .. x86.EDI).
	GPR [x86.NumGPRs]uint32

	// XMM holds the floating-point registers as whole 64-bit values.
	XMM [x86.NumXMMs]uint64

	// EIP is the instruction pointer.
	EIP uint32
}

// Read returns the value of general-purpose register reg.
func (r *RegFile) Read(reg int) uint32 {
	if reg < 0 || reg >= x86.NumGPRs {
		panic(fmt.Sprintf("machine: GPR index %d out of range", reg))
	}
	return r.GPR[reg]
}

// Write sets general-purpose register reg to value.
func (r *RegFile) Write(reg int, value uint32) {
	if reg < 0 || reg >= x86.NumGPRs {
		panic(fmt.Sprintf("machine: GPR index %d out of range", reg))
	}
	r.GPR[reg] = value
}

// ReadXMM returns floating-point register reg as a 64-bit value.
func (r *RegFile) ReadXMM(reg int) uint64 {
	if reg < 0 || reg >= x86.NumXMMs {
		panic(fmt.Sprintf("machine: XMM index %d out of range", reg))
	}
	return r.XMM[reg]
}

// WriteXMM sets floating-point register reg from two 32-bit word
// halves, low half first.
func (r *RegFile) WriteXMM(reg int, lo, hi uint32) {
	if reg < 0 || reg >= x86.NumXMMs {
		panic(fmt.Sprintf("machine: XMM index %d out of range", reg))
	}
	r.XMM[reg] = uint64(lo) | uint64(hi)<<32
}

// SP returns the stack pointer.
func (r *RegFile) SP() uint32 {
	return r.GPR[x86.ESP]
}
