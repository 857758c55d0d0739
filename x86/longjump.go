package x86

import "github.com/unwindlab/quickctx/frame"

// Transfer is the machine-level restore-and-transfer target: the one
// piece of the subsystem that touches hardware (or harness) register
// state directly. Everything else is portable slot bookkeeping.
type Transfer interface {
	// TransferTo atomically loads the floating-point scratch words into
	// XMM0-XMM7, pops EDI, ESI, EBP, (a discarded ESP image), EBX, EDX,
	// ECX and EAX from the general-purpose scratch buffer, loads ESP
	// from the buffer's final element, pops the instruction pointer off
	// the new stack, and resumes execution there. It never returns.
	TransferTo(gprs [NumGPRs + 1]uint32, fprs [NumFPRWords]uint32)
}

// DoLongJump loads the reconstructed register state and transfers
// control to the return address. This is the irreversible terminal
// operation of an unwind pass: it never returns, and with no transfer
// target installed it aborts rather than fall through.
func (c *Context) DoLongJump() {
	if c.transfer == nil {
		panic("x86: long jump is not implemented on this target")
	}

	// GPR scratch, filled backward so the bulk pop restores EDI first
	// and EAX last, plus one slot at the end for the stack pointer,
	// which a bulk pop does not reload.
	var gprs [NumGPRs + 1]uint32
	for reg := 0; reg < NumGPRs; reg++ {
		v, ok := c.GPR(reg)
		if !ok {
			v = badGPRBase + uint32(reg)
		}
		gprs[NumGPRs-1-reg] = v
	}

	var fprs [NumFPRWords]uint32
	for reg := 0; reg < NumFPRWords; reg++ {
		v, ok := c.FPR(reg)
		if !ok {
			v = badFPRBase + uint32(reg)
		}
		fprs[reg] = v
	}

	// Load the stack pointer one word low and plant the target address
	// there, so the final return-style pop lands on eip.
	sp := gprs[NumGPRs-1-ESP] - frame.WordSize
	gprs[NumGPRs] = sp
	c.mem.WriteWord(sp, c.eip)

	c.transfer.TransferTo(gprs, fprs)
	panic("x86: long jump transfer returned")
}
