// Package unwind defines the register-context contract consumed by the
// runtime's exception-delivery and stack-unwinding machinery, and the
// driver that walks a thread's compiled frames against it.
//
// A Context reconstructs a suspended thread's logical register state one
// frame at a time. It holds bindings into live stack memory rather than
// copies, so edits made through it land in the frames themselves. The
// sequence is always: Reset, FillCalleeSaves per visited frame, optional
// mutation, then exactly one DoLongJump, which transfers control and does
// not return.
package unwind

import "github.com/unwindlab/quickctx/frame"

// Context is the per-architecture register context. Every operation that
// names a register index treats an out-of-range or otherwise inaccessible
// index as a fatal contract violation: the caller is the compiler-facing
// runtime, and a bad index means corrupted metadata, not a recoverable
// condition.
type Context interface {
	// Reset clears every register slot to unset, rebinds the stack
	// pointer slot to internal storage, and seeds the stack pointer and
	// return address with recognizable out-of-range debug values.
	Reset()

	// FillCalleeSaves binds the registers spilled by the visited
	// activation to their spill slots in that frame. Registers outside
	// the spill masks keep whatever binding they already had.
	FillCalleeSaves(cur frame.Cursor)

	// SmashCallerSaves forgets every register not preserved across a
	// call: the integer return pair is bound to a protected zero, the
	// remaining caller-saved registers and all floating-point registers
	// become unset.
	SmashCallerSaves()

	// SetGPR writes value through the binding of the given
	// general-purpose register. Writing an unset or protected slot is
	// fatal.
	SetGPR(reg int, value uint32)

	// SetFPR writes value through the binding of the given
	// floating-point register word slot. Writing an unset or protected
	// slot is fatal.
	SetFPR(reg int, value uint32)

	// SetStackPointer sets the stack pointer value the long jump will
	// reconstruct.
	SetStackPointer(value uint32)

	// SetReturnAddress sets the instruction address the long jump will
	// resume at.
	SetReturnAddress(value uint32)

	// DoLongJump loads the reconstructed register state and transfers
	// control to the return address. It never returns; with no transfer
	// target installed it aborts.
	DoLongJump()
}
