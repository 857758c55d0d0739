package unwind

import "github.com/unwindlab/quickctx/frame"

// Unwinder drives one unwind pass: it walks a thread's quick frames,
// folds each visited frame's callee saves into the context, and finishes
// with a single long jump. One Unwinder serves exactly one suspended
// thread and is discarded after the jump.
type Unwinder struct {
	ctx Context
	cur *frame.Walker
}

// NewUnwinder creates an unwinder over a freshly reset context and a
// walker positioned at the thread's newest frame.
func NewUnwinder(ctx Context, cur *frame.Walker) *Unwinder {
	ctx.Reset()
	return &Unwinder{ctx: ctx, cur: cur}
}

// Context returns the register context under reconstruction, for callers
// that need to inject handler arguments before the jump.
func (u *Unwinder) Context() Context {
	return u.ctx
}

// Cursor returns the frame walker.
func (u *Unwinder) Cursor() *frame.Walker {
	return u.cur
}

// Ascend folds the visited frame's callee saves into the context and
// moves to the caller, up to frames times. It stops early at the end of
// the managed stack and returns the number of frames crossed.
func (u *Unwinder) Ascend(frames int) int {
	crossed := 0
	for crossed < frames {
		u.ctx.FillCalleeSaves(u.cur)
		if !u.cur.Next() {
			break
		}
		crossed++
	}
	return crossed
}

// AscendAll folds callee saves frame by frame until the walk leaves the
// managed stack, returning the number of frames crossed.
func (u *Unwinder) AscendAll() int {
	crossed := 0
	for {
		u.ctx.FillCalleeSaves(u.cur)
		if !u.cur.Next() {
			return crossed
		}
		crossed++
	}
}

// Resume long-jumps into the currently visited frame at pc. The stack
// pointer is reconstructed as that frame's base. Never returns.
func (u *Unwinder) Resume(pc uint32) {
	u.ctx.SetStackPointer(u.cur.FrameBase())
	u.ctx.SetReturnAddress(pc)
	u.ctx.DoLongJump()
}

// DeliverException resumes at an exception handler in the currently
// visited frame. Caller-saved registers are smashed first, so the
// handler observes a zero result register rather than stale state.
// Never returns.
func (u *Unwinder) DeliverException(handlerPC uint32) {
	u.ctx.SmashCallerSaves()
	u.Resume(handlerPC)
}
