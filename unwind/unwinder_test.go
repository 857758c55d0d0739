package unwind_test

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/unwindlab/quickctx/frame"
	"github.com/unwindlab/quickctx/machine"
	"github.com/unwindlab/quickctx/unwind"
	"github.com/unwindlab/quickctx/x86"
)

const (
	leafPC    = 0x0040_0000
	midPC     = 0x0040_0040
	handlerPC = 0x0040_0080
	nativePC  = 0x0010_0000
)

var _ = Describe("Unwinder", func() {
	var (
		m      *machine.Machine
		stack  frame.Memory
		sp     uint32
		table  map[uint32]frame.Info
		walker *frame.Walker
		ctx    *x86.Context
		u      *unwind.Unwinder

		leafInfo    frame.Info
		midInfo     frame.Info
		handlerInfo frame.Info
	)

	BeforeEach(func() {
		m = machine.New(
			machine.WithStdout(&bytes.Buffer{}),
			machine.WithStderr(&bytes.Buffer{}),
		)
		stack = m.Stack()
		sp = 0x8000_4000

		// A leaf that faults, its caller, and the frame holding the
		// exception handler. The leaf also spills XMM4.
		leafInfo = frame.NewInfo(32, 1<<x86.EBP|1<<x86.ESI|1<<x86.EDI, 1<<4)
		midInfo = frame.NewInfo(24, 1<<x86.EBP|1<<x86.ESI, 0)
		handlerInfo = frame.NewInfo(16, 1<<x86.EBP, 0)

		builder := frame.NewBuilder(stack)
		table = builder.PlaceChain(sp, []frame.Activation{
			{PC: leafPC, Info: leafInfo},
			{PC: midPC, Info: midInfo},
			{PC: handlerPC, Info: handlerInfo},
		}, nativePC)
		builder.SetSpill(sp, leafInfo, x86.EBP, 0x1111_1111)
		builder.SetSpill(sp, leafInfo, x86.ESI, 0x2222_2222)
		builder.SetSpill(sp, leafInfo, x86.EDI, 0x3333_3333)
		builder.SetFpSpill(sp, leafInfo, 4, 0x4444_4444, 0x5555_5555)
		midBase := sp + leafInfo.FrameSizeInBytes()
		builder.SetSpill(midBase, midInfo, x86.EBP, 0x6666_6666)
		builder.SetSpill(midBase, midInfo, x86.ESI, 0x7777_7777)

		walker = frame.NewWalker(stack, table, sp, leafPC)
		ctx = x86.NewContext(stack, m)
		u = unwind.NewUnwinder(ctx, walker)
	})

	Describe("NewUnwinder", func() {
		It("should reset the context it is given", func() {
			dirty := x86.NewContext(stack, m)
			dirty.SetStackPointer(0x1234)

			fresh := unwind.NewUnwinder(dirty, frame.NewWalker(stack, table, sp, leafPC))

			Expect(fresh.Context()).To(BeIdenticalTo(dirty))
			Expect(dirty.StackPointer()).To(Equal(uint32(0xebad6074)))
		})
	})

	Describe("Ascend", func() {
		It("should cross the requested number of frames", func() {
			Expect(u.Ascend(1)).To(Equal(1))
			Expect(walker.FrameBase()).To(Equal(sp + 32))
		})

		It("should stop at the end of the managed stack", func() {
			Expect(u.Ascend(5)).To(Equal(2))
			Expect(walker.MethodInfo()).To(Equal(handlerInfo))
		})

		It("should fold the crossed frames' callee saves into the context", func() {
			u.Ascend(2)

			// The caller's respill wins; registers only the leaf spilled
			// keep the leaf binding.
			v, ok := ctx.GPR(x86.EBP)
			Expect(ok).To(BeTrue())
			Expect(v).To(Equal(uint32(0x6666_6666)))
			v, ok = ctx.GPR(x86.EDI)
			Expect(ok).To(BeTrue())
			Expect(v).To(Equal(uint32(0x3333_3333)))
		})
	})

	Describe("AscendAll", func() {
		It("should walk to the last managed frame", func() {
			Expect(u.AscendAll()).To(Equal(2))
			Expect(walker.ReturnAddress()).To(Equal(uint32(nativePC)))
		})
	})

	Describe("Resume", func() {
		var observed machine.RegFile

		BeforeEach(func() {
			m.Register(handlerPC, func(m *machine.Machine) {
				observed = *m.RegFile()
				m.Halt(0)
			})
			u.Ascend(2)

			done := make(chan struct{})
			go func() {
				defer close(done)
				u.Resume(handlerPC)
			}()
			<-done
		})

		It("should resume execution at the target address", func() {
			Expect(m.Halted()).To(BeTrue())
			Expect(observed.EIP).To(Equal(uint32(handlerPC)))
			Expect(m.Transfers()).To(Equal(uint64(1)))
		})

		It("should reconstruct the stack pointer as the visited frame's base", func() {
			Expect(observed.SP()).To(Equal(sp + 32 + 24))
		})

		It("should restore the accumulated callee saves", func() {
			Expect(observed.Read(x86.EBP)).To(Equal(uint32(0x6666_6666)))
			Expect(observed.Read(x86.ESI)).To(Equal(uint32(0x7777_7777)))
			Expect(observed.Read(x86.EDI)).To(Equal(uint32(0x3333_3333)))
			Expect(observed.ReadXMM(4)).To(Equal(uint64(0x5555_5555_4444_4444)))
		})

		It("should leave unreconstructed registers at their debug values", func() {
			Expect(observed.Read(x86.EAX)).To(Equal(uint32(0xebad6070)))
			Expect(observed.Read(x86.ECX)).To(Equal(uint32(0xebad6071)))
		})
	})

	Describe("DeliverException", func() {
		var observed machine.RegFile

		BeforeEach(func() {
			m.Register(handlerPC, func(m *machine.Machine) {
				observed = *m.RegFile()
				m.Halt(0)
			})
			u.Ascend(2)

			// Handler argument injected through the live spill binding.
			ctx.SetGPR(x86.EBP, 0xDEAD_BEEF)

			done := make(chan struct{})
			go func() {
				defer close(done)
				u.DeliverException(handlerPC)
			}()
			<-done
		})

		It("should enter the handler with a zeroed return-value pair", func() {
			Expect(observed.EIP).To(Equal(uint32(handlerPC)))
			Expect(observed.Read(x86.EAX)).To(BeZero())
			Expect(observed.Read(x86.EDX)).To(BeZero())
		})

		It("should leave the other caller saves at their debug values", func() {
			Expect(observed.Read(x86.ECX)).To(Equal(uint32(0xebad6071)))
			Expect(observed.Read(x86.EBX)).To(Equal(uint32(0xebad6073)))
		})

		It("should land the injected value both in the frame and the register", func() {
			midBase := sp + leafInfo.FrameSizeInBytes()
			slot := frame.SpillSlotIndex(midInfo.CoreSpillMask(), x86.EBP, midInfo.FrameSizeInBytes())

			Expect(stack.ReadWord(midBase + uint32(slot)*frame.WordSize)).
				To(Equal(uint32(0xDEAD_BEEF)))
			Expect(observed.Read(x86.EBP)).To(Equal(uint32(0xDEAD_BEEF)))
		})

		It("should discard the floating-point state", func() {
			Expect(observed.ReadXMM(4)).To(Equal(uint64(0xebad8079_ebad8078)))
		})
	})

	Describe("with the stack cache in front", func() {
		It("should deliver the same register state and collect stats", func() {
			cached := machine.New(
				machine.WithStdout(&bytes.Buffer{}),
				machine.WithStderr(&bytes.Buffer{}),
				machine.WithCache(machine.DefaultCacheConfig()),
			)
			cstack := cached.Stack()
			builder := frame.NewBuilder(cstack)
			ctable := builder.PlaceChain(sp, []frame.Activation{
				{PC: leafPC, Info: leafInfo},
				{PC: midPC, Info: midInfo},
				{PC: handlerPC, Info: handlerInfo},
			}, nativePC)
			builder.SetSpill(sp, leafInfo, x86.EDI, 0x3333_3333)

			var observed machine.RegFile
			cached.Register(handlerPC, func(m *machine.Machine) {
				observed = *m.RegFile()
				m.Halt(0)
			})

			cu := unwind.NewUnwinder(
				x86.NewContext(cstack, cached),
				frame.NewWalker(cstack, ctable, sp, leafPC),
			)
			cu.Ascend(2)

			done := make(chan struct{})
			go func() {
				defer close(done)
				cu.DeliverException(handlerPC)
			}()
			<-done

			Expect(cached.Halted()).To(BeTrue())
			Expect(observed.Read(x86.EDI)).To(Equal(uint32(0x3333_3333)))
			stats, ok := cached.CacheStats()
			Expect(ok).To(BeTrue())
			Expect(stats.Reads + stats.Writes).NotTo(BeZero())
		})
	})
})
