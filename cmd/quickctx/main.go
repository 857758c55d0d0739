// Package main provides the quickctx demo CLI. It hosts a synthetic
// compiled-code call chain on the harness machine, unwinds it with the
// x86 register context, delivers an exception to a handler frame, and
// reports the register state the handler observes.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/unwindlab/quickctx/frame"
	"github.com/unwindlab/quickctx/machine"
	"github.com/unwindlab/quickctx/unwind"
	"github.com/unwindlab/quickctx/x86"
)

// Code addresses of the synthetic methods and the unmanaged caller.
const (
	leafPC    = 0x0040_0000
	midPC     = 0x0040_0040
	handlerPC = 0x0040_0080
	nativePC  = 0x0010_0000
)

var (
	configPath string
	verbose    bool
)

func main() {
	root := &cobra.Command{
		Use:   "quickctx",
		Short: "Demonstrate register-context reconstruction and long jump",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
		SilenceUsage: true,
	}
	root.Flags().StringVar(&configPath, "config", "", "path to harness configuration JSON file")
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "print the frame walk")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "quickctx: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	config := machine.DefaultConfig()
	if configPath != "" {
		var err error
		if config, err = machine.LoadConfig(configPath); err != nil {
			return err
		}
	}

	opts := []machine.Option{}
	if config.EnableCache {
		opts = append(opts, machine.WithCache(config.Cache))
	}
	m := machine.New(opts...)
	stack := m.Stack()

	// Three activations: a leaf that faults, its caller, and the frame
	// holding the exception handler.
	leafInfo := frame.NewInfo(32, 1<<x86.EBP|1<<x86.ESI|1<<x86.EDI, 1<<4)
	midInfo := frame.NewInfo(24, 1<<x86.EBP|1<<x86.ESI, 0)
	handlerInfo := frame.NewInfo(16, 1<<x86.EBP, 0)

	sp := frame.Align(config.StackBase+config.StackSize/4, uint32(16))
	builder := frame.NewBuilder(stack)
	table := builder.PlaceChain(sp, []frame.Activation{
		{PC: leafPC, Info: leafInfo},
		{PC: midPC, Info: midInfo},
		{PC: handlerPC, Info: handlerInfo},
	}, nativePC)

	// Distinguishable spill contents, so the handler can tell which
	// frame each restored register came from.
	builder.SetSpill(sp, leafInfo, x86.EBP, 0x1111_1111)
	builder.SetSpill(sp, leafInfo, x86.ESI, 0x2222_2222)
	builder.SetSpill(sp, leafInfo, x86.EDI, 0x3333_3333)
	builder.SetFpSpill(sp, leafInfo, 4, 0x4444_4444, 0x5555_5555)
	midBase := sp + leafInfo.FrameSizeInBytes()
	builder.SetSpill(midBase, midInfo, x86.EBP, 0x6666_6666)
	builder.SetSpill(midBase, midInfo, x86.ESI, 0x7777_7777)

	m.Register(handlerPC, func(m *machine.Machine) {
		regs := m.RegFile()
		fmt.Fprintf(m.Stdout(), "handler entered at EIP=%#x\n", regs.EIP)
		fmt.Fprintf(m.Stdout(), "  EAX=%#x ECX=%#x EDX=%#x EBX=%#x\n",
			regs.Read(x86.EAX), regs.Read(x86.ECX), regs.Read(x86.EDX), regs.Read(x86.EBX))
		fmt.Fprintf(m.Stdout(), "  ESP=%#x EBP=%#x ESI=%#x EDI=%#x\n",
			regs.SP(), regs.Read(x86.EBP), regs.Read(x86.ESI), regs.Read(x86.EDI))
		m.Halt(0)
	})

	ctx := x86.NewContext(stack, m)
	walker := frame.NewWalker(stack, table, sp, leafPC)
	u := unwind.NewUnwinder(ctx, walker)

	if verbose {
		fmt.Printf("stack pointer %#x, %d-byte stack at %#x\n", sp, config.StackSize, config.StackBase)
	}
	crossed := u.Ascend(2)
	if verbose {
		fmt.Printf("crossed %d frames, handler frame base %#x\n", crossed, walker.FrameBase())
	}

	// Overwrite the leaf's spilled EBP through its slot binding; the
	// write lands in the live frame, which the restore then loads.
	ctx.SetGPR(x86.EBP, 0xDEAD_BEEF)

	done := make(chan struct{})
	go func() {
		defer close(done)
		u.DeliverException(handlerPC)
	}()
	<-done

	if !m.Halted() {
		return fmt.Errorf("machine did not halt after long jump")
	}
	if stats, ok := m.CacheStats(); ok {
		fmt.Printf("stack cache: %d reads, %d writes, %d hits, %d misses\n",
			stats.Reads, stats.Writes, stats.Hits, stats.Misses)
	}
	return nil
}
