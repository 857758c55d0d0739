package machine

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/unwindlab/quickctx/frame"
	"github.com/unwindlab/quickctx/x86"
)

// Routine is native code bound to a machine code address. When execution
// reaches the address, the routine runs with full access to the machine
// state. It may redirect EIP, halt the machine, or both.
type Routine func(m *Machine)

// StepResult represents the outcome of dispatching at the current EIP.
type StepResult struct {
	// Exited is true if the machine halted.
	Exited bool

	// ExitCode is the exit status if Exited is true.
	ExitCode int64

	// Err is set when no routine is bound at EIP, the harness
	// equivalent of jumping to an unmapped instruction.
	Err error
}

// Machine is the x86-32 harness core. It does not decode instructions;
// code addresses are bound to native routines, which is enough to host
// unwind scenarios and observe the register state a long jump produces.
type Machine struct {
	regs     *RegFile
	mem      *Memory
	cache    *Cache
	stack    frame.Memory
	routines map[uint32]Routine

	stdout io.Writer
	stderr io.Writer

	halted    bool
	exitCode  int64
	transfers uint64
}

// Option is a functional option for configuring the Machine.
type Option func(*Machine)

// WithStdout sets a custom stdout writer.
func WithStdout(w io.Writer) Option {
	return func(m *Machine) {
		m.stdout = w
	}
}

// WithStderr sets a custom stderr writer.
func WithStderr(w io.Writer) Option {
	return func(m *Machine) {
		m.stderr = w
	}
}

// WithCache puts a stack cache with the given configuration in front of
// the machine's memory.
func WithCache(config CacheConfig) Option {
	return func(m *Machine) {
		m.cache = NewCache(config, m.mem)
		m.stack = m.cache
	}
}

// WithStackPointer sets the initial stack pointer value.
func WithStackPointer(sp uint32) Option {
	return func(m *Machine) {
		m.regs.GPR[x86.ESP] = sp
	}
}

// New creates a machine with empty memory and registers.
func New(opts ...Option) *Machine {
	m := &Machine{
		regs:     &RegFile{},
		mem:      NewMemory(),
		routines: make(map[uint32]Routine),
		stdout:   os.Stdout,
		stderr:   os.Stderr,
	}
	m.stack = m.mem
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegFile returns the machine's register file.
func (m *Machine) RegFile() *RegFile {
	return m.regs
}

// Memory returns the machine's backing memory, bypassing any cache.
func (m *Machine) Memory() *Memory {
	return m.mem
}

// Stack returns the memory view stack accesses should go through: the
// cache when one is configured, the backing memory otherwise. Register
// contexts over this machine should be built on this view.
func (m *Machine) Stack() frame.Memory {
	return m.stack
}

// CacheStats returns the stack cache statistics. ok is false when no
// cache is configured.
func (m *Machine) CacheStats() (stats CacheStats, ok bool) {
	if m.cache == nil {
		return CacheStats{}, false
	}
	return m.cache.Stats(), true
}

// Stdout returns the machine's stdout writer, for routines that print.
func (m *Machine) Stdout() io.Writer {
	return m.stdout
}

// Register binds a native routine to a code address.
func (m *Machine) Register(addr uint32, r Routine) {
	m.routines[addr] = r
}

// Halt stops the machine with the given exit code.
func (m *Machine) Halt(code int64) {
	m.halted = true
	m.exitCode = code
}

// Halted reports whether the machine has halted.
func (m *Machine) Halted() bool {
	return m.halted
}

// ExitCode returns the exit code if the machine has halted.
func (m *Machine) ExitCode() int64 {
	return m.exitCode
}

// Transfers returns the number of long-jump transfers performed.
func (m *Machine) Transfers() uint64 {
	return m.transfers
}

// Step dispatches the routine bound at the current EIP.
func (m *Machine) Step() StepResult {
	if m.halted {
		return StepResult{Exited: true, ExitCode: m.exitCode}
	}
	routine, ok := m.routines[m.regs.EIP]
	if !ok {
		return StepResult{
			Err: fmt.Errorf("machine: no routine at EIP=%#x", m.regs.EIP),
		}
	}
	routine(m)
	return StepResult{Exited: m.halted, ExitCode: m.exitCode}
}

// Run dispatches routines until the machine halts or faults. Returns
// the exit code (-1 on fault).
func (m *Machine) Run() int64 {
	for {
		result := m.Step()
		if result.Exited {
			return result.ExitCode
		}
		if result.Err != nil {
			_, _ = fmt.Fprintf(m.stderr, "machine fault: %v\n", result.Err)
			return -1
		}
	}
}

// TransferTo implements the x86 long-jump restore sequence against the
// machine core: it loads XMM0-XMM7 from the floating-point scratch
// words, pops the general-purpose registers in hardware pop order with
// the ESP image discarded, loads ESP from the buffer's final element,
// pops EIP off the new stack, and executes from there until the machine
// halts. The register load and control transfer are indivisible with
// respect to hosted code. It never returns: when the machine halts, the
// calling goroutine is terminated, since the control flow that invoked
// the long jump no longer exists.
func (m *Machine) TransferTo(gprs [x86.NumGPRs + 1]uint32, fprs [x86.NumFPRWords]uint32) {
	for reg := 0; reg < x86.NumXMMs; reg++ {
		m.regs.WriteXMM(reg, fprs[2*reg], fprs[2*reg+1])
	}
	// The scratch buffer is in pop order: ascending positions hold EDI
	// down to EAX. The bulk pop skips the ESP image.
	for pos := 0; pos < x86.NumGPRs; pos++ {
		reg := x86.NumGPRs - 1 - pos
		if reg == x86.ESP {
			continue
		}
		m.regs.GPR[reg] = gprs[pos]
	}
	sp := gprs[x86.NumGPRs]
	m.regs.EIP = m.stack.ReadWord(sp)
	m.regs.GPR[x86.ESP] = sp + frame.WordSize
	m.transfers++

	m.Run()
	runtime.Goexit()
}

var _ x86.Transfer = (*Machine)(nil)
