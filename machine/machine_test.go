package machine_test

import (
	"bytes"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/unwindlab/quickctx/frame"
	"github.com/unwindlab/quickctx/machine"
	"github.com/unwindlab/quickctx/x86"
)

var _ = Describe("Machine", func() {
	var (
		m         *machine.Machine
		stdoutBuf *bytes.Buffer
		stderrBuf *bytes.Buffer
	)

	BeforeEach(func() {
		stdoutBuf = &bytes.Buffer{}
		stderrBuf = &bytes.Buffer{}
		m = machine.New(
			machine.WithStdout(stdoutBuf),
			machine.WithStderr(stderrBuf),
		)
	})

	Describe("New", func() {
		It("should create a machine with initialized components", func() {
			Expect(m.RegFile()).NotTo(BeNil())
			Expect(m.Memory()).NotTo(BeNil())
			Expect(m.Halted()).To(BeFalse())
		})

		It("should use backing memory as the stack view without a cache", func() {
			Expect(m.Stack()).To(BeIdenticalTo(m.Memory()))
			_, ok := m.CacheStats()
			Expect(ok).To(BeFalse())
		})

		It("should route stack accesses through a configured cache", func() {
			cached := machine.New(machine.WithCache(machine.DefaultCacheConfig()))

			cached.Stack().WriteWord(0x1000, 0xAB)
			stats, ok := cached.CacheStats()
			Expect(ok).To(BeTrue())
			Expect(stats.Writes).To(Equal(uint64(1)))
		})

		It("should honor the initial stack pointer option", func() {
			sp := machine.New(machine.WithStackPointer(0x8000_1000))

			Expect(sp.RegFile().SP()).To(Equal(uint32(0x8000_1000)))
		})
	})

	Describe("Step", func() {
		It("should dispatch the routine bound at EIP", func() {
			ran := false
			m.Register(0x100, func(m *machine.Machine) {
				ran = true
				m.Halt(3)
			})
			m.RegFile().EIP = 0x100

			result := m.Step()

			Expect(ran).To(BeTrue())
			Expect(result.Exited).To(BeTrue())
			Expect(result.ExitCode).To(Equal(int64(3)))
		})

		It("should fault when no routine is bound at EIP", func() {
			m.RegFile().EIP = 0xBAD0

			result := m.Step()

			Expect(result.Err).To(HaveOccurred())
			Expect(result.Err.Error()).To(ContainSubstring("no routine"))
		})

		It("should report an exited machine without dispatching", func() {
			m.Halt(7)

			result := m.Step()

			Expect(result.Exited).To(BeTrue())
			Expect(result.ExitCode).To(Equal(int64(7)))
		})
	})

	Describe("Run", func() {
		It("should follow EIP redirections until the machine halts", func() {
			m.Register(0x100, func(m *machine.Machine) {
				m.RegFile().EIP = 0x200
			})
			m.Register(0x200, func(m *machine.Machine) {
				m.Halt(0)
			})
			m.RegFile().EIP = 0x100

			Expect(m.Run()).To(Equal(int64(0)))
		})

		It("should report faults to stderr and return -1", func() {
			m.RegFile().EIP = 0xBAD0

			Expect(m.Run()).To(Equal(int64(-1)))
			Expect(stderrBuf.String()).To(ContainSubstring("machine fault"))
		})
	})

	Describe("TransferTo", func() {
		const resumePC = 0x0040_0000

		var (
			observed machine.RegFile
			gprs     [x86.NumGPRs + 1]uint32
			fprs     [x86.NumFPRWords]uint32
		)

		BeforeEach(func() {
			m.Register(resumePC, func(m *machine.Machine) {
				observed = *m.RegFile()
				m.Halt(0)
			})

			// Scratch buffer in pop order: position NumGPRs-1-reg.
			for reg := 0; reg < x86.NumGPRs; reg++ {
				gprs[x86.NumGPRs-1-reg] = 0xA0 + uint32(reg)
			}
			for i := range fprs {
				fprs[i] = 0xF0 + uint32(i)
			}

			sp := uint32(0x9000)
			m.Memory().WriteWord(sp, resumePC)
			gprs[x86.NumGPRs] = sp

			done := make(chan struct{})
			go func() {
				defer close(done)
				m.TransferTo(gprs, fprs)
			}()
			<-done
		})

		It("should run the resumed code and halt", func() {
			Expect(m.Halted()).To(BeTrue())
			Expect(m.ExitCode()).To(BeZero())
			Expect(m.Transfers()).To(Equal(uint64(1)))
		})

		It("should load the general-purpose registers from the scratch buffer", func() {
			for _, reg := range []int{x86.EAX, x86.ECX, x86.EDX, x86.EBX, x86.EBP, x86.ESI, x86.EDI} {
				Expect(observed.Read(reg)).To(Equal(0xA0+uint32(reg)),
					"GPR %d should come from the scratch buffer", reg)
			}
		})

		It("should pop EIP and leave ESP above the popped word", func() {
			Expect(observed.EIP).To(Equal(uint32(resumePC)))
			Expect(observed.SP()).To(Equal(uint32(0x9000 + frame.WordSize)))
		})

		It("should discard the ESP image in the bulk pop", func() {
			// The scratch ESP slot held 0xA4; the real ESP comes from the
			// buffer's final element instead.
			Expect(observed.SP()).NotTo(Equal(uint32(0xA4)))
		})

		It("should assemble the XMM registers from the word pairs", func() {
			for reg := 0; reg < x86.NumXMMs; reg++ {
				want := uint64(0xF0+2*reg) | uint64(0xF0+2*reg+1)<<32
				Expect(observed.ReadXMM(reg)).To(Equal(want),
					"XMM %d should combine its two scratch words", reg)
			}
		})
	})

	Describe("Config", func() {
		It("should provide usable defaults", func() {
			config := machine.DefaultConfig()

			Expect(config.StackSize).NotTo(BeZero())
			Expect(config.Cache.BlockSize).NotTo(BeZero())
		})

		It("should overlay a partial file on the defaults", func() {
			path := filepath.Join(GinkgoT().TempDir(), "config.json")
			err := os.WriteFile(path, []byte(`{"stack_size": 4096, "enable_cache": false}`), 0644)
			Expect(err).NotTo(HaveOccurred())

			config, err := machine.LoadConfig(path)

			Expect(err).NotTo(HaveOccurred())
			Expect(config.StackSize).To(Equal(uint32(4096)))
			Expect(config.EnableCache).To(BeFalse())
			Expect(config.StackBase).To(Equal(uint32(0x8000_0000)))
		})

		It("should fail on a missing file", func() {
			_, err := machine.LoadConfig(filepath.Join(GinkgoT().TempDir(), "absent.json"))

			Expect(err).To(HaveOccurred())
		})
	})
})
