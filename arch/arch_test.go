package arch_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/wavedbg/arch"
)

var _ = Describe("Architecture registry", func() {
	It("should look up architectures by target name", func() {
		a, ok := arch.Lookup("gfx900")
		Expect(ok).To(BeTrue())
		Expect(a.Name()).To(Equal("gfx900"))
		Expect(a.Gen()).To(Equal(arch.GenGFX9))

		_, ok = arch.Lookup("gfx1234")
		Expect(ok).To(BeFalse())
	})

	It("should look up architectures by ELF machine id", func() {
		a, ok := arch.LookupELFMachine(0x02F)
		Expect(ok).To(BeTrue())
		Expect(a.Name()).To(Equal("gfx906"))

		_, ok = arch.LookupELFMachine(0xFF)
		Expect(ok).To(BeFalse())
	})

	It("should record the per-generation stop capabilities", func() {
		gfx900 := mustArch("gfx900")
		Expect(gfx900.CanHaltAtEndpgm()).To(BeFalse())
		Expect(gfx900.ParksStoppedWaves()).To(BeTrue())
		Expect(gfx900.Wave32()).To(BeFalse())

		gfx1030 := mustArch("gfx1030")
		Expect(gfx1030.CanHaltAtEndpgm()).To(BeTrue())
		Expect(gfx1030.ParksStoppedWaves()).To(BeFalse())
		Expect(gfx1030.Wave32()).To(BeTrue())

		gfx1100 := mustArch("gfx1100")
		Expect(gfx1100.CanHaltAtEndpgm()).To(BeTrue())
		Expect(gfx1100.ParksStoppedWaves()).To(BeTrue())
		Expect(gfx1100.HasArchitectedFlatScratch()).To(BeTrue())
	})

	It("should mark only the MI chips as carrying acc vgprs", func() {
		Expect(mustArch("gfx908").HasAccVgprs()).To(BeTrue())
		Expect(mustArch("gfx90a").HasAccVgprs()).To(BeTrue())
		Expect(mustArch("gfx900").HasAccVgprs()).To(BeFalse())
		Expect(mustArch("gfx1010").HasAccVgprs()).To(BeFalse())
	})

	It("should enumerate every supported architecture", func() {
		all := arch.All()
		Expect(len(all)).To(Equal(13))
		seen := make(map[string]bool)
		for _, a := range all {
			Expect(seen[a.Name()]).To(BeFalse())
			seen[a.Name()] = true
		}
	})
})

var _ = Describe("Register model", func() {
	var a *arch.Architecture

	BeforeEach(func() {
		a = mustArch("gfx900")
	})

	It("should size registers by class", func() {
		Expect(a.RegisterSize(arch.Sgpr(0))).To(Equal(4))
		Expect(a.RegisterSize(arch.M0)).To(Equal(4))
		Expect(a.RegisterSize(arch.PC)).To(Equal(8))
		Expect(a.RegisterSize(arch.Exec64)).To(Equal(8))
		Expect(a.RegisterSize(arch.Vgpr32(0))).To(Equal(128))
		Expect(a.RegisterSize(arch.Vgpr64(0))).To(Equal(256))
		Expect(a.RegisterSize(arch.AccVgpr(0))).To(Equal(256))
	})

	It("should classify register numbers", func() {
		Expect(arch.Sgpr(17).IsSgpr()).To(BeTrue())
		Expect(arch.Vgpr64(3).IsVgpr()).To(BeTrue())
		Expect(arch.Vgpr32(3).IsVgpr()).To(BeTrue())
		Expect(arch.AccVgpr(3).IsAccVgpr()).To(BeTrue())
		Expect(arch.Ttmp(4).IsTtmp()).To(BeTrue())
		Expect(arch.PC.IsHwreg()).To(BeTrue())
		Expect(arch.WaveID.IsPseudo()).To(BeTrue())
		Expect(arch.Sgpr(0).IsPseudo()).To(BeFalse())
	})

	It("should protect the pc alignment bits and the wave id", func() {
		Expect(a.RegisterReadOnlyMask(arch.PC)).To(Equal(uint64(0x3)))
		Expect(a.RegisterReadOnlyMask(arch.WaveID)).To(Equal(^uint64(0)))
		Expect(a.RegisterReadOnlyMask(arch.Sgpr(0))).To(BeZero())
	})

	It("should pick the exec and vcc registers by lane count", func() {
		Expect(a.ExecRegnum(64)).To(Equal(arch.Exec64))
		Expect(a.ExecRegnum(32)).To(Equal(arch.Exec32))
		Expect(a.VccRegnum(64)).To(Equal(arch.Vcc64))
		Expect(a.PseudoExecRegnum(32)).To(Equal(arch.PseudoExec32))
	})
})

var _ = Describe("ScalarOperandRegnum", func() {
	It("should map the gfx9 operand space", func() {
		a := mustArch("gfx900")

		r, ok := a.ScalarOperandRegnum(5)
		Expect(ok).To(BeTrue())
		Expect(r).To(Equal(arch.Sgpr(5)))

		r, ok = a.ScalarOperandRegnum(101)
		Expect(ok).To(BeTrue())
		Expect(r).To(Equal(arch.Sgpr(101)))

		// Operands 102..105 alias flat_scratch and xnack_mask on gfx9
		// and are not handed out as plain sgprs.
		_, ok = a.ScalarOperandRegnum(102)
		Expect(ok).To(BeFalse())

		r, _ = a.ScalarOperandRegnum(106)
		Expect(r).To(Equal(arch.VccLo))
		r, _ = a.ScalarOperandRegnum(107)
		Expect(r).To(Equal(arch.VccHi))
		r, _ = a.ScalarOperandRegnum(110)
		Expect(r).To(Equal(arch.Ttmp(2)))
		r, _ = a.ScalarOperandRegnum(124)
		Expect(r).To(Equal(arch.M0))
		r, _ = a.ScalarOperandRegnum(125)
		Expect(r).To(Equal(arch.Null))
		r, _ = a.ScalarOperandRegnum(126)
		Expect(r).To(Equal(arch.ExecLo))
		r, _ = a.ScalarOperandRegnum(127)
		Expect(r).To(Equal(arch.ExecHi))

		_, ok = a.ScalarOperandRegnum(255)
		Expect(ok).To(BeFalse())
	})

	It("should swap m0 and null on gfx11", func() {
		a := mustArch("gfx1100")

		r, _ := a.ScalarOperandRegnum(124)
		Expect(r).To(Equal(arch.Null))
		r, _ = a.ScalarOperandRegnum(125)
		Expect(r).To(Equal(arch.M0))

		// gfx10 and gfx11 expose 106 sgprs.
		r, ok := a.ScalarOperandRegnum(105)
		Expect(ok).To(BeTrue())
		Expect(r).To(Equal(arch.Sgpr(105)))
	})

	It("should reject odd operands for register pairs", func() {
		a := mustArch("gfx900")

		r, ok := a.ScalarOperandRegnumPair(4)
		Expect(ok).To(BeTrue())
		Expect(r).To(Equal(arch.Sgpr(4)))

		_, ok = a.ScalarOperandRegnumPair(5)
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("Trap instructions", func() {
	It("should materialize the generation's trap and endpgm encodings", func() {
		gfx900 := mustArch("gfx900")
		Expect(gfx900.BreakpointInstruction().Word(0)).To(Equal(uint32(0xBF920001)))
		Expect(gfx900.TerminatingInstruction().Word(0)).To(Equal(uint32(0xBF810000)))

		gfx1100 := mustArch("gfx1100")
		Expect(gfx1100.Table().IsTrap(gfx1100.BreakpointInstruction())).To(BeTrue())
		Expect(gfx1100.Table().IsEndpgm(gfx1100.TerminatingInstruction())).To(BeTrue())
	})
})

var _ = Describe("Classify", func() {
	var a *arch.Architecture

	BeforeEach(func() {
		a = mustArch("gfx900")
	})

	It("should classify program end", func() {
		c := a.Classify(0x1000, a.TerminatingInstruction())
		Expect(c).To(Equal(arch.Terminate{}))
	})

	It("should classify direct branches with their target", func() {
		c := a.Classify(0x1000, word32(0xBF820004)) // s_branch +4 words
		Expect(c).To(Equal(arch.DirectBranch{Target: 0x1014}))
	})

	It("should classify conditional branches", func() {
		c := a.Classify(0x1000, word32(0xBF850002)) // s_cbranch_scc1
		Expect(c).To(Equal(arch.ConditionalBranch{Target: 0x100C}))
	})

	It("should classify indirect branches with the target pair", func() {
		c := a.Classify(0x1000, sop1(29, 0, 4)) // s_setpc_b64 s[4:5]
		Expect(c).To(Equal(arch.IndirectBranch{TargetReg: arch.Sgpr(4)}))
	})

	It("should classify calls with target and return pair", func() {
		c := a.Classify(0x1000, sopk(21, 2, 4)) // s_call_b64 s[2:3], +4
		Expect(c).To(Equal(arch.DirectCall{Target: 0x1014, ReturnReg: arch.Sgpr(2)}))
	})

	It("should classify indirect calls", func() {
		c := a.Classify(0x1000, sop1(30, 2, 4)) // s_swappc_b64 s[2:3], s[4:5]
		Expect(c).To(Equal(arch.IndirectCall{
			TargetReg: arch.Sgpr(4), ReturnReg: arch.Sgpr(2),
		}))
	})

	It("should classify traps with their id", func() {
		c := a.Classify(0x1000, word32(0xBF920003)) // s_trap 3
		Expect(c).To(Equal(arch.Trap{ID: arch.TrapIDDebug}))
	})

	It("should classify halt, barrier and sleep", func() {
		Expect(a.Classify(0x1000, word32(0xBF8D0001))).To(Equal(arch.Halt{}))
		// s_sethalt 0 resumes, it does not halt.
		Expect(a.Classify(0x1000, word32(0xBF8D0000))).To(Equal(arch.Sequential{}))
		Expect(a.Classify(0x1000, word32(0xBF8A0000))).To(Equal(arch.Barrier{}))
		Expect(a.Classify(0x1000, word32(0xBF8E0010))).To(Equal(arch.Sleep{}))
	})

	It("should classify s_cbranch_join as special", func() {
		Expect(a.Classify(0x1000, sop1(46, 0, 2))).To(Equal(arch.Special{}))
	})

	It("should fall back to sequential for plain scalar instructions", func() {
		Expect(a.Classify(0x1000, word32(0xBF800000))).To(Equal(arch.Sequential{}))
	})

	It("should report unknown for undecodable bytes", func() {
		Expect(a.Classify(0x1000, word32(0x7E000000))).To(Equal(arch.Unknown{}))
	})

	It("should report unknown for s_code_end on gfx10", func() {
		gfx1010 := mustArch("gfx1010")
		Expect(gfx1010.Classify(0x1000, word32(0xBF9F0000))).To(Equal(arch.Unknown{}))
	})
})
