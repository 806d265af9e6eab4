package arch_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/wavedbg/arch"
)

var _ = Describe("SetWaveState", func() {
	var (
		a *arch.Architecture
		w *testWave
	)

	BeforeEach(func() {
		a = mustArch("gfx900")
		w = newTestWave(64)
	})

	It("should stop a running wave by halting and flagging it", func() {
		Expect(a.SetWaveState(w, arch.StateStop)).To(Succeed())

		Expect(w.reg32(arch.Status) & statusHalt).NotTo(BeZero())
		ttmp6 := w.reg32(arch.Ttmp6)
		Expect(ttmp6 & ttmp6Stopped).NotTo(BeZero())
		Expect(ttmp6 & ttmp6SavedHalt).To(BeZero())
	})

	It("should stash a pre-existing halt through a stop and resume", func() {
		w.set32(arch.Status, statusHalt)

		Expect(a.SetWaveState(w, arch.StateStop)).To(Succeed())
		Expect(w.reg32(arch.Ttmp6) & ttmp6SavedHalt).NotTo(BeZero())

		w.state = arch.StateStop
		Expect(a.SetWaveState(w, arch.StateRun)).To(Succeed())
		Expect(w.reg32(arch.Status) & statusHalt).NotTo(BeZero())
		Expect(w.reg32(arch.Ttmp6) & ttmp6Stopped).To(BeZero())
	})

	It("should clear the halt when resuming an unhalted wave", func() {
		Expect(a.SetWaveState(w, arch.StateStop)).To(Succeed())
		w.state = arch.StateStop

		Expect(a.SetWaveState(w, arch.StateRun)).To(Succeed())
		Expect(w.reg32(arch.Status) & statusHalt).To(BeZero())
		Expect(w.reg32(arch.Ttmp6)).To(BeZero())
	})

	It("should arm single-step trapping through mode.debug_en", func() {
		Expect(a.SetWaveState(w, arch.StateStop)).To(Succeed())
		w.state = arch.StateStop

		Expect(a.SetWaveState(w, arch.StateSingleStep)).To(Succeed())
		Expect(w.reg32(arch.Mode) & modeDebugEn).NotTo(BeZero())

		w.state = arch.StateSingleStep
		Expect(a.SetWaveState(w, arch.StateRun)).To(Succeed())
		Expect(w.reg32(arch.Mode) & modeDebugEn).To(BeZero())
	})

	It("should clear latched stop reasons when resuming a stopped wave", func() {
		w.set32(arch.Trapsts, trapstsDiv0|trapstsMemViol)
		w.state = arch.StateStop
		w.stopReason = arch.StopFPDivideBy0

		Expect(a.SetWaveState(w, arch.StateRun)).To(Succeed())
		Expect(w.reg32(arch.Trapsts) & trapstsDiv0).To(BeZero())
		// Reasons not latched stay signaled.
		Expect(w.reg32(arch.Trapsts) & trapstsMemViol).NotTo(BeZero())
	})
})

var _ = Describe("WaveHalt", func() {
	var (
		a *arch.Architecture
		w *testWave
	)

	BeforeEach(func() {
		a = mustArch("gfx900")
		w = newTestWave(64)
	})

	It("should read status.halt while the wave runs", func() {
		halted, err := a.WaveHalt(w)
		Expect(err).ToNot(HaveOccurred())
		Expect(halted).To(BeFalse())

		w.set32(arch.Status, statusHalt)
		halted, _ = a.WaveHalt(w)
		Expect(halted).To(BeTrue())
	})

	It("should read the ttmp6 stash while the wave is stopped", func() {
		// A stopped wave always has status.halt set; the logical flag is
		// the stashed one.
		w.set32(arch.Status, statusHalt)
		w.set32(arch.Ttmp6, ttmp6Stopped)

		halted, err := a.WaveHalt(w)
		Expect(err).ToNot(HaveOccurred())
		Expect(halted).To(BeFalse())

		Expect(a.SetWaveHalt(w, true)).To(Succeed())
		Expect(w.reg32(arch.Ttmp6) & ttmp6SavedHalt).NotTo(BeZero())
		halted, _ = a.WaveHalt(w)
		Expect(halted).To(BeTrue())
	})

	It("should write status.halt directly while the wave runs", func() {
		Expect(a.SetWaveHalt(w, true)).To(Succeed())
		Expect(w.reg32(arch.Status) & statusHalt).NotTo(BeZero())

		Expect(a.SetWaveHalt(w, false)).To(Succeed())
		Expect(w.reg32(arch.Status) & statusHalt).To(BeZero())
	})
})

var _ = Describe("SignaledExceptions", func() {
	var (
		a *arch.Architecture
		w *testWave
	)

	BeforeEach(func() {
		a = mustArch("gfx900")
		w = newTestWave(64)
	})

	It("should mask floating-point exceptions by mode.excp_en", func() {
		w.set32(arch.Trapsts, trapstsDiv0)

		exc, err := a.SignaledExceptions(w)
		Expect(err).ToNot(HaveOccurred())
		Expect(exc).To(Equal(arch.Exceptions(0)))

		w.set32(arch.Mode, modeExcpEnDiv0)
		exc, _ = a.SignaledExceptions(w)
		Expect(exc).To(Equal(arch.ExcFloatDiv0))
	})

	It("should never mask fatal exceptions", func() {
		w.set32(arch.Trapsts, trapstsMemViol|trapstsIllegal|trapstsXnackErr)

		exc, err := a.SignaledExceptions(w)
		Expect(err).ToNot(HaveOccurred())
		Expect(exc & arch.ExcMemViol).NotTo(BeZero())
		Expect(exc & arch.ExcIllegalInst).NotTo(BeZero())
		Expect(exc & arch.ExcXnackError).NotTo(BeZero())
	})
})

var _ = Describe("GetWaveState", func() {
	var (
		a *arch.Architecture
		w *testWave
	)

	// stageStoppedWave writes what the gfx9 trap handler leaves behind:
	// the stopped flag and trap id in ttmp6, and the parked pc split
	// between ttmp7 and ttmp11.
	stageStoppedWave := func(pc uint64, trapID uint32) {
		w.set32(arch.Ttmp6, ttmp6Stopped|trapID<<ttmp6TrapIDShift)
		w.set32(arch.Ttmp7, uint32(pc))
		w.set32(arch.Ttmp11, uint32(pc>>32)<<7)
		w.set32(arch.Status, statusHalt)
	}

	BeforeEach(func() {
		a = mustArch("gfx900")
		w = newTestWave(64)
	})

	It("should report a running wave unchanged", func() {
		state, reason, err := a.GetWaveState(w)
		Expect(err).ToNot(HaveOccurred())
		Expect(state).To(Equal(arch.StateRun))
		Expect(reason).To(Equal(arch.StopNone))
	})

	It("should keep the latched reason of an already stopped wave", func() {
		w.state = arch.StateStop
		w.stopReason = arch.StopBreakpoint
		stageStoppedWave(0x1000, 1)

		state, reason, err := a.GetWaveState(w)
		Expect(err).ToNot(HaveOccurred())
		Expect(state).To(Equal(arch.StateStop))
		Expect(reason).To(Equal(arch.StopBreakpoint))
	})

	It("should recover the parked pc and decode a breakpoint stop", func() {
		stageStoppedWave(0x1_0000_1000, 1)

		state, reason, err := a.GetWaveState(w)
		Expect(err).ToNot(HaveOccurred())
		Expect(state).To(Equal(arch.StateStop))
		Expect(reason).To(Equal(arch.StopBreakpoint))
		Expect(w.reg64(arch.PC)).To(Equal(uint64(0x1_0000_1000)))
	})

	It("should derive stop reasons from the signaled exceptions", func() {
		stageStoppedWave(0x1000, 0)
		w.set32(arch.Mode, modeExcpEnDiv0)
		w.set32(arch.Trapsts, trapstsDiv0|trapstsMemViol)

		_, reason, err := a.GetWaveState(w)
		Expect(err).ToNot(HaveOccurred())
		Expect(reason & arch.StopFPDivideBy0).NotTo(BeZero())
		// A memory violation without an xnack error is an address error.
		Expect(reason & arch.StopAddressError).NotTo(BeZero())
		Expect(reason & arch.StopMemoryViolation).To(BeZero())
	})

	It("should prefer memory violation when xnack flags the access", func() {
		stageStoppedWave(0x1000, 0)
		w.set32(arch.Trapsts, trapstsMemViol|trapstsXnackErr)

		_, reason, err := a.GetWaveState(w)
		Expect(err).ToNot(HaveOccurred())
		Expect(reason & arch.StopMemoryViolation).NotTo(BeZero())
		Expect(reason & arch.StopAddressError).To(BeZero())
	})

	Context("after a single-step resume", func() {
		BeforeEach(func() {
			w.state = arch.StateSingleStep
			w.lastStoppedPC = 0x1000
		})

		It("should latch a single-step stop when the pc moved", func() {
			stageStoppedWave(0x1004, 0)

			state, reason, err := a.GetWaveState(w)
			Expect(err).ToNot(HaveOccurred())
			Expect(state).To(Equal(arch.StateStop))
			Expect(reason).To(Equal(arch.StopSingleStep))
		})

		It("should silently re-resume a spurious stop", func() {
			stageStoppedWave(0x1000, 0)
			w.instr, w.hasInstr = word32(0xBF800000), true // s_nop

			state, reason, err := a.GetWaveState(w)
			Expect(err).ToNot(HaveOccurred())
			Expect(state).To(Equal(arch.StateSingleStep))
			Expect(reason).To(Equal(arch.StopNone))
			// The wave was put back into single-step.
			Expect(w.reg32(arch.Ttmp6) & ttmp6Stopped).To(BeZero())
			Expect(w.reg32(arch.Mode) & modeDebugEn).NotTo(BeZero())
		})

		It("should report a stop on an unmoved non-sequential instruction", func() {
			stageStoppedWave(0x1000, 0)
			w.instr, w.hasInstr = word32(0xBF820004), true // s_branch

			state, reason, err := a.GetWaveState(w)
			Expect(err).ToNot(HaveOccurred())
			Expect(state).To(Equal(arch.StateStop))
			Expect(reason).To(Equal(arch.StopSingleStep))
		})
	})
})

var _ = Describe("TtmpSetupDisabled", func() {
	It("should read the scheduler's setup-disable flag", func() {
		a := mustArch("gfx900")
		w := newTestWave(64)

		disabled, err := a.TtmpSetupDisabled(w)
		Expect(err).ToNot(HaveOccurred())
		Expect(disabled).To(BeFalse())

		w.set32(arch.Ttmp6, ttmp6NoTtmpSetup)
		disabled, _ = a.TtmpSetupDisabled(w)
		Expect(disabled).To(BeTrue())
	})
})
