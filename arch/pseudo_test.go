package arch_test

import (
	"encoding/binary"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/wavedbg/arch"
)

var _ = Describe("Pseudo registers", func() {
	var (
		a *arch.Architecture
		w *testWave
	)

	BeforeEach(func() {
		a = mustArch("gfx900")
		w = newTestWave(64)
	})

	Describe("availability", func() {
		It("should gate the lane-sized registers on the lane count", func() {
			Expect(a.IsPseudoRegisterAvailable(arch.PseudoExec64, 64)).To(BeTrue())
			Expect(a.IsPseudoRegisterAvailable(arch.PseudoExec32, 64)).To(BeFalse())
			// gfx9 has no wave32 at all.
			Expect(a.IsPseudoRegisterAvailable(arch.PseudoExec32, 32)).To(BeFalse())

			gfx1010 := mustArch("gfx1010")
			Expect(gfx1010.IsPseudoRegisterAvailable(arch.PseudoExec32, 32)).To(BeTrue())
			Expect(gfx1010.IsPseudoRegisterAvailable(arch.PseudoVcc32, 32)).To(BeTrue())
		})

		It("should always offer the synthesized registers", func() {
			Expect(a.IsPseudoRegisterAvailable(arch.WaveID, 64)).To(BeTrue())
			Expect(a.IsPseudoRegisterAvailable(arch.PseudoStatus, 64)).To(BeTrue())
			Expect(a.IsPseudoRegisterAvailable(arch.CSP, 64)).To(BeTrue())
			Expect(a.IsPseudoRegisterAvailable(arch.Null, 64)).To(BeTrue())
		})
	})

	Describe("WaveID", func() {
		It("should assemble the id from ttmp4 and ttmp5", func() {
			w.set32(arch.Ttmp4, 0x1234)
			w.set32(arch.Ttmp5, 0x1)

			buf := make([]byte, 8)
			Expect(a.ReadPseudoRegister(w, arch.WaveID, buf)).To(Succeed())
			Expect(binary.LittleEndian.Uint64(buf)).To(Equal(uint64(0x1_0000_1234)))
		})

		It("should split a written id across ttmp4 and ttmp5", func() {
			buf := make([]byte, 8)
			binary.LittleEndian.PutUint64(buf, 0x2_0000_5678)
			Expect(a.WritePseudoRegister(w, arch.WaveID, buf)).To(Succeed())

			Expect(w.reg32(arch.Ttmp4)).To(Equal(uint32(0x5678)))
			Expect(w.reg32(arch.Ttmp5)).To(Equal(uint32(0x2)))
		})
	})

	Describe("PseudoStatus", func() {
		It("should hide priv and take halt from the stash", func() {
			w.set32(arch.Status, statusSCC|statusPriv|statusHalt)
			w.set32(arch.Ttmp6, ttmp6Stopped)

			buf := make([]byte, 4)
			Expect(a.ReadPseudoRegister(w, arch.PseudoStatus, buf)).To(Succeed())
			status := binary.LittleEndian.Uint32(buf)
			Expect(status & statusSCC).NotTo(BeZero())
			Expect(status & statusPriv).To(BeZero())
			Expect(status & statusHalt).To(BeZero())

			w.set32(arch.Ttmp6, ttmp6Stopped|ttmp6SavedHalt)
			Expect(a.ReadPseudoRegister(w, arch.PseudoStatus, buf)).To(Succeed())
			Expect(binary.LittleEndian.Uint32(buf) & statusHalt).NotTo(BeZero())
		})

		It("should route a written halt bit into the stash", func() {
			buf := make([]byte, 4)
			binary.LittleEndian.PutUint32(buf, statusHalt)
			Expect(a.WritePseudoRegister(w, arch.PseudoStatus, buf)).To(Succeed())

			Expect(w.reg32(arch.Ttmp6) & ttmp6SavedHalt).NotTo(BeZero())
		})
	})

	Describe("PseudoExec64", func() {
		It("should maintain status.execz on writes", func() {
			buf := make([]byte, 8)
			Expect(a.WritePseudoRegister(w, arch.PseudoExec64, buf)).To(Succeed())
			Expect(w.reg32(arch.Status) & statusExecZ).NotTo(BeZero())

			binary.LittleEndian.PutUint64(buf, 0xF)
			Expect(a.WritePseudoRegister(w, arch.PseudoExec64, buf)).To(Succeed())
			Expect(w.reg32(arch.Status) & statusExecZ).To(BeZero())
			Expect(w.reg64(arch.Exec64)).To(Equal(uint64(0xF)))
		})
	})

	Describe("CSP", func() {
		It("should live in the top bits of mode", func() {
			buf := []byte{5, 0, 0, 0}
			Expect(a.WritePseudoRegister(w, arch.CSP, buf)).To(Succeed())
			Expect(w.reg32(arch.Mode) >> 29).To(Equal(uint32(5)))

			out := make([]byte, 4)
			Expect(a.ReadPseudoRegister(w, arch.CSP, out)).To(Succeed())
			Expect(binary.LittleEndian.Uint32(out)).To(Equal(uint32(5)))
		})
	})

	Describe("Null", func() {
		It("should read as zero and swallow writes", func() {
			buf := []byte{0xFF, 0xFF, 0xFF, 0xFF}
			Expect(a.WritePseudoRegister(w, arch.Null, buf)).To(Succeed())

			out := []byte{0xAA, 0xAA, 0xAA, 0xAA}
			Expect(a.ReadPseudoRegister(w, arch.Null, out)).To(Succeed())
			Expect(out).To(Equal([]byte{0, 0, 0, 0}))
		})
	})
})
