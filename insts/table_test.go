package insts_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/wavedbg/insts"
)

var _ = Describe("Opcode Tables", func() {
	Describe("GFX9", func() {
		var t *insts.Table

		BeforeEach(func() {
			t = insts.GFX9()
		})

		It("should recognize the SOPP control-flow opcodes", func() {
			Expect(t.IsEndpgm(insts.EncodeSOPP(1, 0))).To(BeTrue())
			Expect(t.IsBranch(insts.EncodeSOPP(2, 0))).To(BeTrue())
			Expect(t.IsBarrier(insts.EncodeSOPP(10, 0))).To(BeTrue())
			Expect(t.IsSethalt(insts.EncodeSOPP(13, 1))).To(BeTrue())
			Expect(t.IsSleep(insts.EncodeSOPP(14, 1))).To(BeTrue())
			Expect(t.IsTrap(insts.EncodeSOPP(18, 1))).To(BeTrue())
			Expect(t.IsEndpgm(insts.EncodeSOPP(2, 0))).To(BeFalse())
		})

		It("should map the conditional branch opcodes to conditions", func() {
			cond, ok := t.CBranchCond(insts.EncodeSOPP(4, 0))
			Expect(ok).To(BeTrue())
			Expect(cond).To(Equal(insts.CondSCC0))

			cond, ok = t.CBranchCond(insts.EncodeSOPP(7, 0))
			Expect(ok).To(BeTrue())
			Expect(cond).To(Equal(insts.CondVCCNZ))

			_, ok = t.CBranchCond(insts.EncodeSOPP(1, 0))
			Expect(ok).To(BeFalse())
		})

		It("should have no s_code_end or s_sendmsg classification", func() {
			Expect(t.IsCodeEnd(insts.EncodeSOPP(31, 0))).To(BeFalse())
			_, ok := t.IsSendmsg(insts.EncodeSOPP(54, 3))
			Expect(ok).To(BeFalse())
		})

		It("should require an even return pair for s_call_b64", func() {
			Expect(t.IsCall(sopk(21, 0, 0))).To(BeTrue())
			Expect(t.IsCall(sopk(21, 4, 0))).To(BeTrue())
			Expect(t.IsCall(sopk(21, 5, 0))).To(BeFalse())
		})

		It("should recognize the fork and join instructions", func() {
			Expect(t.IsCBranchIFork(sopk(16, 0, 0))).To(BeTrue())
			Expect(t.IsCBranchGFork(sop2(41, 0, 2, 0))).To(BeTrue())
			Expect(t.IsCBranchJoin(sop1(46, 0, 0))).To(BeTrue())
			Expect(t.IsSubvectorLoopBegin(sopk(27, 0, 0))).To(BeFalse())
		})

		It("should recognize the pc-moving SOP1 instructions", func() {
			Expect(t.IsGetpc(sop1(28, 2, 0))).To(BeTrue())
			Expect(t.IsGetpc(sop1(28, 3, 0))).To(BeFalse())
			Expect(t.IsSetpc(sop1(29, 0, 4))).To(BeTrue())
			Expect(t.IsSwappc(sop1(30, 2, 4))).To(BeTrue())
			Expect(t.IsSwappc(sop1(30, 2, 5))).To(BeFalse())
		})

		It("should classify sequential instructions", func() {
			Expect(t.IsSequential(insts.EncodeSOPP(0, 0))).To(BeTrue()) // s_nop
			Expect(t.IsSequential(insts.EncodeSOPP(1, 0))).To(BeFalse())
			Expect(t.IsSequential(insts.EncodeSOPP(2, 0))).To(BeFalse())
			Expect(t.IsSequential(sopk(21, 0, 0))).To(BeFalse())
			Expect(t.IsSequential(sop1(29, 0, 4))).To(BeFalse())
			Expect(t.IsSequential(insts.New(nil))).To(BeFalse())
		})
	})

	Describe("GFX10", func() {
		var t *insts.Table

		BeforeEach(func() {
			t = insts.GFX10()
		})

		It("should drop the fork and join instructions", func() {
			Expect(t.IsCBranchIFork(sopk(16, 0, 0))).To(BeFalse())
			Expect(t.IsCBranchGFork(sop2(41, 0, 2, 0))).To(BeFalse())
			Expect(t.IsCBranchJoin(sop1(46, 0, 0))).To(BeFalse())
		})

		It("should gain the subvector loop pair", func() {
			Expect(t.IsSubvectorLoopBegin(sopk(27, 0, 0))).To(BeTrue())
			Expect(t.IsSubvectorLoopEnd(sopk(28, 0, 0))).To(BeTrue())
		})

		It("should recognize s_code_end", func() {
			Expect(t.IsCodeEnd(insts.EncodeSOPP(31, 0))).To(BeTrue())
		})

		It("should use the moved SOPK and SOP1 opcodes", func() {
			Expect(t.IsCall(sopk(22, 0, 0))).To(BeTrue())
			Expect(t.IsCall(sopk(21, 0, 0))).To(BeFalse())
			Expect(t.IsSetpc(sop1(32, 0, 4))).To(BeTrue())
		})
	})

	Describe("GFX11", func() {
		var t *insts.Table

		BeforeEach(func() {
			t = insts.GFX11()
		})

		It("should use the renumbered SOPP opcodes", func() {
			Expect(t.IsEndpgm(insts.EncodeSOPP(48, 0))).To(BeTrue())
			Expect(t.IsBranch(insts.EncodeSOPP(32, 0))).To(BeTrue())
			Expect(t.IsTrap(insts.EncodeSOPP(16, 1))).To(BeTrue())
			Expect(t.IsSethalt(insts.EncodeSOPP(2, 1))).To(BeTrue())
			Expect(t.IsEndpgm(insts.EncodeSOPP(1, 0))).To(BeFalse())
		})

		It("should decode s_sendmsg with its message type", func() {
			msg, ok := t.IsSendmsg(insts.EncodeSOPP(54, 3))
			Expect(ok).To(BeTrue())
			Expect(msg).To(Equal(uint8(3)))
		})

		It("should not require aligned call return pairs", func() {
			Expect(t.IsCall(sopk(20, 5, 0))).To(BeTrue())
		})
	})

	Describe("SizeOf", func() {
		var t *insts.Table

		BeforeEach(func() {
			t = insts.GFX9()
		})

		It("should size one-word scalar instructions", func() {
			Expect(t.SizeOf(insts.EncodeSOPP(1, 0))).To(Equal(4))
			Expect(t.SizeOf(sopk(21, 0, 0))).To(Equal(4))
			Expect(t.SizeOf(sop1(29, 0, 4))).To(Equal(4))
			Expect(t.SizeOf(sop2(41, 0, 2, 0))).To(Equal(4))
		})

		It("should add a word for a literal operand", func() {
			Expect(t.SizeOf(sop1(29, 0, insts.LiteralOperand))).To(Equal(8))
			Expect(t.SizeOf(sop2(41, 0, insts.LiteralOperand, 0))).To(Equal(8))
			Expect(t.SizeOf(sop2(41, 0, 2, insts.LiteralOperand))).To(Equal(8))
		})

		It("should report 0 for undecodable bytes", func() {
			Expect(t.SizeOf(insts.New(nil))).To(Equal(0))
			// A vector encoding the scalar tables do not cover.
			Expect(t.SizeOf(insts.New([]byte{0x00, 0x00, 0x00, 0x7E}))).To(Equal(0))
		})
	})

	Describe("BranchTarget", func() {
		It("should apply the word-counted immediate after the instruction", func() {
			t := insts.GFX9()
			Expect(t.BranchTarget(0x1000, insts.EncodeSOPP(2, 4))).
				To(Equal(uint64(0x1014)))
			Expect(t.BranchTarget(0x1000, insts.EncodeSOPP(2, 0xFFFF))).
				To(Equal(uint64(0x1000)))
			Expect(t.BranchTarget(0x1000, insts.EncodeSOPP(2, 0xFFFE))).
				To(Equal(uint64(0x0FFC)))
		})
	})
})
