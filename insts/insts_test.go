package insts_test

import (
	"encoding/binary"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/wavedbg/insts"
)

// sopk builds a SOPK instruction word: [31:28]=0b1011, op=[27:23],
// sdst=[22:16], simm16=[15:0].
func sopk(op uint16, sdst uint8, simm16 uint16) insts.Instruction {
	word := uint32(0xB0000000) | uint32(op&0x1F)<<23 |
		uint32(sdst&0x7F)<<16 | uint32(simm16)
	return word32(word)
}

// sop1 builds a SOP1 instruction word: [31:23]=0b101111101, op=[15:8],
// sdst=[22:16], ssrc0=[7:0].
func sop1(op uint16, sdst, ssrc0 uint8) insts.Instruction {
	word := uint32(0xBE800000) | uint32(sdst&0x7F)<<16 |
		uint32(op&0xFF)<<8 | uint32(ssrc0)
	return word32(word)
}

// sop2 builds a SOP2 instruction word: [31:30]=0b10, op=[29:23],
// sdst=[22:16], ssrc1=[15:8], ssrc0=[7:0].
func sop2(op uint16, sdst, ssrc1, ssrc0 uint8) insts.Instruction {
	word := uint32(0x80000000) | uint32(op&0x7F)<<23 |
		uint32(sdst&0x7F)<<16 | uint32(ssrc1)<<8 | uint32(ssrc0)
	return word32(word)
}

func word32(word uint32) insts.Instruction {
	bytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(bytes, word)
	return insts.New(bytes)
}

var _ = Describe("Instruction", func() {
	It("should be invalid when shorter than one word", func() {
		Expect(insts.New(nil).Valid()).To(BeFalse())
		Expect(insts.New([]byte{0x00, 0x00, 0x81}).Valid()).To(BeFalse())
		Expect(insts.New([]byte{0x00, 0x00, 0x81, 0xBF}).Valid()).To(BeTrue())
	})

	It("should read words little endian", func() {
		i := insts.New([]byte{0x01, 0x02, 0x03, 0x04, 0xAA, 0xBB, 0xCC, 0xDD})
		Expect(i.Word(0)).To(Equal(uint32(0x04030201)))
		Expect(i.Word(1)).To(Equal(uint32(0xDDCCBBAA)))
		Expect(i.Word(2)).To(Equal(uint32(0)))
	})

	It("should identify the scalar encoding families", func() {
		// s_endpgm (gfx9): SOPP op 1.
		Expect(insts.EncodeSOPP(1, 0).IsSOPP()).To(BeTrue())
		Expect(sopk(21, 0, 0).IsSOPK()).To(BeTrue())
		Expect(sop1(29, 0, 4).IsSOP1()).To(BeTrue())
		Expect(sop2(41, 0, 0, 0).IsSOP2()).To(BeTrue())
	})

	It("should not classify the carved-out encodings as SOP2", func() {
		// SOPK, SOP1 and SOPP live in the upper SOP2 opcode space.
		Expect(insts.EncodeSOPP(1, 0).IsSOP2()).To(BeFalse())
		Expect(sopk(21, 0, 0).IsSOP2()).To(BeFalse())
		Expect(sop1(29, 0, 4).IsSOP2()).To(BeFalse())
	})

	It("should not classify the carved-out encodings as SOPK", func() {
		// SOP1 and SOPP live in the upper SOPK opcode space.
		Expect(sop1(29, 0, 4).IsSOPK()).To(BeFalse())
		Expect(insts.EncodeSOPP(1, 0).IsSOPK()).To(BeFalse())
	})

	It("should extract the operand fields", func() {
		i := sop2(41, 0x12, 0x34, 0x56)
		Expect(i.SOP2Op()).To(Equal(uint16(41)))
		Expect(i.Sdst()).To(Equal(uint8(0x12)))
		Expect(i.Ssrc1()).To(Equal(uint8(0x34)))
		Expect(i.Ssrc0()).To(Equal(uint8(0x56)))
	})

	It("should sign extend simm16", func() {
		Expect(insts.EncodeSOPP(2, 0xFFFF).Simm16()).To(Equal(int16(-1)))
		Expect(insts.EncodeSOPP(2, 4).Simm16()).To(Equal(int16(4)))
	})
})

var _ = Describe("EncodeSOPP", func() {
	It("should produce one little-endian word", func() {
		// s_endpgm on gfx9 assembles to 0xBF810000.
		i := insts.EncodeSOPP(1, 0)
		Expect(i.Bytes()).To(Equal([]byte{0x00, 0x00, 0x81, 0xBF}))
	})

	It("should place the immediate in the low half word", func() {
		// s_trap 1 on gfx9 assembles to 0xBF920001.
		i := insts.EncodeSOPP(18, 1)
		Expect(i.Word(0)).To(Equal(uint32(0xBF920001)))
		Expect(i.Imm8()).To(Equal(uint8(1)))
	})
})
