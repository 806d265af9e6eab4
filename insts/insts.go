// Package insts models raw AMDGCN instruction words and classifies the
// scalar control-flow subset a debugger needs: branches, calls, traps,
// program-counter movement, and program end.
package insts

import "encoding/binary"

// Instruction holds the raw bytes of one instruction as read from GPU
// memory. The bytes are little-endian 32-bit words.
type Instruction struct {
	bytes []byte
}

// New creates an Instruction from raw memory bytes. The slice may be
// longer than the instruction itself; the opcode table's SizeOf reports
// the true length.
func New(bytes []byte) Instruction {
	return Instruction{bytes: bytes}
}

// Valid reports whether the buffer holds at least one instruction word.
func (i Instruction) Valid() bool {
	return len(i.bytes) >= 4
}

// Bytes returns the raw underlying bytes.
func (i Instruction) Bytes() []byte {
	return i.bytes
}

// Word returns the n-th little-endian 32-bit word, or 0 if out of range.
func (i Instruction) Word(n int) uint32 {
	if len(i.bytes) < (n+1)*4 {
		return 0
	}
	return binary.LittleEndian.Uint32(i.bytes[n*4:])
}

// Scalar encoding families. The family is identified by the high bits of
// the first instruction word:
//
//	SOP2: [31:30] = 0b10,        op = [29:23]
//	SOPK: [31:28] = 0b1011,      op = [27:23]
//	SOP1: [31:23] = 0b101111101, op = [15:8]
//	SOPP: [31:23] = 0b101111111, op = [22:16]
const (
	sop2EncodingMask = 0xC0000000
	sop2Encoding     = 0x80000000
	sopkEncodingMask = 0xF0000000
	sopkEncoding     = 0xB0000000
	sop1EncodingMask = 0xFF800000
	sop1Encoding     = 0xBE800000
	soppEncodingMask = 0xFF800000
	soppEncoding     = 0xBF800000
)

// LiteralOperand is the scalar source operand value that selects a
// 32-bit literal constant held in the following instruction word.
const LiteralOperand = 255

// IsSOPP reports whether the instruction uses the SOPP encoding.
func (i Instruction) IsSOPP() bool {
	return i.Valid() && i.Word(0)&soppEncodingMask == soppEncoding
}

// IsSOP1 reports whether the instruction uses the SOP1 encoding.
func (i Instruction) IsSOP1() bool {
	return i.Valid() && i.Word(0)&sop1EncodingMask == sop1Encoding
}

// IsSOPK reports whether the instruction uses the SOPK encoding. SOP1
// and SOPP occupy the upper SOPK opcode space and are excluded.
func (i Instruction) IsSOPK() bool {
	return i.Valid() && i.Word(0)&sopkEncodingMask == sopkEncoding &&
		!i.IsSOP1() && !i.IsSOPP()
}

// IsSOP2 reports whether the instruction uses the SOP2 encoding. SOPK,
// SOP1 and SOPP occupy the upper SOP2 opcode space and are excluded.
func (i Instruction) IsSOP2() bool {
	return i.Valid() && i.Word(0)&sop2EncodingMask == sop2Encoding &&
		!i.IsSOPK() && !i.IsSOP1() && !i.IsSOPP()
}

// SOPPOp returns the 7-bit SOPP opcode field.
func (i Instruction) SOPPOp() uint16 {
	return uint16(i.Word(0) >> 16 & 0x7F)
}

// SOP1Op returns the 8-bit SOP1 opcode field.
func (i Instruction) SOP1Op() uint16 {
	return uint16(i.Word(0) >> 8 & 0xFF)
}

// SOPKOp returns the 5-bit SOPK opcode field.
func (i Instruction) SOPKOp() uint16 {
	return uint16(i.Word(0) >> 23 & 0x1F)
}

// SOP2Op returns the 7-bit SOP2 opcode field.
func (i Instruction) SOP2Op() uint16 {
	return uint16(i.Word(0) >> 23 & 0x7F)
}

// Ssrc0 returns the first scalar source operand field (bits [7:0]).
func (i Instruction) Ssrc0() uint8 {
	return uint8(i.Word(0) & 0xFF)
}

// Ssrc1 returns the second scalar source operand field (bits [15:8]).
func (i Instruction) Ssrc1() uint8 {
	return uint8(i.Word(0) >> 8 & 0xFF)
}

// Sdst returns the scalar destination operand field (bits [22:16]).
func (i Instruction) Sdst() uint8 {
	return uint8(i.Word(0) >> 16 & 0x7F)
}

// Simm16 returns the signed 16-bit immediate field (bits [15:0]).
func (i Instruction) Simm16() int16 {
	return int16(i.Word(0) & 0xFFFF)
}

// Imm8 returns the low 8 bits of the immediate field, used by s_trap.
func (i Instruction) Imm8() uint8 {
	return uint8(i.Word(0) & 0xFF)
}

// EncodeSOPP builds a one-word SOPP instruction from an opcode and an
// immediate. Used to materialize trap and program-end instructions.
func EncodeSOPP(op uint16, simm16 uint16) Instruction {
	word := soppEncoding | uint32(op&0x7F)<<16 | uint32(simm16)
	bytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(bytes, word)
	return Instruction{bytes: bytes}
}
