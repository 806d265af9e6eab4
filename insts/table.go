package insts

// Cond identifies the condition evaluated by a conditional scalar branch.
type Cond uint8

// Conditional branch conditions.
const (
	CondSCC0           Cond = iota // branch if status.SCC == 0
	CondSCC1                       // branch if status.SCC == 1
	CondVCCZ                       // branch if status.VCCZ == 1
	CondVCCNZ                      // branch if status.VCCZ == 0
	CondEXECZ                      // branch if status.EXECZ == 1
	CondEXECNZ                     // branch if status.EXECZ == 0
	CondDbgSys                     // branch if status.COND_DBG_SYS
	CondDbgUser                    // branch if status.COND_DBG_USER
	CondDbgSysOrUser               // branch if either debug condition
	CondDbgSysAndUser              // branch if both debug conditions
)

// noOp marks an opcode slot for an instruction a generation does not have.
const noOp = 0xFFFF

// Table lists the generation-specific opcode assignments for the scalar
// control-flow instructions. A zero-value slot of noOp means the
// generation has no such instruction.
type Table struct {
	// SOPP opcodes.
	Endpgm  uint16
	Branch  uint16
	Barrier uint16
	Sethalt uint16
	Sleep   uint16
	Trap    uint16
	CodeEnd uint16
	Sendmsg uint16
	CBranch map[uint16]Cond

	// SOPK opcodes.
	Call               uint16
	CBranchIFork       uint16
	SubvectorLoopBegin uint16
	SubvectorLoopEnd   uint16

	// SOP1 opcodes.
	Getpc       uint16
	Setpc       uint16
	Swappc      uint16
	CBranchJoin uint16

	// SOP2 opcodes.
	CBranchGFork uint16

	// CallNeedsAlignedSdst requires the call return-address pair to be
	// even-aligned for the encoding to be recognized.
	CallNeedsAlignedSdst bool

	// MinAlignment is the minimum instruction size and alignment in bytes.
	MinAlignment int
	// LargestSize is the largest instruction size in bytes.
	LargestSize int
}

// GFX9 returns the opcode table shared by all gfx9 generations.
func GFX9() *Table {
	return &Table{
		Endpgm:  1,
		Branch:  2,
		Barrier: 10,
		Sethalt: 13,
		Sleep:   14,
		Trap:    18,
		CodeEnd: noOp,
		Sendmsg: noOp,
		CBranch: map[uint16]Cond{
			4:  CondSCC0,
			5:  CondSCC1,
			6:  CondVCCZ,
			7:  CondVCCNZ,
			8:  CondEXECZ,
			9:  CondEXECNZ,
			23: CondDbgSys,
			24: CondDbgUser,
			25: CondDbgSysOrUser,
			26: CondDbgSysAndUser,
		},
		Call:                 21,
		CBranchIFork:         16,
		SubvectorLoopBegin:   noOp,
		SubvectorLoopEnd:     noOp,
		Getpc:                28,
		Setpc:                29,
		Swappc:               30,
		CBranchJoin:          46,
		CBranchGFork:         41,
		CallNeedsAlignedSdst: true,
		MinAlignment:         4,
		LargestSize:          8,
	}
}

// GFX10 returns the opcode table shared by the gfx10 generations. The
// fork/join instructions are gone and the subvector loop pair is new.
func GFX10() *Table {
	t := GFX9()
	t.CodeEnd = 31
	t.Call = 22
	t.CBranchIFork = noOp
	t.SubvectorLoopBegin = 27
	t.SubvectorLoopEnd = 28
	t.Getpc = 31
	t.Setpc = 32
	t.Swappc = 33
	t.CBranchJoin = noOp
	t.CBranchGFork = noOp
	t.LargestSize = 20
	return t
}

// GFX11 returns the opcode table for the gfx11 generations.
func GFX11() *Table {
	t := GFX10()
	t.Endpgm = 48
	t.Branch = 32
	t.Barrier = 61
	t.Sethalt = 2
	t.Sleep = 3
	t.Trap = 16
	t.Sendmsg = 54
	t.CBranch = map[uint16]Cond{
		33: CondSCC0,
		34: CondSCC1,
		35: CondVCCZ,
		36: CondVCCNZ,
		37: CondEXECZ,
		38: CondEXECNZ,
		39: CondDbgSys,
		40: CondDbgUser,
		41: CondDbgSysOrUser,
		42: CondDbgSysAndUser,
	}
	t.Call = 20
	t.SubvectorLoopBegin = 22
	t.SubvectorLoopEnd = 23
	t.Getpc = 71
	t.Setpc = 72
	t.Swappc = 73
	t.CallNeedsAlignedSdst = false
	return t
}

// IsEndpgm reports whether the instruction is s_endpgm.
func (t *Table) IsEndpgm(i Instruction) bool {
	return i.IsSOPP() && i.SOPPOp() == t.Endpgm
}

// IsBranch reports whether the instruction is an unconditional s_branch.
func (t *Table) IsBranch(i Instruction) bool {
	return i.IsSOPP() && i.SOPPOp() == t.Branch
}

// CBranchCond returns the condition of a conditional branch, or false if
// the instruction is not an s_cbranch.
func (t *Table) CBranchCond(i Instruction) (Cond, bool) {
	if !i.IsSOPP() {
		return 0, false
	}
	cond, ok := t.CBranch[i.SOPPOp()]
	return cond, ok
}

// IsCBranch reports whether the instruction is a conditional branch.
func (t *Table) IsCBranch(i Instruction) bool {
	_, ok := t.CBranchCond(i)
	return ok
}

// IsBarrier reports whether the instruction is s_barrier.
func (t *Table) IsBarrier(i Instruction) bool {
	return i.IsSOPP() && i.SOPPOp() == t.Barrier
}

// IsSethalt reports whether the instruction is s_sethalt.
func (t *Table) IsSethalt(i Instruction) bool {
	return i.IsSOPP() && i.SOPPOp() == t.Sethalt
}

// IsSleep reports whether the instruction is s_sleep.
func (t *Table) IsSleep(i Instruction) bool {
	return i.IsSOPP() && i.SOPPOp() == t.Sleep
}

// IsTrap reports whether the instruction is s_trap. The trap id is in
// simm16[7:0].
func (t *Table) IsTrap(i Instruction) bool {
	return i.IsSOPP() && i.SOPPOp() == t.Trap
}

// IsCodeEnd reports whether the instruction is s_code_end, the padding
// placed past the last real instruction of a code object.
func (t *Table) IsCodeEnd(i Instruction) bool {
	return t.CodeEnd != noOp && i.IsSOPP() && i.SOPPOp() == t.CodeEnd
}

// IsSendmsg reports whether the instruction is s_sendmsg and returns the
// message type from simm16[7:0].
func (t *Table) IsSendmsg(i Instruction) (uint8, bool) {
	if t.Sendmsg == noOp || !i.IsSOPP() || i.SOPPOp() != t.Sendmsg {
		return 0, false
	}
	return uint8(i.Simm16() & 0xFF), true
}

// IsCall reports whether the instruction is s_call_b64.
func (t *Table) IsCall(i Instruction) bool {
	if !i.IsSOPK() || i.SOPKOp() != t.Call {
		return false
	}
	return !t.CallNeedsAlignedSdst || i.Sdst()&1 == 0
}

// IsCBranchIFork reports whether the instruction is s_cbranch_i_fork.
func (t *Table) IsCBranchIFork(i Instruction) bool {
	return t.CBranchIFork != noOp && i.IsSOPK() && i.SOPKOp() == t.CBranchIFork
}

// IsCBranchGFork reports whether the instruction is s_cbranch_g_fork.
func (t *Table) IsCBranchGFork(i Instruction) bool {
	return t.CBranchGFork != noOp && i.IsSOP2() && i.SOP2Op() == t.CBranchGFork
}

// IsCBranchJoin reports whether the instruction is s_cbranch_join.
func (t *Table) IsCBranchJoin(i Instruction) bool {
	return t.CBranchJoin != noOp && i.IsSOP1() && i.SOP1Op() == t.CBranchJoin
}

// IsSubvectorLoopBegin reports whether the instruction is
// s_subvector_loop_begin.
func (t *Table) IsSubvectorLoopBegin(i Instruction) bool {
	return t.SubvectorLoopBegin != noOp && i.IsSOPK() &&
		i.SOPKOp() == t.SubvectorLoopBegin
}

// IsSubvectorLoopEnd reports whether the instruction is
// s_subvector_loop_end.
func (t *Table) IsSubvectorLoopEnd(i Instruction) bool {
	return t.SubvectorLoopEnd != noOp && i.IsSOPK() &&
		i.SOPKOp() == t.SubvectorLoopEnd
}

// IsGetpc reports whether the instruction is s_getpc_b64.
func (t *Table) IsGetpc(i Instruction) bool {
	if !i.IsSOP1() || i.SOP1Op() != t.Getpc {
		return false
	}
	return !t.CallNeedsAlignedSdst || i.Sdst()&1 == 0
}

// IsSetpc reports whether the instruction is s_setpc_b64.
func (t *Table) IsSetpc(i Instruction) bool {
	return i.IsSOP1() && i.SOP1Op() == t.Setpc
}

// IsSwappc reports whether the instruction is s_swappc_b64.
func (t *Table) IsSwappc(i Instruction) bool {
	if !i.IsSOP1() || i.SOP1Op() != t.Swappc {
		return false
	}
	return !t.CallNeedsAlignedSdst || i.Ssrc0()&1 == 0
}

// IsSequential reports whether executing the instruction moves the
// program counter to the next sequential instruction.
func (t *Table) IsSequential(i Instruction) bool {
	if !i.Valid() {
		return false
	}
	return !t.IsEndpgm(i) && !t.IsBranch(i) && !t.IsCBranch(i) &&
		!t.IsSetpc(i) && !t.IsSwappc(i) && !t.IsCall(i) &&
		!t.IsCBranchIFork(i) && !t.IsCBranchGFork(i) &&
		!t.IsCBranchJoin(i) &&
		!t.IsSubvectorLoopBegin(i) && !t.IsSubvectorLoopEnd(i)
}

// SizeOf returns the byte size of the instruction, or 0 if the encoding
// is not one this debugger can decode. Scalar instructions are one word,
// plus one more when a source operand selects a literal constant.
func (t *Table) SizeOf(i Instruction) int {
	switch {
	case !i.Valid():
		return 0
	case i.IsSOPP(), i.IsSOPK():
		return 4
	case i.IsSOP1():
		if i.Ssrc0() == LiteralOperand {
			return 8
		}
		return 4
	case i.IsSOP2():
		if i.Ssrc0() == LiteralOperand || i.Ssrc1() == LiteralOperand {
			return 8
		}
		return 4
	default:
		return 0
	}
}

// BranchTarget computes the destination of a pc-relative branch located
// at pc. The 16-bit immediate counts words and is applied after the
// instruction's own size, then the result is aligned down.
func (t *Table) BranchTarget(pc uint64, i Instruction) uint64 {
	target := pc + uint64(t.SizeOf(i)) + uint64(int64(i.Simm16())<<2)
	return target &^ uint64(t.MinAlignment-1)
}
