package arch

import (
	"github.com/sarchlab/wavedbg/insts"
)

// Classification describes the control-flow effect of an instruction.
// Each kind carries the operands a debugger needs to plan breakpoints
// and stepping: resolved targets for direct transfers, register pair
// bases for indirect ones.
type Classification interface {
	isClassification()
}

// Sequential is an instruction that falls through to the next one.
type Sequential struct{}

// DirectBranch is an unconditional pc-relative branch.
type DirectBranch struct {
	Target uint64
}

// ConditionalBranch is a pc-relative branch taken only when its
// condition holds.
type ConditionalBranch struct {
	Target uint64
}

// IndirectBranch transfers to an address held in a register pair.
type IndirectBranch struct {
	TargetReg Regnum
}

// IndirectConditionalBranch conditionally transfers to an address held
// in a register pair.
type IndirectConditionalBranch struct {
	TargetReg Regnum
}

// DirectCall is a pc-relative call that writes the return address to a
// register pair.
type DirectCall struct {
	Target    uint64
	ReturnReg Regnum
}

// IndirectCall transfers to an address held in a register pair and
// writes the return address to another.
type IndirectCall struct {
	TargetReg Regnum
	ReturnReg Regnum
}

// Special is an instruction whose control flow depends on hidden state,
// such as s_cbranch_join reading the call-stack pointer.
type Special struct{}

// Terminate ends the wave's program.
type Terminate struct{}

// Trap enters the trap handler with an id.
type Trap struct {
	ID TrapID
}

// Halt sets the wave's halt bit.
type Halt struct{}

// Barrier joins the workgroup barrier.
type Barrier struct{}

// Sleep pauses the wave for a fixed interval.
type Sleep struct{}

// Unknown is an instruction the opcode tables cannot decode.
type Unknown struct{}

func (Sequential) isClassification()                {}
func (DirectBranch) isClassification()              {}
func (ConditionalBranch) isClassification()         {}
func (IndirectBranch) isClassification()            {}
func (IndirectConditionalBranch) isClassification() {}
func (DirectCall) isClassification()                {}
func (IndirectCall) isClassification()              {}
func (Special) isClassification()                   {}
func (Terminate) isClassification()                 {}
func (Trap) isClassification()                      {}
func (Halt) isClassification()                      {}
func (Barrier) isClassification()                   {}
func (Sleep) isClassification()                     {}
func (Unknown) isClassification()                   {}

// Classify determines the control-flow kind of the instruction at pc.
// Instructions outside the scalar control-flow subset, and decodable
// instructions with unresolvable register operands, classify as
// Sequential or Unknown.
func (a *Architecture) Classify(pc uint64, i insts.Instruction) Classification {
	t := a.table

	if !i.Valid() || t.SizeOf(i) == 0 {
		return Unknown{}
	}

	switch {
	case t.IsEndpgm(i), t.IsCodeEnd(i):
		if t.IsCodeEnd(i) {
			return Unknown{}
		}
		return Terminate{}

	case t.IsBranch(i):
		return DirectBranch{Target: t.BranchTarget(pc, i)}

	case t.IsCBranch(i), t.IsCBranchIFork(i),
		t.IsSubvectorLoopBegin(i), t.IsSubvectorLoopEnd(i):
		return ConditionalBranch{Target: t.BranchTarget(pc, i)}

	case t.IsCBranchGFork(i):
		reg, ok := a.ScalarOperandRegnumPair(i.Ssrc1())
		if !ok {
			return Unknown{}
		}
		return IndirectConditionalBranch{TargetReg: reg}

	case t.IsCBranchJoin(i):
		return Special{}

	case t.IsSetpc(i):
		reg, ok := a.ScalarOperandRegnumPair(i.Ssrc0())
		if !ok {
			return Unknown{}
		}
		return IndirectBranch{TargetReg: reg}

	case t.IsCall(i):
		ret, ok := a.callReturnRegnum(i)
		if !ok {
			return Unknown{}
		}
		return DirectCall{Target: t.BranchTarget(pc, i), ReturnReg: ret}

	case t.IsSwappc(i):
		target, ok := a.ScalarOperandRegnumPair(i.Ssrc0())
		if !ok {
			return Unknown{}
		}
		ret, ok := a.ScalarOperandRegnumPair(i.Sdst())
		if !ok {
			return Unknown{}
		}
		return IndirectCall{TargetReg: target, ReturnReg: ret}

	case t.IsTrap(i):
		return Trap{ID: TrapID(i.Imm8())}

	case t.IsSethalt(i):
		if i.Simm16()&1 != 0 {
			return Halt{}
		}
		return Sequential{}

	case t.IsBarrier(i):
		return Barrier{}

	case t.IsSleep(i):
		return Sleep{}

	default:
		return Sequential{}
	}
}

func (a *Architecture) callReturnRegnum(i insts.Instruction) (Regnum, bool) {
	if a.table.CallNeedsAlignedSdst {
		return a.ScalarOperandRegnumPair(i.Sdst())
	}
	return a.ScalarOperandRegnum(i.Sdst())
}
