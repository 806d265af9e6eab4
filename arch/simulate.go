package arch

import (
	"fmt"
	"math/bits"

	"github.com/sarchlab/wavedbg/insts"
)

func (a *Architecture) readCSP(rf RegisterFile) (uint32, error) {
	var buf [4]byte
	if err := a.ReadPseudoRegister(rf, CSP, buf[:]); err != nil {
		return 0, err
	}
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24, nil
}

func (a *Architecture) writeCSP(rf RegisterFile, csp uint32) error {
	var buf [4]byte
	buf[0], buf[1], buf[2], buf[3] = byte(csp), byte(csp>>8), byte(csp>>16), byte(csp>>24)
	return a.WritePseudoRegister(rf, CSP, buf[:])
}

func (a *Architecture) readRegPair(rf RegisterFile, base Regnum) (uint64, error) {
	lo, err := ReadReg32(rf, base)
	if err != nil {
		return 0, err
	}
	hi, err := ReadReg32(rf, base+1)
	if err != nil {
		return 0, err
	}
	return uint64(hi)<<32 | uint64(lo), nil
}

func (a *Architecture) writeRegPair(rf RegisterFile, base Regnum, v uint64) error {
	if err := WriteReg32(rf, base, uint32(v)); err != nil {
		return err
	}
	return WriteReg32(rf, base+1, uint32(v>>32))
}

// IsBranchTaken evaluates whether a control-flow instruction transfers
// to its branch target, reading the condition bits and lane masks it
// depends on.
func (a *Architecture) IsBranchTaken(w Wave, i insts.Instruction) (bool, error) {
	t := a.table

	if cond, ok := t.CBranchCond(i); ok {
		status, err := ReadReg32(w, Status)
		if err != nil {
			return false, err
		}
		switch cond {
		case insts.CondSCC0:
			return status&statusSCCMask == 0, nil
		case insts.CondSCC1:
			return status&statusSCCMask != 0, nil
		case insts.CondEXECZ:
			return status&statusExecZMask != 0, nil
		case insts.CondEXECNZ:
			return status&statusExecZMask == 0, nil
		case insts.CondVCCZ:
			return status&statusVccZMask != 0, nil
		case insts.CondVCCNZ:
			return status&statusVccZMask == 0, nil
		case insts.CondDbgSys:
			return status&statusCondDbgSysMask != 0, nil
		case insts.CondDbgUser:
			return status&statusCondDbgUserMask != 0, nil
		case insts.CondDbgSysOrUser:
			return status&(statusCondDbgSysMask|statusCondDbgUserMask) != 0, nil
		case insts.CondDbgSysAndUser:
			mask := statusCondDbgSysMask | statusCondDbgUserMask
			return status&mask == mask, nil
		default:
			panic(fmt.Sprintf("invalid branch condition %d", cond))
		}
	}

	if t.IsCBranchIFork(i) || t.IsCBranchGFork(i) {
		op := i.Sdst()
		if t.IsCBranchGFork(i) {
			op = i.Ssrc0()
		}
		maskReg, ok := a.ScalarOperandRegnum(op)
		if !ok {
			return false, fmt.Errorf("fork mask operand %d is not a register", op)
		}

		mask, err := a.readRegPair(w, maskReg)
		if err != nil {
			return false, err
		}
		exec, err := ReadReg64(w, Exec64)
		if err != nil {
			return false, err
		}

		maskPass := mask & exec
		maskFail := ^mask & exec

		if maskPass == exec {
			return true, nil
		}
		if maskFail == exec {
			return false, nil
		}
		// Neither side consumes all active lanes. The hardware continues
		// with the majority side and pushes the minority side.
		return bits.OnesCount64(maskFail) >= bits.OnesCount64(maskPass), nil
	}

	if t.IsCBranchJoin(i) {
		maskReg, ok := a.ScalarOperandRegnum(i.Ssrc0())
		if !ok {
			return false, fmt.Errorf("join operand %d is not a register", i.Ssrc0())
		}
		csp, err := a.readCSP(w)
		if err != nil {
			return false, err
		}
		mask, err := ReadReg32(w, maskReg)
		if err != nil {
			return false, err
		}
		return csp != mask, nil
	}

	if t.IsBranch(i) || t.IsCall(i) || t.IsSetpc(i) || t.IsSwappc(i) ||
		t.IsSubvectorLoopBegin(i) || t.IsSubvectorLoopEnd(i) {
		return true, nil
	}

	return false, fmt.Errorf("not a branch instruction")
}

// BranchTarget computes the destination address of a control-flow
// instruction at pc, reading register operands when the target is
// indirect.
func (a *Architecture) BranchTarget(w Wave, pc uint64, i insts.Instruction) (uint64, error) {
	t := a.table
	var target uint64

	switch {
	case t.IsBranch(i), t.IsCall(i), t.IsCBranch(i), t.IsCBranchIFork(i),
		t.IsSubvectorLoopBegin(i), t.IsSubvectorLoopEnd(i):
		return t.BranchTarget(pc, i), nil

	case t.IsCBranchGFork(i):
		reg, ok := a.ScalarOperandRegnum(i.Ssrc1())
		if !ok {
			return 0, fmt.Errorf("fork target operand %d is not a register", i.Ssrc1())
		}
		var err error
		target, err = a.readRegPair(w, reg)
		if err != nil {
			return 0, err
		}

	case t.IsSetpc(i), t.IsSwappc(i):
		reg, ok := a.ScalarOperandRegnum(i.Ssrc0())
		if !ok {
			return 0, fmt.Errorf("target operand %d is not a register", i.Ssrc0())
		}
		var err error
		target, err = a.readRegPair(w, reg)
		if err != nil {
			return 0, err
		}

	case t.IsCBranchJoin(i):
		csp, err := a.readCSP(w)
		if err != nil {
			return 0, err
		}
		csp--
		target, err = a.readRegPair(w, Sgpr(int(csp)*4)+2)
		if err != nil {
			return 0, err
		}

	default:
		return 0, fmt.Errorf("not a branch instruction")
	}

	return target &^ uint64(t.MinAlignment-1), nil
}

// CanExecuteDisplaced reports whether the instruction may be executed
// from a relocated copy. PC-relative and pc-reading instructions cannot;
// they are simulated instead.
func (a *Architecture) CanExecuteDisplaced(w Wave, i insts.Instruction) bool {
	t := a.table

	if !i.Valid() {
		return false
	}
	if t.IsSubvectorLoopBegin(i) || t.IsSubvectorLoopEnd(i) {
		return false
	}
	if msg, ok := t.IsSendmsg(i); ok && msg == sendmsgDeallocVgprs {
		return false
	}
	if t.IsBranch(i) || t.IsCBranch(i) || t.IsCBranchIFork(i) || t.IsCall(i) {
		return false
	}
	return !(t.IsCBranchGFork(i) || t.IsCBranchJoin(i) ||
		t.IsGetpc(i) || t.IsSetpc(i) || t.IsSwappc(i))
}

// sendmsgDeallocVgprs releases a wave's vector registers ahead of
// program end on gfx11.
const sendmsgDeallocVgprs = 0x3

// CanSimulate reports whether the instruction's effect can be applied in
// software. Only instructions whose operands resolve to known registers
// qualify; literal and special operands are not handled.
func (a *Architecture) CanSimulate(w Wave, i insts.Instruction) bool {
	t := a.table

	if !i.Valid() {
		return false
	}
	if msg, ok := t.IsSendmsg(i); ok && msg == sendmsgDeallocVgprs {
		return true
	}
	if t.IsSubvectorLoopBegin(i) || t.IsSubvectorLoopEnd(i) {
		_, ok := a.ScalarOperandRegnum(i.Sdst())
		// Only a wave64 executes subvector loops.
		return ok && w.LaneCount() == 64
	}
	if t.IsGetpc(i) || t.IsCall(i) || t.IsCBranchIFork(i) {
		_, ok := a.ScalarOperandRegnum(i.Sdst())
		return ok
	}
	if t.IsSetpc(i) {
		_, ok := a.ScalarOperandRegnum(i.Ssrc0())
		return ok
	}
	if t.IsSwappc(i) {
		_, src := a.ScalarOperandRegnum(i.Ssrc0())
		_, dst := a.ScalarOperandRegnum(i.Sdst())
		return src && dst
	}
	if t.IsCBranchGFork(i) {
		_, src0 := a.ScalarOperandRegnum(i.Ssrc0())
		_, src1 := a.ScalarOperandRegnum(i.Ssrc1())
		return src0 && src1
	}
	return t.IsBranch(i) || t.IsCBranch(i) || t.IsCBranchJoin(i) || t.IsEndpgm(i)
}

// Simulate applies the effect of the instruction at pc and emulates the
// trap-handler entry that single-stepping it would have produced. It
// reports false, without simulating, if the wave is halted.
func (a *Architecture) Simulate(w Wave, pc uint64, i insts.Instruction) (bool, error) {
	halted, err := a.WaveHalt(w)
	if err != nil {
		return false, err
	}
	if halted {
		return false, nil
	}

	newPC, terminated, err := a.SimulateInstruction(w, pc, i)
	if err != nil || terminated {
		return err == nil, err
	}
	return true, a.SimulateTrapHandler(w, newPC, TrapIDNone)
}

// SimulateInstruction applies the register side effects of a
// control-flow instruction and returns the next pc. A simulated
// s_endpgm terminates the wave and reports terminated instead of a next
// pc.
func (a *Architecture) SimulateInstruction(w Wave, pc uint64, i insts.Instruction) (uint64, bool, error) {
	t := a.table

	switch {
	case t.IsBranch(i), t.IsCBranch(i), t.IsSetpc(i):
		// Only the pc changes.

	case t.IsEndpgm(i):
		return 0, true, w.Terminate()

	case t.IsSubvectorLoopBegin(i), t.IsSubvectorLoopEnd(i):
		return a.simulateSubvectorLoop(w, pc, i)

	case t.IsCBranchIFork(i), t.IsCBranchGFork(i):
		if err := a.simulateFork(w, pc, i); err != nil {
			return 0, false, err
		}

	case t.IsCBranchJoin(i):
		taken, err := a.IsBranchTaken(w, i)
		if err != nil {
			return 0, false, err
		}
		if taken {
			csp, err := a.readCSP(w)
			if err != nil {
				return 0, false, err
			}
			csp--
			exec, err := a.readRegPair(w, Sgpr(int(csp)*4))
			if err != nil {
				return 0, false, err
			}
			if err := a.writeCSP(w, csp); err != nil {
				return 0, false, err
			}
			if err := WriteReg64(w, Exec64, exec); err != nil {
				return 0, false, err
			}
		}

	case t.IsCall(i), t.IsGetpc(i), t.IsSwappc(i):
		reg, ok := a.ScalarOperandRegnum(i.Sdst())
		if !ok {
			return 0, false, fmt.Errorf("return operand %d is not a register", i.Sdst())
		}
		if err := a.writeRegPair(w, reg, pc+uint64(t.SizeOf(i))); err != nil {
			return 0, false, err
		}

	default:
		if msg, ok := t.IsSendmsg(i); ok && msg == sendmsgDeallocVgprs {
			status, err := ReadReg32(w, Status)
			if err != nil {
				return 0, false, err
			}
			if err := WriteReg32(w, Status, status|statusNoVgprsMask); err != nil {
				return 0, false, err
			}
			break
		}
		panic("cannot simulate instruction")
	}

	newPC, err := a.nextPC(w, pc, i)
	if err != nil {
		return 0, false, err
	}
	if err := a.raiseSingleStepException(w); err != nil {
		return 0, false, err
	}
	return newPC, false, nil
}

func (a *Architecture) nextPC(w Wave, pc uint64, i insts.Instruction) (uint64, error) {
	t := a.table
	if t.IsSequential(i) {
		return pc + uint64(t.SizeOf(i)), nil
	}
	taken, err := a.IsBranchTaken(w, i)
	if err != nil {
		return 0, err
	}
	if !taken {
		return pc + uint64(t.SizeOf(i)), nil
	}
	return a.BranchTarget(w, pc, i)
}

// raiseSingleStepException latches the trap_after_inst exception on
// architectures that report single-step precisely.
func (a *Architecture) raiseSingleStepException(w Wave) error {
	if !a.preciseSingleStep {
		return nil
	}
	mode, err := ReadReg32(w, Mode)
	if err != nil {
		return err
	}
	if mode&modeTrapAfterInstMask == 0 {
		return nil
	}
	trapsts, err := ReadReg32(w, Trapsts)
	if err != nil {
		return err
	}
	return WriteReg32(w, Trapsts, trapsts|trapstsTrapAfterInstMask)
}

func (a *Architecture) simulateFork(w Wave, pc uint64, i insts.Instruction) error {
	t := a.table

	op := i.Sdst()
	if t.IsCBranchGFork(i) {
		op = i.Ssrc0()
	}
	maskReg, ok := a.ScalarOperandRegnum(op)
	if !ok {
		return fmt.Errorf("fork mask operand %d is not a register", op)
	}

	mask, err := a.readRegPair(w, maskReg)
	if err != nil {
		return err
	}
	exec, err := ReadReg64(w, Exec64)
	if err != nil {
		return err
	}

	maskPass := mask & exec
	maskFail := ^mask & exec
	if maskPass == exec || maskFail == exec {
		// One side holds every active lane, nothing to push.
		return nil
	}

	taken, err := a.IsBranchTaken(w, i)
	if err != nil {
		return err
	}

	var savedPC uint64
	if taken {
		savedPC = pc + uint64(t.SizeOf(i))
	} else {
		savedPC, err = a.BranchTarget(w, pc, i)
		if err != nil {
			return err
		}
	}
	savedExec := maskPass
	newExec := maskFail
	if taken {
		savedExec, newExec = maskFail, maskPass
	}

	csp, err := a.readCSP(w)
	if err != nil {
		return err
	}
	base := Sgpr(int(csp) * 4)
	csp++

	if err := WriteReg32(w, base+0, uint32(savedExec)); err != nil {
		return err
	}
	if err := WriteReg32(w, base+1, uint32(savedExec>>32)); err != nil {
		return err
	}
	if err := WriteReg32(w, base+2, uint32(savedPC)); err != nil {
		return err
	}
	if err := WriteReg32(w, base+3, uint32(savedPC>>32)); err != nil {
		return err
	}
	if err := a.writeCSP(w, csp); err != nil {
		return err
	}
	return WriteReg64(w, Exec64, newExec)
}

// simulateSubvectorLoop applies the wave64 subvector looping
// instructions, which run the low and high 32 lanes in two passes.
func (a *Architecture) simulateSubvectorLoop(w Wave, pc uint64, i insts.Instruction) (uint64, bool, error) {
	t := a.table

	s0Reg, ok := a.ScalarOperandRegnum(i.Sdst())
	if !ok {
		return 0, false, fmt.Errorf("loop operand %d is not a register", i.Sdst())
	}

	execLo, err := ReadReg32(w, ExecLo)
	if err != nil {
		return 0, false, err
	}
	execHi, err := ReadReg32(w, ExecHi)
	if err != nil {
		return 0, false, err
	}

	finish := func(next uint64) (uint64, bool, error) {
		return next, false, a.raiseSingleStepException(w)
	}

	if t.IsSubvectorLoopBegin(i) {
		if execLo == 0 && execHi == 0 {
			target, err := a.BranchTarget(w, pc, i)
			if err != nil {
				return 0, false, err
			}
			return finish(target)
		}
		if execLo == 0 {
			// Single pass, execute the high half now.
			if err := WriteReg32(w, s0Reg, execLo); err != nil {
				return 0, false, err
			}
		} else {
			// Save the high half for the second pass, execute the low half.
			if err := WriteReg32(w, s0Reg, execHi); err != nil {
				return 0, false, err
			}
			if err := WriteReg32(w, ExecHi, 0); err != nil {
				return 0, false, err
			}
		}
		return finish(pc + uint64(t.SizeOf(i)))
	}

	s0, err := ReadReg32(w, s0Reg)
	if err != nil {
		return 0, false, err
	}
	switch {
	case execHi != 0:
		// Done executing the second half.
		if err := WriteReg32(w, ExecLo, s0); err != nil {
			return 0, false, err
		}
	case s0 != 0:
		// Jump back to the loop start for the second half.
		if err := WriteReg32(w, ExecHi, s0); err != nil {
			return 0, false, err
		}
		if err := WriteReg32(w, ExecLo, 0); err != nil {
			return 0, false, err
		}
		if err := WriteReg32(w, s0Reg, execLo); err != nil {
			return 0, false, err
		}
		target, err := a.BranchTarget(w, pc, i)
		if err != nil {
			return 0, false, err
		}
		return finish(target)
	}
	return finish(pc + uint64(t.SizeOf(i)))
}

// SimulateTrapHandler applies what the hardware's first-level trap
// handler would have written when stopping a wave at pc: the stopped
// flag and saved halt in ttmp6, the new pc, and the halt bit. The halt
// stashed in ttmp6 is the wave's logical halt flag, so emulating a step
// of an already stopped wave does not latch the debugger's own halt.
func (a *Architecture) SimulateTrapHandler(w Wave, pc uint64, trapID TrapID) error {
	halted, err := a.WaveHalt(w)
	if err != nil {
		return err
	}
	status, err := ReadReg32(w, Status)
	if err != nil {
		return err
	}
	ttmp6, err := ReadReg32(w, Ttmp6)
	if err != nil {
		return err
	}

	ttmp6 &^= ttmp6SavedStatusHaltMask | ttmp6SavedTrapIDMask
	ttmp6 |= ttmp6WaveStoppedMask
	ttmp6 |= uint32(trapID) << ttmp6SavedTrapIDShift & ttmp6SavedTrapIDMask
	if halted {
		ttmp6 |= ttmp6SavedStatusHaltMask
	}
	if err := WriteReg32(w, Ttmp6, ttmp6); err != nil {
		return err
	}

	if err := WriteReg64(w, PC, pc); err != nil {
		return err
	}

	return WriteReg32(w, Status, status|statusHaltMask)
}
