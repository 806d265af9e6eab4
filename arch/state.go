package arch

import "fmt"

// SignaledExceptions decodes the exception registers into the set of
// exceptions the wave has signaled. Maskable floating-point exceptions
// only count when the matching mode.excp_en bit is set; memory
// violations, illegal instructions and xnack errors are never masked.
func (a *Architecture) SignaledExceptions(rf RegisterFile) (Exceptions, error) {
	trapsts, err := ReadReg32(rf, Trapsts)
	if err != nil {
		return 0, err
	}
	mode, err := ReadReg32(rf, Mode)
	if err != nil {
		return 0, err
	}

	var exc Exceptions
	maskable := []struct {
		trapstsMask uint32
		modeMask    uint32
		exc         Exceptions
	}{
		{trapstsExcpInvalidMask, modeExcpEnInvalidMask, ExcInvalid},
		{trapstsExcpDenormMask, modeExcpEnDenormMask, ExcInputDenorm},
		{trapstsExcpDiv0Mask, modeExcpEnDiv0Mask, ExcFloatDiv0},
		{trapstsExcpOverflowMask, modeExcpEnOverflowMask, ExcOverflow},
		{trapstsExcpUnderflowMask, modeExcpEnUnderflow, ExcUnderflow},
		{trapstsExcpInexactMask, modeExcpEnInexactMask, ExcInexact},
		{trapstsExcpIntDiv0Mask, modeExcpEnIntDiv0Mask, ExcIntDiv0},
		{trapstsExcpWatch0Mask, modeExcpEnWatchMask, ExcAddrWatch0},
		{trapstsExcpWatch1Mask, modeExcpEnWatchMask, ExcAddrWatch1},
		{trapstsExcpWatch2Mask, modeExcpEnWatchMask, ExcAddrWatch2},
		{trapstsExcpWatch3Mask, modeExcpEnWatchMask, ExcAddrWatch3},
	}
	for _, m := range maskable {
		if trapsts&m.trapstsMask != 0 && mode&m.modeMask != 0 {
			exc |= m.exc
		}
	}

	if trapsts&trapstsXnackErrorMask != 0 {
		exc |= ExcXnackError
	}
	if trapsts&trapstsExcpMemViolMask != 0 {
		exc |= ExcMemViol
	}
	if trapsts&trapstsIllegalInstMask != 0 {
		exc |= ExcIllegalInst
	}

	if a.preciseSingleStep {
		if trapsts&trapstsWaveBeginMask != 0 {
			exc |= ExcWaveBegin
		}
		if trapsts&trapstsWaveEndMask != 0 {
			exc |= ExcWaveEnd
		}
		if trapsts&trapstsHostTrapMask != 0 {
			exc |= ExcHostTrap
		}
		if trapsts&trapstsTrapAfterInstMask != 0 {
			exc |= ExcTrapAfterInst
		}
	}

	return exc, nil
}

func (a *Architecture) exceptionsToTrapsts(exc Exceptions) uint32 {
	var bits uint32
	pairs := []struct {
		exc  Exceptions
		mask uint32
	}{
		{ExcInvalid, trapstsExcpInvalidMask},
		{ExcInputDenorm, trapstsExcpDenormMask},
		{ExcFloatDiv0, trapstsExcpDiv0Mask},
		{ExcOverflow, trapstsExcpOverflowMask},
		{ExcUnderflow, trapstsExcpUnderflowMask},
		{ExcInexact, trapstsExcpInexactMask},
		{ExcIntDiv0, trapstsExcpIntDiv0Mask},
		{ExcMemViol, trapstsExcpMemViolMask},
		{ExcIllegalInst, trapstsIllegalInstMask},
		{ExcAddrWatch0, trapstsExcpWatch0Mask},
		{ExcAddrWatch1, trapstsExcpWatch1Mask},
		{ExcAddrWatch2, trapstsExcpWatch2Mask},
		{ExcAddrWatch3, trapstsExcpWatch3Mask},
	}
	for _, p := range pairs {
		if exc&p.exc != 0 {
			bits |= p.mask
		}
	}
	if a.preciseSingleStep {
		if exc&ExcWaveBegin != 0 {
			bits |= trapstsWaveBeginMask
		}
		if exc&ExcWaveEnd != 0 {
			bits |= trapstsWaveEndMask
		}
		if exc&ExcHostTrap != 0 {
			bits |= trapstsHostTrapMask
		}
		if exc&ExcTrapAfterInst != 0 {
			bits |= trapstsTrapAfterInstMask
		}
	}
	return bits
}

// SetExceptions overwrites the exception bits selected by mask with the
// bits in set.
func (a *Architecture) SetExceptions(rf RegisterFile, mask, set Exceptions) error {
	trapstsMask := a.exceptionsToTrapsts(mask)
	trapstsSet := a.exceptionsToTrapsts(set)

	trapsts, err := ReadReg32(rf, Trapsts)
	if err != nil {
		return err
	}
	trapsts = trapsts&^trapstsMask | trapstsSet&trapstsMask
	return WriteReg32(rf, Trapsts, trapsts)
}

// ClearStopReasons clears the hardware exception bits that produced the
// wave's latched stop reasons, so a resumed wave does not immediately
// re-report them.
func (a *Architecture) ClearStopReasons(w Wave) error {
	reason := w.StopReason()
	exc := ExcWaveBegin | ExcWaveEnd

	pairs := []struct {
		reason StopReason
		exc    Exceptions
	}{
		{StopMemoryViolation, ExcMemViol | ExcXnackError},
		{StopAddressError, ExcMemViol},
		{StopIllegalInstruction, ExcIllegalInst},
		{StopFPInvalidOperation, ExcInvalid},
		{StopFPInputDenormal, ExcInputDenorm},
		{StopFPDivideBy0, ExcFloatDiv0},
		{StopFPOverflow, ExcOverflow},
		{StopFPUnderflow, ExcUnderflow},
		{StopFPInexact, ExcInexact},
		{StopIntDivideBy0, ExcIntDiv0},
		{StopWatchpoint, ExcAddrWatch0 | ExcAddrWatch1 | ExcAddrWatch2 | ExcAddrWatch3},
		{StopSingleStep, ExcTrapAfterInst},
	}
	for _, p := range pairs {
		if reason&p.reason != 0 {
			exc |= p.exc
		}
	}

	return a.SetExceptions(w, exc, 0)
}

// savedParkedPC recovers the pc the trap handler stashed when parking:
// the low 32 bits from ttmp7 and pc[47:32] from ttmp11[22:7].
func (a *Architecture) savedParkedPC(w Wave) (uint64, error) {
	ttmp7, err := ReadReg32(w, Ttmp7)
	if err != nil {
		return 0, err
	}
	ttmp11, err := ReadReg32(w, Ttmp11)
	if err != nil {
		return 0, err
	}
	return uint64(ttmp7) | uint64(bitExtract32(ttmp11, 7, 22))<<32, nil
}

// GetWaveState decodes the wave's hardware state into the client-visible
// state model, deriving the stop reasons from the signaled exceptions
// and the trap id saved by the trap handler. A wave found freshly
// stopped is unparked. Spurious single-step stops, which architectures
// without precise single-step reporting cannot avoid, are transparently
// re-resumed.
func (a *Architecture) GetWaveState(w Wave) (WaveState, StopReason, error) {
	prevState := w.State()

	ttmp6, err := ReadReg32(w, Ttmp6)
	if err != nil {
		return 0, 0, err
	}
	if ttmp6&ttmp6WaveStoppedMask == 0 {
		// The wave is still running.
		return prevState, StopNone, nil
	}
	if prevState == StateStop {
		// Still stopped, the stop reason is unchanged.
		return StateStop, w.StopReason(), nil
	}

	// The wave was running and has since executed the trap handler.
	// Recover the real pc if the trap handler parked it, then derive the
	// stop reasons from the signaled exceptions.
	if a.parkWaves {
		pc, err := a.savedParkedPC(w)
		if err != nil {
			return 0, 0, err
		}
		if err := WriteReg64(w, PC, pc); err != nil {
			return 0, 0, err
		}
	}

	exc, err := a.SignaledExceptions(w)
	if err != nil {
		return 0, 0, err
	}

	reason := StopNone
	pairs := []struct {
		exc    Exceptions
		reason StopReason
	}{
		{ExcInvalid, StopFPInvalidOperation},
		{ExcInputDenorm, StopFPInputDenormal},
		{ExcFloatDiv0, StopFPDivideBy0},
		{ExcOverflow, StopFPOverflow},
		{ExcUnderflow, StopFPUnderflow},
		{ExcInexact, StopFPInexact},
		{ExcIntDiv0, StopIntDivideBy0},
		{ExcIllegalInst, StopIllegalInstruction},
		{ExcAddrWatch0 | ExcAddrWatch1 | ExcAddrWatch2 | ExcAddrWatch3, StopWatchpoint},
		{ExcTrapAfterInst, StopSingleStep},
		{ExcWaveBegin | ExcWaveEnd | ExcHostTrap, StopTrap},
	}
	for _, p := range pairs {
		if exc&p.exc != 0 {
			reason |= p.reason
		}
	}
	if exc&ExcXnackError != 0 {
		reason |= StopMemoryViolation
	} else if exc&ExcMemViol != 0 {
		reason |= StopAddressError
	}

	if trapID := TrapID(bitExtract32(ttmp6, ttmp6SavedTrapIDShift, 28)); trapID != TrapIDNone {
		switch trapID {
		case TrapIDBreakpoint:
			reason |= StopBreakpoint
		case TrapIDAssert:
			reason |= StopAssertTrap
		case TrapIDDebug:
			reason |= StopDebugTrap
		default:
			reason |= StopTrap
		}
	}

	if prevState != StateSingleStep {
		return StateStop, reason, nil
	}

	// A single-stepped wave has stopped. Without precise single-step
	// exception reporting, a moved pc is the only evidence the step
	// completed. An unmoved pc on a sequential instruction with no other
	// stop reason is a spurious stop from the trap handler, and the wave
	// is silently resumed.
	pc, err := w.PC()
	if err != nil {
		return 0, 0, err
	}
	if pc != w.LastStoppedPC() {
		reason |= StopSingleStep
	} else if reason == StopNone {
		if instr, ok := w.InstructionAtPC(); ok && a.table.IsSequential(instr) {
			if err := a.SetWaveState(w, StateSingleStep); err != nil {
				return 0, 0, err
			}
			return StateSingleStep, StopNone, nil
		}
		// The pc is unchanged, the instruction is inaccessible, invalid,
		// or non-sequential, and no other exception was reported, yet
		// the wave has stopped. Report a possibly spurious single-step.
		reason |= StopSingleStep
	}

	return StateStop, reason, nil
}

// SetWaveState applies the hardware-visible bit manipulation of a wave
// state transition: saving and restoring status.halt through ttmp6,
// toggling the stopped flag, and enabling single-step trapping.
func (a *Architecture) SetWaveState(w Wave, state WaveState) error {
	status, err := ReadReg32(w, Status)
	if err != nil {
		return err
	}
	mode, err := ReadReg32(w, Mode)
	if err != nil {
		return err
	}
	ttmp6, err := ReadReg32(w, Ttmp6)
	if err != nil {
		return err
	}

	switch state {
	case StateStop:
		ttmp6 &^= ttmp6WaveStoppedMask | ttmp6SavedStatusHaltMask
		if status&statusHaltMask != 0 {
			ttmp6 |= ttmp6SavedStatusHaltMask
		}
		ttmp6 |= ttmp6WaveStoppedMask

		status |= statusHaltMask
		// Marks the wave as touched by the trap handler on hardware
		// where the scheduler may skip trap-temporary setup.
		if !w.TtmpsAlwaysInitialized() {
			status |= statusSkipExportMask
		}

	case StateRun, StateSingleStep:
		status &^= statusHaltMask | statusSkipExportMask
		if ttmp6&ttmp6SavedStatusHaltMask != 0 {
			status |= statusHaltMask
		}
		ttmp6 &^= ttmp6WaveStoppedMask | ttmp6SavedStatusHaltMask

		if state == StateSingleStep {
			mode |= modeDebugEnMask
		} else {
			mode &^= modeDebugEnMask
		}

	default:
		panic(fmt.Sprintf("invalid wave state %d", state))
	}

	if err := WriteReg32(w, Status, status); err != nil {
		return err
	}
	if err := WriteReg32(w, Mode, mode); err != nil {
		return err
	}
	if err := WriteReg32(w, Ttmp6, ttmp6); err != nil {
		return err
	}

	// A resumed wave must not re-report the exceptions already delivered
	// through a stop event.
	if state != StateStop && w.State() == StateStop && w.StopReason() != StopNone {
		return a.ClearStopReasons(w)
	}
	return nil
}

// WaveHalt reads the wave's halt flag. While a wave is stopped the real
// flag lives in ttmp6.saved_status_halt.
func (a *Architecture) WaveHalt(rf RegisterFile) (bool, error) {
	ttmp6, err := ReadReg32(rf, Ttmp6)
	if err != nil {
		return false, err
	}
	if ttmp6&ttmp6WaveStoppedMask != 0 {
		return ttmp6&ttmp6SavedStatusHaltMask != 0, nil
	}
	status, err := ReadReg32(rf, Status)
	if err != nil {
		return false, err
	}
	return status&statusHaltMask != 0, nil
}

// SetWaveHalt writes the wave's halt flag, through ttmp6 while stopped.
func (a *Architecture) SetWaveHalt(rf RegisterFile, halt bool) error {
	ttmp6, err := ReadReg32(rf, Ttmp6)
	if err != nil {
		return err
	}
	if ttmp6&ttmp6WaveStoppedMask != 0 {
		if halt {
			ttmp6 |= ttmp6SavedStatusHaltMask
		} else {
			ttmp6 &^= ttmp6SavedStatusHaltMask
		}
		return WriteReg32(rf, Ttmp6, ttmp6)
	}
	status, err := ReadReg32(rf, Status)
	if err != nil {
		return err
	}
	if halt {
		status |= statusHaltMask
	} else {
		status &^= statusHaltMask
	}
	return WriteReg32(rf, Status, status)
}

// TtmpSetupDisabled reports whether the hardware scheduler skipped
// trap-temporary setup for this wave, making the identity values in
// ttmp4..ttmp11 meaningless.
func (a *Architecture) TtmpSetupDisabled(rf RegisterFile) (bool, error) {
	ttmp6, err := ReadReg32(rf, Ttmp6)
	if err != nil {
		return false, err
	}
	return ttmp6&ttmp6SPITtmpsSetupDisableMask != 0, nil
}

// QueuePacketID extracts the dispatch packet id the trap handler saved
// in ttmp6.
func (a *Architecture) QueuePacketID(rf RegisterFile) (uint32, error) {
	ttmp6, err := ReadReg32(rf, Ttmp6)
	if err != nil {
		return 0, err
	}
	return ttmp6 & ttmp6QueuePacketIDMask, nil
}

// WaveInGroup extracts the wave's index within its work group from
// ttmp11.
func (a *Architecture) WaveInGroup(rf RegisterFile) (uint32, error) {
	ttmp11, err := ReadReg32(rf, Ttmp11)
	if err != nil {
		return 0, err
	}
	return ttmp11 & ttmp11WaveInGroupMask, nil
}
