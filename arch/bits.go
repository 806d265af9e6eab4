package arch

// sq_wave_status bit layout. Stable across the supported generations.
const (
	statusSCCMask         = uint32(1) << 0
	statusPrivMask        = uint32(1) << 5
	statusTrapEnMask      = uint32(1) << 6
	statusExecZMask       = uint32(1) << 9
	statusVccZMask        = uint32(1) << 10
	statusHaltMask        = uint32(1) << 13
	statusSkipExportMask  = uint32(1) << 18
	statusCondDbgUserMask = uint32(1) << 20
	statusCondDbgSysMask  = uint32(1) << 21
	statusNoVgprsMask     = uint32(1) << 24 // gfx11
)

// sq_wave_mode bit layout.
const (
	modeDebugEnMask        = uint32(1) << 11 // gfx9/gfx10 single-step enable
	modeTrapAfterInstMask  = uint32(1) << 11 // gfx11 name for the same bit
	modeExcpEnInvalidMask  = uint32(1) << 12
	modeExcpEnDenormMask   = uint32(1) << 13
	modeExcpEnDiv0Mask     = uint32(1) << 14
	modeExcpEnOverflowMask = uint32(1) << 15
	modeExcpEnUnderflow    = uint32(1) << 16
	modeExcpEnInexactMask  = uint32(1) << 17
	modeExcpEnIntDiv0Mask  = uint32(1) << 18
	modeExcpEnWatchMask    = uint32(1) << 19
	modeCSPShift           = 29
	modeCSPMask            = uint32(7) << modeCSPShift
)

// sq_wave_trapsts bit layout.
const (
	trapstsExcpInvalidMask   = uint32(1) << 0
	trapstsExcpDenormMask    = uint32(1) << 1
	trapstsExcpDiv0Mask      = uint32(1) << 2
	trapstsExcpOverflowMask  = uint32(1) << 3
	trapstsExcpUnderflowMask = uint32(1) << 4
	trapstsExcpInexactMask   = uint32(1) << 5
	trapstsExcpIntDiv0Mask   = uint32(1) << 6
	trapstsExcpWatch0Mask    = uint32(1) << 7
	trapstsExcpMemViolMask   = uint32(1) << 8
	trapstsSaveCtxMask       = uint32(1) << 10
	trapstsIllegalInstMask   = uint32(1) << 11
	trapstsExcpWatch1Mask    = uint32(1) << 12
	trapstsExcpWatch2Mask    = uint32(1) << 13
	trapstsExcpWatch3Mask    = uint32(1) << 14
	trapstsXnackErrorMask    = uint32(1) << 28

	// gfx11 additions.
	trapstsHostTrapMask      = uint32(1) << 16
	trapstsWaveBeginMask     = uint32(1) << 17
	trapstsWaveEndMask       = uint32(1) << 18
	trapstsTrapAfterInstMask = uint32(1) << 20
)

// ttmp6 bit layout, written by the trap handler.
const (
	ttmp6QueuePacketIDMask        = uint32(1)<<25 - 1
	ttmp6SavedTrapIDShift         = 25
	ttmp6SavedTrapIDMask          = uint32(0xF) << ttmp6SavedTrapIDShift
	ttmp6SavedStatusHaltMask      = uint32(1) << 29
	ttmp6WaveStoppedMask          = uint32(1) << 30
	ttmp6SPITtmpsSetupDisableMask = uint32(1) << 31
)

// ttmp11 bit layout.
const (
	ttmp11WaveInGroupMask = uint32(0x3F)
	ttmp11PCHiShift       = 7
	ttmp11PCHiMask        = uint32(0xFFFF) << ttmp11PCHiShift
)

// pcReadOnlyMask keeps the program counter 4-byte aligned.
const pcReadOnlyMask = uint64(0x3)

func bitExtract32(v uint32, lo, hi uint) uint32 {
	return v >> lo & (1<<(hi-lo+1) - 1)
}

func bitExtract64(v uint64, lo, hi uint) uint64 {
	return v >> lo & (1<<(hi-lo+1) - 1)
}
