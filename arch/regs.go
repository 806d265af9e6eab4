// Package arch provides per-generation capability tables for AMD GPU
// architectures: register naming and layout, instruction classification
// and simulation, and trap-handler emulation. One immutable Architecture
// value exists per supported generation for the process lifetime.
package arch

import "encoding/binary"

// Regnum identifies a wave register. Scalar, vector and trap-temporary
// registers occupy contiguous ranges so arithmetic like Sgpr(n)+1 walks
// to the next register of the same class.
type Regnum int32

// Register number ranges. The gaps between ranges are intentional so a
// class can grow without renumbering.
const (
	// Scalar registers s0..s127.
	FirstSgpr Regnum = 0x0000
	LastSgpr  Regnum = FirstSgpr + 127

	// Vector registers v0..v255, 32 lanes wide (wave32).
	FirstVgpr32 Regnum = 0x0100
	LastVgpr32  Regnum = FirstVgpr32 + 255

	// Vector registers v0..v255, 64 lanes wide (wave64).
	FirstVgpr64 Regnum = 0x0200
	LastVgpr64  Regnum = FirstVgpr64 + 255

	// Accumulation vector registers a0..a255 (gfx908 and gfx90a).
	FirstAccVgpr Regnum = 0x0300
	LastAccVgpr  Regnum = FirstAccVgpr + 255

	// Trap temporary registers ttmp0..ttmp15. The trap handler and the
	// hardware scheduler own these; ttmp4..ttmp15 carry the wave id,
	// dispatch coordinates and parked-pc bookkeeping.
	FirstTtmp Regnum = 0x0400
	Ttmp4     Regnum = FirstTtmp + 4
	Ttmp5     Regnum = FirstTtmp + 5
	Ttmp6     Regnum = FirstTtmp + 6
	Ttmp7     Regnum = FirstTtmp + 7
	Ttmp8     Regnum = FirstTtmp + 8
	Ttmp9     Regnum = FirstTtmp + 9
	Ttmp10    Regnum = FirstTtmp + 10
	Ttmp11    Regnum = FirstTtmp + 11
	Ttmp13    Regnum = FirstTtmp + 13
	LastTtmp  Regnum = FirstTtmp + 15

	// Hardware registers saved in the hwreg block of the context save
	// area.
	FirstHwreg  Regnum = 0x0500
	M0          Regnum = FirstHwreg + 0
	PC          Regnum = FirstHwreg + 1
	ExecLo      Regnum = FirstHwreg + 2
	ExecHi      Regnum = FirstHwreg + 3
	Exec32      Regnum = FirstHwreg + 4
	Exec64      Regnum = FirstHwreg + 5
	Status      Regnum = FirstHwreg + 6
	Trapsts     Regnum = FirstHwreg + 7
	XnackMask32 Regnum = FirstHwreg + 8
	XnackMask64 Regnum = FirstHwreg + 9
	Mode        Regnum = FirstHwreg + 10
	FlatScratch Regnum = FirstHwreg + 11
	LastHwreg   Regnum = FirstHwreg + 15

	// Scalar aliases. Their save-area storage overlays the top of the
	// sgpr block.
	VccLo Regnum = 0x0600
	VccHi Regnum = 0x0601
	Vcc32 Regnum = 0x0602
	Vcc64 Regnum = 0x0603

	// Pseudo registers, synthesized from other registers rather than
	// stored anywhere.
	PseudoExec32 Regnum = 0x0700
	PseudoExec64 Regnum = 0x0701
	PseudoVcc32  Regnum = 0x0702
	PseudoVcc64  Regnum = 0x0703
	PseudoStatus Regnum = 0x0704
	WaveID       Regnum = 0x0705
	CSP          Regnum = 0x0706
	Null         Regnum = 0x0707
)

// Sgpr returns the register number of scalar register n.
func Sgpr(n int) Regnum {
	return FirstSgpr + Regnum(n)
}

// Vgpr32 returns the register number of 32-lane vector register n.
func Vgpr32(n int) Regnum {
	return FirstVgpr32 + Regnum(n)
}

// Vgpr64 returns the register number of 64-lane vector register n.
func Vgpr64(n int) Regnum {
	return FirstVgpr64 + Regnum(n)
}

// AccVgpr returns the register number of accumulation vector register n.
func AccVgpr(n int) Regnum {
	return FirstAccVgpr + Regnum(n)
}

// Ttmp returns the register number of trap temporary n.
func Ttmp(n int) Regnum {
	return FirstTtmp + Regnum(n)
}

// IsSgpr reports whether r is a scalar register.
func (r Regnum) IsSgpr() bool {
	return r >= FirstSgpr && r <= LastSgpr
}

// IsVgpr reports whether r is a vector register of either lane width.
func (r Regnum) IsVgpr() bool {
	return (r >= FirstVgpr32 && r <= LastVgpr32) ||
		(r >= FirstVgpr64 && r <= LastVgpr64)
}

// IsAccVgpr reports whether r is an accumulation vector register.
func (r Regnum) IsAccVgpr() bool {
	return r >= FirstAccVgpr && r <= LastAccVgpr
}

// IsTtmp reports whether r is a trap temporary register.
func (r Regnum) IsTtmp() bool {
	return r >= FirstTtmp && r <= LastTtmp
}

// IsHwreg reports whether r is a saved hardware register.
func (r Regnum) IsHwreg() bool {
	return r >= FirstHwreg && r <= LastHwreg
}

// IsPseudo reports whether r is synthesized rather than stored.
func (r Regnum) IsPseudo() bool {
	return r >= PseudoExec32 && r <= Null
}

// WaveState is the execution state of a wave.
type WaveState int

// Wave execution states.
const (
	StateRun WaveState = iota
	StateSingleStep
	StateStop
)

func (s WaveState) String() string {
	switch s {
	case StateRun:
		return "run"
	case StateSingleStep:
		return "single-step"
	case StateStop:
		return "stop"
	default:
		return "invalid"
	}
}

// StopReason is a bit set describing why a wave stopped.
type StopReason uint32

// Stop reasons.
const (
	StopNone               StopReason = 0
	StopBreakpoint         StopReason = 1 << 0
	StopWatchpoint         StopReason = 1 << 1
	StopSingleStep         StopReason = 1 << 2
	StopFPInvalidOperation StopReason = 1 << 3
	StopFPInputDenormal    StopReason = 1 << 4
	StopFPDivideBy0        StopReason = 1 << 5
	StopFPOverflow         StopReason = 1 << 6
	StopFPUnderflow        StopReason = 1 << 7
	StopFPInexact          StopReason = 1 << 8
	StopIntDivideBy0       StopReason = 1 << 9
	StopDebugTrap          StopReason = 1 << 10
	StopAssertTrap         StopReason = 1 << 11
	StopTrap               StopReason = 1 << 12
	StopMemoryViolation    StopReason = 1 << 13
	StopAddressError       StopReason = 1 << 14
	StopIllegalInstruction StopReason = 1 << 15
)

// NonResumable reports whether the stop reasons include a fatal
// exception that prevents resuming the wave.
func (r StopReason) NonResumable() bool {
	return r&(StopMemoryViolation|StopAddressError|StopIllegalInstruction) != 0
}

// Exceptions is the set of exceptions a wave has signaled, decoded from
// the hardware exception registers.
type Exceptions uint32

// Exception bits.
const (
	ExcInvalid Exceptions = 1 << iota
	ExcInputDenorm
	ExcFloatDiv0
	ExcOverflow
	ExcUnderflow
	ExcInexact
	ExcIntDiv0
	ExcMemViol
	ExcIllegalInst
	ExcAddrWatch0
	ExcAddrWatch1
	ExcAddrWatch2
	ExcAddrWatch3
	ExcXnackError
	ExcWaveBegin
	ExcWaveEnd
	ExcHostTrap
	ExcTrapAfterInst
)

// TrapID identifies the immediate of an s_trap instruction reserved for
// debugger use.
type TrapID uint8

// Reserved trap ids.
const (
	TrapIDNone       TrapID = 0
	TrapIDBreakpoint TrapID = 1
	TrapIDAssert     TrapID = 2
	TrapIDDebug      TrapID = 3
)

// ReadReg32 reads a 32-bit register through a register file.
func ReadReg32(rf RegisterFile, r Regnum) (uint32, error) {
	var buf [4]byte
	if err := rf.ReadRegister(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// WriteReg32 writes a 32-bit register through a register file.
func WriteReg32(rf RegisterFile, r Regnum, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return rf.WriteRegister(r, buf[:])
}

// ReadReg64 reads a 64-bit register through a register file.
func ReadReg64(rf RegisterFile, r Regnum) (uint64, error) {
	var buf [8]byte
	if err := rf.ReadRegister(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// WriteReg64 writes a 64-bit register through a register file.
func WriteReg64(rf RegisterFile, r Regnum, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return rf.WriteRegister(r, buf[:])
}
