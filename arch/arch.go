package arch

import (
	"github.com/sarchlab/wavedbg/insts"
)

// Generation selects the context-save layout family and the behavioral
// quirks shared by a group of architectures.
type Generation int

// Layout families.
const (
	GenGFX9 Generation = iota
	GenGFX10
	GenGFX11
)

// RegisterFile provides access to a wave's registers. Reads and writes
// use little-endian byte slices sized by RegisterSize.
type RegisterFile interface {
	ReadRegister(r Regnum, buf []byte) error
	WriteRegister(r Regnum, data []byte) error
	LaneCount() int
}

// Wave is the view of a wave the capability layer needs to decode and
// mutate hardware state. The debug package's wave implements it.
type Wave interface {
	RegisterFile

	// State returns the wave's current software-tracked state.
	State() WaveState
	// StopReason returns the stop reasons latched at the last stop.
	StopReason() StopReason
	// LastStoppedPC returns the pc recorded before the last resume.
	LastStoppedPC() uint64
	// PC reads the program counter.
	PC() (uint64, error)
	// InstructionAtPC reads the instruction bytes at the current pc.
	InstructionAtPC() (insts.Instruction, bool)
	// Terminate asks the wave to run to completion, hidden from the
	// client. Used when simulating s_endpgm.
	Terminate() error
	// TtmpsAlwaysInitialized reports whether the hardware scheduler
	// sets up the trap temporaries for every wave.
	TtmpsAlwaysInitialized() bool
}

// Architecture is the immutable capability record of one GPU
// generation. Values are created once at package initialization and
// shared for the process lifetime.
type Architecture struct {
	name       string
	elfMachine uint32
	gen        Generation
	table      *insts.Table

	wave32            bool
	sgprOperandCount  int
	aliasedSgprCount  int
	canHaltAtEndpgm   bool
	parkWaves         bool
	hasAccVgprs       bool
	archFlatScratch   bool
	preciseSingleStep bool
	nullM0Swapped     bool
}

// Name returns the target name, e.g. "gfx906".
func (a *Architecture) Name() string { return a.name }

// ELFMachine returns the EF_AMDGPU_MACH code-object machine id.
func (a *Architecture) ELFMachine() uint32 { return a.elfMachine }

// Gen returns the layout family of this architecture.
func (a *Architecture) Gen() Generation { return a.gen }

// Table returns the opcode table of this architecture.
func (a *Architecture) Table() *insts.Table { return a.table }

// Wave32 reports whether the generation supports 32-lane waves.
func (a *Architecture) Wave32() bool { return a.wave32 }

// HasAccVgprs reports whether waves carry accumulation vector registers
// in their context save area.
func (a *Architecture) HasAccVgprs() bool { return a.hasAccVgprs }

// HasArchitectedFlatScratch reports whether flat-scratch addressing is
// architected and saved in the hwreg block.
func (a *Architecture) HasArchitectedFlatScratch() bool { return a.archFlatScratch }

// CanHaltAtEndpgm reports whether the hardware can halt a wave whose pc
// points at s_endpgm without corrupting it.
func (a *Architecture) CanHaltAtEndpgm() bool { return a.canHaltAtEndpgm }

// ParksStoppedWaves reports whether stopped waves must be parked at an
// immutable trap instruction.
func (a *Architecture) ParksStoppedWaves() bool { return a.parkWaves }

// ScalarRegisterCount returns the number of directly addressable scalar
// registers.
func (a *Architecture) ScalarRegisterCount() int { return a.sgprOperandCount }

// AliasedSgprCount returns the number of scalar registers at the top of
// the sgpr save block that alias other registers (vcc, flat_scratch,
// xnack_mask) and are excluded from direct sgpr access.
func (a *Architecture) AliasedSgprCount() int { return a.aliasedSgprCount }

// LargestInstructionSize returns the size in bytes of the largest
// instruction of the generation.
func (a *Architecture) LargestInstructionSize() int { return a.table.LargestSize }

// MinimumInstructionAlignment returns the instruction alignment in
// bytes.
func (a *Architecture) MinimumInstructionAlignment() int { return a.table.MinAlignment }

// TrapInstruction returns the encoding of s_trap with the given id.
func (a *Architecture) TrapInstruction(id TrapID) insts.Instruction {
	return insts.EncodeSOPP(a.table.Trap, uint16(id))
}

// BreakpointInstruction returns the trap encoding planted at
// breakpoint sites.
func (a *Architecture) BreakpointInstruction() insts.Instruction {
	return a.TrapInstruction(TrapIDBreakpoint)
}

// TerminatingInstruction returns the encoding of s_endpgm.
func (a *Architecture) TerminatingInstruction() insts.Instruction {
	return insts.EncodeSOPP(a.table.Endpgm, 0)
}

// ExecRegnum returns the full-width exec mask register for a lane count.
func (a *Architecture) ExecRegnum(laneCount int) Regnum {
	if laneCount == 32 {
		return Exec32
	}
	return Exec64
}

// VccRegnum returns the full-width vcc register for a lane count.
func (a *Architecture) VccRegnum(laneCount int) Regnum {
	if laneCount == 32 {
		return Vcc32
	}
	return Vcc64
}

// PseudoExecRegnum returns the client-facing exec register for a lane
// count.
func (a *Architecture) PseudoExecRegnum(laneCount int) Regnum {
	if laneCount == 32 {
		return PseudoExec32
	}
	return PseudoExec64
}

// PseudoVccRegnum returns the client-facing vcc register for a lane
// count.
func (a *Architecture) PseudoVccRegnum(laneCount int) Regnum {
	if laneCount == 32 {
		return PseudoVcc32
	}
	return PseudoVcc64
}

// RegisterSize returns the byte size of a register.
func (a *Architecture) RegisterSize(r Regnum) int {
	switch {
	case r == PC, r == Exec64, r == Vcc64, r == XnackMask64,
		r == FlatScratch, r == WaveID, r == PseudoExec64, r == PseudoVcc64:
		return 8
	case r >= FirstVgpr32 && r <= LastVgpr32:
		return 32 * 4
	case r >= FirstVgpr64 && r <= LastVgpr64:
		return 64 * 4
	case r >= FirstAccVgpr && r <= LastAccVgpr:
		return 64 * 4
	default:
		return 4
	}
}

// RegisterReadOnlyMask returns a bit mask of register bits that writes
// must preserve, or 0 if the register is fully writable.
func (a *Architecture) RegisterReadOnlyMask(r Regnum) uint64 {
	switch r {
	case PC:
		return pcReadOnlyMask
	case WaveID:
		return ^uint64(0)
	default:
		return 0
	}
}

// ScalarOperandRegnum maps a scalar instruction operand field to a
// register number. Operands that do not name a register (inline
// constants, literal selector) return false.
func (a *Architecture) ScalarOperandRegnum(op uint8) (Regnum, bool) {
	m0, null := uint8(124), uint8(125)
	if a.nullM0Swapped {
		m0, null = null, m0
	}

	switch {
	case int(op) < a.sgprOperandCount:
		return Sgpr(int(op)), true
	case op == 106:
		return VccLo, true
	case op == 107:
		return VccHi, true
	case op >= 108 && op <= 123:
		return Ttmp(int(op) - 108), true
	case op == m0:
		return M0, true
	case op == null:
		return Null, true
	case op == 126:
		return ExecLo, true
	case op == 127:
		return ExecHi, true
	default:
		return 0, false
	}
}

// ScalarOperandRegnumPair maps a scalar operand to an even-aligned
// register pair base, as required by 64-bit operands.
func (a *Architecture) ScalarOperandRegnumPair(op uint8) (Regnum, bool) {
	if op&1 != 0 {
		return 0, false
	}
	return a.ScalarOperandRegnum(op)
}

func gfx9(name string, machine uint32) *Architecture {
	return &Architecture{
		name:             name,
		elfMachine:       machine,
		gen:              GenGFX9,
		table:            insts.GFX9(),
		sgprOperandCount: 102,
		aliasedSgprCount: 6,
		canHaltAtEndpgm:  false,
		parkWaves:        true,
	}
}

func mi(name string, machine uint32) *Architecture {
	a := gfx9(name, machine)
	a.hasAccVgprs = true
	return a
}

func gfx10(name string, machine uint32) *Architecture {
	return &Architecture{
		name:             name,
		elfMachine:       machine,
		gen:              GenGFX10,
		table:            insts.GFX10(),
		wave32:           true,
		sgprOperandCount: 106,
		aliasedSgprCount: 2,
		canHaltAtEndpgm:  false,
		parkWaves:        true,
	}
}

func gfx103(name string, machine uint32) *Architecture {
	a := gfx10(name, machine)
	a.canHaltAtEndpgm = true
	a.parkWaves = false
	return a
}

func gfx11(name string, machine uint32) *Architecture {
	a := gfx10(name, machine)
	a.gen = GenGFX11
	a.table = insts.GFX11()
	// The hardware cannot halt at "s_sendmsg sendmsg(MSG_DEALLOC_VGPRS)"
	// even though it can halt at s_endpgm, so stopped waves are parked.
	a.canHaltAtEndpgm = true
	a.parkWaves = true
	a.archFlatScratch = true
	a.preciseSingleStep = true
	a.nullM0Swapped = true
	return a
}

var registry = []*Architecture{
	gfx9("gfx900", 0x02C),
	gfx9("gfx906", 0x02F),
	mi("gfx908", 0x030),
	mi("gfx90a", 0x03F),
	gfx10("gfx1010", 0x033),
	gfx10("gfx1011", 0x034),
	gfx10("gfx1012", 0x035),
	gfx103("gfx1030", 0x036),
	gfx103("gfx1031", 0x037),
	gfx103("gfx1032", 0x038),
	gfx11("gfx1100", 0x041),
	gfx11("gfx1101", 0x046),
	gfx11("gfx1102", 0x047),
}

// Lookup returns the architecture with the given target name.
func Lookup(name string) (*Architecture, bool) {
	for _, a := range registry {
		if a.name == name {
			return a, true
		}
	}
	return nil, false
}

// LookupELFMachine returns the architecture with the given
// EF_AMDGPU_MACH machine id.
func LookupELFMachine(machine uint32) (*Architecture, bool) {
	for _, a := range registry {
		if a.elfMachine == machine {
			return a, true
		}
	}
	return nil, false
}

// All returns every supported architecture.
func All() []*Architecture {
	return registry
}
