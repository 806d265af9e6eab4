// Package cwsr decodes context-save records. When a queue is suspended
// the hardware writes each wave's registers, LDS and bookkeeping into
// the queue's wave save area and describes the layout in a control
// stack of COMPUTE_RELAUNCH words. This package walks the control stack
// and maps register numbers to save-area addresses for every supported
// generation.
package cwsr

import (
	"encoding/binary"

	"github.com/sarchlab/wavedbg/arch"
)

// Memory reads GPU global memory. Record identity and, on gfx11, vector
// register availability live in the save area itself.
type Memory interface {
	ReadGlobal(addr uint64, buf []byte) error
}

// saveFields locates the payloads inside the COMPUTE_RELAUNCH wave and
// state words. The positions shift between generations and, within
// gfx9, between chips.
type saveFields struct {
	ldsLo, ldsHi               uint
	seLo, seHi                 uint
	scratchEnBit               uint
	firstWaveBit, lastWaveBit  uint
	scoreboardLo, scoreboardHi uint

	// gfx90a splits the vgpr allocation between arch and accumulation
	// registers at the accum offset instead of mirroring it.
	accumOffsetSplit bool
}

func fieldsFor(a *arch.Architecture) saveFields {
	switch a.Gen() {
	case arch.GenGFX9:
		f := saveFields{
			ldsLo: 9, ldsHi: 17,
			seLo: 11, seHi: 12,
			scratchEnBit: 15,
			firstWaveBit: 17, lastWaveBit: 16,
			scoreboardLo: 0, scoreboardHi: 8,
		}
		switch a.Name() {
		case "gfx908":
			f.seLo, f.seHi = 11, 13
		case "gfx90a":
			f.seLo, f.seHi = 9, 11
			f.ldsHi = 16
			f.accumOffsetSplit = true
		}
		return f

	default:
		f := saveFields{
			ldsLo: 10, ldsHi: 17,
			seLo: 24, seHi: 25,
			scratchEnBit: 11,
			firstWaveBit: 12, lastWaveBit: 29,
			scoreboardLo: 0, scoreboardHi: 9,
		}
		if a.Gen() == arch.GenGFX11 {
			f.seHi = 26
		}
		return f
	}
}

// Record describes one wave's saved context. It is built from the
// COMPUTE_RELAUNCH words the control stack holds for the wave and the
// address its save area ends at.
type Record struct {
	arch   *arch.Architecture
	mem    Memory
	fields saveFields

	wave   uint32
	state  uint32
	state2 uint32

	// contextSaveAddress is the address one past the end of this wave's
	// save area. The save blocks grow downward from it.
	contextSaveAddress uint64
}

const (
	ttmpBlockSize  = 16 * 4
	hwregBlockSize = 16 * 4
)

// LaneCount returns the wave's lane width.
func (r *Record) LaneCount() int {
	if r.arch.Gen() != arch.GenGFX9 && bit(r.state, 24) {
		return 32
	}
	return 64
}

// VgprCount returns the number of vector registers allocated to the
// wave.
func (r *Record) VgprCount() int {
	switch {
	case r.fields.accumOffsetSplit:
		return int(extract(r.state, 24, 29)+1) * 4
	case r.arch.Gen() == arch.GenGFX9:
		// vgprs are allocated in blocks of 4 registers.
		return int(extract(r.state, 0, 5)+1) * 4
	default:
		// Blocks of 8 registers in wave32, 4 in wave64.
		blockSize := 4
		if bit(r.state, 24) {
			blockSize = 8
		}
		return int(extract(r.state, 0, 5)+1) * blockSize
	}
}

// AccVgprCount returns the number of accumulation vector registers
// saved below the arch vgprs, or 0 when the chip has none.
func (r *Record) AccVgprCount() int {
	if !r.arch.HasAccVgprs() {
		return 0
	}
	if r.fields.accumOffsetSplit {
		return int(extract(r.state, 0, 5)+1)*8 - r.VgprCount()
	}
	return r.VgprCount()
}

// SharedVgprCount returns the number of 32-wide vector registers shared
// between the two halves of a gfx10 wave64.
func (r *Record) SharedVgprCount() int {
	if r.arch.Gen() == arch.GenGFX9 {
		return 0
	}
	return int(extract(r.state, 26, 29)) * 8
}

// SgprCount returns the number of scalar registers in the sgpr save
// block. The trap temporaries are saved in their own block and are not
// counted.
func (r *Record) SgprCount() int {
	if r.arch.Gen() != arch.GenGFX9 {
		return 128
	}
	return int(extract(r.state, 6, 8)+1)*16 - 16
}

// LDSSize returns the byte size of the group's local data share, saved
// once with the group's first wave.
func (r *Record) LDSSize() int {
	// 128-dword granularity.
	return int(extract(r.state, r.fields.ldsLo, r.fields.ldsHi)) * 128 * 4
}

// ScratchEnabled reports whether a scratch slot is allocated for the
// wave.
func (r *Record) ScratchEnabled() bool {
	return bit(r.wave, r.fields.scratchEnBit)
}

// ShaderEngineID returns the shader engine the wave was created on.
func (r *Record) ShaderEngineID() uint32 {
	return extract(r.wave, r.fields.seLo, r.fields.seHi)
}

// ScratchScoreboardID returns the wave's scratch region slot.
func (r *Record) ScratchScoreboardID() uint32 {
	return extract(r.wave, r.fields.scoreboardLo, r.fields.scoreboardHi)
}

// IsFirstWave reports whether this is the first wave of its work group.
// The group's LDS is saved with this record.
func (r *Record) IsFirstWave() bool {
	return bit(r.wave, r.fields.firstWaveBit)
}

// IsLastWave reports whether this is the last wave of its work group.
func (r *Record) IsLastWave() bool {
	return bit(r.wave, r.fields.lastWaveBit)
}

// End returns the address one past the wave's save area.
func (r *Record) End() uint64 {
	return r.contextSaveAddress
}

// Begin returns the lowest address of the wave's save area, where the
// vector register block starts.
func (r *Record) Begin() uint64 {
	addr := r.privateVgprsAddress()
	if r.arch.HasAccVgprs() {
		addr -= uint64(r.AccVgprCount()) * 64 * 4
	}
	return addr
}

func (r *Record) ldsAddress() uint64 {
	return r.contextSaveAddress - uint64(r.LDSSize())
}

func (r *Record) ttmpsAddress() uint64 {
	addr := r.contextSaveAddress
	if r.IsFirstWave() {
		addr -= uint64(r.LDSSize())
	}
	return addr - ttmpBlockSize
}

func (r *Record) hwregsAddress() uint64 {
	return r.ttmpsAddress() - hwregBlockSize
}

func (r *Record) sgprsAddress() uint64 {
	return r.hwregsAddress() - uint64(r.SgprCount())*4
}

// privateVgprsAddress returns the base of the per-lane vector register
// block, below the shared vgprs on gfx10 and gfx11.
func (r *Record) privateVgprsAddress() uint64 {
	addr := r.sgprsAddress()
	if r.arch.Gen() != arch.GenGFX9 {
		addr -= uint64(r.SharedVgprCount()) * 32 * 4
	}
	return addr - uint64(r.VgprCount()*r.LaneCount())*4
}

// LDSAddress returns the save address of the work group's LDS, present
// only on the group's first wave.
func (r *Record) LDSAddress() (uint64, bool) {
	if !r.IsFirstWave() {
		return 0, false
	}
	return r.ldsAddress(), true
}

// hwregSlot maps a register to its slot in the hwreg save block, which
// does not follow the register numbering.
func (r *Record) hwregSlot(reg arch.Regnum) (int, bool) {
	gfx9 := r.arch.Gen() == arch.GenGFX9

	switch reg {
	case arch.M0:
		return 0, true
	case arch.PC:
		return 1, true
	case arch.ExecLo, arch.Exec64:
		return 3, true
	case arch.ExecHi:
		return 4, true
	case arch.Exec32:
		return 3, !gfx9 && r.LaneCount() == 32
	case arch.Status:
		return 5, true
	case arch.Trapsts:
		return 6, true
	case arch.XnackMask64:
		return 7, gfx9
	case arch.XnackMask32:
		return 7, !gfx9
	case arch.Mode:
		if gfx9 {
			return 9, true
		}
		return 8, true
	case arch.FlatScratch:
		// Architected flat scratch is saved with the hwregs; on gfx9 it
		// aliases the top of the sgpr block instead.
		return 9, !gfx9
	default:
		return 0, false
	}
}

// RegisterAddress maps a register to its save-area address. Registers
// the record does not hold (wrong lane width, beyond the allocation,
// aliased sgpr slots) report false.
func (r *Record) RegisterAddress(reg arch.Regnum) (uint64, bool, error) {
	gen := r.arch.Gen()
	laneCount := r.LaneCount()

	if gen == arch.GenGFX11 && reg.IsVgpr() {
		// A wave that released its vgprs has no vector block to read.
		var buf [4]byte
		statusAddr, ok, err := r.RegisterAddress(arch.Status)
		if err != nil || !ok {
			return 0, false, err
		}
		if err := r.mem.ReadGlobal(statusAddr, buf[:]); err != nil {
			return 0, false, err
		}
		if binary.LittleEndian.Uint32(buf[:])&(1<<24) != 0 {
			return 0, false, nil
		}
	}

	if (reg == arch.Exec64 || reg == arch.Vcc64) && laneCount != 64 {
		return 0, false, nil
	}
	if (reg == arch.Exec32 || reg == arch.Vcc32 || reg == arch.XnackMask32) &&
		laneCount != 32 {
		return 0, false, nil
	}
	if gen != arch.GenGFX9 && reg == arch.XnackMask64 {
		// xnack_mask shrank to 32 bits on gfx10.
		return 0, false, nil
	}

	if reg >= arch.FirstTtmp && reg <= arch.LastTtmp {
		return r.ttmpsAddress() + uint64(reg-arch.FirstTtmp)*4, true, nil
	}

	if slot, ok := r.hwregSlot(reg); ok {
		return r.hwregsAddress() + uint64(slot)*4, true, nil
	}

	if addr, ok := r.sgprAddress(reg); ok {
		return addr, true, nil
	}
	if addr, ok := r.vgprAddress(reg); ok {
		return addr, true, nil
	}
	return 0, false, nil
}

func (r *Record) sgprAddress(reg arch.Regnum) (uint64, bool) {
	sgprCount := r.SgprCount()

	// The registers aliased onto the top of the sgpr block shadow the
	// sgprs stored there.
	aliasedEnd := r.arch.ScalarRegisterCount() + r.arch.AliasedSgprCount()
	if aliasedEnd > sgprCount {
		aliasedEnd = sgprCount
	}

	var index int
	switch reg {
	case arch.Vcc64, arch.VccLo, arch.Vcc32:
		index = aliasedEnd - 2
	case arch.VccHi:
		index = aliasedEnd - 1
	case arch.FlatScratch:
		index = aliasedEnd - 6
	default:
		if !reg.IsSgpr() {
			return 0, false
		}
		index = int(reg - arch.FirstSgpr)
		if index >= aliasedEnd-r.arch.AliasedSgprCount() && index < aliasedEnd {
			return 0, false
		}
		if index >= aliasedEnd {
			return 0, false
		}
	}

	return r.sgprsAddress() + uint64(index)*4, true
}

func (r *Record) vgprAddress(reg arch.Regnum) (uint64, bool) {
	laneCount := r.LaneCount()
	vgprCount := r.VgprCount()

	if r.arch.HasAccVgprs() && reg.IsAccVgpr() {
		n := int(reg - arch.FirstAccVgpr)
		if n >= r.AccVgprCount() {
			return 0, false
		}
		base := r.privateVgprsAddress() - uint64(r.AccVgprCount())*64*4
		return base + uint64(n)*64*4, true
	}

	if !reg.IsVgpr() {
		return 0, false
	}

	if r.arch.Gen() != arch.GenGFX9 && reg >= arch.FirstVgpr32 && reg <= arch.LastVgpr32 {
		// The shared vgprs of a wave64 are addressed as 32-wide
		// registers right after the private ones.
		n := int(reg - arch.FirstVgpr32)
		if n >= vgprCount && n < vgprCount+r.SharedVgprCount() {
			base := r.sgprsAddress() - uint64(r.SharedVgprCount())*32*4
			return base + uint64(n-vgprCount)*32*4, true
		}
	}

	var n int
	switch {
	case laneCount == 32 && reg >= arch.FirstVgpr32 && reg <= arch.LastVgpr32:
		n = int(reg - arch.FirstVgpr32)
	case laneCount == 64 && reg >= arch.FirstVgpr64 && reg <= arch.LastVgpr64:
		n = int(reg - arch.FirstVgpr64)
	default:
		return 0, false
	}
	if n >= vgprCount {
		return 0, false
	}
	return r.privateVgprsAddress() + uint64(n*laneCount)*4, true
}

// ID reads the wave id the trap handler stored in ttmp4 and ttmp5.
func (r *Record) ID() (uint64, error) {
	addr, _, err := r.RegisterAddress(arch.Ttmp4)
	if err != nil {
		return 0, err
	}
	var buf [8]byte
	if err := r.mem.ReadGlobal(addr, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// TtmpSetupEnabled reports whether the hardware scheduler initialized
// the trap temporaries for this wave. When it did not, the identity
// values read from them are meaningless.
func (r *Record) TtmpSetupEnabled() (bool, error) {
	addr, _, err := r.RegisterAddress(arch.Ttmp6)
	if err != nil {
		return false, err
	}
	var buf [4]byte
	if err := r.mem.ReadGlobal(addr, buf[:]); err != nil {
		return false, err
	}
	return binary.LittleEndian.Uint32(buf[:])&(1<<31) == 0, nil
}

// GroupIDs reads the wave's work-group coordinates from ttmp8..ttmp10.
func (r *Record) GroupIDs() ([3]uint32, error) {
	var ids [3]uint32
	addr, _, err := r.RegisterAddress(arch.Ttmp8)
	if err != nil {
		return ids, err
	}
	var buf [12]byte
	if err := r.mem.ReadGlobal(addr, buf[:]); err != nil {
		return ids, err
	}
	for i := range ids {
		ids[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	return ids, nil
}

// PositionInGroup reads the wave's index within its work group from
// ttmp11.
func (r *Record) PositionInGroup() (uint32, error) {
	addr, _, err := r.RegisterAddress(arch.Ttmp11)
	if err != nil {
		return 0, err
	}
	var buf [4]byte
	if err := r.mem.ReadGlobal(addr, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]) & 0x3F, nil
}

func extract(v uint32, lo, hi uint) uint32 {
	return v >> lo & (1<<(hi-lo+1) - 1)
}

func bit(v uint32, n uint) bool {
	return v>>n&1 != 0
}
