package arch

import (
	"encoding/binary"
	"fmt"
)

// pseudoStatusReadOnlyMask lists the status bits a client write through
// pseudo_status must not change.
const pseudoStatusReadOnlyMask = uint32(0x7<<5 | 0xF<<9 | 0x7<<14 | 0x3<<18 | 0x1F<<22 | 0xF<<28)

// IsPseudoRegisterAvailable reports whether a pseudo register is
// synthesizable for the given lane count.
func (a *Architecture) IsPseudoRegisterAvailable(r Regnum, laneCount int) bool {
	switch r {
	case PseudoStatus, WaveID, CSP, Null:
		return true
	case PseudoExec32, PseudoVcc32:
		return a.wave32 && laneCount == 32
	case PseudoExec64, PseudoVcc64:
		return laneCount == 64
	default:
		return false
	}
}

// ReadPseudoRegister synthesizes the value of a pseudo register from
// the wave's stored registers.
func (a *Architecture) ReadPseudoRegister(rf RegisterFile, r Regnum, buf []byte) error {
	switch r {
	case Null:
		for i := range buf {
			buf[i] = 0
		}
		return nil

	case PseudoExec32, PseudoVcc32:
		base := ExecLo
		if r == PseudoVcc32 {
			base = VccLo
		}
		return rf.ReadRegister(base, buf)

	case PseudoExec64, PseudoVcc64:
		base := Exec64
		if r == PseudoVcc64 {
			base = Vcc64
		}
		return rf.ReadRegister(base, buf)

	case PseudoStatus:
		// A composite of the status register with priv and skip_export
		// hidden, and the halt bit taken from the stash in ttmp6.
		status, err := ReadReg32(rf, Status)
		if err != nil {
			return err
		}
		ttmp6, err := ReadReg32(rf, Ttmp6)
		if err != nil {
			return err
		}
		status &^= statusPrivMask | statusHaltMask | statusSkipExportMask
		if ttmp6&ttmp6SavedStatusHaltMask != 0 {
			status |= statusHaltMask
		}
		binary.LittleEndian.PutUint32(buf, status)
		return nil

	case WaveID:
		ttmp4, err := ReadReg32(rf, Ttmp4)
		if err != nil {
			return err
		}
		ttmp5, err := ReadReg32(rf, Ttmp5)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint64(buf, uint64(ttmp4)|uint64(ttmp5)<<32)
		return nil

	case CSP:
		mode, err := ReadReg32(rf, Mode)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(buf, mode>>modeCSPShift&7)
		return nil

	default:
		panic(fmt.Sprintf("unhandled pseudo register %#x", int32(r)))
	}
}

// WritePseudoRegister stores a value through a pseudo register,
// maintaining the derived status bits (execz, vccz, saved halt).
func (a *Architecture) WritePseudoRegister(rf RegisterFile, r Regnum, data []byte) error {
	switch r {
	case Null:
		// Writing to null is a no-op.
		return nil

	case PseudoExec32, PseudoVcc32, PseudoExec64, PseudoVcc64:
		var base Regnum
		var zMask uint32
		switch r {
		case PseudoExec32:
			base, zMask = ExecLo, statusExecZMask
		case PseudoVcc32:
			base, zMask = VccLo, statusVccZMask
		case PseudoExec64:
			base, zMask = Exec64, statusExecZMask
		default:
			base, zMask = Vcc64, statusVccZMask
		}

		var zero bool
		if len(data) == 8 {
			zero = binary.LittleEndian.Uint64(data) == 0
		} else {
			zero = binary.LittleEndian.Uint32(data) == 0
		}

		status, err := ReadReg32(rf, Status)
		if err != nil {
			return err
		}
		status &^= zMask
		if zero {
			status |= zMask
		}
		if err := WriteReg32(rf, Status, status); err != nil {
			return err
		}
		return rf.WriteRegister(base, data)

	case PseudoStatus:
		status, err := ReadReg32(rf, Status)
		if err != nil {
			return err
		}
		ttmp6, err := ReadReg32(rf, Ttmp6)
		if err != nil {
			return err
		}

		written := binary.LittleEndian.Uint32(data)
		status = status&pseudoStatusReadOnlyMask | written&^pseudoStatusReadOnlyMask

		ttmp6 &^= ttmp6SavedStatusHaltMask
		if status&statusHaltMask != 0 {
			ttmp6 |= ttmp6SavedStatusHaltMask
		}

		if err := WriteReg32(rf, Status, status); err != nil {
			return err
		}
		return WriteReg32(rf, Ttmp6, ttmp6)

	case WaveID:
		id := binary.LittleEndian.Uint64(data)
		if err := WriteReg32(rf, Ttmp4, uint32(id)); err != nil {
			return err
		}
		return WriteReg32(rf, Ttmp5, uint32(id>>32))

	case CSP:
		mode, err := ReadReg32(rf, Mode)
		if err != nil {
			return err
		}
		csp := binary.LittleEndian.Uint32(data)
		mode = mode&^modeCSPMask | csp<<modeCSPShift&modeCSPMask
		return WriteReg32(rf, Mode, mode)

	default:
		panic(fmt.Sprintf("unhandled pseudo register %#x", int32(r)))
	}
}
