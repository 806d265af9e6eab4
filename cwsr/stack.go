package cwsr

import (
	"errors"

	"github.com/sarchlab/wavedbg/arch"
)

// ErrCorruptSaveArea reports that walking the control stack did not
// consume exactly the wave save area, so the save data cannot be
// trusted.
var ErrCorruptSaveArea = errors.New("corrupted control stack or wave save area")

const (
	relaunchIsEventMask = uint32(1) << 30
	relaunchIsStateMask = uint32(1) << 31
)

// Iterate walks a queue's control stack and calls fn with a Record for
// each saved wave, top of the save area first. waveAreaAddress is the
// top of the wave save area and waveAreaSize its byte size; the records
// must tile the area exactly or Iterate reports ErrCorruptSaveArea.
func Iterate(a *arch.Architecture, mem Memory, controlStack []uint32,
	waveAreaAddress, waveAreaSize uint64, fn func(*Record) error) (int, error) {
	fields := fieldsFor(a)
	waveCount := 0
	var state, state2 uint32

	lastWaveArea := waveAreaAddress

	// The first 2 words are the PM4 packet that wrote the stack.
	for i := 2; i < len(controlStack); i++ {
		relaunch := controlStack[i]

		switch {
		case relaunch&relaunchIsEventMask != 0:
			// Skip events.

		case relaunch&relaunchIsStateMask != 0:
			state = relaunch
			if a.Gen() != arch.GenGFX9 {
				// gfx10 and gfx11 write 2 state words.
				i++
				if i >= len(controlStack) {
					return waveCount, ErrCorruptSaveArea
				}
				state2 = controlStack[i]
			}

		default:
			record := &Record{
				arch:               a,
				mem:                mem,
				fields:             fields,
				wave:               relaunch,
				state:              state,
				state2:             state2,
				contextSaveAddress: lastWaveArea,
			}
			if a.Gen() == arch.GenGFX9 {
				// gfx9 reserves 64 bytes above each record.
				record.contextSaveAddress -= 64
			}

			lastWaveArea = record.Begin()
			if err := fn(record); err != nil {
				return waveCount, err
			}
			waveCount++
		}
	}

	// The records must have consumed the whole save area, ending at its
	// bottom.
	if lastWaveArea != waveAreaAddress-waveAreaSize {
		return waveCount, ErrCorruptSaveArea
	}
	return waveCount, nil
}
