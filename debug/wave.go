package debug

import (
	"encoding/binary"

	"github.com/sarchlab/wavedbg/arch"
	"github.com/sarchlab/wavedbg/cwsr"
	"github.com/sarchlab/wavedbg/insts"
	"github.com/sarchlab/wavedbg/internal/log"
	"github.com/sarchlab/wavedbg/regcache"
)

// saveWindow is the cache backing for the hwreg and ttmp blocks of a
// wave's save area. The cache addresses it with offsets relative to the
// window base, so when a context save lands the blocks at a new address
// the cache is relocated by changing the base alone.
type saveWindow struct {
	mem  Memory
	base uint64
	size uint64
}

func (s *saveWindow) Read(addr uint64, buf []byte) error {
	return s.mem.ReadGlobal(s.base+addr, buf)
}

func (s *saveWindow) Write(addr uint64, data []byte) error {
	return s.mem.WriteGlobal(s.base+addr, data)
}

func (s *saveWindow) contains(addr uint64, size int) bool {
	return s.size != 0 && addr >= s.base && addr+uint64(size) <= s.base+s.size
}

// Wave is one wavefront of the target process. Its registers live in
// the context save area while the owning queue is suspended; the wave
// tracks its own execution state across suspensions because the
// hardware only reveals it through the save area.
type Wave struct {
	queue *Queue
	id    uint64

	state         arch.WaveState
	stopReason    arch.StopReason
	stopRequested bool
	hidden        bool
	lastStoppedPC uint64
	lastStopEvent *Event

	// parked is set while the wave's hardware pc points at the park
	// instruction. The real pc is then read and written through
	// parkedPC, leaving the save area untouched.
	parked   bool
	parkedPC uint64

	record      *cwsr.Record
	groupLeader *Wave

	window *saveWindow
	cache  *regcache.Cache

	displaced *DisplacedStepping

	laneCount       int
	groupIDs        [3]uint32
	positionInGroup uint32
	scratchOffset   uint32
}

func newWave(q *Queue, id uint64) *Wave {
	w := &Wave{
		queue: q,
		id:    id,
		state: arch.StateRun,
	}
	w.window = &saveWindow{mem: q.proc.mem}
	w.cache = regcache.New(q.proc.cacheConfig, w.window)
	return w
}

// ID returns the wave's identifier.
func (w *Wave) ID() uint64 { return w.id }

// Queue returns the queue the wave executes on.
func (w *Wave) Queue() *Queue { return w.queue }

// LaneCount returns the number of lanes of the wave.
func (w *Wave) LaneCount() int { return w.laneCount }

// State returns the wave's tracked execution state.
func (w *Wave) State() arch.WaveState { return w.state }

// StopReason returns the stop reasons latched at the last stop.
func (w *Wave) StopReason() arch.StopReason { return w.stopReason }

// LastStoppedPC returns the pc recorded before the last resume.
func (w *Wave) LastStoppedPC() uint64 { return w.lastStoppedPC }

// GroupIDs returns the wave's work-group coordinates.
func (w *Wave) GroupIDs() [3]uint32 { return w.groupIDs }

// PositionInGroup returns the wave's index within its work group.
func (w *Wave) PositionInGroup() uint32 { return w.positionInGroup }

// Displaced returns the wave's active displaced-stepping operation, or
// nil.
func (w *Wave) Displaced() *DisplacedStepping { return w.displaced }

// TtmpsAlwaysInitialized reports whether the hardware scheduler sets up
// the trap temporaries for every wave of the process.
func (w *Wave) TtmpsAlwaysInitialized() bool {
	return w.queue.proc.ttmpsAlwaysInitialized
}

// visible reports whether the wave is reported to the client. A wave
// terminated on the client's behalf runs to completion hidden.
func (w *Wave) visible() bool { return !w.hidden }

// PC reads the wave's program counter, through the park shadow when the
// wave is parked.
func (w *Wave) PC() (uint64, error) {
	return arch.ReadReg64(w, arch.PC)
}

// ExecMask reads the wave's execution mask, zero extended for wave32.
func (w *Wave) ExecMask() (uint64, error) {
	if w.laneCount == 32 {
		v, err := arch.ReadReg32(w, arch.ExecLo)
		return uint64(v), err
	}
	return arch.ReadReg64(w, arch.Exec64)
}

// InstructionAtPC reads the instruction bytes at the wave's pc. Reads
// near the end of a mapped region are retried with a shorter window
// before giving up.
func (w *Wave) InstructionAtPC() (insts.Instruction, bool) {
	pc, err := w.PC()
	if err != nil {
		return insts.Instruction{}, false
	}
	a := w.queue.arch

	buf := make([]byte, a.LargestInstructionSize())
	for len(buf) > 0 {
		if err := w.queue.proc.mem.ReadGlobal(pc, buf); err == nil {
			break
		}
		buf = buf[:len(buf)-a.MinimumInstructionAlignment()]
	}
	if len(buf) == 0 {
		return insts.Instruction{}, false
	}

	size := w.queue.proc.instructionSize(a, buf)
	if size == 0 || size > len(buf) {
		return insts.Instruction{}, false
	}
	return insts.New(buf[:size]), true
}

// registerCached reports whether the register is served by the wave's
// register cache or park shadow, making it accessible without
// suspending the queue. Pseudo registers only touch cached registers.
func (w *Wave) registerCached(r arch.Regnum) bool {
	if r.IsPseudo() {
		return true
	}
	if w.parked && r == arch.PC {
		return true
	}
	addr, ok, err := w.record.RegisterAddress(r)
	if err != nil || !ok {
		return false
	}
	return w.window.contains(addr, w.queue.arch.RegisterSize(r))
}

// ReadRegister reads a register out of the save area, the register
// cache, or the park shadow.
func (w *Wave) ReadRegister(r arch.Regnum, buf []byte) error {
	a := w.queue.arch
	if r.IsPseudo() {
		if !a.IsPseudoRegisterAvailable(r, w.laneCount) {
			return ErrInvalidRegister
		}
		return a.ReadPseudoRegister(w, r, buf)
	}

	if w.parked && r == arch.PC {
		binary.LittleEndian.PutUint64(buf, w.parkedPC)
		return nil
	}

	addr, ok, err := w.record.RegisterAddress(r)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidRegister
	}
	if len(buf) != a.RegisterSize(r) {
		return ErrInvalidArgument
	}

	if w.window.contains(addr, len(buf)) {
		return w.cache.Read(addr-w.window.base, buf)
	}
	w.queue.assertSuspended()
	return w.queue.proc.mem.ReadGlobal(addr, buf)
}

// WriteRegister writes a register into the save area, through the
// register cache for the hwreg and ttmp blocks. Cached writes are
// flushed when the queue is resumed.
func (w *Wave) WriteRegister(r arch.Regnum, data []byte) error {
	a := w.queue.arch
	if r.IsPseudo() {
		if !a.IsPseudoRegisterAvailable(r, w.laneCount) {
			return ErrInvalidRegister
		}
		return a.WritePseudoRegister(w, r, data)
	}

	if w.parked && r == arch.PC {
		w.parkedPC = binary.LittleEndian.Uint64(data)
		return nil
	}

	addr, ok, err := w.record.RegisterAddress(r)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidRegister
	}
	if len(data) != a.RegisterSize(r) {
		return ErrInvalidArgument
	}

	if w.window.contains(addr, len(data)) {
		if err := w.cache.Write(addr-w.window.base, data); err != nil {
			return err
		}
		w.queue.registerDirtyCache(w.cache)
		return nil
	}
	w.queue.assertSuspended()
	return w.queue.proc.mem.WriteGlobal(addr, data)
}

// park points the wave's hardware pc at the immutable park instruction
// and shadows the real pc. The hardware would otherwise corrupt a
// stopped wave resting on an instruction it cannot halt at.
func (w *Wave) park() error {
	if w.parked {
		panic("wave is already parked")
	}
	pc, err := w.PC()
	if err != nil {
		return err
	}
	parkAddr, err := w.queue.parkInstructionAddress()
	if err != nil {
		return err
	}
	if err := arch.WriteReg64(w, arch.PC, parkAddr); err != nil {
		return err
	}
	w.parked = true
	w.parkedPC = pc

	log.ModWave.WithField("wave", w.id).Debugf("parked (pc=%#x)", pc)
	return nil
}

// unpark writes the shadowed pc back into the hardware register.
func (w *Wave) unpark() error {
	if !w.parked {
		panic("wave is not parked")
	}
	pc := w.parkedPC
	w.parked = false
	if err := arch.WriteReg64(w, arch.PC, pc); err != nil {
		return err
	}

	log.ModWave.WithField("wave", w.id).Debugf("unparked (pc=%#x)", pc)
	return nil
}

// terminate points the wave at an immutable s_endpgm instruction and
// lets it run to completion, hidden from the client.
func (w *Wave) terminate() error {
	if w.displaced != nil {
		w.displaced.release()
		w.displaced = nil
	}

	addr, err := w.queue.endpgmInstructionAddress()
	if err != nil {
		return err
	}
	if err := arch.WriteReg64(w, arch.PC, addr); err != nil {
		return err
	}
	w.hidden = true
	return w.setState(arch.StateRun)
}

// Terminate implements the capability layer's wave view. It is invoked
// when an s_endpgm instruction is simulated.
func (w *Wave) Terminate() error {
	return w.terminate()
}

// destroy drops the wave's ties to shared queue state when the wave has
// exited or the queue is gone.
func (w *Wave) destroy() {
	if w.displaced != nil {
		w.displaced.release()
		w.displaced = nil
	}
	w.record = nil
	w.groupLeader = nil
}

// update points the wave at the record decoded from the latest context
// save. A wave that was running is re-read from the save area, possibly
// latching a new stop; a wave the debugger holds stopped only has its
// register cache relocated.
func (w *Wave) update(leader *Wave, record *cwsr.Record) error {
	w.queue.assertSuspended()
	first := w.record == nil
	w.record = record
	w.groupLeader = leader
	if first {
		w.laneCount = record.LaneCount()
	}

	base, ok, err := record.RegisterAddress(arch.M0)
	if err != nil {
		return err
	}
	end, ok2, err := record.RegisterAddress(arch.LastTtmp)
	if err != nil {
		return err
	}
	if !ok || !ok2 {
		return ErrInvalidRegister
	}
	end += 4

	if w.state != arch.StateStop {
		// The wave ran since the last save, every cached register may
		// have changed.
		w.window.base = base
		w.window.size = end - base
		w.cache.Reset()

		// Warm every line while the save area is valid. A wave held
		// stopped keeps serving these registers from the cache after
		// the queue resumes.
		if err := w.cache.Read(0, make([]byte, end-base)); err != nil {
			return err
		}

		state, reason, err := w.queue.arch.GetWaveState(w)
		if err != nil {
			return err
		}
		w.state, w.stopReason = state, reason

		if w.state == arch.StateStop && w.queue.arch.ParksStoppedWaves() && !w.parked {
			if err := w.park(); err != nil {
				return err
			}
		}
		if w.visible() && w.state == arch.StateStop && w.stopReason != arch.StopNone {
			w.raiseEvent(EventWaveStop)
		}
	} else {
		// The save area moved but its content is unchanged.
		w.window.base = base
	}

	if first {
		if err := arch.WriteReg64(w, arch.WaveID, w.id); err != nil {
			return err
		}
		for i, r := range []arch.Regnum{arch.Ttmp8, arch.Ttmp9, arch.Ttmp10} {
			v, err := arch.ReadReg32(w, r)
			if err != nil {
				return err
			}
			w.groupIDs[i] = v
		}
		pos, err := w.queue.arch.WaveInGroup(w)
		if err != nil {
			return err
		}
		w.positionInGroup = pos

		if record.ScratchEnabled() {
			off, err := arch.ReadReg32(w, arch.Ttmp13)
			if err != nil {
				return err
			}
			w.scratchOffset = off
		}
	}
	return nil
}

// setState transitions the wave between run, single-step and stop,
// applying the hardware register manipulation and raising the events
// the transition implies.
func (w *Wave) setState(state arch.WaveState) error {
	prev := w.state
	if state == prev {
		return nil
	}

	if w.displaced != nil && state == arch.StateRun {
		return ErrDisplacedStepping
	}
	if state != arch.StateStop && w.stopReason.NonResumable() {
		return ErrNotResumable
	}

	w.stopRequested = state == arch.StateStop

	a := w.queue.arch

	// Single-stepping s_endpgm does not trap on completion, the wave
	// just vanishes. Terminate it eagerly and report the aborted step.
	if state == arch.StateSingleStep {
		isEndpgm := w.displaced != nil && w.displaced.simulated &&
			a.Table().IsEndpgm(w.displaced.original)
		if !isEndpgm {
			if instr, ok := w.InstructionAtPC(); ok && a.Table().IsEndpgm(instr) {
				isEndpgm = true
			}
		}
		if isEndpgm {
			if err := w.terminate(); err != nil {
				return err
			}
			w.raiseEvent(EventWaveCommandTerminated)
			return nil
		}
	}

	// A simulated displaced instruction is stepped without letting the
	// wave run at all.
	if state == arch.StateSingleStep && w.displaced != nil && w.displaced.simulated {
		done, err := a.Simulate(w, w.displaced.from, w.displaced.original)
		if err != nil {
			return err
		}
		if done {
			w.state = arch.StateStop
			w.stopReason = arch.StopSingleStep
			if a.ParksStoppedWaves() && !w.parked {
				if err := w.park(); err != nil {
					return err
				}
			}
			w.raiseEvent(EventWaveStop)
			return nil
		}
		// The wave is halted, the step happens when the halt clears.
	}

	if err := a.SetWaveState(w, state); err != nil {
		return err
	}
	w.state = state

	if a.ParksStoppedWaves() {
		if state == arch.StateStop {
			if !w.parked {
				if err := w.park(); err != nil {
					return err
				}
			}
		} else if w.parked {
			if err := w.unpark(); err != nil {
				return err
			}
		}
	}

	if state != arch.StateStop {
		// The pc recorded here distinguishes a completed single-step
		// from a spurious trap at the next context save.
		pc, err := w.PC()
		if err != nil {
			return err
		}
		w.lastStoppedPC = pc
		w.stopReason = arch.StopNone
	} else if prev != arch.StateStop {
		w.stopReason = arch.StopNone
		kind := EventWaveStop
		if prev == arch.StateSingleStep {
			kind = EventWaveCommandTerminated
		}
		w.raiseEvent(kind)
	}

	if w.visible() {
		log.ModWave.WithField("wave", w.id).
			Debugf("state %v -> %v", prev, state)
	}
	return nil
}

// clientVisibleState hides a stop the client has not pulled the event
// for yet: until then the wave still appears to be running.
func (w *Wave) clientVisibleState() arch.WaveState {
	if w.state != arch.StateStop {
		return w.state
	}
	if e := w.lastStopEvent; e == nil || e.State() >= EventReported {
		return arch.StateStop
	}
	if w.stopReason&arch.StopSingleStep != 0 {
		return arch.StateSingleStep
	}
	return arch.StateRun
}

func (w *Wave) raiseEvent(kind EventKind) {
	w.lastStopEvent = w.queue.proc.raiseEvent(kind, w.id)
}

// displacedSteppingStart lifts the instruction beneath a breakpoint
// into a shared displaced-stepping operation and points the wave at it.
// savedInstructionBytes holds the bytes the breakpoint overwrote.
func (w *Wave) displacedSteppingStart(savedInstructionBytes []byte) error {
	pc, err := w.PC()
	if err != nil {
		return err
	}

	ds, ok := w.queue.displaced[pc]
	if ok {
		ds.refCount++
	} else {
		original, simulated, err := w.reconstituteInstruction(pc, savedInstructionBytes)
		if err != nil {
			return err
		}
		ds, err = w.queue.displacedSteppingFor(pc, original, simulated)
		if err != nil {
			return err
		}
	}
	w.displaced = ds

	if !ds.simulated {
		return arch.WriteReg64(w, arch.PC, ds.buffer)
	}
	return nil
}

// reconstituteInstruction rebuilds the original instruction at pc from
// the bytes the breakpoint displaced plus the bytes still in memory,
// and decides whether it will be simulated or executed from a buffer.
func (w *Wave) reconstituteInstruction(pc uint64, saved []byte) (insts.Instruction, bool, error) {
	a := w.queue.arch

	buf := make([]byte, a.LargestInstructionSize())
	bp := len(a.BreakpointInstruction().Bytes())
	copy(buf, saved[:bp])

	rest := buf[bp:]
	for len(rest) > 0 {
		if err := w.queue.proc.mem.ReadGlobal(pc+uint64(bp), rest); err == nil {
			break
		}
		rest = rest[:len(rest)-a.MinimumInstructionAlignment()]
	}
	buf = buf[:bp+len(rest)]

	size := w.queue.proc.instructionSize(a, buf)
	if size == 0 || size > len(buf) {
		return insts.Instruction{}, false, ErrIllegalInstruction
	}
	instr := insts.New(buf[:size])

	simulated := a.CanSimulate(w, instr)
	if !a.CanExecuteDisplaced(w, instr) && !simulated {
		// Neither movable nor simulatable, the client has to step it
		// in place.
		return insts.Instruction{}, false, ErrIllegalInstruction
	}
	return instr, simulated, nil
}

// displacedSteppingComplete restores the wave's pc into original code
// and releases the shared operation. A wave that did not move off the
// buffer is put back at the original instruction.
func (w *Wave) displacedSteppingComplete() error {
	ds := w.displaced
	if ds == nil {
		return ErrInvalidArgument
	}

	if !ds.simulated {
		pc, err := w.PC()
		if err != nil {
			return err
		}
		restored := pc + ds.from - ds.buffer
		if err := arch.WriteReg64(w, arch.PC, restored); err != nil {
			return err
		}
	}

	ds.release()
	w.displaced = nil
	return nil
}

// xferLocalMemory reads or writes the wave's LDS, which lives in the
// save area of the group leader. Exactly one of read and write is set.
func (w *Wave) xferLocalMemory(offset uint64, read, write []byte) error {
	w.queue.assertSuspended()

	n := len(read) + len(write)
	limit := uint64(w.record.LDSSize())
	if offset+uint64(n) > limit {
		return ErrMemoryAccess
	}

	base, ok := w.groupLeader.record.LDSAddress()
	if !ok {
		return ErrMemoryAccess
	}
	if read != nil {
		return w.queue.proc.mem.ReadGlobal(base+offset, read)
	}
	return w.queue.proc.mem.WriteGlobal(base+offset, write)
}

// xferPrivateMemory reads or writes the wave's scratch backing memory.
// Swizzled addressing interleaves 4-byte elements across the lanes.
func (w *Wave) xferPrivateMemory(offset uint64, lane int, swizzled bool, read, write []byte) error {
	if !w.record.ScratchEnabled() {
		return ErrMemoryAccess
	}

	n := uint64(len(read) + len(write))
	snapshot := &w.queue.snapshot

	if !swizzled {
		pos := uint64(w.scratchOffset) + offset
		if pos+n > snapshot.ScratchSize {
			return ErrMemoryAccess
		}
		addr := snapshot.ScratchBase + pos
		if read != nil {
			return w.queue.proc.mem.ReadGlobal(addr, read)
		}
		return w.queue.proc.mem.WriteGlobal(addr, write)
	}

	if lane < 0 || lane >= w.laneCount {
		return ErrInvalidArgument
	}

	buf := read
	if buf == nil {
		buf = write
	}
	lanes := uint64(w.laneCount)
	for i := uint64(0); i < n; i++ {
		elem := (offset + i) / 4
		byteInElem := (offset + i) % 4
		pos := uint64(w.scratchOffset) + elem*lanes*4 + uint64(lane)*4 + byteInElem
		if pos >= snapshot.ScratchSize {
			return ErrMemoryAccess
		}
		addr := snapshot.ScratchBase + pos
		if read != nil {
			if err := w.queue.proc.mem.ReadGlobal(addr, buf[i:i+1]); err != nil {
				return err
			}
		} else {
			if err := w.queue.proc.mem.WriteGlobal(addr, buf[i:i+1]); err != nil {
				return err
			}
		}
	}
	return nil
}
