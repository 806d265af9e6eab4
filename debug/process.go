package debug

import (
	"encoding/binary"
	"sort"

	"github.com/sarchlab/wavedbg/arch"
	"github.com/sarchlab/wavedbg/insts"
	"github.com/sarchlab/wavedbg/internal/log"
	"github.com/sarchlab/wavedbg/regcache"
)

// Disassembler sizes instructions the scalar opcode tables cannot. The
// debugger only decodes scalar control flow itself; sizing arbitrary
// vector instructions needs a full disassembler.
type Disassembler interface {
	// InstructionSize returns the byte size of the instruction starting
	// at bytes[0], or 0 if the bytes are not a recognized instruction.
	InstructionSize(a *arch.Architecture, bytes []byte) int
}

// ResumeMode selects how a stopped wave is resumed.
type ResumeMode int

// Resume modes.
const (
	ResumeNormal ResumeMode = iota
	ResumeSingleStep
)

// Process is the debugger's view of one target process: its queues,
// their waves, and the pending event queue. All methods are called from
// a single goroutine.
type Process struct {
	driver Driver
	mem    Memory

	queues map[uint64]*Queue

	pending     []*Event
	nextEventID uint64
	nextWaveSeq uint64

	disasm                 Disassembler
	cacheConfig            regcache.Config
	ttmpsAlwaysInitialized bool
	forwardProgress        bool
}

// Option configures a Process.
type Option func(*Process)

// WithDisassembler installs a disassembler used to size instructions
// the scalar opcode tables do not cover.
func WithDisassembler(d Disassembler) Option {
	return func(p *Process) { p.disasm = d }
}

// WithCacheConfig overrides the per-wave register cache geometry.
func WithCacheConfig(c regcache.Config) Option {
	return func(p *Process) { p.cacheConfig = c }
}

// WithPartialTtmpSetup marks the process as running on hardware whose
// scheduler may skip trap-temporary setup for some waves.
func WithPartialTtmpSetup() Option {
	return func(p *Process) { p.ttmpsAlwaysInitialized = false }
}

// NewProcess attaches to a target process through its driver and
// memory interfaces.
func NewProcess(driver Driver, mem Memory, opts ...Option) *Process {
	p := &Process{
		driver:                 driver,
		mem:                    mem,
		queues:                 make(map[uint64]*Queue),
		cacheConfig:            regcache.DefaultConfig(),
		ttmpsAlwaysInitialized: true,
		forwardProgress:        true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AddQueue registers a hardware queue executing on the given
// architecture.
func (p *Process) AddQueue(id uint64, a *arch.Architecture) (*Queue, error) {
	if _, ok := p.queues[id]; ok {
		return nil, ErrInvalidArgument
	}
	q := &Queue{
		proc:        p,
		id:          id,
		arch:        a,
		valid:       true,
		waves:       make(map[uint64]*Wave),
		dirtyCaches: make(map[*regcache.Cache]struct{}),
		displaced:   make(map[uint64]*DisplacedStepping),
	}
	p.queues[id] = q
	log.ModQueue.WithField("queue", id).Infof("added (%s)", a.Name())
	return q, nil
}

// RemoveQueue drops a queue that no longer exists. Its waves are
// destroyed.
func (p *Process) RemoveQueue(id uint64) error {
	q, ok := p.queues[id]
	if !ok {
		return ErrInvalidQueue
	}
	q.invalidate()
	delete(p.queues, id)
	return nil
}

// Queue returns the queue with the given id.
func (p *Process) Queue(id uint64) (*Queue, bool) {
	q, ok := p.queues[id]
	return q, ok
}

func (p *Process) nextWaveID() uint64 {
	p.nextWaveSeq++
	return p.nextWaveSeq
}

func (p *Process) raiseEvent(kind EventKind, waveID uint64) *Event {
	p.nextEventID++
	e := &Event{id: p.nextEventID, kind: kind, waveID: waveID}
	p.pending = append(p.pending, e)
	log.ModEvent.WithFields(log.Fields{"event": e.id, "wave": waveID}).
		Debugf("raised %v", kind)
	return e
}

// NextEvent hands the oldest raised event to the client, marking it
// reported. It returns nil when no event is pending.
func (p *Process) NextEvent() *Event {
	for i, e := range p.pending {
		if e.state != EventRaised {
			continue
		}
		e.state = EventReported
		p.pending = append(p.pending[:i], p.pending[i+1:]...)
		return e
	}
	return nil
}

func (p *Process) findWave(id uint64) *Wave {
	for _, q := range p.queues {
		if w, ok := q.waves[id]; ok {
			return w
		}
	}
	return nil
}

func (p *Process) instructionSize(a *arch.Architecture, b []byte) int {
	if p.disasm != nil {
		return p.disasm.InstructionSize(a, b)
	}
	return a.Table().SizeOf(insts.New(b))
}

// SetForwardProgressNeeded tells the debugger whether the target must
// keep executing between client calls. While forward progress is not
// needed, queues stay suspended across calls to avoid repeated context
// saves.
func (p *Process) SetForwardProgressNeeded(needed bool) error {
	p.forwardProgress = needed
	if !needed {
		return nil
	}
	var firstErr error
	for _, q := range p.sortedQueues() {
		for q.valid && q.Suspended() {
			if err := q.Resume(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (p *Process) sortedQueues() []*Queue {
	qs := make([]*Queue, 0, len(p.queues))
	for _, q := range p.queues {
		qs = append(qs, q)
	}
	sort.Slice(qs, func(i, j int) bool { return qs[i].id < qs[j].id })
	return qs
}

// Waves suspends every running queue to refresh the wave lists and
// returns the visible waves. When forward progress is needed the
// suspensions are released before returning; register content then
// comes from the per-wave caches.
func (p *Process) Waves() ([]*Wave, error) {
	var suspended []*Queue
	for _, q := range p.sortedQueues() {
		if !q.valid || q.Suspended() {
			continue
		}
		if err := q.Suspend(); err != nil {
			// The queue died with the process, its waves are gone.
			continue
		}
		suspended = append(suspended, q)
	}

	var waves []*Wave
	for _, q := range p.sortedQueues() {
		for _, w := range q.waves {
			if w.visible() {
				waves = append(waves, w)
			}
		}
	}
	sort.Slice(waves, func(i, j int) bool { return waves[i].id < waves[j].id })

	if p.forwardProgress {
		for _, q := range suspended {
			if err := q.Resume(); err != nil {
				return nil, err
			}
		}
	}
	return waves, nil
}

func (p *Process) visibleWave(id uint64) (*Wave, error) {
	w := p.findWave(id)
	if w == nil || !w.visible() {
		return nil, ErrInvalidWave
	}
	return w, nil
}

func (p *Process) stoppedWave(id uint64) (*Wave, error) {
	w, err := p.visibleWave(id)
	if err != nil {
		return nil, err
	}
	if w.clientVisibleState() != arch.StateStop {
		return nil, ErrNotStopped
	}
	return w, nil
}

// StopWave asks a running wave to stop. The wave is stopped when the
// call returns; a stop event acknowledges it.
func (p *Process) StopWave(id uint64) error {
	w, err := p.visibleWave(id)
	if err != nil {
		return err
	}
	if w.clientVisibleState() == arch.StateStop {
		return ErrAlreadyStopped
	}
	if w.stopRequested {
		return ErrOutstandingStop
	}

	release, err := w.queue.scopedSuspend()
	if err != nil {
		return ErrInvalidWave
	}
	defer release()

	// The wave may have exited while the queue was being suspended.
	w, err = p.visibleWave(id)
	if err != nil {
		return err
	}
	return w.setState(arch.StateStop)
}

// ResumeWave lets a stopped wave run again, or single-steps it. The
// wave's stop event must have been processed first.
func (p *Process) ResumeWave(id uint64, mode ResumeMode) error {
	w, err := p.visibleWave(id)
	if err != nil {
		return err
	}
	if mode != ResumeNormal && mode != ResumeSingleStep {
		return ErrInvalidArgument
	}
	if w.clientVisibleState() != arch.StateStop {
		return ErrNotStopped
	}
	if w.stopReason.NonResumable() {
		return ErrNotResumable
	}
	if e := w.lastStopEvent; e != nil && e.State() < EventProcessed {
		return ErrNotResumable
	}
	if w.displaced != nil && mode != ResumeSingleStep {
		return ErrDisplacedStepping
	}

	release, err := w.queue.scopedSuspend()
	if err != nil {
		return ErrInvalidWave
	}
	defer release()

	w, err = p.visibleWave(id)
	if err != nil {
		return err
	}

	state := arch.StateRun
	if mode == ResumeSingleStep {
		state = arch.StateSingleStep
	}
	return w.setState(state)
}

// WaveState returns the wave's client-visible execution state.
func (p *Process) WaveState(id uint64) (arch.WaveState, error) {
	w, err := p.visibleWave(id)
	if err != nil {
		return 0, err
	}
	return w.clientVisibleState(), nil
}

// WaveStopReason returns why a stopped wave stopped.
func (p *Process) WaveStopReason(id uint64) (arch.StopReason, error) {
	w, err := p.stoppedWave(id)
	if err != nil {
		return 0, err
	}
	return w.stopReason, nil
}

// WavePC returns a stopped wave's program counter.
func (p *Process) WavePC(id uint64) (uint64, error) {
	w, err := p.stoppedWave(id)
	if err != nil {
		return 0, err
	}
	return w.PC()
}

// WaveExecMask returns a stopped wave's execution mask.
func (p *Process) WaveExecMask(id uint64) (uint64, error) {
	w, err := p.stoppedWave(id)
	if err != nil {
		return 0, err
	}
	return w.ExecMask()
}

// WaveLaneCount returns the number of lanes of the wave.
func (p *Process) WaveLaneCount(id uint64) (int, error) {
	w, err := p.visibleWave(id)
	if err != nil {
		return 0, err
	}
	return w.laneCount, nil
}

// WaveGroupIDs returns the wave's work-group coordinates.
func (p *Process) WaveGroupIDs(id uint64) ([3]uint32, error) {
	w, err := p.visibleWave(id)
	if err != nil {
		return [3]uint32{}, err
	}
	return w.groupIDs, nil
}

// WavePositionInGroup returns the wave's index within its work group.
func (p *Process) WavePositionInGroup(id uint64) (uint32, error) {
	w, err := p.visibleWave(id)
	if err != nil {
		return 0, err
	}
	return w.positionInGroup, nil
}

// ReadWaveRegister reads a register of a stopped wave. Registers
// outside the cached hwreg and ttmp blocks require the save area, so
// the queue is suspended around the access.
func (p *Process) ReadWaveRegister(id uint64, r arch.Regnum, buf []byte) error {
	w, err := p.stoppedWave(id)
	if err != nil {
		return err
	}
	if w.registerCached(r) {
		return w.ReadRegister(r, buf)
	}

	release, err := w.queue.scopedSuspend()
	if err != nil {
		return ErrInvalidWave
	}
	defer release()
	if w, err = p.stoppedWave(id); err != nil {
		return err
	}
	return w.ReadRegister(r, buf)
}

// WriteWaveRegister writes a register of a stopped wave, preserving
// bits the client is not allowed to change.
func (p *Process) WriteWaveRegister(id uint64, r arch.Regnum, data []byte) error {
	w, err := p.stoppedWave(id)
	if err != nil {
		return err
	}

	if mask := w.queue.arch.RegisterReadOnlyMask(r); mask != 0 {
		if mask == ^uint64(0) {
			return ErrInvalidRegister
		}
		if len(data) != 8 {
			return ErrInvalidArgument
		}
		old, err := arch.ReadReg64(w, r)
		if err != nil {
			return err
		}
		v := old&mask | binary.LittleEndian.Uint64(data)&^mask
		merged := make([]byte, 8)
		binary.LittleEndian.PutUint64(merged, v)
		data = merged
	}

	if w.registerCached(r) {
		return w.WriteRegister(r, data)
	}

	release, err := w.queue.scopedSuspend()
	if err != nil {
		return ErrInvalidWave
	}
	defer release()
	if w, err = p.stoppedWave(id); err != nil {
		return err
	}
	return w.WriteRegister(r, data)
}

// DisplacedSteppingStart prepares a stopped wave to step over a
// breakpoint. savedInstructionBytes holds the instruction bytes the
// breakpoint overwrote.
func (p *Process) DisplacedSteppingStart(id uint64, savedInstructionBytes []byte) error {
	w, err := p.stoppedWave(id)
	if err != nil {
		return err
	}
	if w.displaced != nil {
		return ErrDisplacedStepping
	}
	return w.displacedSteppingStart(savedInstructionBytes)
}

// DisplacedSteppingComplete moves a stopped wave's pc back into
// original code after the displaced step.
func (p *Process) DisplacedSteppingComplete(id uint64) error {
	w, err := p.stoppedWave(id)
	if err != nil {
		return err
	}
	return w.displacedSteppingComplete()
}

// ReadLocalMemory reads a stopped wave's LDS.
func (p *Process) ReadLocalMemory(id uint64, offset uint64, buf []byte) error {
	return p.xferLocalMemory(id, offset, buf, nil)
}

// WriteLocalMemory writes a stopped wave's LDS.
func (p *Process) WriteLocalMemory(id uint64, offset uint64, data []byte) error {
	return p.xferLocalMemory(id, offset, nil, data)
}

func (p *Process) xferLocalMemory(id, offset uint64, read, write []byte) error {
	w, err := p.stoppedWave(id)
	if err != nil {
		return err
	}

	// The LDS content only exists in the save area while the queue is
	// suspended.
	release, err := w.queue.scopedSuspend()
	if err != nil {
		return ErrInvalidWave
	}
	defer release()
	if w, err = p.stoppedWave(id); err != nil {
		return err
	}
	return w.xferLocalMemory(offset, read, write)
}

// ReadPrivateMemory reads a stopped wave's scratch memory. lane is
// only used with swizzled addressing.
func (p *Process) ReadPrivateMemory(id uint64, offset uint64, lane int,
	swizzled bool, buf []byte) error {
	w, err := p.stoppedWave(id)
	if err != nil {
		return err
	}
	return w.xferPrivateMemory(offset, lane, swizzled, buf, nil)
}

// WritePrivateMemory writes a stopped wave's scratch memory.
func (p *Process) WritePrivateMemory(id uint64, offset uint64, lane int,
	swizzled bool, data []byte) error {
	w, err := p.stoppedWave(id)
	if err != nil {
		return err
	}
	return w.xferPrivateMemory(offset, lane, swizzled, nil, data)
}
