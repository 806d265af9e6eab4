package debug

import (
	"fmt"

	"github.com/sarchlab/wavedbg/arch"
	"github.com/sarchlab/wavedbg/cwsr"
	"github.com/sarchlab/wavedbg/internal/log"
	"github.com/sarchlab/wavedbg/regcache"
)

// Queue is one hardware compute queue. Its waves can only be inspected
// or mutated while the queue is suspended; suspension is reference
// counted so nested operations share one hardware suspend.
type Queue struct {
	proc *Process
	id   uint64
	arch *arch.Architecture

	valid        bool
	suspendCount int
	snapshot     QueueSnapshot

	waves map[uint64]*Wave

	// dirtyCaches holds the register caches to write back when the
	// queue is resumed.
	dirtyCaches map[*regcache.Cache]struct{}

	// parkedInstructions is a small immutable code region holding the
	// trap instruction stopped waves are parked at, followed by the
	// s_endpgm terminated waves are pointed at.
	parkedInstructions uint64

	displaced   map[uint64]*DisplacedStepping
	freeBuffers []uint64
}

// ID returns the queue's identifier.
func (q *Queue) ID() uint64 { return q.id }

// Architecture returns the architecture the queue's waves execute.
func (q *Queue) Architecture() *arch.Architecture { return q.arch }

// Valid reports whether the queue still exists. A queue becomes invalid
// when its process exits or it is removed.
func (q *Queue) Valid() bool { return q.valid }

// Suspended reports whether the queue is currently suspended.
func (q *Queue) Suspended() bool { return q.suspendCount > 0 }

func (q *Queue) assertSuspended() {
	if !q.Suspended() {
		panic(fmt.Sprintf("queue %d is not suspended", q.id))
	}
}

// Suspend stalls the queue if this is the outermost request and decodes
// the save area into the wave list. Each Suspend must be paired with a
// Resume.
func (q *Queue) Suspend() error {
	if !q.valid {
		return ErrInvalidQueue
	}
	q.suspendCount++
	if q.suspendCount > 1 {
		return nil
	}

	snapshot, err := q.proc.driver.SuspendQueue(q.id)
	if err != nil {
		q.suspendCount--
		// A suspend that fails because the process exited means the
		// queue is gone, not that the operation failed.
		q.invalidate()
		return ErrInvalidQueue
	}
	q.snapshot = snapshot

	log.ModQueue.WithField("queue", q.id).Debugf("suspended")
	return q.updateWaves()
}

// Resume undoes one Suspend. The outermost Resume flushes every dirty
// register cache back to the save area and restarts the hardware.
func (q *Queue) Resume() error {
	q.assertSuspended()
	q.suspendCount--
	if q.suspendCount > 0 || !q.valid {
		return nil
	}

	q.flushDirtyCaches()

	if err := q.proc.driver.ResumeQueue(q.id); err != nil {
		q.invalidate()
		return ErrInvalidQueue
	}
	log.ModQueue.WithField("queue", q.id).Debugf("resumed")
	return nil
}

// scopedSuspend suspends the queue if it is not already suspended and
// returns a release function undoing exactly what was acquired. The
// release tolerates the queue having become invalid while held.
func (q *Queue) scopedSuspend() (release func(), err error) {
	if q.Suspended() {
		return func() {}, nil
	}
	if err := q.Suspend(); err != nil {
		return nil, err
	}
	return func() {
		if q.valid {
			q.Resume() //nolint:errcheck // the queue dies with the process
		}
	}, nil
}

func (q *Queue) registerDirtyCache(c *regcache.Cache) {
	q.dirtyCaches[c] = struct{}{}
}

func (q *Queue) flushDirtyCaches() {
	for c := range q.dirtyCaches {
		if err := c.Flush(); err != nil {
			log.ModCache.WithField("queue", q.id).
				Errorf("flush failed: %v", err)
		}
		delete(q.dirtyCaches, c)
	}
}

func (q *Queue) invalidate() {
	if !q.valid {
		return
	}
	q.valid = false
	for _, w := range q.waves {
		w.destroy()
	}
	q.waves = nil
}

// updateWaves re-derives the wave list from the freshly written control
// stack, creating waves seen for the first time, updating the rest, and
// destroying waves that no longer appear.
func (q *Queue) updateWaves() error {
	q.assertSuspended()

	type pending struct {
		record *cwsr.Record
		id     uint64
	}
	var records []pending

	_, err := cwsr.Iterate(q.arch, q.proc.mem, q.snapshot.ControlStack,
		q.snapshot.WaveAreaAddress, q.snapshot.WaveAreaSize,
		func(r *cwsr.Record) error {
			id, err := q.waveIDForRecord(r)
			if err != nil {
				return err
			}
			records = append(records, pending{record: r, id: id})
			return nil
		})
	if err != nil {
		// A control stack that does not tile the save area means our
		// layout decode disagrees with the hardware.
		panic(err)
	}

	seen := make(map[uint64]struct{}, len(records))

	// The first wave of a group carries the group's LDS and is
	// encountered last, closing the group.
	groupStart := 0
	for i, p := range records {
		if !p.record.IsFirstWave() {
			continue
		}
		leader := q.waveFor(p.id)
		for _, member := range records[groupStart : i+1] {
			w := q.waveFor(member.id)
			if err := w.update(leader, member.record); err != nil {
				return err
			}
			seen[member.id] = struct{}{}
		}
		groupStart = i + 1
	}
	for _, p := range records[groupStart:] {
		w := q.waveFor(p.id)
		if err := w.update(w, p.record); err != nil {
			return err
		}
		seen[p.id] = struct{}{}
	}

	for id, w := range q.waves {
		if _, ok := seen[id]; !ok {
			// The wave has exited.
			w.destroy()
			delete(q.waves, id)
		}
	}
	return nil
}

// waveIDForRecord recovers the wave id the debugger wrote into the trap
// temporaries, or assigns a fresh one for a wave observed for the first
// time or running without ttmp setup.
func (q *Queue) waveIDForRecord(r *cwsr.Record) (uint64, error) {
	enabled, err := r.TtmpSetupEnabled()
	if err != nil {
		return 0, err
	}
	if enabled {
		id, err := r.ID()
		if err != nil {
			return 0, err
		}
		if _, ok := q.waves[id]; ok {
			return id, nil
		}
	}
	return q.proc.nextWaveID(), nil
}

func (q *Queue) waveFor(id uint64) *Wave {
	w, ok := q.waves[id]
	if !ok {
		w = newWave(q, id)
		q.waves[id] = w
	}
	return w
}

// parkInstructionAddress returns the address of the immutable trap
// instruction stopped waves are parked at, allocating the instruction
// region on first use.
func (q *Queue) parkInstructionAddress() (uint64, error) {
	if err := q.writeParkedInstructions(); err != nil {
		return 0, err
	}
	return q.parkedInstructions, nil
}

// endpgmInstructionAddress returns the address of the immutable
// s_endpgm instruction terminated waves are pointed at.
func (q *Queue) endpgmInstructionAddress() (uint64, error) {
	if err := q.writeParkedInstructions(); err != nil {
		return 0, err
	}
	trapSize := len(q.arch.TrapInstruction(arch.TrapIDNone).Bytes())
	return q.parkedInstructions + uint64(trapSize), nil
}

func (q *Queue) writeParkedInstructions() error {
	if q.parkedInstructions != 0 {
		return nil
	}

	trap := q.arch.TrapInstruction(arch.TrapIDNone).Bytes()
	endpgm := q.arch.TerminatingInstruction().Bytes()

	addr, err := q.proc.driver.AllocateGlobal(len(trap) + len(endpgm))
	if err != nil {
		return err
	}
	code := append(append([]byte{}, trap...), endpgm...)
	if err := q.proc.mem.WriteGlobal(addr, code); err != nil {
		return err
	}
	q.parkedInstructions = addr
	return nil
}
