package debug

import (
	"github.com/sarchlab/wavedbg/arch"
	"github.com/sarchlab/wavedbg/insts"
	"github.com/sarchlab/wavedbg/internal/log"
)

// DisplacedStepping lets a wave execute the instruction beneath a
// breakpoint without removing the breakpoint: the original instruction
// runs from a relocated buffer, or is simulated in software when it
// cannot execute away from its address. One operation exists per
// (queue, original pc) and is shared by every wave stepping over it.
type DisplacedStepping struct {
	queue *Queue

	// from is the original pc the instruction was lifted from.
	from uint64
	// original holds the reconstituted instruction bytes.
	original insts.Instruction
	// simulated marks instructions applied in software instead of
	// executed from the buffer.
	simulated bool

	// buffer is the relocated code: the original instruction followed
	// by a guard trap. Zero when simulated.
	buffer     uint64
	bufferSize int

	refCount int
}

// From returns the original address of the displaced instruction.
func (ds *DisplacedStepping) From() uint64 { return ds.from }

// To returns the address the instruction executes from.
func (ds *DisplacedStepping) To() uint64 { return ds.buffer }

// Simulated reports whether the instruction is applied in software.
func (ds *DisplacedStepping) Simulated() bool { return ds.simulated }

// displacedSteppingFor returns the shared operation for pc, creating it
// on first use. original holds the reconstituted instruction bytes.
func (q *Queue) displacedSteppingFor(pc uint64, original insts.Instruction,
	simulated bool) (*DisplacedStepping, error) {
	if ds, ok := q.displaced[pc]; ok {
		ds.refCount++
		return ds, nil
	}

	ds := &DisplacedStepping{
		queue:     q,
		from:      pc,
		original:  original,
		simulated: simulated,
		refCount:  1,
	}

	if !simulated {
		guard := q.arch.TrapInstruction(arch.TrapIDNone).Bytes()
		size := len(original.Bytes()) + len(guard)

		addr, err := q.allocateInstructionBuffer()
		if err != nil {
			return nil, err
		}
		code := append(append([]byte{}, original.Bytes()...), guard...)
		if err := q.proc.mem.WriteGlobal(addr, code); err != nil {
			q.freeInstructionBuffer(addr)
			return nil, err
		}
		ds.buffer = addr
		ds.bufferSize = size
	}

	q.displaced[pc] = ds
	log.ModWave.WithField("queue", q.id).
		Debugf("created displaced stepping at %#x (simulated=%v)", pc, simulated)
	return ds, nil
}

// release drops one reference, returning the instruction buffer to the
// pool when the last wave lets go.
func (ds *DisplacedStepping) release() {
	ds.refCount--
	if ds.refCount > 0 {
		return
	}
	delete(ds.queue.displaced, ds.from)
	if !ds.simulated {
		ds.queue.freeInstructionBuffer(ds.buffer)
	}
}

// instructionBufferSize is the capacity of one pooled buffer: the
// largest instruction of any generation plus a one-word guard trap.
const instructionBufferSize = 24

func (q *Queue) allocateInstructionBuffer() (uint64, error) {
	if n := len(q.freeBuffers); n > 0 {
		addr := q.freeBuffers[n-1]
		q.freeBuffers = q.freeBuffers[:n-1]
		return addr, nil
	}
	return q.proc.driver.AllocateGlobal(instructionBufferSize)
}

func (q *Queue) freeInstructionBuffer(addr uint64) {
	q.freeBuffers = append(q.freeBuffers, addr)
}
