package debug

// Memory reads and writes the target process's GPU-visible global
// memory. The kernel driver provides the implementation.
type Memory interface {
	ReadGlobal(addr uint64, buf []byte) error
	WriteGlobal(addr uint64, data []byte) error
}

// QueueSnapshot is the state the driver hands back when it suspends a
// queue: the control stack describing the saved waves and the bounds of
// the wave save area they were written to.
type QueueSnapshot struct {
	// ControlStack holds the COMPUTE_RELAUNCH words, PM4 header first.
	ControlStack []uint32
	// WaveAreaAddress is the top of the wave save area.
	WaveAreaAddress uint64
	// WaveAreaSize is the byte size of the wave save area.
	WaveAreaSize uint64
	// ScratchBase and ScratchSize bound the queue's scratch backing
	// memory.
	ScratchBase uint64
	ScratchSize uint64
}

// Driver suspends and resumes hardware queues and carves out global
// memory for the debugger's own instructions. All calls block until the
// hardware acknowledges.
type Driver interface {
	// SuspendQueue stalls the queue and context-saves its waves. The
	// returned snapshot stays valid until the queue is resumed.
	SuspendQueue(queueID uint64) (QueueSnapshot, error)

	// ResumeQueue restores the queue's waves and lets it run.
	ResumeQueue(queueID uint64) error

	// AllocateGlobal reserves GPU-executable global memory.
	AllocateGlobal(size int) (uint64, error)

	// FreeGlobal releases memory reserved with AllocateGlobal.
	FreeGlobal(addr uint64) error
}
