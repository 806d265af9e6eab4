package debug

import "errors"

// Result codes returned to the client. These are precondition failures,
// not internal faults; internal-consistency violations panic instead.
var (
	// ErrInvalidWave reports that the wave no longer exists. The wave
	// may have exited between lookup and queue suspension.
	ErrInvalidWave = errors.New("invalid wave")

	// ErrInvalidQueue reports that the queue no longer exists.
	ErrInvalidQueue = errors.New("invalid queue")

	// ErrInvalidArgument reports a bad query or resume mode.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrAlreadyStopped reports a stop request for a wave whose stop the
	// client has already observed.
	ErrAlreadyStopped = errors.New("wave is already stopped")

	// ErrOutstandingStop reports a stop request while an earlier one has
	// not yet been observed.
	ErrOutstandingStop = errors.New("wave has an outstanding stop request")

	// ErrNotStopped reports an operation that requires a client-visibly
	// stopped wave.
	ErrNotStopped = errors.New("wave is not stopped")

	// ErrNotResumable reports a resume of a wave carrying unresolved
	// fatal exceptions, or whose stop event the client has not processed.
	ErrNotResumable = errors.New("wave is not resumable")

	// ErrDisplacedStepping reports a normal-mode resume of a wave in the
	// middle of a displaced step; only single-step is legal.
	ErrDisplacedStepping = errors.New("displaced-stepping wave can only be single-stepped")

	// ErrIllegalInstruction reports that an instruction could not be
	// decoded, displaced-stepped or simulated. The caller must fall back
	// to inline single-stepping.
	ErrIllegalInstruction = errors.New("illegal instruction")

	// ErrInvalidRegister reports a register the wave does not hold.
	ErrInvalidRegister = errors.New("invalid register")

	// ErrMemoryAccess reports an out-of-bounds memory transfer.
	ErrMemoryAccess = errors.New("memory access out of bounds")
)
