package debug

// EventKind identifies what an event reports.
type EventKind int

// Event kinds.
const (
	// EventWaveStop reports that a wave has reached the stop state.
	EventWaveStop EventKind = iota + 1
	// EventWaveCommandTerminated reports that a command the client
	// issued for a wave was cut short because the wave terminated.
	EventWaveCommandTerminated
)

func (k EventKind) String() string {
	switch k {
	case EventWaveStop:
		return "wave-stop"
	case EventWaveCommandTerminated:
		return "wave-command-terminated"
	default:
		return "invalid"
	}
}

// EventState tracks an event through its lifecycle. An event is raised
// internally, reported when the client pulls it, and processed when the
// client acknowledges it. A stopped wave cannot be resumed before its
// stop event is processed.
type EventState int

// Event lifecycle states, in order.
const (
	EventRaised EventState = iota
	EventReported
	EventProcessed
)

// Event is one occurrence reported to the client.
type Event struct {
	id     uint64
	kind   EventKind
	waveID uint64
	state  EventState
}

// ID returns the event's identifier.
func (e *Event) ID() uint64 { return e.id }

// Kind returns what the event reports.
func (e *Event) Kind() EventKind { return e.kind }

// WaveID returns the wave the event concerns.
func (e *Event) WaveID() uint64 { return e.waveID }

// State returns the event's lifecycle state.
func (e *Event) State() EventState { return e.state }

// SetProcessed acknowledges the event. Only a reported event can be
// acknowledged.
func (e *Event) SetProcessed() {
	if e.state == EventReported {
		e.state = EventProcessed
	}
}
