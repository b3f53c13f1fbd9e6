package match

import (
	"time"

	"example.com/voicematch/signaling"
)

// EventKind classifies coordinator lifecycle events.
type EventKind int

const (
	// EventStateChanged reports a session state transition.
	EventStateChanged EventKind = iota
	// EventDisclosureChanged reports a new disclosure level. Emitted only
	// when the level changes, never on every tick.
	EventDisclosureChanged
	// EventCallTick reports elapsed call time once per disclosure tick
	// while the call is active.
	EventCallTick
	// EventError reports a non-terminal failure (e.g. matching failed).
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "state_changed"
	case EventDisclosureChanged:
		return "disclosure_changed"
	case EventCallTick:
		return "call_tick"
	case EventError:
		return "error"
	}
	return "unknown"
}

// Event is delivered to registered listeners. Partner, when present, is
// already redacted to the current disclosure level.
type Event struct {
	Kind    EventKind
	State   State
	Partner *signaling.Partner
	Reason  EndReason
	Err     error
	Level   int
	Elapsed time.Duration
}

// Listener receives coordinator events. Listeners are invoked sequentially
// from the coordinator's event flow and must not block; calls back into the
// coordinator must happen from another goroutine.
type Listener func(Event)
