package match

import (
	"time"

	"example.com/voicematch/rtc"
	"example.com/voicematch/signaling"
)

// State of the coordinator's single active session.
type State int

const (
	StateIdle State = iota
	StateSearching
	StateFound
	StateConfirmed
	StateConnecting
	StateActive
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSearching:
		return "searching"
	case StateFound:
		return "found"
	case StateConfirmed:
		return "confirmed"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	}
	return "unknown"
}

// EndReason classifies why a session ended.
type EndReason int

const (
	ReasonNone EndReason = iota
	// ReasonHangUp is a local user hang-up; end_call is sent for it.
	ReasonHangUp
	// ReasonRemoteEnded is the server's call-ended notice.
	ReasonRemoteEnded
	// ReasonTimeout is the connecting watchdog expiring.
	ReasonTimeout
	// ReasonMediaFailure covers microphone refusal and media-stack
	// initialization failure.
	ReasonMediaFailure
	// ReasonNegotiationFailure covers invalid SDP and failed ICE.
	ReasonNegotiationFailure
	// ReasonConnectionClosed is the peer connection closing underneath an
	// established call.
	ReasonConnectionClosed
	// ReasonDisconnected is the signaling transport dropping mid-session.
	ReasonDisconnected
)

func (r EndReason) String() string {
	switch r {
	case ReasonHangUp:
		return "hang_up"
	case ReasonRemoteEnded:
		return "remote_ended"
	case ReasonTimeout:
		return "timeout"
	case ReasonMediaFailure:
		return "media_failure"
	case ReasonNegotiationFailure:
		return "negotiation_failure"
	case ReasonConnectionClosed:
		return "connection_closed"
	case ReasonDisconnected:
		return "disconnected"
	}
	return "none"
}

// Session is one matching/call attempt. At most one non-ended session exists
// per coordinator; it is mutated only under the coordinator's lock.
type Session struct {
	MatchID   string
	RoomID    string
	Partner   signaling.Partner
	Role      rtc.Role
	State     State
	StartedAt time.Time

	// accepted is the one-shot guard: accept-match goes on the wire at
	// most once per session no matter how many triggers fire.
	accepted bool
	// disclosure is the last emitted disclosure level.
	disclosure int

	timers   *timerSet
	watchdog *time.Timer
}

func newSession() *Session {
	return &Session{
		State:  StateSearching,
		timers: newTimerSet(),
	}
}
