// Package match drives the anonymous 1:1 call lifecycle: queueing for a
// match, the mutual-accept handshake, WebRTC call setup, profile disclosure
// over call time, and teardown. The Coordinator is the single writer of
// session state; signaling and media layers feed it through the
// signaling.Handler interface and callbacks.
package match

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"example.com/voicematch/audio"
	"example.com/voicematch/rtc"
	"example.com/voicematch/signaling"
)

const (
	// DefaultAcceptCountdown is how long a found match waits before being
	// accepted automatically.
	DefaultAcceptCountdown = 10 * time.Second
	// DefaultConnectTimeout bounds the Connecting phase. A call that has
	// not produced a connected peer by then is abandoned.
	DefaultConnectTimeout = 30 * time.Second
	// DefaultDisclosureTick is the cadence of call-time checks while a
	// call is active.
	DefaultDisclosureTick = 1 * time.Second
)

// ErrConnectTimeout is reported when call setup exceeds the connect timeout.
var ErrConnectTimeout = errors.New("call setup timed out")

// Sender puts client messages on the signaling transport. Send is
// fire-and-forget; transport failures surface through HandleTransport.
type Sender interface {
	Send(msg signaling.ClientMessage)
}

// Negotiator is the SDP/ICE engine driven by the coordinator. Satisfied by
// *rtc.Engine.
type Negotiator interface {
	CreatePeerConnection(roomID string, role rtc.Role) error
	CreateOffer() (string, error)
	CreateAnswer() (string, error)
	SetRemoteDescription(sdp string, kind rtc.SDPKind) error
	AddICECandidate(c signaling.ICECandidate) error
	SetMuted(muted bool)
	Teardown()
}

// AudioSession is the platform audio route (activate on call start, speaker
// toggle, deactivate on call end).
type AudioSession interface {
	Activate()
	Deactivate()
	SetSpeakerEnabled(enabled bool)
}

// NopAudioSession is an AudioSession for hosts without a platform audio
// route to manage.
type NopAudioSession struct{}

func (NopAudioSession) Activate()                {}
func (NopAudioSession) Deactivate()              {}
func (NopAudioSession) SetSpeakerEnabled(_ bool) {}

// Config holds coordinator timing knobs. Zero values take the defaults
// above; Clock defaults to time.Now.
type Config struct {
	AcceptCountdown time.Duration
	ConnectTimeout  time.Duration
	DisclosureTick  time.Duration
	Clock           func() time.Time
}

func (c Config) withDefaults() Config {
	if c.AcceptCountdown <= 0 {
		c.AcceptCountdown = DefaultAcceptCountdown
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.DisclosureTick <= 0 {
		c.DisclosureTick = DefaultDisclosureTick
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

// Coordinator owns the match/call state machine. All transitions happen
// under mu; network and media side effects run outside it.
type Coordinator struct {
	sender     Sender
	negotiator Negotiator
	audio      AudioSession
	cfg        Config
	logger     *slog.Logger

	mu      sync.Mutex
	state   State
	session *Session
	// lastMatchID is the matchId of the last start-call processed.
	// Repeats of it are dropped.
	lastMatchID string
	listeners   []Listener
}

// New builds a Coordinator wired to the given transport, negotiation engine
// and audio route.
func New(sender Sender, negotiator Negotiator, audioSession AudioSession, cfg Config, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if audioSession == nil {
		audioSession = NopAudioSession{}
	}
	return &Coordinator{
		sender:     sender,
		negotiator: negotiator,
		audio:      audioSession,
		cfg:        cfg.withDefaults(),
		logger:     logger.With("component", "match"),
	}
}

// AddListener registers an event listener. Must be called before the
// coordinator starts receiving traffic.
func (c *Coordinator) AddListener(fn Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// State returns the current coordinator state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// StartMatching joins the matching queue. Valid only from Idle.
func (c *Coordinator) StartMatching() error {
	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("cannot start matching while %s", state)
	}
	c.session = newSession()
	c.state = StateSearching
	c.mu.Unlock()

	c.sender.Send(signaling.JoinMatching())
	c.emit(Event{Kind: EventStateChanged, State: StateSearching})
	return nil
}

// CancelMatching leaves the queue. Valid from Searching and Found; in Found
// it also declines the pending match so no server-side registration
// lingers.
func (c *Coordinator) CancelMatching() error {
	c.mu.Lock()
	if c.state != StateSearching && c.state != StateFound {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("cannot cancel matching while %s", state)
	}
	s := c.session
	matchID := s.MatchID
	declined := c.state == StateFound
	s.timers.stopAll()
	s.State = StateEnded
	c.session = nil
	c.state = StateIdle
	c.mu.Unlock()

	if declined {
		c.sender.Send(signaling.CancelMatch(matchID))
	}
	c.sender.Send(signaling.LeaveMatching())
	c.emit(Event{Kind: EventStateChanged, State: StateIdle})
	return nil
}

// Skip declines the found match and keeps searching. Valid only from Found.
func (c *Coordinator) Skip() error {
	c.mu.Lock()
	if c.state != StateFound {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("cannot skip while %s", state)
	}
	old := c.session
	matchID := old.MatchID
	old.timers.stopAll()
	old.State = StateEnded
	c.session = newSession()
	c.state = StateSearching
	c.mu.Unlock()

	c.sender.Send(signaling.CancelMatch(matchID))
	c.emit(Event{Kind: EventStateChanged, State: StateSearching})
	return nil
}

// Accept confirms the found match. Accepting an already-confirmed match is
// a no-op, so a user tap racing the countdown cannot double-send.
func (c *Coordinator) Accept() error {
	c.mu.Lock()
	if c.state == StateConfirmed {
		c.mu.Unlock()
		return nil
	}
	if c.state != StateFound {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("cannot accept while %s", state)
	}
	events, send, matchID := c.acceptLocked(c.session)
	c.mu.Unlock()

	if send {
		c.sender.Send(signaling.AcceptMatch(matchID))
	}
	c.emit(events...)
	return nil
}

// acceptLocked flips the session to Confirmed. Returns whether accept-match
// still needs to go on the wire; the accepted flag makes that a one-shot.
func (c *Coordinator) acceptLocked(s *Session) (events []Event, send bool, matchID string) {
	if s.accepted {
		return nil, false, ""
	}
	s.accepted = true
	s.State = StateConfirmed
	c.state = StateConfirmed
	partner := RedactPartner(s.Partner, 0)
	events = append(events, Event{Kind: EventStateChanged, State: StateConfirmed, Partner: &partner})
	return events, true, s.MatchID
}

// autoAccept is the countdown callback. Stale if the session moved on.
func (c *Coordinator) autoAccept(s *Session) {
	c.mu.Lock()
	if c.session != s || c.state != StateFound {
		c.mu.Unlock()
		return
	}
	events, send, matchID := c.acceptLocked(s)
	c.mu.Unlock()

	if send {
		c.logger.Info("match auto-accepted", "matchId", matchID)
		c.sender.Send(signaling.AcceptMatch(matchID))
	}
	c.emit(events...)
}

// HangUp ends the current call locally. Valid from Connecting and Active.
func (c *Coordinator) HangUp() error {
	c.mu.Lock()
	if c.state != StateConnecting && c.state != StateActive {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("cannot hang up while %s", state)
	}
	s := c.session
	c.mu.Unlock()

	c.endSessionFrom(s, []State{StateConnecting, StateActive}, ReasonHangUp, nil)
	return nil
}

// SetMuted toggles outgoing audio for the active call.
func (c *Coordinator) SetMuted(muted bool) {
	c.negotiator.SetMuted(muted)
}

// SetSpeakerEnabled routes call audio to the speaker.
func (c *Coordinator) SetSpeakerEnabled(enabled bool) {
	c.audio.SetSpeakerEnabled(enabled)
}

// HandleMatchEvent routes matchmaking traffic from the signaling channel.
func (c *Coordinator) HandleMatchEvent(msg signaling.ServerMessage) {
	switch m := msg.(type) {
	case signaling.MatchFound:
		c.handleMatchFound(m)
	case signaling.StartCall:
		c.handleStartCall(m)
	case signaling.CallEnded:
		c.handleCallEnded(m)
	case signaling.ServerError:
		c.handleServerError(m)
	default:
		c.logger.Warn("unhandled match event", "type", fmt.Sprintf("%T", msg))
	}
}

func (c *Coordinator) handleMatchFound(m signaling.MatchFound) {
	c.mu.Lock()
	if c.state != StateSearching {
		c.logger.Info("match-found dropped", "matchId", m.MatchID, "state", c.state)
		c.mu.Unlock()
		return
	}
	s := c.session
	s.MatchID = m.MatchID
	s.Partner = m.Partner
	s.State = StateFound
	c.state = StateFound
	s.timers.afterFunc(c.cfg.AcceptCountdown, func() { c.autoAccept(s) })
	partner := RedactPartner(s.Partner, 0)
	c.mu.Unlock()

	c.emit(Event{Kind: EventStateChanged, State: StateFound, Partner: &partner})
}

func (c *Coordinator) handleStartCall(m signaling.StartCall) {
	c.mu.Lock()
	if m.MatchID != "" && m.MatchID == c.lastMatchID {
		c.logger.Info("duplicate start-call dropped", "matchId", m.MatchID)
		c.mu.Unlock()
		return
	}
	if c.state != StateConfirmed {
		c.logger.Warn("start-call dropped", "matchId", m.MatchID, "state", c.state)
		c.mu.Unlock()
		return
	}
	s := c.session
	if m.MatchID != s.MatchID {
		c.logger.Warn("start-call for foreign match dropped", "matchId", m.MatchID, "want", s.MatchID)
		c.mu.Unlock()
		return
	}
	c.lastMatchID = m.MatchID
	s.RoomID = m.RoomID
	if m.IsInitiator {
		s.Role = rtc.RoleInitiator
	} else {
		s.Role = rtc.RoleResponder
	}
	role := s.Role
	roomID := s.RoomID
	s.State = StateConnecting
	c.state = StateConnecting
	s.watchdog = s.timers.afterFunc(c.cfg.ConnectTimeout, func() { c.connectTimeout(s) })
	c.mu.Unlock()

	err := c.negotiator.CreatePeerConnection(roomID, role)

	// The user may have hung up while the peer connection was being built.
	c.mu.Lock()
	stale := c.session != s || s.State != StateConnecting
	c.mu.Unlock()
	if stale {
		c.negotiator.Teardown()
		return
	}
	if err != nil {
		c.logger.Error("peer connection setup failed", "roomId", roomID, "error", err)
		c.endSessionFrom(s, []State{StateConnecting}, mediaFailureReason(err), err)
		return
	}

	c.sender.Send(signaling.JoinRoom(roomID))

	if role == rtc.RoleInitiator {
		offer, err := c.negotiator.CreateOffer()
		if err != nil {
			c.logger.Error("offer failed", "roomId", roomID, "error", err)
			c.endSessionFrom(s, []State{StateConnecting}, ReasonNegotiationFailure, err)
			return
		}
		c.sender.Send(signaling.Offer(offer, roomID))
	}

	c.emit(Event{Kind: EventStateChanged, State: StateConnecting})
}

func mediaFailureReason(err error) EndReason {
	if errors.Is(err, audio.ErrPermissionDenied) || errors.Is(err, rtc.ErrFactory) {
		return ReasonMediaFailure
	}
	return ReasonNegotiationFailure
}

func (c *Coordinator) handleCallEnded(m signaling.CallEnded) {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return
	}
	c.logger.Info("call ended by server", "reason", m.Reason)
	c.endSessionFrom(s, []State{StateConnecting, StateActive}, ReasonRemoteEnded, nil)
}

func (c *Coordinator) handleServerError(m signaling.ServerError) {
	err := fmt.Errorf("server error: %s", m.Message)

	c.mu.Lock()
	switch c.state {
	case StateSearching, StateFound, StateConfirmed:
		// Pre-call failure: abandon matching.
		s := c.session
		s.timers.stopAll()
		s.State = StateEnded
		c.session = nil
		c.state = StateIdle
		c.mu.Unlock()

		c.logger.Warn("matching failed", "error", m.Message)
		c.emit(
			Event{Kind: EventError, Err: err},
			Event{Kind: EventStateChanged, State: StateIdle},
		)
	default:
		c.mu.Unlock()
		c.logger.Warn("server error", "error", m.Message, "state", c.State())
		c.emit(Event{Kind: EventError, Err: err})
	}
}

// HandleSignalEvent routes SDP and ICE traffic from the signaling channel.
func (c *Coordinator) HandleSignalEvent(msg signaling.ServerMessage) {
	switch m := msg.(type) {
	case signaling.RemoteOffer:
		c.handleRemoteOffer(m)
	case signaling.RemoteAnswer:
		c.handleRemoteAnswer(m)
	case signaling.RemoteCandidate:
		c.handleRemoteCandidate(m)
	default:
		c.logger.Warn("unhandled signal event", "type", fmt.Sprintf("%T", msg))
	}
}

func (c *Coordinator) handleRemoteOffer(m signaling.RemoteOffer) {
	c.mu.Lock()
	s := c.session
	if s == nil || c.state != StateConnecting || s.Role != rtc.RoleResponder {
		c.logger.Warn("offer dropped", "state", c.state)
		c.mu.Unlock()
		return
	}
	roomID := s.RoomID
	c.mu.Unlock()

	if err := c.negotiator.SetRemoteDescription(m.SDP, rtc.SDPOffer); err != nil {
		c.logger.Error("remote offer rejected", "error", err)
		c.endSessionFrom(s, []State{StateConnecting}, ReasonNegotiationFailure, err)
		return
	}
	answer, err := c.negotiator.CreateAnswer()
	if err != nil {
		c.logger.Error("answer failed", "error", err)
		c.endSessionFrom(s, []State{StateConnecting}, ReasonNegotiationFailure, err)
		return
	}
	c.sender.Send(signaling.Answer(answer, roomID))
}

func (c *Coordinator) handleRemoteAnswer(m signaling.RemoteAnswer) {
	c.mu.Lock()
	s := c.session
	if s == nil || c.state != StateConnecting || s.Role != rtc.RoleInitiator {
		c.logger.Warn("answer dropped", "state", c.state)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := c.negotiator.SetRemoteDescription(m.SDP, rtc.SDPAnswer); err != nil {
		c.logger.Error("remote answer rejected", "error", err)
		c.endSessionFrom(s, []State{StateConnecting}, ReasonNegotiationFailure, err)
	}
}

func (c *Coordinator) handleRemoteCandidate(m signaling.RemoteCandidate) {
	c.mu.Lock()
	active := c.session != nil && (c.state == StateConnecting || c.state == StateActive)
	c.mu.Unlock()
	if !active {
		c.logger.Info("remote candidate dropped", "state", c.State())
		return
	}
	// Candidate failures are non-fatal; the rest of the pool may still
	// connect.
	if err := c.negotiator.AddICECandidate(m.Candidate); err != nil {
		c.logger.Warn("remote candidate rejected", "error", err)
	}
}

// HandleLocalCandidate forwards locally gathered ICE candidates to the
// remote peer. Wired to the engine's OnLocalCandidate.
func (c *Coordinator) HandleLocalCandidate(cand signaling.ICECandidate) {
	c.mu.Lock()
	send := c.session != nil && (c.state == StateConnecting || c.state == StateActive)
	c.mu.Unlock()
	if send {
		c.sender.Send(signaling.Candidate(cand))
	}
}

// HandleConnectionState reacts to peer connection state changes. Wired to
// the engine's OnConnectionState.
func (c *Coordinator) HandleConnectionState(state rtc.ConnState) {
	switch state {
	case rtc.StateConnected:
		c.handleConnected()
	case rtc.StateDisconnected:
		c.logger.Warn("peer connection disconnected, waiting for recovery")
	case rtc.StateFailed:
		c.mu.Lock()
		s := c.session
		c.mu.Unlock()
		c.endSessionFrom(s, []State{StateConnecting, StateActive}, ReasonNegotiationFailure,
			errors.New("ice connection failed"))
	case rtc.StateClosed:
		c.mu.Lock()
		s := c.session
		c.mu.Unlock()
		c.endSessionFrom(s, []State{StateConnecting, StateActive}, ReasonConnectionClosed, nil)
	}
}

func (c *Coordinator) handleConnected() {
	c.mu.Lock()
	s := c.session
	if s == nil || c.state != StateConnecting {
		// Late or repeated connected signal.
		c.mu.Unlock()
		return
	}
	if s.watchdog != nil {
		s.watchdog.Stop()
		s.watchdog = nil
	}
	s.StartedAt = c.cfg.Clock()
	s.disclosure = 0
	s.State = StateActive
	c.state = StateActive
	s.timers.every(c.cfg.DisclosureTick, func() { c.disclosureTick(s) })
	partner := RedactPartner(s.Partner, 0)
	c.mu.Unlock()

	c.audio.Activate()
	c.logger.Info("call active", "matchId", s.MatchID, "roomId", s.RoomID)
	c.emit(Event{Kind: EventStateChanged, State: StateActive, Partner: &partner})
}

// disclosureTick runs once per tick while a call is active. It emits the
// elapsed-time event every tick and a disclosure event only on a level
// boundary.
func (c *Coordinator) disclosureTick(s *Session) {
	c.mu.Lock()
	if c.session != s || c.state != StateActive {
		c.mu.Unlock()
		return
	}
	elapsed := c.cfg.Clock().Sub(s.StartedAt)
	events := []Event{{Kind: EventCallTick, Elapsed: elapsed}}
	if level := Level(elapsed); level != s.disclosure {
		s.disclosure = level
		partner := RedactPartner(s.Partner, level)
		events = append(events, Event{
			Kind:    EventDisclosureChanged,
			Level:   level,
			Partner: &partner,
			Elapsed: elapsed,
		})
	}
	c.mu.Unlock()

	c.emit(events...)
}

// connectTimeout is the watchdog callback for a call stuck in Connecting.
func (c *Coordinator) connectTimeout(s *Session) {
	c.logger.Warn("call setup timed out", "matchId", s.MatchID)
	c.endSessionFrom(s, []State{StateConnecting}, ReasonTimeout, ErrConnectTimeout)
}

// HandleTransport reacts to signaling transport lifecycle.
func (c *Coordinator) HandleTransport(ev signaling.TransportEvent) {
	switch ev.Kind {
	case signaling.TransportConnected:
		c.logger.Info("signaling connected")
	case signaling.TransportSendFailed:
		c.logger.Warn("signaling send failed", "error", ev.Err)
	case signaling.TransportClosed:
		c.handleTransportClosed(ev.Err)
	}
}

func (c *Coordinator) handleTransportClosed(cause error) {
	c.mu.Lock()
	s := c.session
	state := c.state
	c.mu.Unlock()

	switch state {
	case StateConnecting, StateActive:
		c.endSessionFrom(s, []State{StateConnecting, StateActive}, ReasonDisconnected, cause)
	case StateSearching, StateFound, StateConfirmed:
		c.mu.Lock()
		if c.session != s || c.state != state {
			c.mu.Unlock()
			return
		}
		s.timers.stopAll()
		s.State = StateEnded
		c.session = nil
		c.state = StateIdle
		c.mu.Unlock()

		err := cause
		if err == nil {
			err = errors.New("signaling connection lost")
		}
		c.logger.Warn("matching aborted, signaling lost", "error", err)
		c.emit(
			Event{Kind: EventError, Err: err},
			Event{Kind: EventStateChanged, State: StateIdle},
		)
	}
}

// endSessionFrom tears down the session s if it is still current and in one
// of the given states. Teardown order is fixed: timers, media, audio route,
// wire notifications, then the Ended event, so listeners observe released
// resources.
func (c *Coordinator) endSessionFrom(s *Session, from []State, reason EndReason, cause error) {
	if s == nil {
		return
	}

	c.mu.Lock()
	if c.session != s || !stateIn(c.state, from) {
		c.mu.Unlock()
		return
	}
	s.timers.stopAll()
	matchID := s.MatchID
	joinedRoom := s.RoomID != ""
	s.State = StateEnded
	c.session = nil
	c.state = StateIdle
	c.mu.Unlock()

	c.negotiator.Teardown()
	c.audio.Deactivate()
	if reason == ReasonHangUp {
		c.sender.Send(signaling.EndCall(matchID))
	}
	if joinedRoom && reason != ReasonDisconnected {
		c.sender.Send(signaling.LeaveRoom())
	}

	c.logger.Info("session ended", "matchId", matchID, "reason", reason, "error", cause)
	c.emit(Event{Kind: EventStateChanged, State: StateEnded, Reason: reason, Err: cause})
}

func stateIn(state State, set []State) bool {
	for _, s := range set {
		if s == state {
			return true
		}
	}
	return false
}

func (c *Coordinator) emit(events ...Event) {
	if len(events) == 0 {
		return
	}
	c.mu.Lock()
	listeners := make([]Listener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, ev := range events {
		for _, fn := range listeners {
			fn(ev)
		}
	}
}
