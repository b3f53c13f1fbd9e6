// Package rtc owns the WebRTC peer-connection lifecycle for one voice call:
// offer/answer creation, remote-description application, ICE candidate
// buffering, and connection-state observation. One Engine manages at most
// one peer connection at a time.
package rtc

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"example.com/voicematch/audio"
	"example.com/voicematch/signaling"
)

// Role in the offer/answer exchange, assigned by the server per call.
type Role int

const (
	RoleNone Role = iota
	// RoleInitiator creates the SDP offer.
	RoleInitiator
	// RoleResponder answers a received offer and never offers itself.
	RoleResponder
)

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	}
	return "none"
}

// SDPKind tags a remote session description.
type SDPKind string

const (
	SDPOffer  SDPKind = "offer"
	SDPAnswer SDPKind = "answer"
)

// ConnState is the observed ICE connection status.
type ConnState int

const (
	StateNew ConnState = iota
	StateChecking
	StateConnected
	// StateDisconnected is transient and recoverable; it is reported but
	// must not end the session.
	StateDisconnected
	StateFailed
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateChecking:
		return "checking"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

var (
	// ErrPeerConnectionExists reports a precondition violation: only one
	// peer connection may exist at a time.
	ErrPeerConnectionExists = errors.New("peer connection already exists")
	// ErrNoPeerConnection reports an operation attempted before
	// CreatePeerConnection.
	ErrNoPeerConnection = errors.New("no peer connection")
	// ErrFactory reports that the underlying media stack could not be
	// initialized.
	ErrFactory = errors.New("media stack initialization failed")
	// ErrInvalidSDP reports an unparseable or unexpected session
	// description.
	ErrInvalidSDP = errors.New("invalid session description")
	// ErrRole reports an offer/answer operation attempted by the wrong
	// role.
	ErrRole = errors.New("operation not valid for role")
	// ErrOfferAlreadyCreated guards against a second offer; the voice-only
	// design has no renegotiation.
	ErrOfferAlreadyCreated = errors.New("offer already created")
	// ErrNoRemoteDescription reports CreateAnswer before the remote offer
	// was applied.
	ErrNoRemoteDescription = errors.New("no remote description")
	// ErrNegotiationInProgress rejects a negotiation call while another
	// one is still completing.
	ErrNegotiationInProgress = errors.New("negotiation already in progress")
)

// Config carries the fixed ICE server list and the capture device.
type Config struct {
	ICEServers []webrtc.ICEServer
	Microphone audio.Microphone
	// IncludeLoopback admits loopback ICE candidates, needed when two
	// engines connect on the same machine.
	IncludeLoopback bool
}

// Engine drives one peer connection through its lifetime. All methods are
// safe for concurrent use; negotiation calls are rejected rather than
// queued when one is already in flight.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	onLocalCandidate func(signaling.ICECandidate)
	onStateChange    func(ConnState)
	onRemoteAudio    func(pcm []int16)

	mu                sync.Mutex
	pc                *webrtc.PeerConnection
	roomID            string
	role              Role
	remoteKind        SDPKind
	remoteSet         bool
	offerCreated      bool
	negotiating       bool
	connectedReported bool
	pending           []webrtc.ICECandidateInit
	pumpDone          chan struct{}
	micStarted        bool

	muted muteFlag
}

// muteFlag gates the outbound audio pump without taking the engine lock on
// the 20 ms frame path.
type muteFlag struct {
	mu    sync.Mutex
	muted bool
}

func (f *muteFlag) set(muted bool) {
	f.mu.Lock()
	f.muted = muted
	f.mu.Unlock()
}

func (f *muteFlag) get() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.muted
}

// NewEngine creates an engine. No peer connection exists until
// CreatePeerConnection.
func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		logger: logger,
	}
}

// OnLocalCandidate registers the sink for locally gathered ICE candidates.
// Must be set before CreatePeerConnection.
func (e *Engine) OnLocalCandidate(fn func(signaling.ICECandidate)) {
	e.onLocalCandidate = fn
}

// OnConnectionState registers the sink for connection-state transitions.
// StateConnected is reported at most once per peer connection.
func (e *Engine) OnConnectionState(fn func(ConnState)) {
	e.onStateChange = fn
}

// OnRemoteAudio registers the sink for decoded remote speech. Optional;
// without it inbound audio is discarded after depacketization.
func (e *Engine) OnRemoteAudio(fn func(pcm []int16)) {
	e.onRemoteAudio = fn
}

// CreatePeerConnection constructs a fresh peer connection scoped to the
// given signaling room. Microphone access is requested first; refusal fails
// the call with audio.ErrPermissionDenied before any media is touched.
// Calling this while a peer connection exists is a programmer error.
func (e *Engine) CreatePeerConnection(roomID string, role Role) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pc != nil {
		return ErrPeerConnectionExists
	}

	mic := e.cfg.Microphone
	if mic != nil {
		if err := mic.RequestAccess(); err != nil {
			return fmt.Errorf("requesting microphone access: %w", err)
		}
	}

	pc, err := e.newPeerConnection()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFactory, err)
	}

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   audio.SampleRate,
			Channels:    audio.Channels,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		"audio-"+roomID,
		"stream-"+roomID,
	)
	if err != nil {
		pc.Close()
		return fmt.Errorf("%w: creating audio track: %v", ErrFactory, err)
	}

	sender, err := pc.AddTrack(track)
	if err != nil {
		pc.Close()
		return fmt.Errorf("%w: adding audio track: %v", ErrFactory, err)
	}

	// Read and discard RTCP packets to keep the connection alive.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		fn := e.onLocalCandidate
		if fn == nil {
			return
		}
		init := candidate.ToJSON()
		fn(signaling.ICECandidate{
			Candidate:     init.Candidate,
			SDPMLineIndex: init.SDPMLineIndex,
			SDPMid:        init.SDPMid,
		})
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		e.handleICEState(pc, state)
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		e.logger.Info("remote track started", "codec", remote.Codec().MimeType)
		go e.receive(remote)
	})

	var source audio.Source
	if mic != nil {
		source, err = mic.Start()
		if err != nil {
			pc.Close()
			return fmt.Errorf("starting microphone capture: %w", err)
		}
		e.micStarted = true
	}

	done := make(chan struct{})
	if source != nil {
		go e.pump(track, source, done)
	}

	e.pc = pc
	e.roomID = roomID
	e.role = role
	e.pumpDone = done
	e.muted.set(false)

	e.logger.Info("peer connection created", "room", roomID, "role", role.String())
	return nil
}

// CreateOffer produces the SDP offer and sets it as the local description.
// Valid only once, and only for the initiator.
func (e *Engine) CreateOffer() (string, error) {
	e.mu.Lock()
	if e.pc == nil {
		e.mu.Unlock()
		return "", ErrNoPeerConnection
	}
	if e.role != RoleInitiator {
		e.mu.Unlock()
		return "", fmt.Errorf("%w: %s cannot offer", ErrRole, e.role)
	}
	if e.offerCreated {
		e.mu.Unlock()
		return "", ErrOfferAlreadyCreated
	}
	if e.negotiating {
		e.mu.Unlock()
		return "", ErrNegotiationInProgress
	}
	e.negotiating = true
	pc := e.pc
	e.mu.Unlock()

	offer, err := pc.CreateOffer(nil)
	if err == nil {
		err = pc.SetLocalDescription(offer)
	}

	e.mu.Lock()
	e.negotiating = false
	if err == nil && e.pc == pc {
		e.offerCreated = true
	}
	e.mu.Unlock()

	if err != nil {
		return "", fmt.Errorf("creating offer: %w", err)
	}
	return offer.SDP, nil
}

// CreateAnswer produces the SDP answer and sets it as the local description.
// Valid only for the responder, after the remote offer has been applied.
func (e *Engine) CreateAnswer() (string, error) {
	e.mu.Lock()
	if e.pc == nil {
		e.mu.Unlock()
		return "", ErrNoPeerConnection
	}
	if e.role != RoleResponder {
		e.mu.Unlock()
		return "", fmt.Errorf("%w: %s cannot answer", ErrRole, e.role)
	}
	if e.remoteKind != SDPOffer {
		e.mu.Unlock()
		return "", ErrNoRemoteDescription
	}
	if e.negotiating {
		e.mu.Unlock()
		return "", ErrNegotiationInProgress
	}
	e.negotiating = true
	pc := e.pc
	e.mu.Unlock()

	answer, err := pc.CreateAnswer(nil)
	if err == nil {
		err = pc.SetLocalDescription(answer)
	}

	e.mu.Lock()
	e.negotiating = false
	e.mu.Unlock()

	if err != nil {
		return "", fmt.Errorf("creating answer: %w", err)
	}
	return answer.SDP, nil
}

// SetRemoteDescription applies the remote offer or answer. On success every
// ICE candidate queued before this call is applied in receipt order before
// any candidate that arrives later.
func (e *Engine) SetRemoteDescription(sdp string, kind SDPKind) error {
	if kind != SDPOffer && kind != SDPAnswer {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSDP, kind)
	}

	e.mu.Lock()
	if e.pc == nil {
		e.mu.Unlock()
		return ErrNoPeerConnection
	}
	if e.negotiating {
		e.mu.Unlock()
		return ErrNegotiationInProgress
	}
	e.negotiating = true
	pc := e.pc
	e.mu.Unlock()

	sdpType := webrtc.SDPTypeOffer
	if kind == SDPAnswer {
		sdpType = webrtc.SDPTypeAnswer
	}

	err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: sdpType,
		SDP:  sdp,
	})

	e.mu.Lock()
	e.negotiating = false
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrInvalidSDP, err)
	}
	e.remoteKind = kind
	e.mu.Unlock()

	// Drain the queue before marking the remote description applied, so
	// candidates arriving mid-flush keep queueing behind the earlier ones.
	for {
		e.mu.Lock()
		if e.pc != pc {
			// Torn down mid-flush.
			e.mu.Unlock()
			return nil
		}
		if len(e.pending) == 0 {
			e.remoteSet = true
			e.mu.Unlock()
			break
		}
		candidate := e.pending[0]
		e.pending = e.pending[1:]
		e.mu.Unlock()

		if err := pc.AddICECandidate(candidate); err != nil {
			e.logger.Warn("applying queued ICE candidate failed", "error", err)
		}
	}

	e.logger.Info("remote description applied", "kind", string(kind))
	return nil
}

// AddICECandidate applies a remote candidate, or queues it if no remote
// description has been applied yet. Queued candidates are never dropped.
// Malformed payloads are rejected with an error; the session continues.
func (e *Engine) AddICECandidate(c signaling.ICECandidate) error {
	if err := c.Validate(); err != nil {
		return err
	}

	init := webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMLineIndex: c.SDPMLineIndex,
		SDPMid:        c.SDPMid,
	}

	e.mu.Lock()
	if e.pc == nil {
		e.mu.Unlock()
		return ErrNoPeerConnection
	}
	if !e.remoteSet {
		e.pending = append(e.pending, init)
		queued := len(e.pending)
		e.mu.Unlock()
		e.logger.Debug("queued ICE candidate before remote description", "queued", queued)
		return nil
	}
	pc := e.pc
	e.mu.Unlock()

	if err := pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("adding ICE candidate: %w", err)
	}
	return nil
}

// QueuedCandidates reports how many remote candidates are waiting for the
// remote description.
func (e *Engine) QueuedCandidates() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// SetMuted stops or resumes the outbound audio pump.
func (e *Engine) SetMuted(muted bool) {
	e.muted.set(muted)
}

// Teardown releases the peer connection, microphone, and queued candidates,
// and resets role and negotiation state. Safe to call repeatedly.
func (e *Engine) Teardown() {
	e.mu.Lock()
	pc := e.pc
	done := e.pumpDone
	micStarted := e.micStarted

	e.pc = nil
	e.pumpDone = nil
	e.roomID = ""
	e.role = RoleNone
	e.remoteKind = ""
	e.remoteSet = false
	e.offerCreated = false
	e.negotiating = false
	e.connectedReported = false
	e.micStarted = false
	e.pending = nil
	e.mu.Unlock()

	if done != nil {
		close(done)
	}
	if pc != nil {
		pc.Close()
	}
	if micStarted && e.cfg.Microphone != nil {
		e.cfg.Microphone.Stop()
	}
	if pc != nil {
		e.logger.Info("peer connection torn down")
	}
}

// handleICEState maps pion's ICE states onto ConnState and reports them.
// Events from a torn-down peer connection are discarded.
func (e *Engine) handleICEState(pc *webrtc.PeerConnection, state webrtc.ICEConnectionState) {
	e.mu.Lock()
	if e.pc != pc {
		e.mu.Unlock()
		return
	}

	var mapped ConnState
	report := true
	switch state {
	case webrtc.ICEConnectionStateNew:
		mapped = StateNew
	case webrtc.ICEConnectionStateChecking:
		mapped = StateChecking
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		mapped = StateConnected
		if e.connectedReported {
			report = false
		}
		e.connectedReported = true
	case webrtc.ICEConnectionStateDisconnected:
		mapped = StateDisconnected
	case webrtc.ICEConnectionStateFailed:
		mapped = StateFailed
	case webrtc.ICEConnectionStateClosed:
		mapped = StateClosed
	default:
		report = false
	}
	fn := e.onStateChange
	e.mu.Unlock()

	e.logger.Info("ICE connection state", "state", state.String())

	if report && fn != nil {
		fn(mapped)
	}
}

// receive reads remote RTP, decodes the Opus payload and hands PCM to the
// registered sink until the track ends.
func (e *Engine) receive(track *webrtc.TrackRemote) {
	decoder, err := audio.NewOpusDecoder(audio.SampleRate, audio.Channels)
	if err != nil {
		e.logger.Error("creating Opus decoder failed", "error", err)
		return
	}

	for {
		packet, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		fn := e.onRemoteAudio
		if fn == nil {
			continue
		}
		pcm, err := decoder.Decode(packet.Payload)
		if err != nil {
			e.logger.Debug("Opus decode failed", "error", err)
			continue
		}
		fn(pcm)
	}
}

// pump encodes microphone frames to Opus and writes them to the outbound
// track at the 20 ms frame cadence until done is closed.
func (e *Engine) pump(track *webrtc.TrackLocalStaticRTP, source audio.Source, done chan struct{}) {
	encoder, err := audio.NewOpusEncoder(audio.SampleRate, audio.Channels, audio.FrameSamples)
	if err != nil {
		e.logger.Error("creating Opus encoder failed", "error", err)
		return
	}
	// The SSRC is rewritten by the sender; any value works here.
	packetizer := audio.NewPacketizer(0x12345678, audio.FrameSamples)

	ticker := time.NewTicker(audio.FrameDurationMs * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if e.muted.get() {
				continue
			}
			frame, err := source.ReadFrame()
			if err != nil {
				e.logger.Warn("microphone read failed", "error", err)
				return
			}
			payload, err := encoder.Encode(frame)
			if err != nil {
				e.logger.Warn("Opus encode failed", "error", err)
				continue
			}
			if err := track.WriteRTP(packetizer.Packetize(payload)); err != nil {
				e.logger.Debug("outbound RTP write failed", "error", err)
			}
		}
	}
}

// newPeerConnection builds a pion peer connection with an Opus-only media
// engine, mirroring the negotiated voice profile.
func (e *Engine) newPeerConnection() (*webrtc.PeerConnection, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   audio.SampleRate,
			Channels:    audio.Channels,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, err
	}

	settingEngine := webrtc.SettingEngine{}
	if e.cfg.IncludeLoopback {
		settingEngine.SetIncludeLoopbackCandidate(true)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithSettingEngine(settingEngine),
	)
	return api.NewPeerConnection(webrtc.Configuration{
		ICEServers: e.cfg.ICEServers,
	})
}
