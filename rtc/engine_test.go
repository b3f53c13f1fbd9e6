package rtc

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"example.com/voicematch/audio"
	"example.com/voicematch/signaling"
)

const (
	connectTimeout = 15 * time.Second
	settleDelay    = 500 * time.Millisecond
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e := NewEngine(Config{
		Microphone:      audio.NullMicrophone{},
		IncludeLoopback: true,
	}, testLogger())
	t.Cleanup(e.Teardown)
	return e
}

// deniedMic refuses capture access, standing in for a user declining the
// microphone permission prompt.
type deniedMic struct{}

func (deniedMic) RequestAccess() error         { return audio.ErrPermissionDenied }
func (deniedMic) Start() (audio.Source, error) { return nil, audio.ErrPermissionDenied }
func (deniedMic) Stop()                        {}

func hostCandidate(port string) signaling.ICECandidate {
	mid := "0"
	idx := uint16(0)
	return signaling.ICECandidate{
		Candidate:     "candidate:1 1 udp 2130706431 127.0.0.1 " + port + " typ host",
		SDPMLineIndex: &idx,
		SDPMid:        &mid,
	}
}

func TestOperationsRequirePeerConnection(t *testing.T) {
	e := newTestEngine(t)

	if _, err := e.CreateOffer(); !errors.Is(err, ErrNoPeerConnection) {
		t.Errorf("CreateOffer() error = %v, want ErrNoPeerConnection", err)
	}
	if _, err := e.CreateAnswer(); !errors.Is(err, ErrNoPeerConnection) {
		t.Errorf("CreateAnswer() error = %v, want ErrNoPeerConnection", err)
	}
	if err := e.SetRemoteDescription("v=0", SDPOffer); !errors.Is(err, ErrNoPeerConnection) {
		t.Errorf("SetRemoteDescription() error = %v, want ErrNoPeerConnection", err)
	}
	if err := e.AddICECandidate(hostCandidate("50000")); !errors.Is(err, ErrNoPeerConnection) {
		t.Errorf("AddICECandidate() error = %v, want ErrNoPeerConnection", err)
	}
}

func TestSinglePeerConnection(t *testing.T) {
	e := newTestEngine(t)

	if err := e.CreatePeerConnection("room-1", RoleInitiator); err != nil {
		t.Fatalf("CreatePeerConnection() error = %v", err)
	}
	if err := e.CreatePeerConnection("room-2", RoleInitiator); !errors.Is(err, ErrPeerConnectionExists) {
		t.Errorf("second CreatePeerConnection() error = %v, want ErrPeerConnectionExists", err)
	}

	e.Teardown()
	if err := e.CreatePeerConnection("room-3", RoleResponder); err != nil {
		t.Errorf("CreatePeerConnection() after Teardown error = %v", err)
	}
}

func TestRoleGuards(t *testing.T) {
	responder := newTestEngine(t)
	if err := responder.CreatePeerConnection("room-1", RoleResponder); err != nil {
		t.Fatalf("CreatePeerConnection() error = %v", err)
	}
	if _, err := responder.CreateOffer(); !errors.Is(err, ErrRole) {
		t.Errorf("responder CreateOffer() error = %v, want ErrRole", err)
	}

	initiator := newTestEngine(t)
	if err := initiator.CreatePeerConnection("room-1", RoleInitiator); err != nil {
		t.Fatalf("CreatePeerConnection() error = %v", err)
	}
	if _, err := initiator.CreateAnswer(); !errors.Is(err, ErrRole) {
		t.Errorf("initiator CreateAnswer() error = %v, want ErrRole", err)
	}
}

func TestOfferCreatedOnce(t *testing.T) {
	e := newTestEngine(t)
	if err := e.CreatePeerConnection("room-1", RoleInitiator); err != nil {
		t.Fatalf("CreatePeerConnection() error = %v", err)
	}

	if _, err := e.CreateOffer(); err != nil {
		t.Fatalf("CreateOffer() error = %v", err)
	}
	if _, err := e.CreateOffer(); !errors.Is(err, ErrOfferAlreadyCreated) {
		t.Errorf("second CreateOffer() error = %v, want ErrOfferAlreadyCreated", err)
	}
}

func TestAnswerRequiresRemoteOffer(t *testing.T) {
	e := newTestEngine(t)
	if err := e.CreatePeerConnection("room-1", RoleResponder); err != nil {
		t.Fatalf("CreatePeerConnection() error = %v", err)
	}
	if _, err := e.CreateAnswer(); !errors.Is(err, ErrNoRemoteDescription) {
		t.Errorf("CreateAnswer() error = %v, want ErrNoRemoteDescription", err)
	}
}

func TestInvalidRemoteSDP(t *testing.T) {
	e := newTestEngine(t)
	if err := e.CreatePeerConnection("room-1", RoleResponder); err != nil {
		t.Fatalf("CreatePeerConnection() error = %v", err)
	}
	if err := e.SetRemoteDescription("not an sdp", SDPOffer); !errors.Is(err, ErrInvalidSDP) {
		t.Errorf("SetRemoteDescription() error = %v, want ErrInvalidSDP", err)
	}
	if err := e.SetRemoteDescription("v=0", "renegotiate"); !errors.Is(err, ErrInvalidSDP) {
		t.Errorf("SetRemoteDescription(bad kind) error = %v, want ErrInvalidSDP", err)
	}
}

func TestMicrophoneDenied(t *testing.T) {
	e := NewEngine(Config{Microphone: deniedMic{}}, testLogger())
	t.Cleanup(e.Teardown)

	err := e.CreatePeerConnection("room-1", RoleInitiator)
	if !errors.Is(err, audio.ErrPermissionDenied) {
		t.Fatalf("CreatePeerConnection() error = %v, want ErrPermissionDenied", err)
	}
	// Nothing was created; a later attempt must not hit ErrPeerConnectionExists.
	if err := e.CreatePeerConnection("room-1", RoleInitiator); !errors.Is(err, audio.ErrPermissionDenied) {
		t.Errorf("retry error = %v, want ErrPermissionDenied again", err)
	}
}

func TestCandidatesQueueUntilRemoteDescription(t *testing.T) {
	offerer := newTestEngine(t)
	if err := offerer.CreatePeerConnection("room-1", RoleInitiator); err != nil {
		t.Fatalf("CreatePeerConnection() error = %v", err)
	}
	offer, err := offerer.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer() error = %v", err)
	}

	answerer := newTestEngine(t)
	if err := answerer.CreatePeerConnection("room-1", RoleResponder); err != nil {
		t.Fatalf("CreatePeerConnection() error = %v", err)
	}

	// Candidates arriving before the remote description must queue, not
	// drop and not error.
	if err := answerer.AddICECandidate(hostCandidate("50001")); err != nil {
		t.Fatalf("AddICECandidate() error = %v", err)
	}
	if err := answerer.AddICECandidate(hostCandidate("50002")); err != nil {
		t.Fatalf("AddICECandidate() error = %v", err)
	}
	if got := answerer.QueuedCandidates(); got != 2 {
		t.Fatalf("QueuedCandidates() = %d, want 2", got)
	}

	if err := answerer.SetRemoteDescription(offer, SDPOffer); err != nil {
		t.Fatalf("SetRemoteDescription() error = %v", err)
	}
	if got := answerer.QueuedCandidates(); got != 0 {
		t.Errorf("QueuedCandidates() after remote description = %d, want 0", got)
	}

	// Later candidates apply directly.
	if err := answerer.AddICECandidate(hostCandidate("50003")); err != nil {
		t.Fatalf("AddICECandidate() after remote description error = %v", err)
	}
	if got := answerer.QueuedCandidates(); got != 0 {
		t.Errorf("QueuedCandidates() = %d, want 0", got)
	}
}

func TestMalformedCandidateRejected(t *testing.T) {
	e := newTestEngine(t)
	if err := e.CreatePeerConnection("room-1", RoleResponder); err != nil {
		t.Fatalf("CreatePeerConnection() error = %v", err)
	}
	if err := e.AddICECandidate(signaling.ICECandidate{}); err == nil {
		t.Error("AddICECandidate(empty) error = nil, want validation error")
	}
	if got := e.QueuedCandidates(); got != 0 {
		t.Errorf("QueuedCandidates() = %d, malformed candidate must not queue", got)
	}
}

// stateRecorder collects connection-state reports from one engine.
type stateRecorder struct {
	mu        sync.Mutex
	states    []ConnState
	connected chan struct{}
	once      sync.Once
}

func newStateRecorder() *stateRecorder {
	return &stateRecorder{connected: make(chan struct{})}
}

func (r *stateRecorder) observe(state ConnState) {
	r.mu.Lock()
	r.states = append(r.states, state)
	r.mu.Unlock()
	if state == StateConnected {
		r.once.Do(func() { close(r.connected) })
	}
}

func (r *stateRecorder) connectedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.states {
		if s == StateConnected {
			n++
		}
	}
	return n
}

func TestLoopbackCallConnects(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping loopback ICE test in short mode")
	}

	offerer := newTestEngine(t)
	answerer := newTestEngine(t)

	offererStates := newStateRecorder()
	answererStates := newStateRecorder()
	offerer.OnConnectionState(offererStates.observe)
	answerer.OnConnectionState(answererStates.observe)

	// Trickle candidates directly across.
	offerer.OnLocalCandidate(func(c signaling.ICECandidate) {
		if err := answerer.AddICECandidate(c); err != nil {
			t.Logf("answerer AddICECandidate: %v", err)
		}
	})
	answerer.OnLocalCandidate(func(c signaling.ICECandidate) {
		if err := offerer.AddICECandidate(c); err != nil {
			t.Logf("offerer AddICECandidate: %v", err)
		}
	})

	if err := offerer.CreatePeerConnection("room-1", RoleInitiator); err != nil {
		t.Fatalf("offerer CreatePeerConnection() error = %v", err)
	}
	if err := answerer.CreatePeerConnection("room-1", RoleResponder); err != nil {
		t.Fatalf("answerer CreatePeerConnection() error = %v", err)
	}

	offer, err := offerer.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer() error = %v", err)
	}
	if err := answerer.SetRemoteDescription(offer, SDPOffer); err != nil {
		t.Fatalf("answerer SetRemoteDescription() error = %v", err)
	}
	answer, err := answerer.CreateAnswer()
	if err != nil {
		t.Fatalf("CreateAnswer() error = %v", err)
	}
	if err := offerer.SetRemoteDescription(answer, SDPAnswer); err != nil {
		t.Fatalf("offerer SetRemoteDescription() error = %v", err)
	}

	for name, rec := range map[string]*stateRecorder{"offerer": offererStates, "answerer": answererStates} {
		select {
		case <-rec.connected:
		case <-time.After(connectTimeout):
			t.Fatalf("%s did not reach connected within %v", name, connectTimeout)
		}
	}

	// Completed following connected must not produce a second report.
	time.Sleep(settleDelay)
	if got := offererStates.connectedCount(); got != 1 {
		t.Errorf("offerer connected reports = %d, want 1", got)
	}
	if got := answererStates.connectedCount(); got != 1 {
		t.Errorf("answerer connected reports = %d, want 1", got)
	}

	offerer.Teardown()
	offerer.Teardown() // idempotent
}
