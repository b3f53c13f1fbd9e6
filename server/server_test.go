package main

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"example.com/voicematch/auth"
	"example.com/voicematch/signaling"
)

const (
	testSecret  = "test-secret"
	readTimeout = 5 * time.Second
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	server := httptest.NewServer(newRouter(newHub(logger), testSecret, logger))
	t.Cleanup(server.Close)
	return server
}

type wsClient struct {
	t    *testing.T
	id   string
	conn *websocket.Conn
}

func dialClient(t *testing.T, server *httptest.Server, userID, nickname string) *wsClient {
	t.Helper()
	token, err := auth.NewToken(testSecret, userID, nickname, signaling.GenderOther, nil, nil)
	if err != nil {
		t.Fatalf("NewToken() error = %v", err)
	}
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", userID, err)
	}
	t.Cleanup(func() { conn.Close() })
	return &wsClient{t: t, id: userID, conn: conn}
}

func (c *wsClient) send(msg wire) {
	c.t.Helper()
	if err := c.conn.WriteJSON(msg); err != nil {
		c.t.Fatalf("%s write: %v", c.id, err)
	}
}

func (c *wsClient) recv() wire {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	var msg wire
	if err := c.conn.ReadJSON(&msg); err != nil {
		c.t.Fatalf("%s read: %v", c.id, err)
	}
	return msg
}

func (c *wsClient) recvType(want string) wire {
	c.t.Helper()
	msg := c.recv()
	if msg.Type != want {
		c.t.Fatalf("%s received %q, want %q", c.id, msg.Type, want)
	}
	return msg
}

func TestWebSocketRequiresValidToken(t *testing.T) {
	server := newTestServer(t)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	if _, _, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Error("dial without token succeeded, want rejection")
	}
	if _, _, err := websocket.DefaultDialer.Dial(url+"?token=garbage", nil); err == nil {
		t.Error("dial with bad token succeeded, want rejection")
	}
}

func TestMatchmakingPairsFIFO(t *testing.T) {
	server := newTestServer(t)
	a := dialClient(t, server, "user-a", "alice")
	b := dialClient(t, server, "user-b", "bram")

	a.send(wire{Type: signaling.TypeJoinMatching})
	b.send(wire{Type: signaling.TypeJoinMatching})

	foundA := a.recvType("match-found")
	foundB := b.recvType("match-found")

	if foundA.MatchID == "" || foundA.MatchID != foundB.MatchID {
		t.Fatalf("match ids = %q / %q, want equal and non-empty", foundA.MatchID, foundB.MatchID)
	}
	if foundA.Partner == nil || foundA.Partner.Nickname != "bram" {
		t.Errorf("a's partner = %+v, want bram", foundA.Partner)
	}
	if foundB.Partner == nil || foundB.Partner.Nickname != "alice" {
		t.Errorf("b's partner = %+v, want alice", foundB.Partner)
	}
}

func TestMutualAcceptStartsCall(t *testing.T) {
	server := newTestServer(t)
	a := dialClient(t, server, "user-a", "alice")
	b := dialClient(t, server, "user-b", "bram")

	a.send(wire{Type: signaling.TypeJoinMatching})
	b.send(wire{Type: signaling.TypeJoinMatching})
	matchID := a.recvType("match-found").MatchID
	b.recvType("match-found")

	// a accepts first and becomes the initiator.
	a.send(wire{Type: signaling.TypeAcceptMatch, MatchID: matchID})
	b.send(wire{Type: signaling.TypeAcceptMatch, MatchID: matchID})

	startA := a.recvType("start-call")
	startB := b.recvType("start-call")

	if startA.RoomID == "" || startA.RoomID != startB.RoomID {
		t.Fatalf("room ids = %q / %q, want equal and non-empty", startA.RoomID, startB.RoomID)
	}
	if startA.MatchID != matchID || startB.MatchID != matchID {
		t.Errorf("start-call match ids = %q / %q, want %q", startA.MatchID, startB.MatchID, matchID)
	}
	if startA.IsInitiator == nil || startB.IsInitiator == nil {
		t.Fatal("isInitiator missing from start-call")
	}
	if *startA.IsInitiator == *startB.IsInitiator {
		t.Errorf("both isInitiator = %v, want exactly one initiator", *startA.IsInitiator)
	}
	if !*startA.IsInitiator {
		t.Errorf("first accepter is not the initiator")
	}
}

func TestSignalingRelayStampsSender(t *testing.T) {
	server := newTestServer(t)
	a := dialClient(t, server, "user-a", "alice")
	b := dialClient(t, server, "user-b", "bram")

	roomID := establishCall(t, a, b)

	a.send(wire{Type: signaling.TypeOffer, Offer: "v=0 offer", To: roomID})
	offer := b.recvType("offer")
	if offer.Offer != "v=0 offer" || offer.From != "user-a" {
		t.Errorf("relayed offer = %+v, want sdp intact and from user-a", offer)
	}

	b.send(wire{Type: signaling.TypeAnswer, Answer: "v=0 answer", To: roomID})
	answer := a.recvType("answer")
	if answer.Answer != "v=0 answer" || answer.From != "user-b" {
		t.Errorf("relayed answer = %+v, want sdp intact and from user-b", answer)
	}

	a.send(wire{Type: signaling.TypeICECandidate, Candidate: &signaling.ICECandidate{Candidate: "candidate:1"}})
	cand := b.recvType("ice-candidate")
	if cand.Candidate == nil || cand.Candidate.Candidate != "candidate:1" {
		t.Errorf("relayed candidate = %+v", cand)
	}
}

func TestEndCallNotifiesPartner(t *testing.T) {
	server := newTestServer(t)
	a := dialClient(t, server, "user-a", "alice")
	b := dialClient(t, server, "user-b", "bram")

	establishCall(t, a, b)

	a.send(wire{Type: signaling.TypeEndCall, Payload: &callRef{CallID: "ignored"}})
	ended := b.recvType("call-ended")
	if ended.Reason == "" {
		t.Error("call-ended missing reason")
	}
}

func TestDisconnectMidCallNotifiesPartner(t *testing.T) {
	server := newTestServer(t)
	a := dialClient(t, server, "user-a", "alice")
	b := dialClient(t, server, "user-b", "bram")

	establishCall(t, a, b)

	a.conn.Close()
	b.recvType("call-ended")
}

func TestCancelDissolvesMatchAndRequeues(t *testing.T) {
	server := newTestServer(t)
	a := dialClient(t, server, "user-a", "alice")
	b := dialClient(t, server, "user-b", "bram")

	a.send(wire{Type: signaling.TypeJoinMatching})
	b.send(wire{Type: signaling.TypeJoinMatching})
	matchID := a.recvType("match-found").MatchID
	b.recvType("match-found")

	// a skips; b learns the match fell through; a stays in the queue.
	a.send(wire{Type: signaling.TypeCancelMatch, Payload: &callRef{CallID: matchID}})
	errMsg := b.recvType("error")
	if errMsg.Error == "" {
		t.Error("cancel notice missing error text")
	}

	c := dialClient(t, server, "user-c", "chris")
	c.send(wire{Type: signaling.TypeJoinMatching})

	foundA := a.recvType("match-found")
	foundC := c.recvType("match-found")
	if foundA.MatchID != foundC.MatchID {
		t.Errorf("rematch ids = %q / %q, want equal", foundA.MatchID, foundC.MatchID)
	}
	if foundA.Partner == nil || foundA.Partner.Nickname != "chris" {
		t.Errorf("a's new partner = %+v, want chris", foundA.Partner)
	}
}

// establishCall runs the queue/accept handshake and returns the room id.
func establishCall(t *testing.T, a, b *wsClient) string {
	t.Helper()
	a.send(wire{Type: signaling.TypeJoinMatching})
	b.send(wire{Type: signaling.TypeJoinMatching})
	matchID := a.recvType("match-found").MatchID
	b.recvType("match-found")

	a.send(wire{Type: signaling.TypeAcceptMatch, MatchID: matchID})
	b.send(wire{Type: signaling.TypeAcceptMatch, MatchID: matchID})
	roomID := a.recvType("start-call").RoomID
	b.recvType("start-call")

	a.send(wire{Type: signaling.TypeJoinRoom, RoomID: roomID})
	b.send(wire{Type: signaling.TypeJoinRoom, RoomID: roomID})
	return roomID
}
