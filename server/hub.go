package main

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"example.com/voicematch/match"
)

// hub is the matchmaking and relay core: a FIFO waiting queue, pending
// matches awaiting mutual accept, and rooms relaying SDP/ICE between the
// two call parties.
type hub struct {
	logger *slog.Logger

	mu      sync.Mutex
	waiting []*client
	matches map[string]*pendingMatch
	rooms   map[string]*room
}

// pendingMatch is a pair that has been announced but not yet mutually
// accepted. The first accepter becomes the call initiator.
type pendingMatch struct {
	id            string
	a, b          *client
	accepted      map[*client]bool
	firstAccepter *client
}

func (m *pendingMatch) other(c *client) *client {
	if c == m.a {
		return m.b
	}
	return m.a
}

// room carries SDP/ICE relay between exactly two clients.
type room struct {
	id   string
	a, b *client
}

func (r *room) other(c *client) *client {
	if c == r.a {
		return r.b
	}
	return r.a
}

func newHub(logger *slog.Logger) *hub {
	return &hub{
		logger:  logger.With("component", "hub"),
		matches: make(map[string]*pendingMatch),
		rooms:   make(map[string]*room),
	}
}

// joinMatching enqueues a client and pairs FIFO as soon as two are waiting.
func (h *hub) joinMatching(c *client) {
	h.mu.Lock()
	if c.match != nil || c.room != nil {
		h.mu.Unlock()
		c.sendError("already in a match")
		return
	}
	for _, w := range h.waiting {
		if w == c {
			h.mu.Unlock()
			return
		}
	}
	h.waiting = append(h.waiting, c)
	m := h.pairLocked()
	h.mu.Unlock()

	if m == nil {
		h.logger.Info("client queued", "clientId", c.id)
		return
	}
	h.announce(m)
}

// pairLocked pops the two oldest waiting clients into a pending match.
// Caller holds h.mu and must announce the returned match after unlocking.
func (h *hub) pairLocked() *pendingMatch {
	if len(h.waiting) < 2 {
		return nil
	}
	a, b := h.waiting[0], h.waiting[1]
	h.waiting = h.waiting[2:]
	m := &pendingMatch{
		id:       uuid.New().String(),
		a:        a,
		b:        b,
		accepted: make(map[*client]bool),
	}
	h.matches[m.id] = m
	a.match = m
	b.match = m
	return m
}

func (h *hub) announce(m *pendingMatch) {
	h.logger.Info("match created", "matchId", m.id, "a", m.a.id, "b", m.b.id)
	partnerOfA := m.b.claims.Partner()
	partnerOfB := m.a.claims.Partner()
	m.a.send(wire{Type: "match-found", MatchID: m.id, Partner: &partnerOfA})
	m.b.send(wire{Type: "match-found", MatchID: m.id, Partner: &partnerOfB})
}

// leaveMatching removes a client from the waiting queue.
func (h *hub) leaveMatching(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeWaitingLocked(c)
}

func (h *hub) removeWaitingLocked(c *client) {
	for i, w := range h.waiting {
		if w == c {
			h.waiting = append(h.waiting[:i], h.waiting[i+1:]...)
			return
		}
	}
}

// acceptMatch records an accept; once both sides accept, a room is created
// and start-call goes out. The first accepter initiates the offer.
func (h *hub) acceptMatch(c *client, matchID string) {
	h.mu.Lock()
	m, ok := h.matches[matchID]
	if !ok || (c != m.a && c != m.b) {
		h.mu.Unlock()
		c.sendError("unknown match")
		return
	}
	if m.accepted[c] {
		h.mu.Unlock()
		return
	}
	m.accepted[c] = true
	if m.firstAccepter == nil {
		m.firstAccepter = c
	}
	if len(m.accepted) < 2 {
		h.mu.Unlock()
		return
	}

	delete(h.matches, m.id)
	r := &room{id: uuid.New().String(), a: m.a, b: m.b}
	h.rooms[r.id] = r
	m.a.match = nil
	m.b.match = nil
	m.a.room = r
	m.b.room = r
	first := m.firstAccepter
	h.mu.Unlock()

	h.logger.Info("call starting", "matchId", m.id, "roomId", r.id, "initiator", first.id)
	initiator := true
	responder := false
	first.send(wire{Type: "start-call", MatchID: m.id, RoomID: r.id, IsInitiator: &initiator})
	m.other(first).send(wire{Type: "start-call", MatchID: m.id, RoomID: r.id, IsInitiator: &responder})
}

// cancelMatch dissolves a pending match. The canceller goes back to the
// queue (the client keeps searching after a skip); the partner is told the
// match fell through.
func (h *hub) cancelMatch(c *client, matchID string) {
	h.mu.Lock()
	m, ok := h.matches[matchID]
	if !ok || (c != m.a && c != m.b) {
		h.mu.Unlock()
		return
	}
	delete(h.matches, m.id)
	other := m.other(c)
	m.a.match = nil
	m.b.match = nil
	h.waiting = append(h.waiting, c)
	next := h.pairLocked()
	h.mu.Unlock()

	h.logger.Info("match cancelled", "matchId", m.id, "by", c.id)
	other.sendError("match cancelled")
	if next != nil {
		h.announce(next)
	}
}

// joinRoom is a no-op membership check; rooms are created when both sides
// accept.
func (h *hub) joinRoom(c *client, roomID string) {
	h.mu.Lock()
	r, ok := h.rooms[roomID]
	member := ok && (c == r.a || c == r.b)
	h.mu.Unlock()
	if !member {
		c.sendError("unknown room")
	}
}

// relay forwards an SDP or ICE message to the other room member, stamping
// the sender.
func (h *hub) relay(c *client, msg wire) {
	h.mu.Lock()
	r := c.room
	h.mu.Unlock()
	if r == nil {
		h.logger.Warn("relay without room", "clientId", c.id, "type", msg.Type)
		return
	}
	msg.From = c.id
	msg.To = ""
	r.other(c).send(msg)
}

// endCall closes the client's room and notifies the partner.
func (h *hub) endCall(c *client) {
	h.closeRoom(c, match.ReasonRemoteEnded.String())
}

// leaveRoom drops the client's room association without a partner notice
// beyond call-ended, which endCall or disconnect already covers.
func (h *hub) leaveRoom(c *client) {
	h.mu.Lock()
	r := c.room
	if r != nil {
		c.room = nil
		if r.other(c).room == nil {
			delete(h.rooms, r.id)
		}
	}
	h.mu.Unlock()
}

// disconnect cleans up whatever the client was part of.
func (h *hub) disconnect(c *client) {
	h.mu.Lock()
	h.removeWaitingLocked(c)
	m := c.match
	if m != nil {
		delete(h.matches, m.id)
		m.a.match = nil
		m.b.match = nil
	}
	h.mu.Unlock()

	if m != nil {
		m.other(c).sendError("partner disconnected")
	}
	h.closeRoom(c, match.ReasonDisconnected.String())
	h.logger.Info("client disconnected", "clientId", c.id)
}

func (h *hub) closeRoom(c *client, reason string) {
	h.mu.Lock()
	r := c.room
	if r == nil {
		h.mu.Unlock()
		return
	}
	delete(h.rooms, r.id)
	other := r.other(c)
	c.room = nil
	notifyOther := other.room == r
	other.room = nil
	h.mu.Unlock()

	h.logger.Info("room closed", "roomId", r.id, "reason", reason)
	if notifyOther {
		other.send(wire{Type: "call-ended", Reason: reason})
	}
}
