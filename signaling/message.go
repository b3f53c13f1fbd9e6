package signaling

import (
	"encoding/json"
	"fmt"
)

// Message type tags as they appear on the wire.
const (
	TypeJoinMatching  = "join_matching"
	TypeLeaveMatching = "leave_matching"
	TypeAcceptMatch   = "accept-match"
	TypeCancelMatch   = "cancel_match"
	TypeOffer         = "offer"
	TypeAnswer        = "answer"
	TypeICECandidate  = "ice-candidate"
	TypeEndCall       = "end_call"
	TypeJoinRoom      = "join-room"
	TypeLeaveRoom     = "leave-room"
	TypeMatchFound    = "match-found"
	TypeStartCall     = "start-call"
	TypeCallEnded     = "call-ended"
	TypeError         = "error"
)

// Gender of a matched partner.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

// Partner is the server-supplied profile of a matched user. Age and Region
// may be absent; disclosure of the optional fields over call time is handled
// by the match package, not here.
type Partner struct {
	Nickname string  `json:"nickname"`
	Gender   Gender  `json:"gender"`
	Age      *int    `json:"age,omitempty"`
	Region   *string `json:"region,omitempty"`
}

// ICECandidate is the wire shape of a trickled ICE candidate.
type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
	SDPMid        *string `json:"sdpMid"`
}

// Validate rejects candidate payloads that cannot be handed to the media
// stack. A missing candidate string is the only hard failure; nil
// sdpMLineIndex/sdpMid are legal per the WebRTC spec.
func (c ICECandidate) Validate() error {
	if c.Candidate == "" {
		return fmt.Errorf("ice candidate missing candidate string")
	}
	return nil
}

// ServerMessage is the decoded form of an inbound signaling message. Exactly
// one concrete type exists per wire type; higher layers never see raw JSON.
type ServerMessage interface {
	messageType() string
}

// MatchFound announces a partner. The client must accept or skip.
type MatchFound struct {
	MatchID string
	Partner Partner
}

// StartCall tells both clients to begin WebRTC signaling in RoomID.
// IsInitiator is authoritative for the offer/answer role split.
type StartCall struct {
	MatchID     string
	RoomID      string
	IsInitiator bool
}

// RemoteOffer carries the remote peer's SDP offer.
type RemoteOffer struct {
	SDP  string
	From string
}

// RemoteAnswer carries the remote peer's SDP answer.
type RemoteAnswer struct {
	SDP  string
	From string
}

// RemoteCandidate carries a trickled ICE candidate from the remote peer.
type RemoteCandidate struct {
	Candidate ICECandidate
	From      string
}

// CallEnded is the server's notice that the call is over.
type CallEnded struct {
	Reason string
}

// ServerError is an application-level error pushed by the server.
type ServerError struct {
	Message string
}

func (MatchFound) messageType() string      { return TypeMatchFound }
func (StartCall) messageType() string       { return TypeStartCall }
func (RemoteOffer) messageType() string     { return TypeOffer }
func (RemoteAnswer) messageType() string    { return TypeAnswer }
func (RemoteCandidate) messageType() string { return TypeICECandidate }
func (CallEnded) messageType() string       { return TypeCallEnded }
func (ServerError) messageType() string     { return TypeError }

// envelope covers every field any inbound message can carry. The error
// message lives either in "error" or in "data.message" depending on the
// server path that produced it.
type envelope struct {
	Type        string        `json:"type"`
	MatchID     string        `json:"matchId,omitempty"`
	RoomID      string        `json:"roomId,omitempty"`
	IsInitiator *bool         `json:"isInitiator,omitempty"`
	Partner     *Partner      `json:"partner,omitempty"`
	Offer       string        `json:"offer,omitempty"`
	Answer      string        `json:"answer,omitempty"`
	Candidate   *ICECandidate `json:"candidate,omitempty"`
	From        string        `json:"from,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	Error       string        `json:"error,omitempty"`
	Data        *struct {
		Message string `json:"message"`
	} `json:"data,omitempty"`
}

// DecodeServerMessage parses one inbound JSON envelope into its typed form.
// Malformed or unknown messages yield an error; the caller logs and drops
// them without affecting the session.
func DecodeServerMessage(data []byte) (ServerMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding signaling message: %w", err)
	}

	switch env.Type {
	case TypeMatchFound:
		if env.MatchID == "" || env.Partner == nil {
			return nil, fmt.Errorf("match-found missing matchId or partner")
		}
		return MatchFound{MatchID: env.MatchID, Partner: *env.Partner}, nil

	case TypeStartCall:
		if env.MatchID == "" || env.RoomID == "" || env.IsInitiator == nil {
			return nil, fmt.Errorf("start-call missing matchId, roomId or isInitiator")
		}
		return StartCall{MatchID: env.MatchID, RoomID: env.RoomID, IsInitiator: *env.IsInitiator}, nil

	case TypeOffer:
		if env.Offer == "" {
			return nil, fmt.Errorf("offer missing sdp")
		}
		return RemoteOffer{SDP: env.Offer, From: env.From}, nil

	case TypeAnswer:
		if env.Answer == "" {
			return nil, fmt.Errorf("answer missing sdp")
		}
		return RemoteAnswer{SDP: env.Answer, From: env.From}, nil

	case TypeICECandidate:
		if env.Candidate == nil {
			return nil, fmt.Errorf("ice-candidate missing candidate object")
		}
		return RemoteCandidate{Candidate: *env.Candidate, From: env.From}, nil

	case TypeCallEnded:
		return CallEnded{Reason: env.Reason}, nil

	case TypeError:
		message := env.Error
		if message == "" && env.Data != nil {
			message = env.Data.Message
		}
		if message == "" {
			message = "unknown error"
		}
		return ServerError{Message: message}, nil
	}

	return nil, fmt.Errorf("unknown message type %q", env.Type)
}

// ClientMessage is an outbound signaling message. Construct with the helper
// functions below so wire shapes stay in one place.
type ClientMessage struct {
	Type      string        `json:"type"`
	MatchID   string        `json:"matchId,omitempty"`
	RoomID    string        `json:"roomId,omitempty"`
	Offer     string        `json:"offer,omitempty"`
	Answer    string        `json:"answer,omitempty"`
	To        string        `json:"to,omitempty"`
	Candidate *ICECandidate `json:"candidate,omitempty"`
	Payload   *CallRef      `json:"payload,omitempty"`
}

// CallRef wraps a call id for the message types that nest it under "payload".
type CallRef struct {
	CallID string `json:"callId"`
}

// JoinMatching enters the server-side matching queue.
func JoinMatching() ClientMessage {
	return ClientMessage{Type: TypeJoinMatching}
}

// LeaveMatching leaves the matching queue.
func LeaveMatching() ClientMessage {
	return ClientMessage{Type: TypeLeaveMatching}
}

// AcceptMatch confirms a found match.
func AcceptMatch(matchID string) ClientMessage {
	return ClientMessage{Type: TypeAcceptMatch, MatchID: matchID}
}

// CancelMatch rejects a found match before the call starts.
func CancelMatch(matchID string) ClientMessage {
	return ClientMessage{Type: TypeCancelMatch, Payload: &CallRef{CallID: matchID}}
}

// Offer sends the local SDP offer into the signaling room.
func Offer(sdp, roomID string) ClientMessage {
	return ClientMessage{Type: TypeOffer, Offer: sdp, To: roomID}
}

// Answer sends the local SDP answer into the signaling room.
func Answer(sdp, roomID string) ClientMessage {
	return ClientMessage{Type: TypeAnswer, Answer: sdp, To: roomID}
}

// Candidate trickles a locally gathered ICE candidate.
func Candidate(c ICECandidate) ClientMessage {
	return ClientMessage{Type: TypeICECandidate, Candidate: &c}
}

// EndCall reports a locally initiated hang-up.
func EndCall(matchID string) ClientMessage {
	return ClientMessage{Type: TypeEndCall, Payload: &CallRef{CallID: matchID}}
}

// JoinRoom subscribes this connection to a signaling room.
func JoinRoom(roomID string) ClientMessage {
	return ClientMessage{Type: TypeJoinRoom, RoomID: roomID}
}

// LeaveRoom leaves the current signaling room.
func LeaveRoom() ClientMessage {
	return ClientMessage{Type: TypeLeaveRoom}
}
