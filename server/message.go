package main

import "example.com/voicematch/signaling"

// wire is the flat signaling envelope used on both directions of the
// socket. Inbound client messages and outbound server messages share it;
// unused fields stay empty.
type wire struct {
	Type        string                  `json:"type"`
	MatchID     string                  `json:"matchId,omitempty"`
	RoomID      string                  `json:"roomId,omitempty"`
	IsInitiator *bool                   `json:"isInitiator,omitempty"`
	Partner     *signaling.Partner      `json:"partner,omitempty"`
	Offer       string                  `json:"offer,omitempty"`
	Answer      string                  `json:"answer,omitempty"`
	From        string                  `json:"from,omitempty"`
	To          string                  `json:"to,omitempty"`
	Candidate   *signaling.ICECandidate `json:"candidate,omitempty"`
	Reason      string                  `json:"reason,omitempty"`
	Error       string                  `json:"error,omitempty"`
	Payload     *callRef                `json:"payload,omitempty"`
}

type callRef struct {
	CallID string `json:"callId"`
}

// callID returns the match/call id however the client packed it.
func (w wire) callID() string {
	if w.MatchID != "" {
		return w.MatchID
	}
	if w.Payload != nil {
		return w.Payload.CallID
	}
	return ""
}
