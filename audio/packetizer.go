package audio

import (
	"github.com/pion/rtp"
)

// opusPayloadType matches the payload type registered with the media engine.
const opusPayloadType = 111

// Packetizer wraps Opus payloads in RTP packets with monotonically advancing
// sequence numbers and timestamps. Not safe for concurrent use; the outbound
// pump is the only writer.
type Packetizer struct {
	ssrc      uint32
	seqNum    uint16
	timestamp uint32
	frameSize uint32
}

// NewPacketizer creates a packetizer advancing the RTP timestamp by
// frameSize samples per packet.
func NewPacketizer(ssrc uint32, frameSize int) *Packetizer {
	return &Packetizer{
		ssrc:      ssrc,
		frameSize: uint32(frameSize),
	}
}

// Packetize builds the next RTP packet for one Opus payload.
func (p *Packetizer) Packetize(payload []byte) *rtp.Packet {
	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    opusPayloadType,
			SequenceNumber: p.seqNum,
			Timestamp:      p.timestamp,
			SSRC:           p.ssrc,
		},
		Payload: payload,
	}

	p.seqNum++
	p.timestamp += p.frameSize

	return packet
}
