package audio

import "testing"

func TestPacketizeAdvancesSequenceAndTimestamp(t *testing.T) {
	p := NewPacketizer(0x12345678, FrameSamples)

	first := p.Packetize([]byte{0x01})
	second := p.Packetize([]byte{0x02})
	third := p.Packetize([]byte{0x03})

	if first.SequenceNumber != 0 || second.SequenceNumber != 1 || third.SequenceNumber != 2 {
		t.Errorf("sequence numbers = %d,%d,%d, want 0,1,2",
			first.SequenceNumber, second.SequenceNumber, third.SequenceNumber)
	}
	if second.Timestamp-first.Timestamp != FrameSamples {
		t.Errorf("timestamp step = %d, want %d", second.Timestamp-first.Timestamp, FrameSamples)
	}
	if third.Timestamp != 2*FrameSamples {
		t.Errorf("third timestamp = %d, want %d", third.Timestamp, 2*FrameSamples)
	}
}

func TestPacketizeHeader(t *testing.T) {
	p := NewPacketizer(0xCAFE, FrameSamples)
	packet := p.Packetize([]byte{0xDE, 0xAD})

	if packet.Version != 2 {
		t.Errorf("version = %d, want 2", packet.Version)
	}
	if packet.PayloadType != opusPayloadType {
		t.Errorf("payload type = %d, want %d", packet.PayloadType, opusPayloadType)
	}
	if packet.SSRC != 0xCAFE {
		t.Errorf("ssrc = %#x, want 0xCAFE", packet.SSRC)
	}
	if len(packet.Payload) != 2 {
		t.Errorf("payload length = %d, want 2", len(packet.Payload))
	}
}

func TestNullMicrophoneDeliversSilence(t *testing.T) {
	mic := NullMicrophone{}
	if err := mic.RequestAccess(); err != nil {
		t.Fatalf("RequestAccess() error = %v", err)
	}
	source, err := mic.Start()
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	frame, err := source.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if len(frame) != FrameSamples*Channels {
		t.Errorf("frame length = %d, want %d", len(frame), FrameSamples*Channels)
	}
	for i, sample := range frame {
		if sample != 0 {
			t.Fatalf("frame[%d] = %d, want silence", i, sample)
		}
	}
}
