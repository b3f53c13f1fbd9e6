package audio

import (
	"gopkg.in/hraban/opus.v2"
)

// voiceBitrate is tuned for speech, not music.
const voiceBitrate = 64000

// OpusEncoder encodes PCM frames to Opus payloads for the outbound track.
type OpusEncoder struct {
	encoder    *opus.Encoder
	sampleRate int
	channels   int
	frameSize  int // samples per channel per frame
}

// NewOpusEncoder creates a VoIP-profile Opus encoder.
func NewOpusEncoder(sampleRate, channels, frameSize int) (*OpusEncoder, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, err
	}

	enc.SetBitrate(voiceBitrate)

	return &OpusEncoder{
		encoder:    enc,
		sampleRate: sampleRate,
		channels:   channels,
		frameSize:  frameSize,
	}, nil
}

// Encode encodes one interleaved PCM frame to an Opus payload.
func (e *OpusEncoder) Encode(pcm []int16) ([]byte, error) {
	data := make([]byte, 1024)
	n, err := e.encoder.Encode(pcm, data)
	if err != nil {
		return nil, err
	}
	return data[:n], nil
}

// FrameSize returns the frame size in samples per channel.
func (e *OpusEncoder) FrameSize() int {
	return e.frameSize
}

// SampleRate returns the sample rate.
func (e *OpusEncoder) SampleRate() int {
	return e.sampleRate
}

// Channels returns the number of channels.
func (e *OpusEncoder) Channels() int {
	return e.channels
}
