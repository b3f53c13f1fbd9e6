package audio

import (
	"gopkg.in/hraban/opus.v2"
)

// OpusDecoder decodes remote Opus payloads to PCM for playback.
type OpusDecoder struct {
	decoder    *opus.Decoder
	sampleRate int
	channels   int
}

// NewOpusDecoder creates a new Opus decoder.
func NewOpusDecoder(sampleRate, channels int) (*OpusDecoder, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, err
	}

	return &OpusDecoder{
		decoder:    dec,
		sampleRate: sampleRate,
		channels:   channels,
	}, nil
}

// Decode decodes one Opus payload to interleaved PCM samples.
func (d *OpusDecoder) Decode(opusData []byte) ([]int16, error) {
	// Opus frames span 2.5–60 ms; at 48 kHz, 60 ms is 2880 samples per
	// channel, so this buffer covers the maximum.
	pcm := make([]int16, 5760*d.channels)

	n, err := d.decoder.Decode(opusData, pcm)
	if err != nil {
		return nil, err
	}

	return pcm[:n*d.channels], nil
}

// SampleRate returns the sample rate.
func (d *OpusDecoder) SampleRate() int {
	return d.sampleRate
}

// Channels returns the number of channels.
func (d *OpusDecoder) Channels() int {
	return d.channels
}
