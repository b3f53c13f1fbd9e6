package audio

import "errors"

// Capture format shared by the whole pipeline: 48 kHz stereo PCM in 20 ms
// frames, matching the Opus payload the peer connection negotiates.
const (
	SampleRate = 48000
	Channels   = 2
	// FrameSamples is samples per channel per 20 ms frame.
	FrameSamples = 960
	// FrameDurationMs is the frame pacing used by the outbound pump.
	FrameDurationMs = 20
)

// ErrPermissionDenied is returned when the user refuses microphone access.
// The peer connection must not be created without a granted microphone.
var ErrPermissionDenied = errors.New("microphone permission denied")

// Source produces PCM frames of FrameSamples*Channels interleaved int16
// samples. ReadFrame blocks until a frame is available.
type Source interface {
	ReadFrame() ([]int16, error)
}

// Microphone abstracts the platform capture device. RequestAccess must be
// called, and must succeed, before Start.
type Microphone interface {
	RequestAccess() error
	Start() (Source, error)
	Stop()
}

// NullMicrophone always grants access and captures silence. It stands in for
// a real capture device in headless environments and demos.
type NullMicrophone struct{}

func (NullMicrophone) RequestAccess() error { return nil }

func (NullMicrophone) Start() (Source, error) {
	return silenceSource{frame: make([]int16, FrameSamples*Channels)}, nil
}

func (NullMicrophone) Stop() {}

type silenceSource struct {
	frame []int16
}

func (s silenceSource) ReadFrame() ([]int16, error) {
	return s.frame, nil
}
