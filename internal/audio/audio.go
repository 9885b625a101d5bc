// Package audio holds the signal-level building blocks of the studio:
// waveform synthesis, buffer effects, PCM conversion, WAV I/O and the
// real-time playback pipeline used by the stream server.
package audio

import (
	"math"
	"time"
)

// DefaultSampleRate is the studio rate when none is configured.
const DefaultSampleRate = 44100

// Streaming format. Opus only accepts a handful of rates, so everything that
// leaves the process over HTTP or WebRTC is rendered at 48 kHz stereo.
const (
	SampleRate    = 48000
	Channels      = 2
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)
)

// Stereo is a pair of equally long channel buffers.
type Stereo struct {
	Left  []float64
	Right []float64
}

// NewStereo allocates n frames of digital silence.
func NewStereo(n int) Stereo {
	return Stereo{Left: make([]float64, n), Right: make([]float64, n)}
}

// Len returns the number of frames.
func (s Stereo) Len() int {
	return len(s.Left)
}

// Peak returns the largest absolute sample across both channels.
func (s Stereo) Peak() float64 {
	return math.Max(Peak(s.Left), Peak(s.Right))
}

// Duration reports the playing time at the given sample rate.
func (s Stereo) Duration(sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(s.Len()) / float64(sampleRate) * float64(time.Second))
}

// Finite reports whether every sample is a real number.
func (s Stereo) Finite() bool {
	for i := range s.Left {
		if !finite(s.Left[i]) || !finite(s.Right[i]) {
			return false
		}
	}
	return true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
