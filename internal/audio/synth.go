package audio

import (
	"fmt"
	"math"
	"strings"

	"github.com/satindergrewal/tonelab/internal/errs"
)

// Waveform selects the oscillator shape.
type Waveform string

const (
	Sine     Waveform = "sine"
	Square   Waveform = "square"
	Sawtooth Waveform = "sawtooth"
	Triangle Waveform = "triangle"
)

// Waveforms lists the supported shapes in display order.
var Waveforms = []Waveform{Sine, Square, Sawtooth, Triangle}

// ParseWaveform accepts a waveform name, case-insensitively.
func ParseWaveform(name string) (Waveform, error) {
	w := Waveform(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Waveforms {
		if w == known {
			return w, nil
		}
	}
	return "", fmt.Errorf("waveform %q: %w", name, errs.ErrInvalidArgument)
}

// ADSR is an attack/decay/sustain/release amplitude envelope. Times are in
// seconds, Sustain is a level in [0,1].
type ADSR struct {
	Attack  float64
	Decay   float64
	Sustain float64
	Release float64
}

// DefaultADSR is the envelope applied to generated notes.
var DefaultADSR = ADSR{Attack: 0.01, Decay: 0.1, Sustain: 0.7, Release: 0.3}

// Synth renders single notes at a fixed sample rate.
type Synth struct {
	SampleRate int
	Envelope   ADSR
	Gain       float64 // applied by Note, not by Synthesize
}

// NewSynth creates a synthesizer with the default envelope and 0.3 gain.
func NewSynth(sampleRate int) *Synth {
	return &Synth{
		SampleRate: sampleRate,
		Envelope:   DefaultADSR,
		Gain:       0.3,
	}
}

// Synthesize evaluates the raw waveform. The result holds
// round(duration*SampleRate) samples.
func (s *Synth) Synthesize(frequency, duration float64, w Waveform) ([]float64, error) {
	if !(frequency > 0) || math.IsInf(frequency, 0) {
		return nil, fmt.Errorf("frequency %v must be positive: %w", frequency, errs.ErrInvalidArgument)
	}
	if !(duration > 0) || math.IsInf(duration, 0) {
		return nil, fmt.Errorf("duration %v must be positive: %w", duration, errs.ErrInvalidArgument)
	}
	if s.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate %d: %w", s.SampleRate, errs.ErrInvalidState)
	}

	n := int(math.Round(duration * float64(s.SampleRate)))
	sr := float64(s.SampleRate)
	out := make([]float64, n)

	switch w {
	case Sine:
		for i := range out {
			out[i] = math.Sin(2 * math.Pi * frequency * float64(i) / sr)
		}
	case Square:
		for i := range out {
			out[i] = sign(math.Sin(2 * math.Pi * frequency * float64(i) / sr))
		}
	case Sawtooth:
		for i := range out {
			out[i] = ramp(frequency * float64(i) / sr)
		}
	case Triangle:
		for i := range out {
			out[i] = 2*math.Abs(ramp(frequency*float64(i)/sr)) - 1
		}
	default:
		return nil, fmt.Errorf("waveform %q: %w", w, errs.ErrInvalidArgument)
	}
	return out, nil
}

// Note renders a playable note: the raw waveform shaped by the envelope and
// scaled by Gain.
func (s *Synth) Note(frequency, duration float64, w Waveform) ([]float64, error) {
	out, err := s.Synthesize(frequency, duration, w)
	if err != nil {
		return nil, err
	}
	env := s.envelope(len(out))
	for i := range out {
		out[i] *= env[i] * s.Gain
	}
	return out, nil
}

// envelope returns exactly n gain values. Segments shorter than one sample
// still contribute one sample, and the tail is cut to n.
func (s *Synth) envelope(n int) []float64 {
	sr := float64(s.SampleRate)
	e := s.Envelope
	attack := int(e.Attack * sr)
	decay := int(e.Decay * sr)
	release := int(e.Release * sr)
	sustain := n - attack - decay - release

	env := make([]float64, 0, n+3)
	env = append(env, linspace(0, 1, max(1, attack))...)
	env = append(env, linspace(1, e.Sustain, max(1, decay))...)
	for i := 0; i < sustain; i++ {
		env = append(env, e.Sustain)
	}
	env = append(env, linspace(e.Sustain, 0, max(1, release))...)
	return env[:n]
}

func linspace(from, to float64, num int) []float64 {
	out := make([]float64, num)
	if num == 1 {
		out[0] = from
		return out
	}
	step := (to - from) / float64(num-1)
	for i := range out {
		out[i] = from + step*float64(i)
	}
	return out
}

// ramp maps a phase in cycles onto the sawtooth 2*(x mod 1) - 1.
func ramp(cycles float64) float64 {
	return 2*(cycles-math.Floor(cycles)) - 1
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
