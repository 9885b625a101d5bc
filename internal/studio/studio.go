package studio

import (
	"fmt"
	"log"
	"math"
	"sync"

	"github.com/viterin/vek"

	"github.com/satindergrewal/tonelab/internal/audio"
	"github.com/satindergrewal/tonelab/internal/config"
	"github.com/satindergrewal/tonelab/internal/errs"
)

// MixPeak is the peak level the mixer normalizes the stereo master to.
const MixPeak = 0.9

// Name is the module name the studio registers under.
const Name = "studio"

// AppliedEffect records one effect in a track's chain.
type AppliedEffect struct {
	Kind   audio.EffectKind `json:"kind"`
	Params audio.Params     `json:"params,omitempty"`
}

// Track is a mono buffer plus mixer metadata.
type Track struct {
	ID       string
	Samples  []float64
	Volume   float64
	Pan      float64
	Muted    bool
	Effects  []AppliedEffect
	Notes    []audio.Note // set by GenerateTrack, cleared by RecordTrack
	Waveform audio.Waveform
}

// Studio is one production session: a fixed pool of tracks, the processors
// that fill them, and tempo metadata. All methods are safe for concurrent
// use; a single mutex guards the whole session.
type Studio struct {
	sampleRate int
	synth      *audio.Synth
	fx         audio.Effects

	mu           sync.Mutex
	tracks       map[string]*Track
	order        []string
	tempo        int
	timeSig      [2]int
	masterVolume float64
}

// TrackID returns the identifier of the i-th track.
func TrackID(i int) string {
	return fmt.Sprintf("track_%d", i)
}

// New creates a studio with numTracks empty tracks named track_0..track_{n-1}.
func New(sampleRate, numTracks int) (*Studio, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate %d must be positive: %w", sampleRate, errs.ErrInvalidArgument)
	}
	if numTracks < 1 {
		return nil, fmt.Errorf("track count %d must be positive: %w", numTracks, errs.ErrInvalidArgument)
	}
	s := &Studio{
		sampleRate:   sampleRate,
		synth:        audio.NewSynth(sampleRate),
		fx:           audio.Effects{SampleRate: sampleRate},
		tracks:       make(map[string]*Track, numTracks),
		order:        make([]string, 0, numTracks),
		tempo:        120,
		timeSig:      [2]int{4, 4},
		masterVolume: 1,
	}
	for i := 0; i < numTracks; i++ {
		id := TrackID(i)
		s.tracks[id] = &Track{ID: id, Volume: 1}
		s.order = append(s.order, id)
	}
	return s, nil
}

// NewFromConfig creates a studio from the audio and studio config sections.
func NewFromConfig(cfg config.Config) (*Studio, error) {
	s, err := New(cfg.Audio.SampleRate, cfg.Studio.NumTracks)
	if err != nil {
		return nil, err
	}
	if err := s.SetTempo(cfg.Studio.Tempo); err != nil {
		return nil, err
	}
	if err := s.SetTimeSignature(cfg.Studio.TimeSignature[0], cfg.Studio.TimeSignature[1]); err != nil {
		return nil, err
	}
	if err := s.SetMasterVolume(cfg.Studio.MasterVolume); err != nil {
		return nil, err
	}
	return s, nil
}

// Name implements the orchestrator's module interface.
func (s *Studio) Name() string { return Name }

func (s *Studio) SampleRate() int { return s.sampleRate }

// TrackIDs returns the track identifiers in creation order.
func (s *Studio) TrackIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// track looks up id. Caller must hold s.mu.
func (s *Studio) track(id string) (*Track, error) {
	t, ok := s.tracks[id]
	if !ok {
		return nil, fmt.Errorf("track %q: %w", id, errs.ErrNotFound)
	}
	return t, nil
}

// GenerateTrack synthesizes each note with the envelope-shaped synth,
// concatenates them and replaces the track's audio. The effect chain is reset.
// It returns a copy of the new buffer.
func (s *Studio) GenerateTrack(id string, notes []audio.Note, w audio.Waveform) ([]float64, error) {
	if len(notes) == 0 {
		return nil, fmt.Errorf("empty note sequence: %w", errs.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.track(id)
	if err != nil {
		return nil, err
	}

	var buf []float64
	for i, n := range notes {
		seg, err := s.synth.Note(n.Frequency, n.Duration, w)
		if err != nil {
			return nil, fmt.Errorf("note %d: %w", i, err)
		}
		buf = append(buf, seg...)
	}

	t.Samples = buf
	t.Effects = nil
	t.Notes = append([]audio.Note(nil), notes...)
	t.Waveform = w
	return append([]float64(nil), buf...), nil
}

// RecordTrack stores buf verbatim on the track. Empty or non-finite buffers
// are rejected.
func (s *Studio) RecordTrack(id string, buf []float64) error {
	if len(buf) == 0 {
		return fmt.Errorf("empty buffer: %w", errs.ErrInvalidArgument)
	}
	for i, v := range buf {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("sample %d is not finite: %w", i, errs.ErrInvalidArgument)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.track(id)
	if err != nil {
		return err
	}
	t.Samples = append([]float64(nil), buf...)
	t.Effects = nil
	t.Notes = nil
	t.Waveform = ""
	return nil
}

// ApplyEffect runs one effect over the track's buffer and stores the result.
// Effects compose in call order.
func (s *Studio) ApplyEffect(id string, kind audio.EffectKind, params audio.Params) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.track(id)
	if err != nil {
		return err
	}
	if len(t.Samples) == 0 {
		return fmt.Errorf("track %q has no audio: %w", id, errs.ErrInvalidState)
	}
	out, err := s.fx.Apply(t.Samples, kind, params)
	if err != nil {
		return err
	}
	t.Samples = out

	var p audio.Params
	if len(params) > 0 {
		p = make(audio.Params, len(params))
		for k, v := range params {
			p[k] = v
		}
	}
	t.Effects = append(t.Effects, AppliedEffect{Kind: kind, Params: p})
	return nil
}

// SetVolume sets the track gain, which must lie in [0,1].
func (s *Studio) SetVolume(id string, v float64) error {
	if !(v >= 0 && v <= 1) {
		return fmt.Errorf("volume %v must be in [0,1]: %w", v, errs.ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.track(id)
	if err != nil {
		return err
	}
	t.Volume = v
	return nil
}

// SetPan sets the stereo position, -1 (left) to 1 (right).
func (s *Studio) SetPan(id string, p float64) error {
	if !(p >= -1 && p <= 1) {
		return fmt.Errorf("pan %v must be in [-1,1]: %w", p, errs.ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.track(id)
	if err != nil {
		return err
	}
	t.Pan = p
	return nil
}

func (s *Studio) Mute(id string) error   { return s.setMuted(id, true) }
func (s *Studio) Unmute(id string) error { return s.setMuted(id, false) }

func (s *Studio) setMuted(id string, muted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.track(id)
	if err != nil {
		return err
	}
	t.Muted = muted
	return nil
}

// SetMasterVolume sets the gain applied after mix normalization.
func (s *Studio) SetMasterVolume(v float64) error {
	if !(v >= 0 && v <= 1) {
		return fmt.Errorf("master volume %v must be in [0,1]: %w", v, errs.ErrInvalidArgument)
	}
	s.mu.Lock()
	s.masterVolume = v
	s.mu.Unlock()
	return nil
}

func (s *Studio) SetTempo(bpm int) error {
	if bpm <= 0 {
		return fmt.Errorf("tempo %d must be positive: %w", bpm, errs.ErrInvalidArgument)
	}
	s.mu.Lock()
	s.tempo = bpm
	s.mu.Unlock()
	return nil
}

func (s *Studio) Tempo() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tempo
}

// SetTimeSignature sets the meter. The denominator must be a power of two.
func (s *Studio) SetTimeSignature(num, den int) error {
	if num <= 0 || den <= 0 || den&(den-1) != 0 {
		return fmt.Errorf("time signature %d/%d: %w", num, den, errs.ErrInvalidArgument)
	}
	s.mu.Lock()
	s.timeSig = [2]int{num, den}
	s.mu.Unlock()
	return nil
}

func (s *Studio) TimeSignature() (num, den int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeSig[0], s.timeSig[1]
}

// Samples returns a copy of the track's current buffer.
func (s *Studio) Samples(id string) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.track(id)
	if err != nil {
		return nil, err
	}
	return append([]float64(nil), t.Samples...), nil
}

// PanGains returns the equal-power channel gains for a track.
func PanGains(volume, pan float64) (left, right float64) {
	theta := (pan + 1) * math.Pi / 4
	return volume * math.Cos(theta), volume * math.Sin(theta)
}

// Mix folds every unmuted track into a stereo master as long as the longest
// track, muted or not; shorter tracks are zero padded. The sum is normalized
// to MixPeak and then scaled by the master volume. With nothing audible the
// result is silence of the same length, and at least one sample.
func (s *Studio) Mix() audio.Stereo {
	s.mu.Lock()
	defer s.mu.Unlock()

	longest, audible := 0, false
	for _, id := range s.order {
		t := s.tracks[id]
		longest = max(longest, len(t.Samples))
		audible = audible || (!t.Muted && len(t.Samples) > 0)
	}
	if !audible {
		return audio.NewStereo(max(1, longest))
	}

	mix := audio.NewStereo(longest)
	for _, id := range s.order {
		t := s.tracks[id]
		if t.Muted || len(t.Samples) == 0 {
			continue
		}
		l, r := PanGains(t.Volume, t.Pan)
		vek.Add_Inplace(mix.Left[:len(t.Samples)], vek.MulNumber(t.Samples, l))
		vek.Add_Inplace(mix.Right[:len(t.Samples)], vek.MulNumber(t.Samples, r))
	}

	if peak := mix.Peak(); peak > 0 {
		g := MixPeak / peak * s.masterVolume
		vek.MulNumber_Inplace(mix.Left, g)
		vek.MulNumber_Inplace(mix.Right, g)
	}
	return mix
}

// Reset clears every track's audio and restores default mixer settings.
func (s *Studio) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		s.tracks[id] = &Track{ID: id, Volume: 1}
	}
	log.Printf("Studio reset: %d tracks cleared", len(s.order))
}
