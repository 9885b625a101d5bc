// Package model holds the mel-spectrogram features, the autoencoder and
// the generation collaborator the orchestrator calls for new material.
package model

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"math"
	"math/rand/v2"
	"strings"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/satindergrewal/tonelab/internal/audio"
	"github.com/satindergrewal/tonelab/internal/config"
	"github.com/satindergrewal/tonelab/internal/errs"
	"github.com/satindergrewal/tonelab/internal/llm"
)

// Name is the module name the model registers under.
const Name = "model"

// Artifact is one generated idea: a decoded mel patch and the melody read
// from it.
type Artifact struct {
	Genre    string         `json:"genre"`
	Tempo    int            `json:"tempo"`
	Key      string         `json:"key"`
	Seed     uint64         `json:"seed"`
	Waveform audio.Waveform `json:"waveform"`
	Notes    []audio.Note   `json:"notes"`
	Latent   []float64      `json:"-"`
	Mel      *mat.Dense     `json:"-"` // NMels x SeqLen, dB
}

// Model wraps the feature extractor and autoencoder behind one lock.
type Model struct {
	cfg config.ModelConfig

	mu      sync.Mutex
	mel     *MelExtractor
	ae      *Autoencoder
	trained bool
}

// New builds the model from cfg. With a weights path the trained weights
// are loaded and must match the configured dimensions; without one the
// autoencoder starts from a fixed random initialisation.
func New(cfg config.ModelConfig) (*Model, error) {
	if cfg.Type != "" && cfg.Type != "fc" {
		return nil, fmt.Errorf("model type %q: only fc is built in: %w", cfg.Type, errs.ErrInvalidArgument)
	}
	mel, err := NewMelExtractor(DefaultSampleRate, cfg.NFFT, cfg.HopLength, cfg.NMels)
	if err != nil {
		return nil, err
	}
	m := &Model{cfg: cfg, mel: mel}

	if cfg.WeightsPath != "" {
		ae, err := LoadAutoencoderFile(cfg.WeightsPath)
		if err != nil {
			return nil, err
		}
		if err := m.SetAutoencoder(ae); err != nil {
			return nil, err
		}
		log.Printf("Model weights loaded from %s", cfg.WeightsPath)
		return m, nil
	}

	m.ae, err = NewAutoencoder(cfg.NMels, cfg.SeqLen, cfg.LatentDim, 1)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Model) Name() string { return Name }

// SampleRate is the rate features are computed at.
func (m *Model) SampleRate() int { return m.mel.SampleRate }

// Extractor returns the mel extractor. It is not safe for concurrent use.
func (m *Model) Extractor() *MelExtractor { return m.mel }

// Autoencoder returns the current network.
func (m *Model) Autoencoder() *Autoencoder {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ae
}

// SetAutoencoder swaps in trained weights.
func (m *Model) SetAutoencoder(ae *Autoencoder) error {
	if ae.NMels != m.cfg.NMels || ae.SeqLen != m.cfg.SeqLen || ae.Latent != m.cfg.LatentDim {
		return fmt.Errorf("weights are %dx%d latent %d, config wants %dx%d latent %d: %w",
			ae.NMels, ae.SeqLen, ae.Latent, m.cfg.NMels, m.cfg.SeqLen, m.cfg.LatentDim, errs.ErrInvalidArgument)
	}
	m.mu.Lock()
	m.ae = ae
	m.trained = true
	m.mu.Unlock()
	return nil
}

// Trained reports whether weights were loaded or set.
func (m *Model) Trained() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trained
}

// ExtractFeatures returns the NMels x SeqLen dB mel patch of samples.
// Input at another rate is resampled first.
func (m *Model) ExtractFeatures(samples []float64, sampleRate int) (*mat.Dense, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate %d: %w", sampleRate, errs.ErrInvalidArgument)
	}
	if sampleRate != m.mel.SampleRate {
		samples = audio.Resample(samples, sampleRate, m.mel.SampleRate)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return features(m.mel, samples, m.cfg.SeqLen)
}

// Reconstruct runs a feature patch through the autoencoder.
func (m *Model) Reconstruct(patch *mat.Dense) (*mat.Dense, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ae.Reconstruct(patch)
}

// Render turns a dB mel patch back into audio at SampleRate.
func (m *Model) Render(melDB *mat.Dense, iters int) ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mel.Invert(melDB, iters)
}

// Generate decodes a latent code seeded from the interpretation and reads a
// melody in the interpretation's key out of the decoded patch. The same
// interpretation always yields the same artifact.
func (m *Model) Generate(ctx context.Context, in llm.Interpretation) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}
	if strings.TrimSpace(in.Genre) == "" {
		return Artifact{}, fmt.Errorf("interpretation has no genre: %w", errs.ErrInvalidArgument)
	}
	tempo := in.Tempo
	if tempo <= 0 {
		tempo = 120
	}
	beats := 4
	if in.TimeSignature[0] > 0 {
		beats = in.TimeSignature[0]
	}

	seed := interpretationSeed(in)
	rng := rand.New(rand.NewPCG(seed, seed>>1|1))

	m.mu.Lock()
	code := make([]float64, m.ae.Latent)
	for i := range code {
		code[i] = math.Abs(rng.NormFloat64())
	}
	patch, err := m.ae.Decode(code)
	m.mu.Unlock()
	if err != nil {
		return Artifact{}, err
	}

	root, minor := keyRoot(in.Key)
	return Artifact{
		Genre:    in.Genre,
		Tempo:    tempo,
		Key:      in.Key,
		Seed:     seed,
		Waveform: genreWaveform(in.Genre),
		Notes:    melody(patch, 2*beats, root, minor, 60/float64(tempo)),
		Latent:   code,
		Mel:      patch,
	}, nil
}

// Info describes the model for status output.
func (m *Model) Info() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]any{
		"type":        "fc",
		"n_mels":      m.cfg.NMels,
		"seq_len":     m.cfg.SeqLen,
		"latent_dim":  m.cfg.LatentDim,
		"sample_rate": m.mel.SampleRate,
		"trained":     m.trained,
	}
}

// Collaborate answers orchestrator collaboration tasks. "compose" generates
// from params["interpretation"] when present and otherwise describes the
// model.
func (m *Model) Collaborate(ctx context.Context, task string, params map[string]any) (any, error) {
	switch task {
	case "compose":
		if in, ok := params["interpretation"].(llm.Interpretation); ok {
			return m.Generate(ctx, in)
		}
		return m.Info(), nil
	case "describe":
		return m.Info(), nil
	}
	return nil, fmt.Errorf("task %q: %w", task, errs.ErrNotFound)
}

func interpretationSeed(in llm.Interpretation) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%d|%s|%s|%v|%s", in.Genre, in.Tempo, in.Mood, in.Key, in.TimeSignature, strings.Join(in.Instruments, ","))
	return h.Sum64()
}

var (
	majorScale = []int{0, 2, 4, 5, 7, 9, 11}
	minorScale = []int{0, 2, 3, 5, 7, 8, 10}
)

// keyRoot parses "A minor" or "Bb major" into the MIDI key of the root in
// octave 3. Unparseable keys mean C minor.
func keyRoot(key string) (root int, minor bool) {
	fields := strings.Fields(key)
	minor = true
	root = 48
	if len(fields) == 0 {
		return root, minor
	}
	if f, err := audio.NoteFrequency(fields[0] + "3"); err == nil {
		root = audio.FrequencyKey(f)
	}
	if len(fields) > 1 && strings.EqualFold(fields[1], "major") {
		minor = false
	}
	return root, minor
}

// melody splits patch into steps column groups and maps the band with the
// largest rise over its own average to a degree of the scale, spanning two
// octaves above root.
func melody(patch *mat.Dense, steps, root int, minor bool, beat float64) []audio.Note {
	scale := majorScale
	if minor {
		scale = minorScale
	}
	bands, cols := patch.Dims()
	steps = max(1, min(steps, cols))

	avg := make([]float64, bands)
	for b := range bands {
		avg[b] = mat.Sum(patch.RowView(b)) / float64(cols)
	}

	degrees := 2*len(scale) + 1
	notes := make([]audio.Note, 0, steps)
	for s := range steps {
		lo, hi := s*cols/steps, (s+1)*cols/steps
		best, bestRise := 0, math.Inf(-1)
		for b := range bands {
			var sum float64
			for c := lo; c < hi; c++ {
				sum += patch.At(b, c)
			}
			if rise := sum/float64(hi-lo) - avg[b]; rise > bestRise {
				best, bestRise = b, rise
			}
		}
		d := best * degrees / bands
		key := root + 12*(d/len(scale)) + scale[d%len(scale)]
		notes = append(notes, audio.Note{Frequency: audio.KeyFrequency(key), Duration: beat})
	}
	return notes
}

func genreWaveform(genre string) audio.Waveform {
	switch genre {
	case "ambient", "classical", "chillwave", "cinematic":
		return audio.Sine
	case "electronic", "synthwave":
		return audio.Sawtooth
	case "rock", "drum and bass", "indie rock":
		return audio.Square
	}
	return audio.Triangle
}
