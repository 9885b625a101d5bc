package model

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/satindergrewal/tonelab/internal/audio"
	"github.com/satindergrewal/tonelab/internal/config"
	"github.com/satindergrewal/tonelab/internal/errs"
	"github.com/satindergrewal/tonelab/internal/llm"
)

func testConfig() config.ModelConfig {
	return config.ModelConfig{Type: "fc", LatentDim: 4, SeqLen: 8, NMels: 16, NFFT: 256, HopLength: 64}
}

func newTestModel(t *testing.T) *Model {
	t.Helper()
	m, err := New(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	return m
}

var jazz = llm.Interpretation{Genre: "jazz", Tempo: 100, Mood: "smooth", Key: "Bb major"}

// --- Construction ---

func TestNewRejectsUnknownType(t *testing.T) {
	cfg := testConfig()
	cfg.Type = "conv"
	if _, err := New(cfg); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Errorf("error = %v, want ErrInvalidArgument", err)
	}
}

func TestNewLoadsWeights(t *testing.T) {
	path := filepath.Join(t.TempDir(), "w.gob")
	ae, _ := NewAutoencoder(16, 8, 4, 3)
	if err := ae.SaveFile(path); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig()
	cfg.WeightsPath = path
	m, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !m.Trained() {
		t.Error("Trained() = false after loading weights")
	}

	cfg.LatentDim = 5
	if _, err := New(cfg); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Errorf("mismatched dims error = %v, want ErrInvalidArgument", err)
	}
	cfg.WeightsPath = path + ".missing"
	if _, err := New(cfg); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("missing weights error = %v, want ErrNotFound", err)
	}
}

func TestSetAutoencoderChecksDims(t *testing.T) {
	m := newTestModel(t)
	if m.Trained() {
		t.Error("fresh model reports trained")
	}
	wrong, _ := NewAutoencoder(16, 9, 4, 1)
	if err := m.SetAutoencoder(wrong); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Errorf("error = %v, want ErrInvalidArgument", err)
	}
}

// --- Features ---

func TestExtractFeaturesShape(t *testing.T) {
	m := newTestModel(t)
	for _, sr := range []int{DefaultSampleRate, 44100, 8000} {
		f, err := m.ExtractFeatures(sine(440, sr, sr/4), sr)
		if err != nil {
			t.Fatalf("sr %d: %v", sr, err)
		}
		if r, c := f.Dims(); r != 16 || c != 8 {
			t.Errorf("sr %d: dims = %dx%d, want 16x8", sr, r, c)
		}
		if hi, lo := mat.Max(f), mat.Min(f); hi > 1e-9 || lo < -TopDB-1e-9 {
			t.Errorf("sr %d: range = [%v, %v] dB, want within [-%v, 0]", sr, lo, hi, TopDB)
		}
	}
}

func TestExtractFeaturesRejects(t *testing.T) {
	m := newTestModel(t)
	if _, err := m.ExtractFeatures(nil, 22050); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Errorf("empty error = %v, want ErrInvalidArgument", err)
	}
	if _, err := m.ExtractFeatures([]float64{1}, 0); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Errorf("zero rate error = %v, want ErrInvalidArgument", err)
	}
}

// --- Generation ---

func TestGenerateIsDeterministic(t *testing.T) {
	m := newTestModel(t)
	a, err := m.Generate(context.Background(), jazz)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := m.Generate(context.Background(), jazz)
	if a.Seed != b.Seed || !mat.Equal(a.Mel, b.Mel) || len(a.Notes) != len(b.Notes) {
		t.Fatal("same interpretation produced different artifacts")
	}
	for i := range a.Notes {
		if a.Notes[i] != b.Notes[i] {
			t.Errorf("note %d = %v, want %v", i, b.Notes[i], a.Notes[i])
		}
	}

	other := jazz
	other.Mood = "dark"
	c, _ := m.Generate(context.Background(), other)
	if c.Seed == a.Seed {
		t.Error("different interpretation gave the same seed")
	}
}

func TestGenerateMelodyFollowsKeyAndTempo(t *testing.T) {
	m := newTestModel(t)
	art, err := m.Generate(context.Background(), jazz)
	if err != nil {
		t.Fatal(err)
	}
	if len(art.Notes) != 8 {
		t.Fatalf("notes = %d, want 8 (two bars of 4)", len(art.Notes))
	}
	inScale := map[int]bool{}
	for _, s := range majorScale {
		inScale[(58+s)%12] = true // Bb
	}
	for i, n := range art.Notes {
		if n.Duration != 0.6 {
			t.Errorf("note %d duration = %v, want 0.6", i, n.Duration)
		}
		key := audio.FrequencyKey(n.Frequency)
		if !inScale[key%12] {
			t.Errorf("note %d key %d not in Bb major", i, key)
		}
		if key < 58 || key > 58+24 {
			t.Errorf("note %d key %d outside two octaves above Bb3", i, key)
		}
	}
	if art.Waveform != audio.Triangle {
		t.Errorf("waveform = %v, want triangle", art.Waveform)
	}
	if len(art.Latent) != 4 {
		t.Errorf("latent = %d, want 4", len(art.Latent))
	}
}

func TestGenerateUsesMeter(t *testing.T) {
	m := newTestModel(t)
	in := llm.Interpretation{Genre: "classical", Tempo: 90, TimeSignature: [2]int{3, 4}}
	art, err := m.Generate(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if len(art.Notes) != 6 {
		t.Errorf("notes = %d, want 6", len(art.Notes))
	}
	if art.Waveform != audio.Sine {
		t.Errorf("waveform = %v, want sine", art.Waveform)
	}
}

func TestGenerateRejects(t *testing.T) {
	m := newTestModel(t)
	if _, err := m.Generate(context.Background(), llm.Interpretation{}); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Errorf("no genre error = %v, want ErrInvalidArgument", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Generate(ctx, jazz); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled error = %v, want context.Canceled", err)
	}
}

func TestKeyRoot(t *testing.T) {
	tests := []struct {
		key   string
		root  int
		minor bool
	}{
		{"A minor", 57, true},
		{"Bb major", 58, false},
		{"C# MAJOR", 49, false},
		{"", 48, true},
		{"weird", 48, true},
	}
	for _, tt := range tests {
		root, minor := keyRoot(tt.key)
		if root != tt.root || minor != tt.minor {
			t.Errorf("keyRoot(%q) = %d,%v, want %d,%v", tt.key, root, minor, tt.root, tt.minor)
		}
	}
}

func TestCollaborate(t *testing.T) {
	m := newTestModel(t)
	ctx := context.Background()

	got, err := m.Collaborate(ctx, "compose", map[string]any{"interpretation": jazz})
	if err != nil {
		t.Fatal(err)
	}
	if art, ok := got.(Artifact); !ok || art.Genre != "jazz" {
		t.Errorf("compose = %#v, want jazz artifact", got)
	}

	got, err = m.Collaborate(ctx, "describe", nil)
	if err != nil {
		t.Fatal(err)
	}
	if info, ok := got.(map[string]any); !ok || info["latent_dim"] != 4 {
		t.Errorf("describe = %#v", got)
	}

	if _, err := m.Collaborate(ctx, "dance", nil); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("unknown task error = %v, want ErrNotFound", err)
	}
}

func TestRenderArtifact(t *testing.T) {
	m := newTestModel(t)
	art, _ := m.Generate(context.Background(), jazz)
	y, err := m.Render(art.Mel, 2)
	if err != nil {
		t.Fatal(err)
	}
	if want := 64 * 7; len(y) != want {
		t.Errorf("len = %d, want %d", len(y), want)
	}
}

// --- Dataset ---

func writeWAV(t *testing.T, path string, samples []float64, sr int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := audio.WriteWAV(f, sr, samples); err != nil {
		t.Fatal(err)
	}
}

func TestListWAVs(t *testing.T) {
	dir := t.TempDir()
	writeWAV(t, filepath.Join(dir, "b.wav"), sine(220, 8000, 800), 8000)
	writeWAV(t, filepath.Join(dir, "a.WAV"), sine(440, 8000, 800), 8000)
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644)
	os.Mkdir(filepath.Join(dir, "sub.wav"), 0o755)

	paths, err := ListWAVs(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 2 || filepath.Base(paths[0]) != "a.WAV" || filepath.Base(paths[1]) != "b.wav" {
		t.Errorf("paths = %v", paths)
	}

	if _, err := ListWAVs(t.TempDir()); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("empty dir error = %v, want ErrNotFound", err)
	}
	if _, err := ListWAVs(filepath.Join(dir, "missing")); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("missing dir error = %v, want ErrNotFound", err)
	}
}

func TestLoadDataset(t *testing.T) {
	dir := t.TempDir()
	for i, f := range []float64{220, 440, 880} {
		writeWAV(t, filepath.Join(dir, string(rune('a'+i))+".wav"), sine(f, 16000, 4000), 16000)
	}
	paths, _ := ListWAVs(dir)

	var seen int
	samples, err := LoadDataset(context.Background(), testConfig(), paths, 2, func(string, error) { seen++ })
	if err != nil {
		t.Fatal(err)
	}
	if seen != 3 || len(samples) != 3 {
		t.Fatalf("seen %d, samples %d, want 3 and 3", seen, len(samples))
	}
	for i, s := range samples {
		if s.Path != paths[i] {
			t.Errorf("sample %d path = %s, want %s", i, s.Path, paths[i])
		}
		if r, c := s.Features.Dims(); r != 16 || c != 8 {
			t.Errorf("sample %d dims = %dx%d", i, r, c)
		}
	}
	if len(Patches(samples)) != 3 {
		t.Error("Patches lost samples")
	}
}

func TestLoadDatasetReportsBadFile(t *testing.T) {
	dir := t.TempDir()
	writeWAV(t, filepath.Join(dir, "good.wav"), sine(440, 8000, 800), 8000)
	os.WriteFile(filepath.Join(dir, "bad.wav"), []byte("not a wav file at all"), 0o644)
	paths, _ := ListWAVs(dir)
	if _, err := LoadDataset(context.Background(), testConfig(), paths, 1, nil); err == nil {
		t.Error("LoadDataset accepted a corrupt file")
	}
}
