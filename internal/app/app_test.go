package app

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/satindergrewal/tonelab/internal/audio"
	"github.com/satindergrewal/tonelab/internal/config"
	"github.com/satindergrewal/tonelab/internal/errs"
	"github.com/satindergrewal/tonelab/internal/llm"
	"github.com/satindergrewal/tonelab/internal/orchestrator"
)

// testConfig is a small, fast session.
func testConfig() config.Config {
	cfg := config.Load()
	cfg.Audio.SampleRate = 8000
	cfg.Studio.NumTracks = 3
	cfg.Studio.Tempo = 120
	cfg.LLM.Enabled = false
	cfg.LLM.APIKey = ""
	cfg.Model = config.ModelConfig{Type: "fc", LatentDim: 4, SeqLen: 8, NMels: 16, NFFT: 256, HopLength: 64}
	return cfg
}

func newTestApp(t *testing.T, opts ...Option) *App {
	t.Helper()
	a, err := New(testConfig(), opts...)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

// --- Construction ---

func TestNewRegistersModules(t *testing.T) {
	a := newTestApp(t)
	got := a.Orchestrator().Modules()
	want := []string{"studio", "llm", "model"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Modules() = %v, want %v", got, want)
	}
	if a.Online() {
		t.Error("Online() = true without an API key")
	}
	if info := a.Info(); info.Interpreter != "heuristic" || info.SampleRate != 8000 || info.ModuleCount != 3 {
		t.Errorf("Info() = %+v", info)
	}
}

func TestNewFallsBackWithoutKey(t *testing.T) {
	a := newTestApp(t, WithLLM(true))
	if a.Online() || a.Assistant() != nil {
		t.Error("LLM enabled without an API key")
	}
}

func TestNewWithClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"genre\":\"jazz\",\"tempo\":96,\"mood\":\"smooth\",\"time_signature\":[4,4]}"}}]}`))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.LLM.BaseURL = srv.URL
	cfg.LLM.APIKey = "test-key"
	client, err := llm.NewClient(cfg.LLM)
	if err != nil {
		t.Fatal(err)
	}
	a, err := New(cfg, WithClient(client))
	if err != nil {
		t.Fatal(err)
	}
	if !a.Online() {
		t.Fatal("Online() = false with a client")
	}
	res, err := a.Prompt(context.Background(), "something smooth")
	if err != nil {
		t.Fatal(err)
	}
	if res.Interpretation.Genre != "jazz" || a.Studio().Tempo() != 96 {
		t.Errorf("genre %q tempo %d, want jazz 96", res.Interpretation.Genre, a.Studio().Tempo())
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Studio.Tempo = 0
	if _, err := New(cfg); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Errorf("error = %v, want ErrInvalidArgument", err)
	}
}

// --- Prompt pipeline ---

func TestPromptRendersMelody(t *testing.T) {
	a := newTestApp(t)
	res, err := a.Prompt(context.Background(), "slow jazz at 90 bpm")
	if err != nil {
		t.Fatal(err)
	}
	if got := a.LastGeneratedTrack(); got != "track_0" {
		t.Errorf("generated into %q, want track_0", got)
	}
	ts, err := a.Studio().Track("track_0")
	if err != nil {
		t.Fatal(err)
	}
	if ts.Notes != len(res.Generation.Notes) || ts.Samples == 0 {
		t.Errorf("track_0 = %+v, want %d notes", ts, len(res.Generation.Notes))
	}
	if res.MixSamples != ts.Samples {
		t.Errorf("mix samples = %d, want %d", res.MixSamples, ts.Samples)
	}
	if res.Mix.Peak() <= 0 {
		t.Error("mix is silent")
	}
}

func TestPromptFillsTracksInOrder(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	for _, want := range []string{"track_0", "track_1", "track_2", "track_2"} {
		if _, err := a.Prompt(ctx, "ambient drone"); err != nil {
			t.Fatal(err)
		}
		if got := a.LastGeneratedTrack(); got != want {
			t.Errorf("generated into %q, want %q", got, want)
		}
	}
}

func TestPromptRejectsEmpty(t *testing.T) {
	a := newTestApp(t)
	if _, err := a.Prompt(context.Background(), ""); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Errorf("error = %v, want ErrInvalidArgument", err)
	}
}

// --- Studio operations ---

func TestGenerateTrackAndEffects(t *testing.T) {
	a := newTestApp(t)
	n, err := a.GenerateTrack("track_0", "C D E F G")
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Errorf("notes = %d, want 5", n)
	}
	if err := a.AddEffect("track_0", "Reverb", audio.Params{"decay": 0.4}); err != nil {
		t.Fatal(err)
	}
	ts, _ := a.Studio().Track("track_0")
	if len(ts.Effects) != 1 || ts.Effects[0].Kind != audio.Reverb {
		t.Errorf("effects = %+v", ts.Effects)
	}
	if ts.Samples != int(5*NoteDuration*8000) {
		t.Errorf("samples = %d, want %d", ts.Samples, int(5*NoteDuration*8000))
	}
}

func TestStudioOperationErrors(t *testing.T) {
	a := newTestApp(t)
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no notes", func() error { _, err := a.GenerateTrack("track_0", "x y z"); return err }(), errs.ErrInvalidArgument},
		{"unknown track", func() error { _, err := a.GenerateTrack("track_9", "C"); return err }(), errs.ErrNotFound},
		{"unknown effect", a.AddEffect("track_0", "flanger", nil), errs.ErrInvalidArgument},
		{"effect on silence", a.AddEffect("track_1", "reverb", nil), errs.ErrInvalidState},
		{"tempo", a.SetTempo(-1), errs.ErrInvalidArgument},
		{"volume", a.SetVolume("track_0", 2), errs.ErrInvalidArgument},
		{"pan", a.SetPan("track_0", -3), errs.ErrInvalidArgument},
		{"mute", a.SetMuted("ghost", true), errs.ErrNotFound},
	}
	for _, tt := range tests {
		if !errors.Is(tt.err, tt.want) {
			t.Errorf("%s: error = %v, want %v", tt.name, tt.err, tt.want)
		}
	}
}

func TestMuteSilencesMix(t *testing.T) {
	a := newTestApp(t)
	a.GenerateTrack("track_0", "A A")
	if err := a.SetMuted("track_0", true); err != nil {
		t.Fatal(err)
	}
	if p := a.Mix().Peak(); p != 0 {
		t.Errorf("peak with only track muted = %v, want 0", p)
	}
	a.SetMuted("track_0", false)
	if p := a.Mix().Peak(); p <= 0 {
		t.Error("unmuted mix is silent")
	}
}

func TestCreateComposition(t *testing.T) {
	a := newTestApp(t)
	c, err := a.CreateComposition(context.Background(), "Sunset Dreams", "Ambient electronic with warm pads")
	if err != nil {
		t.Fatal(err)
	}
	if c.Interpretation == nil || c.Interpretation.Genre == "" {
		t.Errorf("interpretation = %+v", c.Interpretation)
	}
	if c.Tracks.NumTracks != 3 {
		t.Errorf("NumTracks = %d, want 3", c.Tracks.NumTracks)
	}
	if _, err := a.CreateComposition(context.Background(), " ", ""); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Errorf("unnamed composition error = %v", err)
	}
}

func TestSuggest(t *testing.T) {
	a := newTestApp(t)
	s, err := a.Suggest(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if s == "" {
		t.Error("empty suggestion")
	}
}

func TestCollaborate(t *testing.T) {
	a := newTestApp(t)
	res, err := a.Collaborate(context.Background(), "compose", map[string]any{"description": "electronic"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Modules) != 3 {
		t.Errorf("modules involved = %v, want all three", res.Modules)
	}
}

// --- Rendering and sessions ---

func TestRender(t *testing.T) {
	a := newTestApp(t)
	a.GenerateTrack("track_0", "C E G")
	r := a.Render("")
	if r.ID != "r0001" || r.Name != "mix r0001" {
		t.Errorf("rendition = %s %q", r.ID, r.Name)
	}
	// 1.5 s at 48 kHz stereo, padded to whole frames.
	if r.Frames() != 75 {
		t.Errorf("Frames = %d, want 75", r.Frames())
	}
}

func TestRenderPrompt(t *testing.T) {
	a := newTestApp(t)
	a.GenerateTrack("track_2", "C C C C C C C C C C C C")
	r, err := a.RenderPrompt(context.Background(), "jazz", "smooth jazz in Bb major at 110 bpm")
	if err != nil {
		t.Fatal(err)
	}
	if r.Frames() == 0 || !strings.HasSuffix(r.Name, "jazz") {
		t.Errorf("rendition %q with %d frames", r.Name, r.Frames())
	}
	if ts, _ := a.Studio().Track("track_2"); ts.Samples != 0 {
		t.Error("studio not reset before rendering")
	}
}

func TestSessionFiles(t *testing.T) {
	a := newTestApp(t)
	if _, err := a.Prompt(context.Background(), "rock"); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "session.json")
	if err := a.SaveSession(path); err != nil {
		t.Fatal(err)
	}
	b := newTestApp(t)
	if err := b.LoadSession(path); err != nil {
		t.Fatal(err)
	}
	if st, _ := b.Orchestrator().State("model"); st != orchestrator.Ready {
		t.Errorf("model state = %s, want ready", st)
	}
}

// --- Examples ---

func TestRunExamples(t *testing.T) {
	wants := map[int]string{
		1: "Mixed output",
		2: "Genre: electronic",
		3: "Applied 4 effects across 2 tracks",
		4: "Tracks: 3",
		5: "Modules involved: studio, llm, model",
	}
	for n := 1; n <= len(Examples); n++ {
		var buf bytes.Buffer
		if err := RunExample(context.Background(), n, testConfig(), &buf); err != nil {
			t.Errorf("example %d: %v", n, err)
			continue
		}
		if !strings.Contains(buf.String(), wants[n]) {
			t.Errorf("example %d output missing %q:\n%s", n, wants[n], buf.String())
		}
	}
	if err := RunExample(context.Background(), 6, testConfig(), &bytes.Buffer{}); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Errorf("example 6 error = %v, want ErrInvalidArgument", err)
	}
}
