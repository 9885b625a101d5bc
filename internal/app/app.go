// Package app wires the studio, the interpreter and the model into one
// orchestrated session and exposes the operations the CLI and the HTTP API
// share.
package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/satindergrewal/tonelab/internal/audio"
	"github.com/satindergrewal/tonelab/internal/config"
	"github.com/satindergrewal/tonelab/internal/errs"
	"github.com/satindergrewal/tonelab/internal/llm"
	"github.com/satindergrewal/tonelab/internal/model"
	"github.com/satindergrewal/tonelab/internal/orchestrator"
	"github.com/satindergrewal/tonelab/internal/studio"
)

// NoteDuration is the length of each note in a note-name description.
const NoteDuration = 0.5

// interpreter is what the pipeline's first step needs.
type interpreter interface {
	orchestrator.Interpreter
	Collaborate(ctx context.Context, task string, params map[string]any) (any, error)
}

// App is one production session. Its methods serialize on a single mutex so
// the CLI and the HTTP API can share it.
type App struct {
	cfg config.Config

	mu           sync.Mutex
	orch         *orchestrator.Orchestrator
	studio       *studio.Studio
	model        *model.Model
	interp       interpreter
	assistant    *llm.Assistant // nil when running offline
	generateInto string         // track the last artifact was rendered to
	renditions   int
}

// Option adjusts how New builds the session.
type Option func(*options)

type options struct {
	useLLM bool
	client *llm.Client
	policy orchestrator.FailurePolicy
}

// WithLLM asks for the chat-completion interpreter. Without an API key the
// session falls back to the offline heuristic.
func WithLLM(enabled bool) Option {
	return func(o *options) { o.useLLM = enabled }
}

// WithClient uses c for the chat-completion interpreter.
func WithClient(c *llm.Client) Option {
	return func(o *options) { o.useLLM, o.client = true, c }
}

// WithFailurePolicy sets the orchestrator's subscriber failure policy.
func WithFailurePolicy(p orchestrator.FailurePolicy) Option {
	return func(o *options) { o.policy = p }
}

// New builds and registers the studio, the interpreter and the model.
func New(cfg config.Config, opts ...Option) (*App, error) {
	o := options{useLLM: cfg.LLM.Enabled}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s, err := studio.NewFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	m, err := model.New(cfg.Model)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:    cfg,
		orch:   orchestrator.New(orchestrator.WithFailurePolicy(o.policy)),
		studio: s,
		model:  m,
		interp: llm.Heuristic{},
	}
	if o.useLLM {
		client := o.client
		if client == nil {
			client, err = llm.NewClient(cfg.LLM)
		}
		if err != nil {
			log.Printf("LLM module disabled: %v", err)
		} else {
			a.assistant = llm.NewAssistant(client)
			a.interp = a.assistant
		}
	}

	for _, mod := range []orchestrator.Module{a.studio, a.interp, a.model} {
		if err := a.orch.Register(mod); err != nil {
			return nil, err
		}
	}
	a.orch.On("generation_complete", a.renderArtifact)

	log.Printf("Studio ready: %d tracks at %d Hz, interpreter %T", len(s.TrackIDs()), s.SampleRate(), a.interp)
	return a, nil
}

func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orch }
func (a *App) Studio() *studio.Studio                  { return a.studio }
func (a *App) Model() *model.Model                      { return a.model }
func (a *App) Config() config.Config                    { return a.cfg }

// Assistant returns the chat-completion interpreter, or nil when offline.
func (a *App) Assistant() *llm.Assistant { return a.assistant }

// Online reports whether prompts go to the chat-completion API.
func (a *App) Online() bool { return a.assistant != nil }

// renderArtifact puts a generated melody on the first silent track, or on
// the last track when every track holds audio.
func (a *App) renderArtifact(ev orchestrator.Event) error {
	art, ok := ev.Payload["artifact"].(model.Artifact)
	if !ok || len(art.Notes) == 0 {
		return nil
	}
	st := a.studio.State()
	target := st.Tracks[len(st.Tracks)-1].Name
	for _, t := range st.Tracks {
		if t.Samples == 0 {
			target = t.Name
			break
		}
	}
	if _, err := a.studio.GenerateTrack(target, art.Notes, art.Waveform); err != nil {
		return fmt.Errorf("render %s melody on %s: %w", art.Genre, target, err)
	}
	a.generateInto = target
	log.Printf("Rendered %d-note %s melody on %s", len(art.Notes), art.Genre, target)
	return nil
}

// Prompt runs a free-text request through the orchestrator pipeline. The
// generated melody lands on a studio track before the mix.
func (a *App) Prompt(ctx context.Context, prompt string) (orchestrator.RequestResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.orch.ProcessMusicRequest(ctx, prompt)
}

// LastGeneratedTrack returns the track the last artifact was rendered to.
func (a *App) LastGeneratedTrack() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.generateInto
}

// GenerateTrack synthesizes a note-name description such as "C D E F#3"
// with the sine voice and returns the number of notes.
func (a *App) GenerateTrack(id, description string) (int, error) {
	return a.GenerateTrackWith(id, description, audio.Sine)
}

// GenerateTrackWith is GenerateTrack with a chosen waveform.
func (a *App) GenerateTrackWith(id, description string, w audio.Waveform) (int, error) {
	notes, err := audio.ParseNotes(description, NoteDuration)
	if err != nil {
		return 0, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.studio.GenerateTrack(id, notes, w); err != nil {
		return 0, err
	}
	return len(notes), nil
}

// AddEffect applies a named effect to a track.
func (a *App) AddEffect(id, effect string, params audio.Params) error {
	kind, err := audio.ParseEffectKind(effect)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.studio.ApplyEffect(id, kind, params)
}

func (a *App) SetTempo(bpm int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.studio.SetTempo(bpm)
}

func (a *App) SetVolume(id string, v float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.studio.SetVolume(id, v)
}

func (a *App) SetPan(id string, p float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.studio.SetPan(id, p)
}

// SetMuted mutes or unmutes a track.
func (a *App) SetMuted(id string, muted bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if muted {
		return a.studio.Mute(id)
	}
	return a.studio.Unmute(id)
}

// Mix returns the stereo master.
func (a *App) Mix() audio.Stereo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.studio.Mix()
}

// State returns the studio snapshot.
func (a *App) State() studio.State {
	return a.studio.State()
}

// Composition is a named piece with its studio snapshot and, when the
// description could be read, its interpretation.
type Composition struct {
	Name           string              `json:"name"`
	Description    string              `json:"description"`
	Tracks         studio.State        `json:"tracks"`
	Interpretation *llm.Interpretation `json:"interpretation,omitempty"`
}

// CreateComposition records a composition and interprets its description.
func (a *App) CreateComposition(ctx context.Context, name, description string) (Composition, error) {
	if strings.TrimSpace(name) == "" {
		return Composition{}, fmt.Errorf("composition needs a name: %w", errs.ErrInvalidArgument)
	}
	c := Composition{Name: name, Description: description, Tracks: a.State()}
	if strings.TrimSpace(description) == "" {
		return c, nil
	}
	in, err := a.interp.Interpret(ctx, description, nil)
	if err != nil {
		return c, err
	}
	c.Interpretation = &in
	return c, nil
}

// Suggest asks the interpreter for a next step given the studio state.
func (a *App) Suggest(ctx context.Context) (string, error) {
	out, err := a.interp.Collaborate(ctx, "suggest", map[string]any{"state": a.State()})
	if err != nil {
		return "", err
	}
	s, _ := out.(string)
	return s, nil
}

// Collaborate forwards a task to every collaborating module.
func (a *App) Collaborate(ctx context.Context, task string, params map[string]any) (orchestrator.CollaborationResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.orch.Collaborate(ctx, task, params)
}

// SystemInfo is the orchestrator summary plus session settings.
type SystemInfo struct {
	orchestrator.Info
	SampleRate  int            `json:"sample_rate"`
	Interpreter string         `json:"interpreter"`
	Model       map[string]any `json:"model"`
}

// Info summarises the session.
func (a *App) Info() SystemInfo {
	interp := "heuristic"
	if a.Online() {
		interp = a.cfg.LLM.Model
	}
	return SystemInfo{
		Info:        a.orch.Info(),
		SampleRate:  a.studio.SampleRate(),
		Interpreter: interp,
		Model:       a.model.Info(),
	}
}

// SaveSession and LoadSession persist the orchestrator session.
func (a *App) SaveSession(path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.orch.SaveSessionFile(path)
}

func (a *App) LoadSession(path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.orch.LoadSessionFile(path)
}

// Render converts the current mix into a rendition for the playback
// pipeline.
func (a *App) Render(name string) audio.Rendition {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.renderLocked(name)
}

func (a *App) renderLocked(name string) audio.Rendition {
	a.renditions++
	id := fmt.Sprintf("r%04d", a.renditions)
	if name == "" {
		name = "mix " + id
	}
	return audio.NewRendition(id, name, a.studio.Mix(), a.studio.SampleRate())
}

// RenderPrompt starts from a clean studio, runs prompt through the pipeline
// and renders the result. It is the auto-DJ's renderer.
func (a *App) RenderPrompt(ctx context.Context, genre, prompt string) (audio.Rendition, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.studio.Reset()
	res, err := a.orch.ProcessMusicRequest(ctx, prompt)
	if err != nil {
		return audio.Rendition{}, err
	}
	if res.Interpretation != nil && res.Interpretation.Genre != "" {
		genre = res.Interpretation.Genre
	}
	r := a.renderLocked("")
	if name := llm.TrackName(genre, r.ID); name != "" {
		r.Name = name
	}
	return r, nil
}
