package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/satindergrewal/tonelab/internal/audio"
	"github.com/satindergrewal/tonelab/internal/errs"
	"github.com/satindergrewal/tonelab/internal/llm"
	"github.com/satindergrewal/tonelab/internal/model"
)

// Names the pipeline looks modules up by.
const (
	InterpreterModule = llm.Name
	StudioModule      = "studio"
	GeneratorModule   = model.Name
)

// Interpreter turns a request into an interpretation.
type Interpreter interface {
	Module
	Interpret(ctx context.Context, prompt string, project map[string]any) (llm.Interpretation, error)
}

// Generator turns an interpretation into an artifact.
type Generator interface {
	Module
	Generate(ctx context.Context, in llm.Interpretation) (model.Artifact, error)
}

// Studio is the session the pipeline prepares and mixes.
type Studio interface {
	Module
	SetTempo(bpm int) error
	Tempo() int
	SetTimeSignature(num, den int) error
	TimeSignature() (num, den int)
	TrackIDs() []string
	Mix() audio.Stereo
}

// Step identifies a pipeline stage.
type Step int

const (
	StepNone Step = iota
	StepInterpret
	StepStudio
	StepGenerate
	StepMix
)

func (s Step) String() string {
	switch s {
	case StepInterpret:
		return "interpret"
	case StepStudio:
		return "studio"
	case StepGenerate:
		return "generate"
	case StepMix:
		return "mix"
	}
	return "none"
}

// StudioSetup is what step 2 left the session at.
type StudioSetup struct {
	Tempo         int      `json:"tempo"`
	TimeSignature [2]int   `json:"time_signature"`
	Tracks        []string `json:"tracks"`
}

// RequestResult holds the output of every completed step. FailedStep is
// StepNone when the whole pipeline ran.
type RequestResult struct {
	Request        string              `json:"request"`
	Interpretation *llm.Interpretation `json:"interpretation,omitempty"`
	StudioSetup    *StudioSetup        `json:"studio_setup,omitempty"`
	Generation     *model.Artifact     `json:"generation,omitempty"`
	Mix            *audio.Stereo       `json:"-"`
	MixSamples     int                 `json:"mix_samples,omitempty"`
	FailedStep     Step                `json:"-"`
	Failed         string              `json:"failed_step,omitempty"`
}

// OK reports whether every step completed.
func (r RequestResult) OK() bool { return r.FailedStep == StepNone }

// ProcessMusicRequest runs the four-step pipeline: interpret the request,
// prepare the studio from the interpretation, generate material, mix. It
// emits music_request_started and one event after each step. The first
// failing step moves its module to Error, stops the pipeline and is
// reported in the result alongside the outputs of the steps before it.
func (o *Orchestrator) ProcessMusicRequest(ctx context.Context, request string) (RequestResult, error) {
	res := RequestResult{Request: request}
	if strings.TrimSpace(request) == "" {
		return res, fmt.Errorf("empty request: %w", errs.ErrInvalidArgument)
	}
	if err := o.Emit("music_request_started", map[string]any{"request": request}); err != nil {
		return res, err
	}

	fail := func(step Step, module string, err error) (RequestResult, error) {
		res.FailedStep = step
		res.Failed = step.String()
		if st, serr := o.State(module); serr == nil && st != Error {
			if serr := o.SetState(module, Error); serr != nil {
				log.Printf("Module %s: %v", module, serr)
			}
		}
		o.record("request_failed", map[string]any{
			"request": request,
			"step":    step.String(),
			"module":  module,
			"error":   err.Error(),
		})
		return res, fmt.Errorf("step %d (%s): %w", step, step, err)
	}

	// 1. Interpret.
	interp, err := lookup[Interpreter](o, InterpreterModule)
	if err != nil {
		return fail(StepInterpret, InterpreterModule, err)
	}
	var project map[string]any
	if s, err := lookup[Studio](o, StudioModule); err == nil {
		project = map[string]any{"tempo": s.Tempo(), "tracks": len(s.TrackIDs())}
	}
	if err := o.begin(InterpreterModule); err != nil {
		return fail(StepInterpret, InterpreterModule, err)
	}
	in, err := interp.Interpret(ctx, request, project)
	o.finish(InterpreterModule, err)
	if err != nil {
		return fail(StepInterpret, InterpreterModule, err)
	}
	res.Interpretation = &in
	if err := o.Emit("interpretation_complete", map[string]any{
		"genre":           in.Genre,
		"tempo":           in.Tempo,
		"mood":            in.Mood,
		"instruments":     in.Instruments,
		"production_tips": in.ProductionTips,
	}); err != nil {
		return fail(StepInterpret, InterpreterModule, err)
	}

	// 2. Ready the studio.
	studio, err := lookup[Studio](o, StudioModule)
	if err != nil {
		return fail(StepStudio, StudioModule, err)
	}
	if err := o.begin(StudioModule); err != nil {
		return fail(StepStudio, StudioModule, err)
	}
	err = applyInterpretation(studio, in)
	o.finish(StudioModule, err)
	if err != nil {
		return fail(StepStudio, StudioModule, err)
	}
	num, den := studio.TimeSignature()
	setup := StudioSetup{Tempo: studio.Tempo(), TimeSignature: [2]int{num, den}, Tracks: studio.TrackIDs()}
	res.StudioSetup = &setup
	if err := o.Emit("studio_ready", map[string]any{
		"tempo":          setup.Tempo,
		"time_signature": setup.TimeSignature,
		"tracks":         setup.Tracks,
	}); err != nil {
		return fail(StepStudio, StudioModule, err)
	}

	// 3. Generate.
	gen, err := lookup[Generator](o, GeneratorModule)
	if err != nil {
		return fail(StepGenerate, GeneratorModule, err)
	}
	if err := o.begin(GeneratorModule); err != nil {
		return fail(StepGenerate, GeneratorModule, err)
	}
	art, err := gen.Generate(ctx, in)
	o.finish(GeneratorModule, err)
	if err != nil {
		return fail(StepGenerate, GeneratorModule, err)
	}
	res.Generation = &art
	if err := o.Emit("generation_complete", map[string]any{
		"genre":    art.Genre,
		"tempo":    art.Tempo,
		"key":      art.Key,
		"seed":     art.Seed,
		"notes":    len(art.Notes),
		"artifact": art,
	}); err != nil {
		return fail(StepGenerate, GeneratorModule, err)
	}

	// 4. Mix.
	if err := o.begin(StudioModule); err != nil {
		return fail(StepMix, StudioModule, err)
	}
	mix := studio.Mix()
	o.finish(StudioModule, nil)
	res.Mix = &mix
	res.MixSamples = mix.Len()
	if err := o.Emit("music_request_completed", map[string]any{
		"request": request,
		"genre":   in.Genre,
		"tempo":   setup.Tempo,
		"samples": mix.Len(),
		"peak":    mix.Peak(),
	}); err != nil {
		return fail(StepMix, StudioModule, err)
	}

	o.addProject(request, in.Genre)
	return res, nil
}

func applyInterpretation(s Studio, in llm.Interpretation) error {
	if in.Tempo > 0 {
		if err := s.SetTempo(in.Tempo); err != nil {
			return err
		}
	}
	if in.TimeSignature != [2]int{} {
		if err := s.SetTimeSignature(in.TimeSignature[0], in.TimeSignature[1]); err != nil {
			return err
		}
	}
	return nil
}

// lookup finds name and checks it offers capability T.
func lookup[T Module](o *Orchestrator, name string) (T, error) {
	var zero T
	m, err := o.Module(name)
	if err != nil {
		return zero, err
	}
	t, ok := m.(T)
	if !ok {
		return zero, fmt.Errorf("module %q (%T) cannot serve this step: %w", name, m, errs.ErrInvalidState)
	}
	return t, nil
}

func (o *Orchestrator) addProject(request, genre string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	projects, _ := o.session["projects"].([]any)
	o.session["projects"] = append(projects, map[string]any{
		"request":      request,
		"genre":        genre,
		"completed_at": o.now().Format(time.RFC3339Nano),
	})
}
