package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/satindergrewal/tonelab/internal/config"
	"github.com/satindergrewal/tonelab/internal/errs"
	"github.com/satindergrewal/tonelab/internal/llm"
	"github.com/satindergrewal/tonelab/internal/model"
	"github.com/satindergrewal/tonelab/internal/studio"
)

// fakeInterpreter returns a fixed interpretation or error.
type fakeInterpreter struct {
	in    llm.Interpretation
	err   error
	calls int
}

func (f *fakeInterpreter) Name() string { return llm.Name }

func (f *fakeInterpreter) Interpret(_ context.Context, prompt string, _ map[string]any) (llm.Interpretation, error) {
	f.calls++
	return f.in, f.err
}

// failingGenerator always fails.
type failingGenerator struct{}

func (failingGenerator) Name() string { return model.Name }

func (failingGenerator) Generate(context.Context, llm.Interpretation) (model.Artifact, error) {
	return model.Artifact{}, fmt.Errorf("decoder: %w", errs.ErrInvalidState)
}

var lofi = llm.Interpretation{
	Genre:         "lo-fi hip hop",
	Tempo:         85,
	Mood:          "calm",
	Instruments:   []string{"piano", "drums"},
	TimeSignature: [2]int{4, 4},
	Key:           "A minor",
}

func newStudio(t *testing.T) *studio.Studio {
	t.Helper()
	s, err := studio.New(8000, 2)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func newModel(t *testing.T) *model.Model {
	t.Helper()
	m, err := model.New(config.ModelConfig{Type: "fc", LatentDim: 4, SeqLen: 8, NMels: 16, NFFT: 256, HopLength: 64})
	if err != nil {
		t.Fatal(err)
	}
	return m
}

// newPipeline registers the three pipeline modules.
func newPipeline(t *testing.T, interp Module, opts ...Option) (*Orchestrator, *studio.Studio) {
	t.Helper()
	o := New(opts...)
	s := newStudio(t)
	for _, m := range []Module{interp, s, newModel(t)} {
		if err := o.Register(m); err != nil {
			t.Fatal(err)
		}
	}
	return o, s
}

// dispatched returns the names of non-system log entries.
func dispatched(o *Orchestrator) []string {
	var out []string
	for _, ev := range o.EventLog(0) {
		if !ev.System {
			out = append(out, ev.Name)
		}
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// --- Full run ---

func TestProcessMusicRequest(t *testing.T) {
	o, s := newPipeline(t, &fakeInterpreter{in: lofi})

	res, err := o.ProcessMusicRequest(context.Background(), "make a chill lofi beat")
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK() || res.Failed != "" {
		t.Errorf("FailedStep = %s, want none", res.FailedStep)
	}
	want := []string{
		"music_request_started",
		"interpretation_complete",
		"studio_ready",
		"generation_complete",
		"music_request_completed",
	}
	if got := dispatched(o); !equalStrings(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	if s.Tempo() != 85 {
		t.Errorf("studio tempo = %d, want 85", s.Tempo())
	}
	if res.StudioSetup == nil || res.StudioSetup.Tempo != 85 || len(res.StudioSetup.Tracks) != 2 {
		t.Errorf("studio setup = %+v", res.StudioSetup)
	}
	if res.Generation == nil || res.Generation.Genre != "lo-fi hip hop" || len(res.Generation.Notes) == 0 {
		t.Errorf("generation = %+v", res.Generation)
	}
	if res.Mix == nil || res.MixSamples != res.Mix.Len() || res.MixSamples < 1 {
		t.Errorf("mix samples = %d", res.MixSamples)
	}
	for name, st := range o.States() {
		if st != Ready {
			t.Errorf("%s state = %s, want ready", name, st)
		}
	}
	projects, _ := o.SessionData()["projects"].([]any)
	if len(projects) != 1 {
		t.Fatalf("projects = %v, want one entry", projects)
	}
	if p := projects[0].(map[string]any); p["request"] != "make a chill lofi beat" || p["genre"] != "lo-fi hip hop" {
		t.Errorf("project = %v", p)
	}
}

func TestProcessMusicRequestPayloads(t *testing.T) {
	o, _ := newPipeline(t, &fakeInterpreter{in: lofi})
	var genre any
	var tracks any
	o.On("interpretation_complete", func(ev Event) error { genre = ev.Payload["genre"]; return nil })
	o.On("studio_ready", func(ev Event) error { tracks = ev.Payload["tracks"]; return nil })
	var art model.Artifact
	o.On("generation_complete", func(ev Event) error {
		art, _ = ev.Payload["artifact"].(model.Artifact)
		return nil
	})

	if _, err := o.ProcessMusicRequest(context.Background(), "lofi"); err != nil {
		t.Fatal(err)
	}
	if genre != "lo-fi hip hop" {
		t.Errorf("interpretation genre = %v", genre)
	}
	if ids, _ := tracks.([]string); len(ids) != 2 {
		t.Errorf("studio_ready tracks = %v", tracks)
	}
	if art.Tempo != 85 || len(art.Notes) == 0 {
		t.Errorf("artifact = %+v", art)
	}
}

func TestProcessMusicRequestWithHeuristic(t *testing.T) {
	o, s := newPipeline(t, llm.Heuristic{})
	res, err := o.ProcessMusicRequest(context.Background(), "slow jazz in 3/4 at 90 bpm")
	if err != nil {
		t.Fatal(err)
	}
	if res.Interpretation.Genre != "jazz" {
		t.Errorf("genre = %q, want jazz", res.Interpretation.Genre)
	}
	if s.Tempo() != 90 {
		t.Errorf("tempo = %d, want 90", s.Tempo())
	}
	if num, den := s.TimeSignature(); num != 3 || den != 4 {
		t.Errorf("time signature = %d/%d, want 3/4", num, den)
	}
}

// --- Failures ---

func TestInterpretFailureStopsPipeline(t *testing.T) {
	interp := &fakeInterpreter{err: fmt.Errorf("llm down: %w", errs.ErrExternalFailure)}
	o, s := newPipeline(t, interp)

	res, err := o.ProcessMusicRequest(context.Background(), "anything")
	if !errors.Is(err, errs.ErrExternalFailure) {
		t.Errorf("error = %v, want ErrExternalFailure", err)
	}
	if res.FailedStep != StepInterpret || res.Failed != "interpret" {
		t.Errorf("FailedStep = %s, want interpret", res.FailedStep)
	}
	if res.Interpretation != nil || res.StudioSetup != nil {
		t.Error("later step outputs present after interpret failed")
	}
	if got := dispatched(o); !equalStrings(got, []string{"music_request_started"}) {
		t.Errorf("events = %v, want only music_request_started", got)
	}
	if st, _ := o.State(StudioModule); st != Idle {
		t.Errorf("studio state = %s, want idle", st)
	}
	if st, _ := o.State(InterpreterModule); st != Error {
		t.Errorf("llm state = %s, want error", st)
	}
	if s.Tempo() != 120 {
		t.Errorf("studio tempo changed to %d", s.Tempo())
	}

	log := o.EventLog(0)
	last := log[len(log)-1]
	if last.Name != "request_failed" || last.Payload["step"] != "interpret" {
		t.Errorf("last record = %+v, want request_failed at interpret", last)
	}
}

func TestRetryAfterFailure(t *testing.T) {
	interp := &fakeInterpreter{err: errs.ErrExternalFailure}
	o, _ := newPipeline(t, interp)
	if _, err := o.ProcessMusicRequest(context.Background(), "x"); err == nil {
		t.Fatal("expected failure")
	}
	interp.err = nil
	interp.in = lofi
	if _, err := o.ProcessMusicRequest(context.Background(), "x"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if st, _ := o.State(InterpreterModule); st != Ready {
		t.Errorf("llm state = %s, want ready", st)
	}
	if interp.calls != 2 {
		t.Errorf("interpreter calls = %d, want 2", interp.calls)
	}
}

func TestMissingGenerator(t *testing.T) {
	o := New()
	o.Register(&fakeInterpreter{in: lofi})
	o.Register(newStudio(t))

	res, err := o.ProcessMusicRequest(context.Background(), "x")
	if !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
	if res.FailedStep != StepGenerate {
		t.Errorf("FailedStep = %s, want generate", res.FailedStep)
	}
	if res.StudioSetup == nil {
		t.Error("studio setup lost")
	}
}

func TestGenerationFailure(t *testing.T) {
	o := New()
	o.Register(&fakeInterpreter{in: lofi})
	o.Register(newStudio(t))
	o.Register(failingGenerator{})

	res, err := o.ProcessMusicRequest(context.Background(), "x")
	if !errors.Is(err, errs.ErrInvalidState) {
		t.Errorf("error = %v, want ErrInvalidState", err)
	}
	if res.FailedStep != StepGenerate {
		t.Errorf("FailedStep = %s, want generate", res.FailedStep)
	}
	if st, _ := o.State(GeneratorModule); st != Error {
		t.Errorf("model state = %s, want error", st)
	}
	if countEvents(o.EventLog(0), "generation_complete") != 0 {
		t.Error("generation_complete emitted after failure")
	}
}

func TestBadTimeSignatureFailsStudioStep(t *testing.T) {
	in := lofi
	in.TimeSignature = [2]int{3, 5}
	o, _ := newPipeline(t, &fakeInterpreter{in: in})

	res, err := o.ProcessMusicRequest(context.Background(), "x")
	if !errors.Is(err, errs.ErrInvalidArgument) {
		t.Errorf("error = %v, want ErrInvalidArgument", err)
	}
	if res.FailedStep != StepStudio {
		t.Errorf("FailedStep = %s, want studio", res.FailedStep)
	}
	if st, _ := o.State(StudioModule); st != Error {
		t.Errorf("studio state = %s, want error", st)
	}
}

func TestSubscriberFailureStopsPipeline(t *testing.T) {
	o, _ := newPipeline(t, &fakeInterpreter{in: lofi})
	o.On("studio_ready", func(Event) error { return errors.New("listener broke") })

	res, err := o.ProcessMusicRequest(context.Background(), "x")
	if err == nil {
		t.Fatal("expected error")
	}
	if res.FailedStep != StepStudio {
		t.Errorf("FailedStep = %s, want studio", res.FailedStep)
	}
	if res.Generation != nil {
		t.Error("generation ran after subscriber failure")
	}
	if st, _ := o.State(StudioModule); st != Error {
		t.Errorf("studio state = %s, want error", st)
	}
	if st, _ := o.State(InterpreterModule); st != Ready {
		t.Errorf("interpreter state = %s, want ready", st)
	}
}

func TestSubscriberFailureMarksGeneratorError(t *testing.T) {
	o, _ := newPipeline(t, &fakeInterpreter{in: lofi})
	o.On("generation_complete", func(Event) error { return errors.New("listener broke") })

	res, err := o.ProcessMusicRequest(context.Background(), "x")
	if err == nil || res.FailedStep != StepGenerate {
		t.Fatalf("err = %v, FailedStep = %s, want generate", err, res.FailedStep)
	}
	if st, _ := o.State(GeneratorModule); st != Error {
		t.Errorf("generator state = %s, want error", st)
	}
	if st, _ := o.State(StudioModule); st != Ready {
		t.Errorf("studio state = %s, want ready", st)
	}
}

func TestIsolatedSubscriberFailureDoesNotStopPipeline(t *testing.T) {
	o, _ := newPipeline(t, &fakeInterpreter{in: lofi}, WithFailurePolicy(Isolate))
	o.On("studio_ready", func(Event) error { return errors.New("listener broke") })

	res, err := o.ProcessMusicRequest(context.Background(), "x")
	if err != nil || !res.OK() {
		t.Errorf("err = %v, FailedStep = %s", err, res.FailedStep)
	}
	if countEvents(o.EventLog(0), "callback_error") != 1 {
		t.Error("callback_error not recorded")
	}
}

func TestWrongCapability(t *testing.T) {
	o := New()
	o.Register(stubModule{llm.Name})
	res, err := o.ProcessMusicRequest(context.Background(), "x")
	if !errors.Is(err, errs.ErrInvalidState) {
		t.Errorf("error = %v, want ErrInvalidState", err)
	}
	if res.FailedStep != StepInterpret {
		t.Errorf("FailedStep = %s, want interpret", res.FailedStep)
	}
}

func TestEmptyRequest(t *testing.T) {
	o, _ := newPipeline(t, &fakeInterpreter{in: lofi})
	before := len(o.EventLog(0))
	if _, err := o.ProcessMusicRequest(context.Background(), "  "); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Errorf("error = %v, want ErrInvalidArgument", err)
	}
	if len(o.EventLog(0)) != before {
		t.Error("empty request was logged")
	}
}

func TestCollaborateWithRealModules(t *testing.T) {
	o, _ := newPipeline(t, llm.Heuristic{})
	res, err := o.Collaborate(context.Background(), "compose", map[string]any{"interpretation": lofi})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := res.Results[StudioModule].(studio.State); !ok {
		t.Errorf("studio result = %T, want studio.State", res.Results[StudioModule])
	}
	if _, ok := res.Results[GeneratorModule].(model.Artifact); !ok {
		t.Errorf("model result = %T, want model.Artifact", res.Results[GeneratorModule])
	}
}

func TestStepString(t *testing.T) {
	for step, want := range map[Step]string{
		StepNone: "none", StepInterpret: "interpret", StepStudio: "studio",
		StepGenerate: "generate", StepMix: "mix",
	} {
		if got := step.String(); got != want {
			t.Errorf("Step(%d).String() = %q, want %q", int(step), got, want)
		}
	}
}
