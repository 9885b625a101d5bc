package app

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/satindergrewal/tonelab/internal/audio"
	"github.com/satindergrewal/tonelab/internal/config"
	"github.com/satindergrewal/tonelab/internal/errs"
)

// Example is one of the guided demos the CLI can run.
type Example struct {
	Title string
	Run   func(ctx context.Context, cfg config.Config, w io.Writer) error
}

// Examples are numbered from 1.
var Examples = []Example{
	{"Basic Workflow", exampleBasicWorkflow},
	{"Creative Direction", exampleCreativeDirection},
	{"Effects Processing", exampleEffects},
	{"Complete Composition", exampleComposition},
	{"Module Orchestration", exampleOrchestration},
}

// RunExample runs example n on a fresh session built from cfg.
func RunExample(ctx context.Context, n int, cfg config.Config, w io.Writer) error {
	if n < 1 || n > len(Examples) {
		return fmt.Errorf("example %d not found, available: 1-%d: %w", n, len(Examples), errs.ErrInvalidArgument)
	}
	ex := Examples[n-1]
	rule := strings.Repeat("=", 60)
	fmt.Fprintf(w, "%s\nExample %d: %s\n%s\n", rule, n, ex.Title, rule)
	return ex.Run(ctx, cfg, w)
}

func exampleBasicWorkflow(_ context.Context, cfg config.Config, w io.Writer) error {
	a, err := New(cfg, WithLLM(false))
	if err != nil {
		return err
	}
	if err := a.SetTempo(120); err != nil {
		return err
	}
	if err := a.Studio().SetTimeSignature(4, 4); err != nil {
		return err
	}
	fmt.Fprintln(w, "Studio configured: 120 BPM, 4/4 time")

	fmt.Fprintln(w, "Generating melody track...")
	if _, err := a.GenerateTrack("track_0", "C D E F G A B C5"); err != nil {
		return err
	}
	fmt.Fprintln(w, "Generating bass track...")
	if _, err := a.GenerateTrack("track_1", "C3 G3 C3 G3"); err != nil {
		return err
	}

	mix := a.Mix()
	fmt.Fprintf(w, "Mixed output: 2 x %d stereo samples\n", mix.Len())
	fmt.Fprintf(w, "  Duration: %.2f seconds\n", mix.Duration(a.Studio().SampleRate()).Seconds())
	return nil
}

func exampleCreativeDirection(ctx context.Context, cfg config.Config, w io.Writer) error {
	a, err := New(cfg)
	if err != nil {
		return err
	}
	if !a.Online() {
		fmt.Fprintln(w, "LLM not available, using the offline interpreter")
	}
	res, err := a.Prompt(ctx, "Create an upbeat electronic track with a catchy bass line and synth leads")
	if res.Interpretation != nil {
		in := res.Interpretation
		fmt.Fprintf(w, "  Genre: %s\n", in.Genre)
		fmt.Fprintf(w, "  Tempo: %d BPM\n", in.Tempo)
		fmt.Fprintf(w, "  Mood: %s\n", in.Mood)
		fmt.Fprintf(w, "  Instruments: %s\n", strings.Join(in.Instruments, ", "))
	}
	return err
}

func exampleEffects(_ context.Context, cfg config.Config, w io.Writer) error {
	a, err := New(cfg, WithLLM(false))
	if err != nil {
		return err
	}
	if _, err := a.GenerateTrack("track_0", "E G B E5 G5 B5"); err != nil {
		return err
	}
	fmt.Fprintln(w, "Generated lead track")

	fmt.Fprintln(w, "Applying effects...")
	steps := []struct {
		track, effect string
		params        audio.Params
	}{
		{"track_0", "reverb", audio.Params{"decay": 0.5}},
		{"track_0", "delay", audio.Params{"delay_time": 0.25, "feedback": 0.3}},
		{"track_0", "compression", audio.Params{"threshold": 0.6, "ratio": 4}},
	}
	for _, s := range steps {
		if err := a.AddEffect(s.track, s.effect, s.params); err != nil {
			return err
		}
		fmt.Fprintf(w, "  Applied %s to %s\n", s.effect, s.track)
	}

	if _, err := a.GenerateTrack("track_1", "E3 E3 E3 E3"); err != nil {
		return err
	}
	if err := a.AddEffect("track_1", "reverb", audio.Params{"decay": 0.3}); err != nil {
		return err
	}

	a.Mix()
	st := a.State()
	effects := 0
	for _, t := range st.Tracks {
		effects += len(t.Effects)
	}
	fmt.Fprintln(w, "Final mix created")
	fmt.Fprintf(w, "  Master volume: %.1f\n", st.MasterVolume)
	fmt.Fprintf(w, "  Applied %d effects across %d tracks\n", effects, len(st.Active()))
	return nil
}

func exampleComposition(ctx context.Context, cfg config.Config, w io.Writer) error {
	a, err := New(cfg, WithLLM(false))
	if err != nil {
		return err
	}
	comp, err := a.CreateComposition(ctx, "Sunset Dreams", "Ambient electronic with warm pads and soft piano")
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Composition: %s\n", comp.Name)
	fmt.Fprintf(w, "  Description: %s\n", comp.Description)

	fmt.Fprintln(w, "Building composition...")
	layers := []struct {
		track, notes, effect string
		params               audio.Params
	}{
		{"track_0", "C C C C", "reverb", audio.Params{"decay": 0.7}},
		{"track_1", "E G B D5 E5", "delay", audio.Params{"delay_time": 0.3}},
		{"track_2", "C3 G3", "", nil},
	}
	for _, l := range layers {
		if _, err := a.GenerateTrack(l.track, l.notes); err != nil {
			return err
		}
		if l.effect != "" {
			if err := a.AddEffect(l.track, l.effect, l.params); err != nil {
				return err
			}
		}
	}

	st := a.State()
	fmt.Fprintln(w, "Composition complete")
	fmt.Fprintf(w, "  Tracks: %d\n", len(st.Active()))
	fmt.Fprintf(w, "  Tempo: %d BPM\n", st.Tempo)
	return nil
}

func exampleOrchestration(ctx context.Context, cfg config.Config, w io.Writer) error {
	a, err := New(cfg, WithLLM(false))
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "Modules in orchestrator:")
	states := a.Orchestrator().States()
	for _, name := range a.Orchestrator().Modules() {
		fmt.Fprintf(w, "  - %s: %s\n", name, states[name])
	}

	fmt.Fprintln(w, "Initiating module collaboration...")
	res, err := a.Collaborate(ctx, "compose", map[string]any{
		"description":      "electronic",
		"duration_seconds": 60,
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "Collaboration complete")
	fmt.Fprintf(w, "  Modules involved: %s\n", strings.Join(res.Modules, ", "))

	events := a.Orchestrator().EventLog(5)
	fmt.Fprintf(w, "Recent events (%d):\n", len(events))
	for _, ev := range events[max(0, len(events)-3):] {
		fmt.Fprintf(w, "  - %s\n", ev.Name)
	}
	return nil
}
