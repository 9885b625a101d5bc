package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/satindergrewal/tonelab/internal/app"
	"github.com/satindergrewal/tonelab/internal/audio"
	"github.com/satindergrewal/tonelab/internal/errs"
)

// shell is the interactive mode: one command per line until quit or EOF.
type shell struct {
	app *app.App
	out io.Writer
}

func newShell(a *app.App, out io.Writer) *shell {
	return &shell{app: a, out: out}
}

var shellHelp = []struct{ usage, desc string }{
	{"help", "Show available commands"},
	{"status", "Show studio status"},
	{"tempo <bpm>", "Set tempo"},
	{"generate <track> <notes>", "Generate track (e.g. 'generate track_0 C D E F')"},
	{"effect <track> <type> [k=v ...]", "Add effect (reverb/delay/compression/normalize)"},
	{"mute <track>", "Mute a track"},
	{"unmute <track>", "Unmute a track"},
	{"volume <track> <0-1>", "Set track volume"},
	{"pan <track> <-1..1>", "Set track pan"},
	{"mix", "Mix and show result"},
	{"prompt <text>", "Process music prompt"},
	{"quit", "Exit"},
}

func (s *shell) run(ctx context.Context, in io.Reader) error {
	rule := strings.Repeat("=", 60)
	fmt.Fprintf(s.out, "%s\ntonelab - Interactive Mode\n%s\n", rule, rule)
	fmt.Fprintln(s.out, "Type 'help' for available commands, 'quit' to exit")

	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(s.out, "> ")
		if !sc.Scan() {
			fmt.Fprintln(s.out, "\nGoodbye!")
			return sc.Err()
		}
		if err := ctx.Err(); err != nil {
			return nil
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "quit") || strings.EqualFold(line, "exit") {
			fmt.Fprintln(s.out, "Goodbye!")
			return nil
		}
		if err := s.exec(ctx, line); err != nil {
			var ue usageError
			if errors.As(err, &ue) {
				fmt.Fprintln(s.out, ue.Error())
				continue
			}
			fmt.Fprintf(s.out, "Error: %s\n", errs.UserMessage(err))
		}
	}
}

func (s *shell) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "help":
		fmt.Fprintln(s.out, "Available commands:")
		for _, h := range shellHelp {
			fmt.Fprintf(s.out, "  %-32s - %s\n", h.usage, h.desc)
		}
	case "status":
		st := s.app.State()
		fmt.Fprintf(s.out, "Tempo: %d BPM\n", st.Tempo)
		fmt.Fprintf(s.out, "Time signature: %d/%d\n", st.TimeSignature[0], st.TimeSignature[1])
		fmt.Fprintf(s.out, "Tracks: %d (%d with audio)\n", st.NumTracks, len(st.Active()))
		for _, t := range st.Tracks {
			if t.Samples == 0 {
				continue
			}
			muted := ""
			if t.Muted {
				muted = " muted"
			}
			fmt.Fprintf(s.out, "  %s: %.2fs vol %.2f pan %+.2f, %d effects%s\n",
				t.Name, t.Seconds, t.Volume, t.Pan, len(t.Effects), muted)
		}
	case "tempo":
		if len(args) != 1 {
			return usageErr("tempo <bpm>")
		}
		bpm, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("tempo %q: %w", args[0], errs.ErrInvalidArgument)
		}
		if err := s.app.SetTempo(bpm); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Tempo set to %d BPM\n", bpm)
	case "generate":
		if len(args) < 2 {
			return usageErr("generate <track> <notes>")
		}
		n, err := s.app.GenerateTrack(args[0], strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Generated %s with %d notes\n", args[0], n)
	case "effect":
		if len(args) < 2 {
			return usageErr("effect <track> <type> [k=v ...]")
		}
		params, err := parseParams(args[2:])
		if err != nil {
			return err
		}
		if err := s.app.AddEffect(args[0], args[1], params); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Applied %s to %s\n", args[1], args[0])
	case "mute", "unmute":
		if len(args) != 1 {
			return usageErr(cmd + " <track>")
		}
		if err := s.app.SetMuted(args[0], cmd == "mute"); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%s %sd\n", args[0], cmd)
	case "volume", "pan":
		if len(args) != 2 {
			return usageErr(cmd + " <track> <value>")
		}
		v, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("%s %q: %w", cmd, args[1], errs.ErrInvalidArgument)
		}
		if cmd == "volume" {
			err = s.app.SetVolume(args[0], v)
		} else {
			err = s.app.SetPan(args[0], v)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%s %s set to %.2f\n", args[0], cmd, v)
	case "mix":
		mix := s.app.Mix()
		fmt.Fprintf(s.out, "Mixed: 2 x %d stereo samples\n", mix.Len())
		fmt.Fprintf(s.out, "  Duration: %.2fs\n", mix.Duration(s.app.Studio().SampleRate()).Seconds())
	case "prompt":
		text := strings.TrimSpace(line[len(fields[0]):])
		res, err := s.app.Prompt(ctx, text)
		if in := res.Interpretation; in != nil {
			fmt.Fprintln(s.out, "Interpretation:")
			fmt.Fprintf(s.out, "  Genre: %s\n", in.Genre)
			fmt.Fprintf(s.out, "  Tempo: %d\n", in.Tempo)
			fmt.Fprintf(s.out, "  Mood: %s\n", in.Mood)
		}
		if err != nil {
			return err
		}
		if track := s.app.LastGeneratedTrack(); track != "" {
			fmt.Fprintf(s.out, "Melody rendered on %s\n", track)
		}
	default:
		return usageError(fmt.Sprintf("Unknown command: %s (type 'help')", fields[0]))
	}
	return nil
}

// parseParams reads effect parameters written as key=value.
func parseParams(args []string) (audio.Params, error) {
	if len(args) == 0 {
		return nil, nil
	}
	params := make(audio.Params, len(args))
	for _, kv := range args {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("effect parameter %q is not key=value: %w", kv, errs.ErrInvalidArgument)
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("effect parameter %s=%q: %w", k, v, errs.ErrInvalidArgument)
		}
		params[k] = f
	}
	return params, nil
}

// usageError is a malformed command line, shown to the user verbatim.
type usageError string

func (e usageError) Error() string { return string(e) }
func (e usageError) Unwrap() error { return errs.ErrInvalidArgument }

func usageErr(usage string) error {
	return usageError("Usage: " + usage)
}
