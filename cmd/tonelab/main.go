// Command tonelab is the studio's command-line front end: one-shot prompts,
// the guided examples, an interactive shell and the streaming server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/satindergrewal/tonelab/internal/app"
	"github.com/satindergrewal/tonelab/internal/config"
	"github.com/satindergrewal/tonelab/internal/errs"
	"github.com/satindergrewal/tonelab/internal/server"
)

// options are the parsed command-line flags.
type options struct {
	interactive bool
	prompt      string
	useLLM      bool
	tempo       int
	sampleRate  int
	info        bool
	example     int
	configPath  string
	wavPath     string
	midiPath    string
	sessionPath string
	serve       string
	usage       func()
}

func main() {
	opts, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	log.SetOutput(logSink(opts, os.Getenv(errs.DebugEnv) != "", os.Stderr))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	os.Exit(run(ctx, opts, os.Stdin, os.Stdout, os.Stderr))
}

func parseFlags(fs *flag.FlagSet, args []string) (options, error) {
	var o options
	fs.BoolVar(&o.interactive, "i", false, "start interactive mode")
	fs.BoolVar(&o.interactive, "interactive", false, "start interactive mode")
	fs.StringVar(&o.prompt, "p", "", "music generation prompt")
	fs.StringVar(&o.prompt, "prompt", "", "music generation prompt")
	fs.BoolVar(&o.useLLM, "c", false, "interpret prompts with the chat-completion API")
	fs.BoolVar(&o.useLLM, "llm", false, "interpret prompts with the chat-completion API")
	fs.IntVar(&o.tempo, "tempo", 0, "studio tempo in BPM (default from config, 120)")
	fs.IntVar(&o.sampleRate, "sample-rate", 0, "audio sample rate in Hz (default from config, 44100)")
	fs.BoolVar(&o.info, "info", false, "show system information")
	fs.IntVar(&o.example, "example", 0, "run example `N` (1-5)")
	fs.StringVar(&o.configPath, "config", "", "YAML config file")
	fs.StringVar(&o.wavPath, "wav", "", "write the final mix to this WAV file")
	fs.StringVar(&o.midiPath, "midi", "", "write generated tracks to this MIDI file")
	fs.StringVar(&o.sessionPath, "session", "", "load the session from this file if it exists and save it on exit")
	fs.StringVar(&o.serve, "serve", "", "serve the HTTP API and audio stream on `addr` (e.g. :8080)")
	fs.Usage = func() {
		w := fs.Output()
		fmt.Fprintln(w, "tonelab - modular AI music production")
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Usage: tonelab [flags]")
		fs.PrintDefaults()
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Examples:")
		fmt.Fprintln(w, "  tonelab --interactive")
		fmt.Fprintln(w, `  tonelab --prompt "upbeat electronic dance track" --wav out.wav`)
		fmt.Fprintln(w, "  tonelab --interactive --llm")
		fmt.Fprintln(w, "  tonelab --example 3")
		fmt.Fprintln(w, "  tonelab --serve :8080")
	}
	o.usage = fs.Usage
	err := fs.Parse(args)
	return o, err
}

// logSink is where package logs go. Serve mode keeps its console log; the
// other modes print only user messages unless debugging.
func logSink(o options, debug bool, stderr io.Writer) io.Writer {
	if debug || o.serve != "" {
		return stderr
	}
	return io.Discard
}

// loadConfig applies the config file and the flag overrides.
func loadConfig(o options) (config.Config, error) {
	cfg := config.Load()
	if o.configPath != "" {
		var err error
		if cfg, err = config.LoadFile(o.configPath); err != nil {
			return cfg, err
		}
	}
	if o.useLLM {
		cfg.LLM.Enabled = true
	}
	if o.tempo != 0 {
		cfg.Studio.Tempo = o.tempo
	}
	if o.sampleRate != 0 {
		cfg.Audio.SampleRate = o.sampleRate
	}
	return cfg, cfg.Validate()
}

// run executes the selected mode and returns the process exit status.
func run(ctx context.Context, o options, stdin io.Reader, stdout, stderr io.Writer) int {
	fail := func(err error) int {
		fmt.Fprintf(stderr, "Error: %s\n", errs.UserMessage(err))
		errs.Report("tonelab", err)
		return 1
	}

	cfg, err := loadConfig(o)
	if err != nil {
		return fail(err)
	}

	if o.example != 0 {
		if err := app.RunExample(ctx, o.example, cfg, stdout); err != nil {
			return fail(err)
		}
		return 0
	}

	if !o.info && o.prompt == "" && !o.interactive && o.serve == "" {
		if o.usage != nil {
			o.usage()
		}
		return 0
	}

	a, err := app.New(cfg)
	if err != nil {
		return fail(err)
	}
	if o.sessionPath != "" {
		if _, statErr := os.Stat(o.sessionPath); statErr == nil {
			if err := a.LoadSession(o.sessionPath); err != nil {
				return fail(err)
			}
			fmt.Fprintf(stdout, "Session loaded from %s\n", o.sessionPath)
		}
	}

	switch {
	case o.info:
		b, _ := json.MarshalIndent(a.Info(), "", "  ")
		fmt.Fprintf(stdout, "System Information:\n%s\n", b)
	case o.serve != "":
		srv, err := server.New(a)
		if err != nil {
			return fail(err)
		}
		if err := srv.Run(ctx, o.serve); err != nil {
			return fail(err)
		}
	case o.prompt != "":
		res, err := a.Prompt(ctx, o.prompt)
		b, _ := json.MarshalIndent(res, "", "  ")
		fmt.Fprintf(stdout, "Processing: %s\nResult:\n%s\n", o.prompt, b)
		if err != nil {
			return fail(err)
		}
	case o.interactive:
		if err := newShell(a, stdout).run(ctx, stdin); err != nil {
			return fail(err)
		}
	}

	if err := exportOutputs(a, o, stdout); err != nil {
		return fail(err)
	}
	if o.sessionPath != "" {
		if err := a.SaveSession(o.sessionPath); err != nil {
			return fail(err)
		}
		fmt.Fprintf(stdout, "Session saved to %s\n", o.sessionPath)
	}
	return 0
}

// exportOutputs writes the mix and the note data where the flags ask.
func exportOutputs(a *app.App, o options, stdout io.Writer) error {
	if o.wavPath != "" {
		if err := writeFile(o.wavPath, func(f *os.File) error { return a.Studio().WriteWAV(f) }); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Mix written to %s\n", o.wavPath)
	}
	if o.midiPath != "" {
		if err := writeFile(o.midiPath, func(f *os.File) error { return a.Studio().WriteMIDI(f) }); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "MIDI written to %s\n", o.midiPath)
	}
	return nil
}

func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}
