// Command tonelab-infer runs one WAV file through a trained autoencoder and
// saves the reconstructed mel spectrogram, optionally as audio too.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/satindergrewal/tonelab/internal/audio"
	"github.com/satindergrewal/tonelab/internal/config"
	"github.com/satindergrewal/tonelab/internal/errs"
	"github.com/satindergrewal/tonelab/internal/model"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	def := config.Load().Model
	fs := flag.NewFlagSet("tonelab-infer", flag.ContinueOnError)
	fs.SetOutput(stderr)
	weights := fs.String("model", "", "trained weights file (required)")
	output := fs.String("output", "reconstructed.mel", "output mel matrix (gonum binary format)")
	saveWAV := fs.Bool("wav", false, "also reconstruct audio with Griffin-Lim next to -output")
	nMels := fs.Int("n-mels", def.NMels, "mel bands")
	seqLen := fs.Int("seq-len", def.SeqLen, "frames per patch")
	latent := fs.Int("latent", def.LatentDim, "latent dimension")
	nfft := fs.Int("n-fft", def.NFFT, "FFT size")
	hop := fs.Int("hop-length", def.HopLength, "STFT hop length")
	iters := fs.Int("gl-iter", 100, "Griffin-Lim iterations")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: tonelab-infer -model <weights> [flags] <input.wav>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 || *weights == "" {
		fs.Usage()
		return 2
	}

	cfg := config.ModelConfig{
		Type: "fc", NMels: *nMels, SeqLen: *seqLen, LatentDim: *latent,
		NFFT: *nfft, HopLength: *hop, WeightsPath: *weights,
	}
	if err := infer(fs.Arg(0), *output, *saveWAV, *iters, cfg, stdout); err != nil {
		fmt.Fprintf(stderr, "Error: %s\n", errs.UserMessage(err))
		errs.Report("tonelab-infer", err)
		return 1
	}
	return 0
}

func infer(input, output string, saveWAV bool, iters int, cfg config.ModelConfig, stdout io.Writer) error {
	m, err := model.New(cfg)
	if err != nil {
		return err
	}
	samples, sr, err := audio.ReadWAVFile(input)
	if err != nil {
		return err
	}
	patch, err := m.ExtractFeatures(samples, sr)
	if err != nil {
		return err
	}
	rec, err := m.Reconstruct(patch)
	if err != nil {
		return err
	}
	if err := writeMatrix(output, rec); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Saved reconstructed mel spectrogram to %s\n", output)

	if !saveWAV {
		return nil
	}
	y, err := m.Render(rec, iters)
	if err != nil {
		return err
	}
	wavPath := strings.TrimSuffix(output, ".mel") + ".wav"
	f, err := os.Create(wavPath)
	if err != nil {
		return err
	}
	if err := audio.WriteWAV(f, m.SampleRate(), y); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Saved reconstructed audio to %s\n", wavPath)
	return nil
}

func writeMatrix(path string, d *mat.Dense) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := d.MarshalBinaryTo(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
