// Command tonelab-train fits the mel autoencoder to a folder of WAV files
// and saves the weights for tonelab and tonelab-infer.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/satindergrewal/tonelab/internal/config"
	"github.com/satindergrewal/tonelab/internal/errs"
	"github.com/satindergrewal/tonelab/internal/model"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	def := config.Load().Model
	fs := flag.NewFlagSet("tonelab-train", flag.ContinueOnError)
	fs.SetOutput(stderr)
	out := fs.String("out", "model.gob", "output weights file")
	nMels := fs.Int("n-mels", def.NMels, "mel bands")
	seqLen := fs.Int("seq-len", def.SeqLen, "frames per training patch")
	latent := fs.Int("latent", def.LatentDim, "latent dimension")
	batch := fs.Int("batch-size", 8, "batch size")
	epochs := fs.Int("epochs", 5, "training epochs")
	lr := fs.Float64("lr", model.DefaultLearningRate, "Adam learning rate")
	workers := fs.Int("workers", 0, "feature extraction workers (0 = NumCPU-1)")
	seed := fs.Uint64("seed", 1, "initialisation and shuffle seed")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: tonelab-train [flags] <wav-folder>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}

	cfg := def
	cfg.NMels, cfg.SeqLen, cfg.LatentDim = *nMels, *seqLen, *latent
	opts := model.TrainOptions{Epochs: *epochs, BatchSize: *batch, LearningRate: *lr, Seed: *seed}
	if err := train(ctx, fs.Arg(0), *out, cfg, opts, *workers, stdout); err != nil {
		fmt.Fprintf(stderr, "Error: %s\n", errs.UserMessage(err))
		errs.Report("tonelab-train", err)
		return 1
	}
	return 0
}

func train(ctx context.Context, dir, out string, cfg config.ModelConfig, opts model.TrainOptions, workers int, stdout io.Writer) error {
	paths, err := model.ListWAVs(dir)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Found %d WAV files in %s\n", len(paths), dir)

	p := mpb.New(mpb.WithWidth(64), mpb.WithOutput(stdout))
	files := p.AddBar(int64(len(paths)),
		mpb.PrependDecorators(
			decor.Name("Features: "),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(
			decor.Percentage(),
			decor.EwmaETA(decor.ET_STYLE_GO, 60),
		),
	)
	samples, err := model.LoadDataset(ctx, cfg, paths, workers, func(string, error) {
		files.Increment()
	})
	if err != nil {
		p.Wait()
		return err
	}

	ae, err := model.NewAutoencoder(cfg.NMels, cfg.SeqLen, cfg.LatentDim, opts.Seed)
	if err != nil {
		files.Abort(false)
		p.Wait()
		return err
	}

	batches := (len(samples) + opts.BatchSize - 1) / max(1, opts.BatchSize)
	steps := p.AddBar(int64(opts.Epochs*batches),
		mpb.PrependDecorators(
			decor.Name("Training: "),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(
			decor.Percentage(),
			decor.EwmaETA(decor.ET_STYLE_GO, 60),
		),
	)
	last := time.Now()
	opts.OnBatch = func(int, int, float64) {
		steps.EwmaIncrement(time.Since(last))
		last = time.Now()
	}
	losses, err := ae.Train(ctx, model.Patches(samples), opts)
	if err != nil {
		steps.Abort(false)
		p.Wait()
		return err
	}
	p.Wait()

	for i, l := range losses {
		fmt.Fprintf(stdout, "Epoch %d/%d loss=%.4f\n", i+1, len(losses), l)
	}
	if err := ae.SaveFile(out); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Saved model to %s\n", out)
	return nil
}
