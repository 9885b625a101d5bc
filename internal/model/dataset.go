package model

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/satindergrewal/tonelab/internal/audio"
	"github.com/satindergrewal/tonelab/internal/config"
	"github.com/satindergrewal/tonelab/internal/errs"
)

// Sample is one training patch and the file it came from.
type Sample struct {
	Path     string
	Features *mat.Dense
}

// ListWAVs returns the .wav files directly inside dir, sorted.
func ListWAVs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("data folder %s: %w", dir, errs.ErrNotFound)
		}
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".wav") {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return nil, fmt.Errorf("no wav files in %s: %w", dir, errs.ErrNotFound)
	}
	return paths, nil
}

// LoadDataset extracts a feature patch from every path using workers
// goroutines, each with its own extractor. Results keep the order of paths.
// onFile, if set, is called once per finished file from the collecting
// goroutine.
func LoadDataset(ctx context.Context, cfg config.ModelConfig, paths []string, workers int, onFile func(path string, err error)) ([]Sample, error) {
	if workers <= 0 {
		workers = max(2, runtime.NumCPU()-1)
	}
	type job struct {
		idx  int
		path string
	}
	type result struct {
		idx      int
		features *mat.Dense
		err      error
	}

	jobs := make(chan job, len(paths))
	results := make(chan result, len(paths))

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mel, err := NewMelExtractor(DefaultSampleRate, cfg.NFFT, cfg.HopLength, cfg.NMels)
			for j := range jobs {
				if err != nil {
					results <- result{idx: j.idx, err: err}
					continue
				}
				if ctx.Err() != nil {
					results <- result{idx: j.idx, err: ctx.Err()}
					continue
				}
				f, ferr := fileFeatures(mel, j.path, cfg.SeqLen)
				results <- result{idx: j.idx, features: f, err: ferr}
			}
		}()
	}
	for i, p := range paths {
		jobs <- job{idx: i, path: p}
	}
	close(jobs)
	go func() {
		wg.Wait()
		close(results)
	}()

	out := make([]Sample, len(paths))
	var firstErr error
	for r := range results {
		if onFile != nil {
			onFile(paths[r.idx], r.err)
		}
		if r.err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", paths[r.idx], r.err)
		}
		out[r.idx] = Sample{Path: paths[r.idx], Features: r.features}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

func fileFeatures(mel *MelExtractor, path string, seqLen int) (*mat.Dense, error) {
	samples, sr, err := audio.ReadWAVFile(path)
	if err != nil {
		return nil, err
	}
	if sr != mel.SampleRate {
		samples = audio.Resample(samples, sr, mel.SampleRate)
	}
	return features(mel, samples, seqLen)
}

// features is the dB mel patch of samples, padded or cropped to seqLen.
func features(mel *MelExtractor, samples []float64, seqLen int) (*mat.Dense, error) {
	s, err := mel.Mel(samples)
	if err != nil {
		return nil, err
	}
	return PadCrop(PowerToDB(s, TopDB), seqLen), nil
}

// Patches returns the feature matrices of samples.
func Patches(samples []Sample) []*mat.Dense {
	out := make([]*mat.Dense, len(samples))
	for i, s := range samples {
		out[i] = s.Features
	}
	return out
}
