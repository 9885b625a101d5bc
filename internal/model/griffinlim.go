package model

import (
	"fmt"
	"math"
	"math/cmplx"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/satindergrewal/tonelab/internal/errs"
)

// DefaultGriffinLimIters matches the inference CLI default.
const DefaultGriffinLimIters = 100

// MelToLinear maps a mel power spectrogram back to linear frequency bins
// using the minimum-norm least squares inverse of the filterbank. Negative
// results are clipped to zero.
func (m *MelExtractor) MelToLinear(melPower mat.Matrix) (*mat.Dense, error) {
	rows, _ := melPower.Dims()
	if rows != m.NMels {
		return nil, fmt.Errorf("mel matrix has %d bands, want %d: %w", rows, m.NMels, errs.ErrInvalidArgument)
	}
	var gram mat.Dense
	gram.Mul(m.filters, m.filters.T())
	ridge := 1e-10 * mat.Trace(&gram) / float64(m.NMels)
	for i := range m.NMels {
		gram.Set(i, i, gram.At(i, i)+ridge)
	}

	var y mat.Dense
	if err := y.Solve(&gram, melPower); err != nil {
		return nil, fmt.Errorf("invert mel filterbank: %v: %w", err, errs.ErrInvalidState)
	}
	var lin mat.Dense
	lin.Mul(m.filters.T(), &y)
	lin.Apply(func(_, _ int, v float64) float64 { return math.Max(0, v) }, &lin)
	return &lin, nil
}

// ISTFT overlap-adds the inverse transform of spec and trims the centring
// padding. The result has Hop*(frames-1) samples.
func (m *MelExtractor) ISTFT(spec [][]complex128) []float64 {
	if len(spec) == 0 {
		return nil
	}
	n := m.NFFT
	total := n + m.Hop*(len(spec)-1)
	out := make([]float64, total)
	norm := make([]float64, total)
	frame := make([]float64, n)
	for t, coeffs := range spec {
		m.fft.Sequence(frame, coeffs)
		start := t * m.Hop
		for k, v := range frame {
			w := m.window[k]
			out[start+k] += v / float64(n) * w
			norm[start+k] += w * w
		}
	}
	for i := range out {
		if norm[i] > 1e-8 {
			out[i] /= norm[i]
		}
	}
	half := n / 2
	return out[half : half+m.Hop*(len(spec)-1)]
}

// GriffinLim estimates a signal whose STFT magnitude is mag (Bins x frames)
// starting from random phases.
func (m *MelExtractor) GriffinLim(mag mat.Matrix, iters int, seed uint64) ([]float64, error) {
	bins, frames := mag.Dims()
	if bins != m.Bins() || frames < 2 {
		return nil, fmt.Errorf("magnitude is %dx%d, want %d bins and at least 2 frames: %w", bins, frames, m.Bins(), errs.ErrInvalidArgument)
	}
	if iters < 0 {
		return nil, fmt.Errorf("griffin-lim iterations %d: %w", iters, errs.ErrInvalidArgument)
	}
	rng := rand.New(rand.NewPCG(seed, seed+1))
	angles := make([][]complex128, frames)
	for t := range angles {
		angles[t] = make([]complex128, bins)
		for k := range angles[t] {
			angles[t][k] = cmplx.Rect(1, 2*math.Pi*rng.Float64())
		}
	}

	build := func() [][]complex128 {
		spec := make([][]complex128, frames)
		for t := range spec {
			spec[t] = make([]complex128, bins)
			for k := range spec[t] {
				spec[t][k] = complex(mag.At(k, t), 0) * angles[t][k]
			}
		}
		return spec
	}

	for range iters {
		est := m.STFT(m.ISTFT(build()))
		for t := range angles {
			for k, c := range est[t] {
				if a := cmplx.Abs(c); a > 1e-12 {
					angles[t][k] = c / complex(a, 0)
				} else {
					angles[t][k] = 1
				}
			}
		}
	}
	return m.ISTFT(build()), nil
}

// Invert turns a dB mel spectrogram back into audio: dB to power, mel to
// linear bins, square root for magnitude, then Griffin-Lim.
func (m *MelExtractor) Invert(melDB mat.Matrix, iters int) ([]float64, error) {
	lin, err := m.MelToLinear(DBToPower(melDB))
	if err != nil {
		return nil, err
	}
	lin.Apply(func(_, _ int, v float64) float64 { return math.Sqrt(v) }, lin)
	return m.GriffinLim(lin, iters, 1)
}
