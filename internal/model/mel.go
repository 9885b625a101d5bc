package model

import (
	"fmt"
	"math"

	"github.com/viterin/vek"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/mat"

	"github.com/satindergrewal/tonelab/internal/errs"
)

// DefaultSampleRate is the rate features are computed at.
const DefaultSampleRate = 22050

// TopDB is the dynamic range kept by PowerToDB.
const TopDB = 80.0

// amin floors power before taking the log.
const amin = 1e-10

// MelExtractor turns mono PCM into mel spectrograms. It keeps FFT work
// buffers, so one extractor must not be used from two goroutines at once.
type MelExtractor struct {
	SampleRate int
	NFFT       int
	Hop        int
	NMels      int

	window  []float64
	filters *mat.Dense // NMels x (NFFT/2+1)
	fft     *fourier.FFT
}

// NewMelExtractor builds the Hann window, FFT plan and Slaney mel filterbank.
func NewMelExtractor(sampleRate, nfft, hop, nMels int) (*MelExtractor, error) {
	if sampleRate <= 0 || nfft < 2 || hop <= 0 || nMels <= 0 {
		return nil, fmt.Errorf("mel params sr=%d n_fft=%d hop=%d n_mels=%d: %w",
			sampleRate, nfft, hop, nMels, errs.ErrInvalidArgument)
	}
	return &MelExtractor{
		SampleRate: sampleRate,
		NFFT:       nfft,
		Hop:        hop,
		NMels:      nMels,
		window:     hann(nfft),
		filters:    melFilters(sampleRate, nfft, nMels),
		fft:        fourier.NewFFT(nfft),
	}, nil
}

// Bins is the number of one-sided frequency bins per frame.
func (m *MelExtractor) Bins() int { return m.NFFT/2 + 1 }

// Frames is the number of STFT frames produced for n samples.
func (m *MelExtractor) Frames(n int) int { return 1 + n/m.Hop }

// STFT returns one row of one-sided coefficients per frame. The signal is
// centred by zero padding NFFT/2 samples on both sides.
func (m *MelExtractor) STFT(x []float64) [][]complex128 {
	half := m.NFFT / 2
	padded := make([]float64, len(x)+2*half)
	copy(padded[half:], x)

	frames := m.Frames(len(x))
	spec := make([][]complex128, frames)
	buf := make([]float64, m.NFFT)
	for i := range frames {
		start := i * m.Hop
		copy(buf, padded[start:start+m.NFFT])
		vek.Mul_Inplace(buf, m.window)
		spec[i] = m.fft.Coefficients(nil, buf)
	}
	return spec
}

// Power returns |STFT|² as a Bins x frames matrix.
func (m *MelExtractor) Power(x []float64) *mat.Dense {
	spec := m.STFT(x)
	p := mat.NewDense(m.Bins(), len(spec), nil)
	for t, frame := range spec {
		for k, c := range frame {
			re, im := real(c), imag(c)
			p.Set(k, t, re*re+im*im)
		}
	}
	return p
}

// Mel returns the mel power spectrogram of x as NMels x frames.
func (m *MelExtractor) Mel(x []float64) (*mat.Dense, error) {
	if len(x) == 0 {
		return nil, fmt.Errorf("empty signal: %w", errs.ErrInvalidArgument)
	}
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("signal has non-finite samples: %w", errs.ErrInvalidArgument)
		}
	}
	var out mat.Dense
	out.Mul(m.filters, m.Power(x))
	return &out, nil
}

// Filters returns the mel filterbank.
func (m *MelExtractor) Filters() mat.Matrix { return m.filters }

// PowerToDB converts power to decibels relative to the matrix maximum and
// clips everything more than topDB below the peak. topDB <= 0 disables
// clipping. The result is a new matrix.
func PowerToDB(s mat.Matrix, topDB float64) *mat.Dense {
	ref := math.Max(amin, mat.Max(s))
	refDB := 10 * math.Log10(ref)

	var out mat.Dense
	out.Apply(func(_, _ int, v float64) float64 {
		return 10*math.Log10(math.Max(amin, v)) - refDB
	}, s)
	if topDB > 0 {
		floor := mat.Max(&out) - topDB
		out.Apply(func(_, _ int, v float64) float64 {
			return math.Max(v, floor)
		}, &out)
	}
	return &out
}

// DBToPower inverts PowerToDB up to the lost reference.
func DBToPower(s mat.Matrix) *mat.Dense {
	var out mat.Dense
	out.Apply(func(_, _ int, v float64) float64 {
		return math.Pow(10, v/10)
	}, s)
	return &out
}

// PadCrop returns a rows x seqLen copy of s, zero padded on the right or
// cropped to the first seqLen columns.
func PadCrop(s mat.Matrix, seqLen int) *mat.Dense {
	rows, cols := s.Dims()
	out := mat.NewDense(rows, seqLen, nil)
	n := min(cols, seqLen)
	for i := range rows {
		for j := range n {
			out.Set(i, j, s.At(i, j))
		}
	}
	return out
}

func hann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}

// Slaney mel scale: linear below 1 kHz, logarithmic above.
const (
	fSp       = 200.0 / 3
	minLogHz  = 1000.0
	minLogMel = minLogHz / fSp
)

var logStep = math.Log(6.4) / 27

func hzToMel(f float64) float64 {
	if f < minLogHz {
		return f / fSp
	}
	return minLogMel + math.Log(f/minLogHz)/logStep
}

func melToHz(m float64) float64 {
	if m < minLogMel {
		return m * fSp
	}
	return minLogHz * math.Exp(logStep*(m-minLogMel))
}

// melFilters builds triangular filters between 0 Hz and Nyquist with
// area normalisation.
func melFilters(sampleRate, nfft, nMels int) *mat.Dense {
	bins := nfft/2 + 1
	fftFreqs := make([]float64, bins)
	for k := range fftFreqs {
		fftFreqs[k] = float64(k) * float64(sampleRate) / float64(nfft)
	}

	lo, hi := hzToMel(0), hzToMel(float64(sampleRate)/2)
	pts := make([]float64, nMels+2)
	for i := range pts {
		pts[i] = melToHz(lo + (hi-lo)*float64(i)/float64(nMels+1))
	}

	w := mat.NewDense(nMels, bins, nil)
	for i := range nMels {
		left, centre, right := pts[i], pts[i+1], pts[i+2]
		enorm := 2 / (right - left)
		for k, f := range fftFreqs {
			lower := (f - left) / (centre - left)
			upper := (right - f) / (right - centre)
			if v := math.Min(lower, upper); v > 0 {
				w.Set(i, k, v*enorm)
			}
		}
	}
	return w
}

// BandFrequency is the centre frequency of mel band i.
func (m *MelExtractor) BandFrequency(i int) float64 {
	lo, hi := hzToMel(0), hzToMel(float64(m.SampleRate)/2)
	return melToHz(lo + (hi-lo)*float64(i+1)/float64(m.NMels+1))
}
