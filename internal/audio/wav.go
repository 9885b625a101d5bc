package audio

import (
	"fmt"
	"io"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/satindergrewal/tonelab/internal/errs"
)

// ReadWAVMono decodes a PCM WAV stream and downmixes it to mono floats in
// [-1,1]. It returns the samples and the file's sample rate.
func ReadWAVMono(r io.ReadSeeker) ([]float64, int, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("not a valid wav stream: %w", errs.ErrInvalidArgument)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode wav: %w", err)
	}
	if buf == nil || buf.Format == nil || buf.Format.NumChannels < 1 {
		return nil, 0, fmt.Errorf("wav has no channels: %w", errs.ErrInvalidArgument)
	}

	depth := buf.SourceBitDepth
	if depth <= 0 {
		depth = int(dec.BitDepth)
	}
	scale := math.Ldexp(1, depth-1)
	ch := buf.Format.NumChannels
	frames := len(buf.Data) / ch
	out := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < ch; c++ {
			sum += float64(buf.Data[i*ch+c])
		}
		out[i] = sum / float64(ch) / scale
	}
	return out, buf.Format.SampleRate, nil
}

// ReadWAVFile opens path and decodes it with ReadWAVMono.
func ReadWAVFile(path string) ([]float64, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	return ReadWAVMono(f)
}

// WriteWAV encodes channels (all equally long) as 16-bit PCM.
func WriteWAV(w io.WriteSeeker, sampleRate int, channels ...[]float64) error {
	if len(channels) == 0 {
		return fmt.Errorf("no channels to write: %w", errs.ErrInvalidArgument)
	}
	frames := len(channels[0])
	for _, c := range channels[1:] {
		if len(c) != frames {
			return fmt.Errorf("channel length mismatch: %w", errs.ErrInvalidArgument)
		}
	}

	n := len(channels)
	data := make([]int, frames*n)
	for i := 0; i < frames; i++ {
		for c := 0; c < n; c++ {
			data[i*n+c] = int(clip16(channels[c][i] * math.MaxInt16))
		}
	}

	enc := wav.NewEncoder(w, sampleRate, BitDepth, n, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{SampleRate: sampleRate, NumChannels: n},
		Data:           data,
		SourceBitDepth: BitDepth,
	}
	if err := enc.Write(buf); err != nil {
		enc.Close()
		return fmt.Errorf("encode wav: %w", err)
	}
	return enc.Close()
}

// WriteStereoWAV writes a stereo buffer to w.
func WriteStereoWAV(w io.WriteSeeker, s Stereo, sampleRate int) error {
	return WriteWAV(w, sampleRate, s.Left, s.Right)
}
