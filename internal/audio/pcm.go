package audio

import "encoding/binary"

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// Resample converts a mono buffer between sample rates by linear
// interpolation. It is meant for moving studio renders onto the 48 kHz
// stream clock and for loading training audio, not for mastering.
func Resample(in []float64, fromRate, toRate int) []float64 {
	if fromRate == toRate || len(in) == 0 || fromRate <= 0 || toRate <= 0 {
		out := make([]float64, len(in))
		copy(out, in)
		return out
	}
	n := int(int64(len(in)) * int64(toRate) / int64(fromRate))
	out := make([]float64, n)
	step := float64(fromRate) / float64(toRate)
	last := len(in) - 1
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = in[last]
			continue
		}
		frac := pos - float64(j)
		out[i] = in[j]*(1-frac) + in[j+1]*frac
	}
	return out
}

// ResampleStereo applies Resample to both channels.
func ResampleStereo(s Stereo, fromRate, toRate int) Stereo {
	return Stereo{
		Left:  Resample(s.Left, fromRate, toRate),
		Right: Resample(s.Right, fromRate, toRate),
	}
}
