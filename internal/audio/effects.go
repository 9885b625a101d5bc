package audio

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/viterin/vek"

	"github.com/satindergrewal/tonelab/internal/errs"
)

const (
	// ReverbDelay is the fixed reflection offset of Reverb.
	ReverbDelay = 0.05
	// MaxFeedback is the ceiling Delay clamps feedback to; 1 would never decay.
	MaxFeedback = 0.99
	// DelayFloor is the echo gain below which Delay stops adding repeats.
	DelayFloor = 1e-3
	// MaxDelayTail bounds the echo tail Delay may append, in seconds.
	MaxDelayTail = 30.0
)

// EffectKind names one of the buffer effects.
type EffectKind string

const (
	Reverb      EffectKind = "reverb"
	Delay       EffectKind = "delay"
	Compression EffectKind = "compression"
	Normalize   EffectKind = "normalize"
)

// Params carries named effect parameters. Missing keys take the defaults in
// effectDefaults.
type Params map[string]float64

var effectDefaults = map[EffectKind]Params{
	Reverb:      {"decay": 0.5},
	Delay:       {"delay_time": 0.25, "feedback": 0.3},
	Compression: {"threshold": 0.6, "ratio": 4.0},
	Normalize:   {"target": 0.9},
}

// ParseEffectKind accepts an effect name, case-insensitively.
func ParseEffectKind(name string) (EffectKind, error) {
	k := EffectKind(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := effectDefaults[k]; !ok {
		return "", fmt.Errorf("effect %q: %w", name, errs.ErrInvalidArgument)
	}
	return k, nil
}

// ParamNames lists the parameters an effect accepts, sorted.
func ParamNames(kind EffectKind) []string {
	names := make([]string, 0, len(effectDefaults[kind]))
	for k := range effectDefaults[kind] {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Effects applies buffer effects at a fixed sample rate. Every method returns
// a new buffer and leaves its input untouched.
type Effects struct {
	SampleRate int
}

// Apply runs the named effect with params merged over the defaults.
// Unknown parameter names are rejected.
func (e Effects) Apply(buf []float64, kind EffectKind, params Params) ([]float64, error) {
	defaults, ok := effectDefaults[kind]
	if !ok {
		return nil, fmt.Errorf("effect %q: %w", kind, errs.ErrInvalidArgument)
	}
	p := make(Params, len(defaults))
	for k, v := range defaults {
		p[k] = v
	}
	for k, v := range params {
		if _, ok := defaults[k]; !ok {
			return nil, fmt.Errorf("%s has no parameter %q: %w", kind, k, errs.ErrInvalidArgument)
		}
		p[k] = v
	}

	switch kind {
	case Reverb:
		return e.Reverb(buf, p["decay"])
	case Delay:
		return e.Delay(buf, p["delay_time"], p["feedback"])
	case Compression:
		return Compress(buf, p["threshold"], p["ratio"])
	default:
		return NormalizePeak(buf, p["target"])
	}
}

// Reverb adds one reflection 50 ms behind the dry signal, scaled by decay.
// decay is clamped to [0,1]. The output has the input's length.
func (e Effects) Reverb(buf []float64, decay float64) ([]float64, error) {
	if math.IsNaN(decay) {
		return nil, fmt.Errorf("reverb decay is NaN: %w", errs.ErrInvalidArgument)
	}
	decay = clamp(decay, 0, 1)
	d := int(ReverbDelay * float64(e.SampleRate))

	out := make([]float64, len(buf))
	copy(out, buf)
	for i := d; i < len(buf); i++ {
		out[i] += decay * buf[i-d]
	}
	return out, nil
}

// Delay appends echoes every delayTime seconds, the k-th attenuated by
// feedback^k, until the gain drops below DelayFloor or the tail would exceed
// MaxDelayTail. feedback is clamped to [0, MaxFeedback].
func (e Effects) Delay(buf []float64, delayTime, feedback float64) ([]float64, error) {
	if !(delayTime > 0) || math.IsInf(delayTime, 0) {
		return nil, fmt.Errorf("delay time %v must be positive: %w", delayTime, errs.ErrInvalidArgument)
	}
	if math.IsNaN(feedback) {
		return nil, fmt.Errorf("delay feedback is NaN: %w", errs.ErrInvalidArgument)
	}
	d := int(math.Round(delayTime * float64(e.SampleRate)))
	if d < 1 {
		return nil, fmt.Errorf("delay time %v is shorter than one sample: %w", delayTime, errs.ErrInvalidArgument)
	}
	feedback = clamp(feedback, 0, MaxFeedback)
	maxTail := int(MaxDelayTail * float64(e.SampleRate))

	repeats := 0
	for g := feedback; g >= DelayFloor && (repeats+1)*d <= maxTail; g *= feedback {
		repeats++
	}

	out := make([]float64, len(buf)+repeats*d)
	copy(out, buf)
	g := 1.0
	for k := 1; k <= repeats; k++ {
		g *= feedback
		off := k * d
		for i, v := range buf {
			out[off+i] += g * v
		}
	}
	return out, nil
}

// Compress remaps samples whose magnitude exceeds threshold to
// threshold + (|x|-threshold)/ratio, keeping the sign. threshold is clamped
// to [0,1]; ratio below 1 is rejected. A ratio of exactly 1 is the identity.
func Compress(buf []float64, threshold, ratio float64) ([]float64, error) {
	if math.IsNaN(threshold) {
		return nil, fmt.Errorf("compression threshold is NaN: %w", errs.ErrInvalidArgument)
	}
	if !(ratio >= 1) || math.IsInf(ratio, 0) {
		return nil, fmt.Errorf("compression ratio %v must be >= 1: %w", ratio, errs.ErrInvalidArgument)
	}
	threshold = clamp(threshold, 0, 1)

	out := make([]float64, len(buf))
	copy(out, buf)
	if ratio == 1 {
		return out, nil
	}
	for i, v := range out {
		a := math.Abs(v)
		if a > threshold {
			out[i] = math.Copysign(threshold+(a-threshold)/ratio, v)
		}
	}
	return out, nil
}

// NormalizePeak scales buf so its loudest sample reaches target, which must
// lie in (0,1]. Silent buffers come back unchanged.
func NormalizePeak(buf []float64, target float64) ([]float64, error) {
	if !(target > 0 && target <= 1) {
		return nil, fmt.Errorf("normalize target %v must be in (0,1]: %w", target, errs.ErrInvalidArgument)
	}
	peak := Peak(buf)
	if peak == 0 {
		out := make([]float64, len(buf))
		copy(out, buf)
		return out, nil
	}
	return vek.MulNumber(buf, target/peak), nil
}

// Peak returns max(|x|) over buf, or 0 for an empty buffer.
func Peak(buf []float64) float64 {
	if len(buf) == 0 {
		return 0
	}
	return vek.Max(vek.Abs(buf))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
