package audio

import (
	"errors"
	"math"
	"testing"

	"github.com/satindergrewal/tonelab/internal/errs"
)

func impulse(n int) []float64 {
	buf := make([]float64, n)
	buf[0] = 1
	return buf
}

func ramp01(n int) []float64 {
	buf := make([]float64, n)
	for i := range buf {
		buf[i] = float64(i)/float64(n)*2 - 1
	}
	return buf
}

// --- Reverb ---

func TestReverbAddsSingleReflection(t *testing.T) {
	fx := Effects{SampleRate: 1000} // 50 ms = 50 samples
	in := impulse(200)
	out, err := fx.Reverb(in, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != len(in) {
		t.Fatalf("Reverb length = %d, want %d", len(out), len(in))
	}
	if out[0] != 1 || out[50] != 0.5 {
		t.Errorf("Reverb impulse response: out[0]=%v out[50]=%v, want 1 and 0.5", out[0], out[50])
	}
	if in[50] != 0 {
		t.Error("Reverb mutated its input")
	}
}

func TestReverbClampsDecay(t *testing.T) {
	fx := Effects{SampleRate: 1000}
	hi, _ := fx.Reverb(impulse(100), 3)
	if hi[50] != 1 {
		t.Errorf("decay 3 should clamp to 1, reflection = %v", hi[50])
	}
	lo, _ := fx.Reverb(impulse(100), -2)
	if lo[50] != 0 {
		t.Errorf("decay -2 should clamp to 0, reflection = %v", lo[50])
	}
	if _, err := fx.Reverb(impulse(10), math.NaN()); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Errorf("NaN decay err = %v, want ErrInvalidArgument", err)
	}
}

// --- Delay ---

func TestDelayEchoTail(t *testing.T) {
	fx := Effects{SampleRate: 100}
	in := impulse(10)
	out, err := fx.Delay(in, 0.1, 0.5) // 10 samples per echo
	if err != nil {
		t.Fatal(err)
	}
	// 0.5^k >= 1e-3 holds for k = 1..9
	if want := 10 + 9*10; len(out) != want {
		t.Fatalf("Delay length = %d, want %d", len(out), want)
	}
	g := 1.0
	for k := 1; k <= 9; k++ {
		g *= 0.5
		if math.Abs(out[k*10]-g) > 1e-15 {
			t.Errorf("echo %d = %v, want %v", k, out[k*10], g)
		}
	}
}

func TestDelayZeroFeedbackIsCopy(t *testing.T) {
	fx := Effects{SampleRate: 100}
	in := ramp01(20)
	out, err := fx.Delay(in, 0.1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != len(in) {
		t.Fatalf("length = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("out[%d] = %v, want %v", i, out[i], in[i])
		}
	}
}

func TestDelayClampsFeedbackAndBoundsTail(t *testing.T) {
	fx := Effects{SampleRate: 100}
	out, err := fx.Delay(impulse(1), 1, 5)
	if err != nil {
		t.Fatal(err)
	}
	maxLen := 1 + int(MaxDelayTail*100)
	if len(out) > maxLen {
		t.Errorf("Delay tail length %d exceeds bound %d", len(out), maxLen)
	}
	if math.Abs(out[100]-MaxFeedback) > 1e-15 {
		t.Errorf("first echo = %v, want clamped feedback %v", out[100], MaxFeedback)
	}
}

func TestDelayRejects(t *testing.T) {
	fx := Effects{SampleRate: 100}
	for _, dt := range []float64{0, -0.5, math.NaN(), 0.001} {
		if _, err := fx.Delay(impulse(4), dt, 0.3); !errors.Is(err, errs.ErrInvalidArgument) {
			t.Errorf("Delay(time=%v) err = %v, want ErrInvalidArgument", dt, err)
		}
	}
}

// --- Compression ---

func TestCompressRemapsAboveThreshold(t *testing.T) {
	in := []float64{0.2, 0.5, 0.9, -0.9, -0.3, 1}
	out, err := Compress(in, 0.5, 4)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{0.2, 0.5, 0.6, -0.6, -0.3, 0.625}
	for i := range want {
		if math.Abs(out[i]-want[i]) > 1e-12 {
			t.Errorf("Compress[%d] = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestCompressRatioOneIsIdentity(t *testing.T) {
	in := ramp01(101)
	for _, th := range []float64{0, 0.1, 0.6, 1} {
		out, err := Compress(in, th, 1)
		if err != nil {
			t.Fatal(err)
		}
		for i := range in {
			if out[i] != in[i] {
				t.Fatalf("threshold %v: out[%d] = %v, want %v", th, i, out[i], in[i])
			}
		}
	}
}

func TestCompressClampsThresholdRejectsRatio(t *testing.T) {
	out, err := Compress([]float64{0.9}, -1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(out[0]-0.45) > 1e-12 {
		t.Errorf("threshold -1 should clamp to 0: got %v, want 0.45", out[0])
	}
	if _, err := Compress([]float64{0.9}, 0.5, 0.5); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Errorf("ratio 0.5 err = %v, want ErrInvalidArgument", err)
	}
}

// --- Normalize ---

func TestNormalizePeak(t *testing.T) {
	out, err := NormalizePeak([]float64{0.1, -0.4, 0.2}, 0.8)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(Peak(out)-0.8) > 1e-12 {
		t.Errorf("peak = %v, want 0.8", Peak(out))
	}
	if math.Abs(out[0]-0.2) > 1e-12 {
		t.Errorf("out[0] = %v, want 0.2", out[0])
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	once, _ := NormalizePeak(ramp01(64), 0.9)
	twice, _ := NormalizePeak(once, 0.9)
	for i := range once {
		if math.Abs(once[i]-twice[i]) > 1e-12 {
			t.Fatalf("normalize not idempotent at %d: %v vs %v", i, once[i], twice[i])
		}
	}
}

func TestNormalizeSilenceUnchanged(t *testing.T) {
	out, err := NormalizePeak(make([]float64, 16), 0.9)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range out {
		if v != 0 || math.IsNaN(v) {
			t.Fatalf("silent[%d] = %v, want 0", i, v)
		}
	}
	if out, _ := NormalizePeak(nil, 0.9); len(out) != 0 {
		t.Errorf("empty buffer normalized to length %d", len(out))
	}
}

func TestNormalizeRejectsTarget(t *testing.T) {
	for _, target := range []float64{0, -0.5, 1.01, math.NaN()} {
		if _, err := NormalizePeak([]float64{1}, target); !errors.Is(err, errs.ErrInvalidArgument) {
			t.Errorf("target %v err = %v, want ErrInvalidArgument", target, err)
		}
	}
}

// --- Apply ---

func TestApplyUsesDefaults(t *testing.T) {
	fx := Effects{SampleRate: 1000}
	out, err := fx.Apply(impulse(100), Reverb, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out[50] != 0.5 {
		t.Errorf("default reverb decay reflection = %v, want 0.5", out[50])
	}
}

func TestApplyRejectsUnknown(t *testing.T) {
	fx := Effects{SampleRate: 1000}
	if _, err := fx.Apply(impulse(4), EffectKind("flanger"), nil); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Errorf("unknown effect err = %v, want ErrInvalidArgument", err)
	}
	if _, err := fx.Apply(impulse(4), Delay, Params{"wet": 1}); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Errorf("unknown param err = %v, want ErrInvalidArgument", err)
	}
}

func TestParseEffectKind(t *testing.T) {
	if k, err := ParseEffectKind("Compression"); err != nil || k != Compression {
		t.Errorf("ParseEffectKind = %v, %v", k, err)
	}
	if got := ParamNames(Delay); len(got) != 2 || got[0] != "delay_time" || got[1] != "feedback" {
		t.Errorf("ParamNames(delay) = %v", got)
	}
}
