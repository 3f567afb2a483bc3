package dsp

import (
	"math"
	"testing"

	"github.com/GriffinCanCode/hearing-assist/internal/param"
)

const testRate = 48000

func newParam(t *testing.T, spec param.Spec, v float64) *param.Parameter {
	t.Helper()
	p := param.NewStore().Register(param.ID(t.Name()), spec)
	p.Set(v)
	p.Prepare(testRate)
	return p
}

func sine(freq float64, n int, amp float32) ([]float32, []float32) {
	l := make([]float32, n)
	r := make([]float32, n)
	for i := range l {
		v := amp * float32(math.Sin(2*math.Pi*freq*float64(i)/testRate))
		l[i], r[i] = v, v
	}
	return l, r
}

func rms(x []float32) float64 {
	var s float64
	for _, v := range x {
		s += float64(v) * float64(v)
	}
	return math.Sqrt(s / float64(len(x)))
}

func TestBalanceGains(t *testing.T) {
	tests := []struct {
		b           float64
		left, right float64
	}{
		{0, 1, 1},
		{-1, 1, 0},
		{1, 0, 1},
		{0.5, 0.5, 1},
		{-0.25, 1, 0.75},
		{3, 0, 1},
	}
	for _, tt := range tests {
		l, r := BalanceGains(tt.b)
		if l != tt.left || r != tt.right {
			t.Errorf("BalanceGains(%v) = (%v, %v), want (%v, %v)", tt.b, l, r, tt.left, tt.right)
		}
	}
}

func TestGainMultiplies(t *testing.T) {
	g := NewGain(newParam(t, param.Spec{Min: 1, Max: 5, Default: 1, RampMS: -1}, 2))
	l, r := []float32{0.1, -0.2}, []float32{0.3, 0.4}
	g.Process(l, r)
	if l[0] != 0.2 || r[1] != 0.8 {
		t.Errorf("Process() = %v %v, want doubled", l, r)
	}
}

func TestStereoWidenerMono(t *testing.T) {
	w := NewStereoWidener(newParam(t, param.Spec{Min: 0, Max: 2, Default: 1, RampMS: -1}, 0))
	l, r := []float32{1}, []float32{0}
	w.Process(l, r)
	if l[0] != 0.5 || r[0] != 0.5 {
		t.Errorf("width 0 = (%v, %v), want (0.5, 0.5)", l[0], r[0])
	}
}

func TestHighPassAttenuatesLow(t *testing.T) {
	f := NewHighPass(newParam(t, param.Spec{Min: 20, Max: 20000, Default: 1000}, 1000))
	f.Prepare(testRate, 4800)
	l, r := sine(50, 4800, 0.5)
	in := rms(l)
	f.Process(l, r)
	if out := rms(l[2400:]); out > in*0.05 {
		t.Errorf("50 Hz through 1 kHz high-pass: rms %v, want < %v", out, in*0.05)
	}
}

func TestLowPassKeepsLow(t *testing.T) {
	f := NewLowPass(newParam(t, param.Spec{Min: 20, Max: 20000, Default: 4000}, 4000))
	f.Prepare(testRate, 4800)
	l, r := sine(200, 4800, 0.5)
	in := rms(l)
	f.Process(l, r)
	if out := rms(l[2400:]); math.Abs(out-in) > in*0.05 {
		t.Errorf("200 Hz through 4 kHz low-pass: rms %v, want ~%v", out, in)
	}
}

func TestPeakingBoost(t *testing.T) {
	f := NewPeaking(1000, 1000, newParam(t, param.Spec{Min: -24, Max: 24}, 6))
	f.Prepare(testRate, 9600)
	l, r := sine(1000, 9600, 0.1)
	in := rms(l)
	f.Process(l, r)
	got := GainToDB(rms(l[4800:]) / in)
	if math.Abs(got-6) > 0.5 {
		t.Errorf("boost at centre = %.2f dB, want ~6", got)
	}
}

func TestLimiterCeiling(t *testing.T) {
	lm := NewLimiter(
		newParam(t, param.Spec{Min: -24, Max: 0, Default: -6, RampMS: -1}, -6),
		newParam(t, param.Spec{Min: 1, Max: 1000, Default: 50, RampMS: -1}, 50),
	)
	lm.Prepare(testRate, 1024)
	l, r := sine(440, 1024, 1.5)
	lm.Process(l, r)
	ceiling := float32(DBToGain(-6)) + 1e-6
	if p := Peak(l, r); p > ceiling {
		t.Errorf("limiter peak = %v, want <= %v", p, ceiling)
	}
}

func TestCompressorReducesLoud(t *testing.T) {
	c := NewCompressor(CompressorParams{
		ThresholdDB: newParam(t, param.Spec{Min: -60, Max: 0, RampMS: -1}, -30),
		Ratio:       newParam(t, param.Spec{Min: 1, Max: 20, RampMS: -1}, 4),
		AttackMS:    newParam(t, param.Spec{Min: 0.1, Max: 200, RampMS: -1}, 1),
		ReleaseMS:   newParam(t, param.Spec{Min: 10, Max: 3000, RampMS: -1}, 100),
		MakeupDB:    newParam(t, param.Spec{Min: 0, Max: 24, RampMS: -1}, 0),
	})
	c.Prepare(testRate, 4800)
	l, r := sine(440, 4800, 0.8)
	in := rms(l[2400:])
	c.Process(l, r)
	if out := rms(l[2400:]); out >= in*0.5 {
		t.Errorf("compressed rms = %v, want well below %v", out, in)
	}
}

func TestCompressorGainDB(t *testing.T) {
	tests := []struct {
		level, threshold, ratio, want float64
	}{
		{-40, -20, 4, 0},
		{-10, -20, 2, -5},
		{0, -20, 4, -15},
		{0, -20, 1, 0},
	}
	for _, tt := range tests {
		if got := compressorGainDB(tt.level, tt.threshold, tt.ratio); got != tt.want {
			t.Errorf("compressorGainDB(%v, %v, %v) = %v, want %v", tt.level, tt.threshold, tt.ratio, got, tt.want)
		}
	}
}

func TestReverbDryWhenMixZero(t *testing.T) {
	rv := NewReverb(newParam(t, param.Spec{Min: 0, Max: 100, RampMS: -1}, 0))
	rv.Prepare(testRate, 256)
	l, r := sine(440, 256, 0.5)
	want := append([]float32(nil), l...)
	rv.Process(l, r)
	for i := range l {
		if l[i] != want[i] {
			t.Fatalf("sample %d = %v, want dry %v", i, l[i], want[i])
		}
	}
}

func TestPitchShifterNeutralIsIdentity(t *testing.T) {
	p := NewPitchShifter(newParam(t, param.Spec{Min: -2400, Max: 2400}, 0))
	p.Prepare(testRate, 256)
	l, r := sine(440, 256, 0.5)
	want := append([]float32(nil), l...)
	p.Process(l, r)
	for i := range l {
		if l[i] != want[i] {
			t.Fatalf("sample %d changed at 0 cents", i)
		}
	}
}

func TestPitchShifterBounded(t *testing.T) {
	p := NewPitchShifter(newParam(t, param.Spec{Min: -2400, Max: 2400, RampMS: -1}, 700))
	p.Prepare(testRate, 4800)
	l, r := sine(440, 4800, 0.5)
	p.Process(l, r)
	if pk := Peak(l, r); pk > 0.5001 {
		t.Errorf("shifted peak = %v, want <= 0.5", pk)
	}
	if rms(l[2400:]) < 0.1 {
		t.Error("shifted output unexpectedly silent")
	}
}

func TestPitchShifterReturnToNeutralIsSmooth(t *testing.T) {
	cents := newParam(t, param.Spec{Min: -2400, Max: 2400, RampMS: -1}, 700)
	p := NewPitchShifter(cents)
	p.Prepare(testRate, 4800)
	l, r := sine(440, 9600, 0.5)
	dry := append([]float32(nil), l...)

	p.Process(l[:4800], r[:4800])
	cents.Set(0)
	p.Process(l[4800:], r[4800:])

	if l[4800] == dry[4800] {
		t.Error("output jumped straight to dry when shifting stopped")
	}
	for i := 4800; i < 5400; i++ {
		if d := math.Abs(float64(l[i] - l[i-1])); d > 0.1 {
			t.Fatalf("sample %d jumps by %v after shifting stopped", i, d)
		}
	}
	for i := 6000; i < 9600; i++ {
		if l[i] != dry[i] {
			t.Fatalf("sample %d = %v, want dry %v once faded out", i, l[i], dry[i])
		}
	}
}

func TestMixerMuteAndPeak(t *testing.T) {
	m := NewMixer(
		newParam(t, param.Spec{Min: 0, Max: 2, Default: 1, RampMS: -1}, 1),
		param.NewStore().Register("mixer.open", param.Spec{Min: 0, Max: 1, Default: 1, RampMS: -1}),
	)
	l, r := []float32{0.25, -0.5}, []float32{0.1, 0.1}
	m.Process(l, r)
	if m.Peak() != 0.5 {
		t.Errorf("Peak() = %v, want 0.5", m.Peak())
	}

	m.Mute(true)
	if !m.Muted() {
		t.Error("Muted() = false after Mute(true)")
	}
	l, r = []float32{0.25}, []float32{-0.3}
	m.Process(l, r)
	if l[0] != 0 || r[0] != 0 {
		t.Errorf("muted output = (%v, %v), want silence", l[0], r[0])
	}
	if m.Peak() != 0.3 {
		t.Errorf("muted Peak() = %v, want 0.3 measured ahead of the gate", m.Peak())
	}
}

func TestMixerPeakFollowsLevel(t *testing.T) {
	m := NewMixer(
		newParam(t, param.Spec{Min: 0, Max: 2, Default: 1, RampMS: -1}, 2),
		param.NewStore().Register("mixer.open", param.Spec{Min: 0, Max: 1, Default: 1, RampMS: -1}),
	)
	m.Mute(true)
	l, r := []float32{0.2}, []float32{0.1}
	m.Process(l, r)
	if m.Peak() != 0.4 {
		t.Errorf("Peak() = %v, want 0.4 after a 2x level", m.Peak())
	}
}
