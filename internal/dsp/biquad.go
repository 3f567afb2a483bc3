package dsp

import (
	"math"

	"github.com/GriffinCanCode/hearing-assist/internal/param"
)

// Shape selects the biquad response.
type Shape int

const (
	HighPass Shape = iota
	LowPass
	Peaking
)

type coeffs struct {
	b0, b1, b2, a1, a2 float64
}

type biquadState struct {
	x1, x2, y1, y2 float64
}

func (s *biquadState) step(c *coeffs, x float64) float64 {
	y := c.b0*x + c.b1*s.x1 + c.b2*s.x2 - c.a1*s.y1 - c.a2*s.y2
	s.x2, s.x1 = s.x1, x
	s.y2, s.y1 = s.y1, y
	return y
}

// Biquad is an RBJ cookbook filter. The cutoff and gain follow their parameters once per
// block; coefficients are redesigned only when either value moved.
type Biquad struct {
	shape  Shape
	cutoff *param.Parameter // nil when the frequency is fixed
	gain   *param.Parameter // Peaking only
	freq   float64
	q      float64

	sampleRate float64
	c          coeffs
	st         [2]biquadState
	lastFreq   float64
	lastGain   float64
}

// NewHighPass follows cutoff (Hz) with a Butterworth Q.
func NewHighPass(cutoff *param.Parameter) *Biquad {
	return &Biquad{shape: HighPass, cutoff: cutoff, q: math.Sqrt2 / 2}
}

// NewLowPass follows cutoff (Hz) with a Butterworth Q.
func NewLowPass(cutoff *param.Parameter) *Biquad {
	return &Biquad{shape: LowPass, cutoff: cutoff, q: math.Sqrt2 / 2}
}

// NewPeaking is a fixed-centre bell whose boost/cut follows gainDB.
func NewPeaking(centerHz, bandwidthHz float64, gainDB *param.Parameter) *Biquad {
	q := 1.0
	if bandwidthHz > 0 {
		q = centerHz / bandwidthHz
	}
	return &Biquad{shape: Peaking, freq: centerHz, q: q, gain: gainDB}
}

func (b *Biquad) Prepare(sampleRate float64, _ int) {
	b.sampleRate = sampleRate
	b.lastFreq = math.NaN()
	b.Reset()
}

func (b *Biquad) Reset() {
	b.st = [2]biquadState{}
}

func (b *Biquad) Process(l, r []float32) {
	n := len(l)
	freq := b.freq
	if b.cutoff != nil {
		freq = b.cutoff.Advance(n)
	}
	var g float64
	if b.gain != nil {
		g = b.gain.Advance(n)
	}
	if freq != b.lastFreq || g != b.lastGain {
		b.design(freq, g)
		b.lastFreq, b.lastGain = freq, g
	}
	for i := 0; i < n; i++ {
		l[i] = float32(b.st[0].step(&b.c, float64(l[i])))
		r[i] = float32(b.st[1].step(&b.c, float64(r[i])))
	}
}

func (b *Biquad) design(freq, gainDB float64) {
	nyq := b.sampleRate / 2
	freq = math.Min(math.Max(freq, 10), nyq*0.95)
	w0 := 2 * math.Pi * freq / b.sampleRate
	cosw, sinw := math.Cos(w0), math.Sin(w0)
	alpha := sinw / (2 * b.q)

	var b0, b1, b2, a0, a1, a2 float64
	switch b.shape {
	case HighPass:
		b0 = (1 + cosw) / 2
		b1 = -(1 + cosw)
		b2 = (1 + cosw) / 2
		a0 = 1 + alpha
		a1 = -2 * cosw
		a2 = 1 - alpha
	case LowPass:
		b0 = (1 - cosw) / 2
		b1 = 1 - cosw
		b2 = (1 - cosw) / 2
		a0 = 1 + alpha
		a1 = -2 * cosw
		a2 = 1 - alpha
	case Peaking:
		a := math.Pow(10, gainDB/40)
		b0 = 1 + alpha*a
		b1 = -2 * cosw
		b2 = 1 - alpha*a
		a0 = 1 + alpha/a
		a1 = -2 * cosw
		a2 = 1 - alpha/a
	}
	b.c = coeffs{b0: b0 / a0, b1: b1 / a0, b2: b2 / a0, a1: a1 / a0, a2: a2 / a0}
}
