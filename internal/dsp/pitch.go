package dsp

import (
	"math"

	"github.com/GriffinCanCode/hearing-assist/internal/param"
)

const (
	pitchWindowSeconds = 0.04
	pitchFadeSeconds   = 0.01 // wet/dry crossfade when shifting starts or stops
)

// PitchShifter transposes by cents with two crossfaded read heads sweeping a delay line.
type PitchShifter struct {
	cents *param.Parameter

	window   int
	buf      [2][]float32
	w        int
	phase    float64
	mix      float64 // 0 dry, 1 shifted
	fadeStep float64
}

func NewPitchShifter(cents *param.Parameter) *PitchShifter {
	return &PitchShifter{cents: cents}
}

func (p *PitchShifter) Prepare(sampleRate float64, _ int) {
	p.window = max(64, int(sampleRate*pitchWindowSeconds))
	p.fadeStep = 1 / max(1, sampleRate*pitchFadeSeconds)
	size := p.window + 2
	p.buf = [2][]float32{make([]float32, size), make([]float32, size)}
	p.Reset()
}

func (p *PitchShifter) Reset() {
	for c := range p.buf {
		clear(p.buf[c])
	}
	p.w = 0
	p.phase = 0
	p.mix = 0
}

// Process keeps the delay line filled even at 0 cents so shifting can fade in and out
// against current audio.
func (p *PitchShifter) Process(l, r []float32) {
	cents := p.cents.Advance(len(l))
	target := 0.0
	if cents != 0 {
		target = 1
	}
	size := len(p.buf[0])

	if p.mix == 0 && target == 0 {
		for i := range l {
			p.buf[0][p.w] = l[i]
			p.buf[1][p.w] = r[i]
			p.w = (p.w + 1) % size
		}
		p.phase = 0
		return
	}

	inc := (1 - math.Pow(2, cents/1200)) / float64(p.window)
	for i := range l {
		dryL, dryR := float64(l[i]), float64(r[i])
		p.buf[0][p.w] = l[i]
		p.buf[1][p.w] = r[i]

		p1 := p.phase
		p2 := math.Mod(p.phase+0.5, 1)
		g1 := 1 - math.Abs(2*p1-1)
		g2 := 1 - math.Abs(2*p2-1)
		d1 := p1 * float64(p.window)
		d2 := p2 * float64(p.window)

		wetL := g1*p.read(0, d1, size) + g2*p.read(0, d2, size)
		wetR := g1*p.read(1, d1, size) + g2*p.read(1, d2, size)

		if p.mix < target {
			p.mix = min(target, p.mix+p.fadeStep)
		} else if p.mix > target {
			p.mix = max(target, p.mix-p.fadeStep)
		}
		l[i] = float32(dryL + (wetL-dryL)*p.mix)
		r[i] = float32(dryR + (wetR-dryR)*p.mix)

		p.phase += inc
		p.phase -= math.Floor(p.phase)
		p.w = (p.w + 1) % size
	}
	if p.mix == 0 {
		p.phase = 0
	}
}

// read returns the sample delay samples behind the write head, linearly interpolated.
func (p *PitchShifter) read(ch int, delay float64, size int) float64 {
	pos := float64(p.w) - delay
	for pos < 0 {
		pos += float64(size)
	}
	i0 := int(pos) % size
	i1 := (i0 + 1) % size
	frac := pos - math.Floor(pos)
	b := p.buf[ch]
	return float64(b[i0])*(1-frac) + float64(b[i1])*frac
}
