package dsp

import "github.com/GriffinCanCode/hearing-assist/internal/param"

// Freeverb tunings at 44.1 kHz; scaled to the running rate in Prepare.
var (
	combTunings    = []int{1116, 1188, 1277, 1356}
	allpassTunings = []int{556, 441}
)

const (
	stereoSpread    = 23
	reverbFeedback  = 0.84
	reverbDamping   = 0.2
	allpassFeedback = 0.5
	reverbInputGain = 0.015
)

type comb struct {
	buf   []float32
	pos   int
	store float32
}

func (c *comb) process(x float32) float32 {
	y := c.buf[c.pos]
	c.store = y*(1-reverbDamping) + c.store*reverbDamping
	c.buf[c.pos] = x + c.store*reverbFeedback
	c.pos = (c.pos + 1) % len(c.buf)
	return y
}

type allpass struct {
	buf []float32
	pos int
}

func (a *allpass) process(x float32) float32 {
	b := a.buf[a.pos]
	a.buf[a.pos] = x + b*allpassFeedback
	a.pos = (a.pos + 1) % len(a.buf)
	return b - x
}

// Reverb is a small Schroeder room. Mix is wet percentage, 0..100.
type Reverb struct {
	mix       *param.Parameter
	combs     [2][]comb
	allpasses [2][]allpass
}

func NewReverb(mix *param.Parameter) *Reverb { return &Reverb{mix: mix} }

func (rv *Reverb) Prepare(sampleRate float64, _ int) {
	scale := sampleRate / 44100
	for ch := 0; ch < 2; ch++ {
		spread := ch * stereoSpread
		rv.combs[ch] = make([]comb, len(combTunings))
		for i, t := range combTunings {
			rv.combs[ch][i].buf = make([]float32, max(1, int(float64(t+spread)*scale)))
		}
		rv.allpasses[ch] = make([]allpass, len(allpassTunings))
		for i, t := range allpassTunings {
			rv.allpasses[ch][i].buf = make([]float32, max(1, int(float64(t+spread)*scale)))
		}
	}
}

func (rv *Reverb) Reset() {
	for ch := 0; ch < 2; ch++ {
		for i := range rv.combs[ch] {
			clear(rv.combs[ch][i].buf)
			rv.combs[ch][i].store = 0
		}
		for i := range rv.allpasses[ch] {
			clear(rv.allpasses[ch][i].buf)
		}
	}
}

func (rv *Reverb) Process(l, r []float32) {
	for i := range l {
		wet := float32(rv.mix.Tick() / 100)
		in := (l[i] + r[i]) * reverbInputGain
		l[i] = l[i]*(1-wet) + rv.tail(0, in)*wet
		r[i] = r[i]*(1-wet) + rv.tail(1, in)*wet
	}
}

func (rv *Reverb) tail(ch int, in float32) float32 {
	var out float32
	for i := range rv.combs[ch] {
		out += rv.combs[ch][i].process(in)
	}
	for i := range rv.allpasses[ch] {
		out = rv.allpasses[ch][i].process(out)
	}
	return out
}
