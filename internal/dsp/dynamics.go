package dsp

import (
	"math"

	"github.com/GriffinCanCode/hearing-assist/internal/param"
)

// CompressorParams groups the compressor's live controls.
type CompressorParams struct {
	ThresholdDB *param.Parameter
	Ratio       *param.Parameter
	AttackMS    *param.Parameter
	ReleaseMS   *param.Parameter
	MakeupDB    *param.Parameter
}

// Compressor is a feed-forward peak compressor linked across channels.
type Compressor struct {
	p          CompressorParams
	sampleRate float64
	env        float64
}

func NewCompressor(p CompressorParams) *Compressor {
	return &Compressor{p: p}
}

func (c *Compressor) Prepare(sampleRate float64, _ int) {
	c.sampleRate = sampleRate
	c.Reset()
}

func (c *Compressor) Reset() { c.env = 0 }

func (c *Compressor) Process(l, r []float32) {
	n := len(l)
	threshold := c.p.ThresholdDB.Advance(n)
	ratio := c.p.Ratio.Advance(n)
	attack := timeCoeff(c.p.AttackMS.Advance(n), c.sampleRate)
	release := timeCoeff(c.p.ReleaseMS.Advance(n), c.sampleRate)
	makeup := c.p.MakeupDB.Advance(n)

	for i := 0; i < n; i++ {
		level := float64(max(abs32(l[i]), abs32(r[i])))
		if level > c.env {
			c.env = attack*c.env + (1-attack)*level
		} else {
			c.env = release*c.env + (1-release)*level
		}
		g := DBToGain(makeup + compressorGainDB(GainToDB(c.env), threshold, ratio))
		l[i] *= float32(g)
		r[i] *= float32(g)
	}
}

// compressorGainDB is the hard-knee gain change for an input level.
func compressorGainDB(levelDB, thresholdDB, ratio float64) float64 {
	if levelDB <= thresholdDB || ratio <= 1 {
		return 0
	}
	return (thresholdDB + (levelDB-thresholdDB)/ratio) - levelDB
}

// Limiter is a zero-lookahead peak limiter: instant attack, exponential release.
// Output never exceeds the threshold.
type Limiter struct {
	thresholdDB *param.Parameter
	releaseMS   *param.Parameter
	sampleRate  float64
	gain        float64
}

func NewLimiter(thresholdDB, releaseMS *param.Parameter) *Limiter {
	return &Limiter{thresholdDB: thresholdDB, releaseMS: releaseMS, gain: 1}
}

func (lm *Limiter) Prepare(sampleRate float64, _ int) {
	lm.sampleRate = sampleRate
	lm.Reset()
}

func (lm *Limiter) Reset() { lm.gain = 1 }

func (lm *Limiter) Process(l, r []float32) {
	n := len(l)
	ceiling := DBToGain(lm.thresholdDB.Advance(n))
	release := timeCoeff(lm.releaseMS.Advance(n), lm.sampleRate)

	for i := 0; i < n; i++ {
		peak := float64(max(abs32(l[i]), abs32(r[i])))
		want := 1.0
		if peak > ceiling {
			want = ceiling / peak
		}
		if want < lm.gain {
			lm.gain = want
		} else {
			lm.gain = want + (lm.gain-want)*release
		}
		l[i] = float32(math.Copysign(math.Min(math.Abs(float64(l[i])*lm.gain), ceiling), float64(l[i])))
		r[i] = float32(math.Copysign(math.Min(math.Abs(float64(r[i])*lm.gain), ceiling), float64(r[i])))
	}
}
