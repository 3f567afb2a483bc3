package dsp

import (
	"math"
	"sync/atomic"

	"github.com/GriffinCanCode/hearing-assist/internal/param"
)

// Gain multiplies both channels by a linear factor.
type Gain struct {
	level *param.Parameter
}

func NewGain(level *param.Parameter) *Gain { return &Gain{level: level} }

func (g *Gain) Prepare(float64, int) {}
func (g *Gain) Reset()               {}

func (g *Gain) Process(l, r []float32) {
	for i := range l {
		v := float32(g.level.Tick())
		l[i] *= v
		r[i] *= v
	}
}

// Pan is a balance control: -1 keeps only the left channel, +1 only the right,
// 0 leaves both untouched.
type Pan struct {
	balance *param.Parameter
}

func NewPan(balance *param.Parameter) *Pan { return &Pan{balance: balance} }

func (p *Pan) Prepare(float64, int) {}
func (p *Pan) Reset()               {}

func (p *Pan) Process(l, r []float32) {
	for i := range l {
		lg, rg := BalanceGains(p.balance.Tick())
		l[i] *= float32(lg)
		r[i] *= float32(rg)
	}
}

// BalanceGains returns the per-channel factors for a balance in [-1, 1].
func BalanceGains(b float64) (left, right float64) {
	b = math.Min(1, math.Max(-1, b))
	return 1 - math.Max(0, b), 1 + math.Min(0, b)
}

// StereoWidener scales the side signal: 0 collapses to mono, 1 is neutral, 2 doubles width.
type StereoWidener struct {
	width *param.Parameter
}

func NewStereoWidener(width *param.Parameter) *StereoWidener {
	return &StereoWidener{width: width}
}

func (w *StereoWidener) Prepare(float64, int) {}
func (w *StereoWidener) Reset()               {}

func (w *StereoWidener) Process(l, r []float32) {
	for i := range l {
		k := float32(w.width.Tick())
		mid := (l[i] + r[i]) * 0.5
		side := (l[i] - r[i]) * 0.5 * k
		l[i] = mid + side
		r[i] = mid - side
	}
}

// Mixer is the last stage before the device: output level, a mute gate and a peak meter.
type Mixer struct {
	level *param.Parameter
	open  *param.Parameter // 1 passes audio, 0 mutes; ramped to avoid clicks
	peak  atomic.Uint32
}

func NewMixer(level, open *param.Parameter) *Mixer {
	return &Mixer{level: level, open: open}
}

func (m *Mixer) Prepare(float64, int) {}

func (m *Mixer) Reset() { m.peak.Store(0) }

// Process applies the level, records the peak, then applies the mute gate.
func (m *Mixer) Process(l, r []float32) {
	var peak float32
	for i := range l {
		lv := float32(m.level.Tick())
		a, b := l[i]*lv, r[i]*lv
		peak = max(peak, abs32(a), abs32(b))
		g := float32(m.open.Tick())
		l[i], r[i] = a*g, b*g
	}
	m.peak.Store(math.Float32bits(peak))
}

// Peak returns the peak of the last processed block, after the level and ahead of the gate.
func (m *Mixer) Peak() float32 { return math.Float32frombits(m.peak.Load()) }

// Mute closes or opens the gate. Control side.
func (m *Mixer) Mute(on bool) {
	if on {
		m.open.Set(0)
		return
	}
	m.open.Set(1)
}

// Muted reports the gate target.
func (m *Mixer) Muted() bool { return m.open.Value() == 0 }
