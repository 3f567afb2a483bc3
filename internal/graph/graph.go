// Package graph is the real-time enhancement chain:
// capture → gain → pan → high-pass → low-pass → pitch → widener → EQ → compressor →
// reverb → limiter → mixer → output.
//
// Control methods may be called from any goroutine. Feed and Render belong to the audio
// thread and touch only atomics and preallocated buffers.
package graph

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/GriffinCanCode/hearing-assist/internal/dsp"
	apperrors "github.com/GriffinCanCode/hearing-assist/internal/errors"
	"github.com/GriffinCanCode/hearing-assist/internal/param"
)

// Volume mapping: the UI percent scales to a linear gain that never drops below unity.
const MaxEngineGain = 5.0

// Noise suppression flips both filters together.
const (
	NoiseHighPassOff = 100.0
	NoiseHighPassOn  = 1000.0
	NoiseLowPassOff  = 15000.0
	NoiseLowPassOn   = 4000.0
)

// BandCenters are the equalizer centre frequencies in Hz, low to high.
var BandCenters = []float64{32, 64, 125, 250, 500, 1000, 2000, 4000, 8000, 16000}

// DefaultBandGains is the speech-leaning curve ResetEqualizer restores, in dB.
var DefaultBandGains = []float64{0, 0, 1, 2, 3, 4, 4, 3, 2, 1}

// BandGainLimit bounds each equalizer band, in dB.
const BandGainLimit = 24.0

// Band describes one equalizer band.
type Band struct {
	CenterHz    float64 `json:"center_hz"`
	BandwidthHz float64 `json:"bandwidth_hz"`
	GainDB      float64 `json:"gain_db"`
}

// EngineGain maps a UI volume percent (0..100) to the gain node's linear factor.
func EngineGain(uiVolume float64) float64 {
	return math.Max(1, (uiVolume/100)*MaxEngineGain)
}

// Device is the hardware session the graph renders into.
type Device interface {
	Open(sampleRate float64, framesPerBuffer int, r Renderer) error
	Start() error
	Stop() error
}

// Renderer produces interleaved stereo output. Called on the audio thread.
type Renderer interface {
	Render(out []float32)
}

// Sink observes each processed stereo block. It runs on the audio thread and must not block.
type Sink func(l, r []float32)

// Config sizes the graph.
type Config struct {
	SampleRate      float64
	FramesPerBuffer int
	RampMS          float64
}

// Graph owns the node chain and its parameters.
type Graph struct {
	cfg   Config
	store *param.Store
	dev   Device

	nodes []*Node
	byID  map[NodeID]*Node
	mixer *dsp.Mixer

	gain, balance     *param.Parameter
	highPass, lowPass *param.Parameter
	bandGains         []*param.Parameter
	bands             []Band

	mu         sync.Mutex // pairs control-side writes that must be observed together
	volume     float64
	noise      bool
	configured bool
	opened     bool

	running atomic.Bool
	sink    atomic.Pointer[Sink]

	in   *ring
	l, r []float32
}

// New registers every parameter in store and builds the (not yet attached) nodes.
func New(cfg Config, store *param.Store, dev Device) *Graph {
	if cfg.FramesPerBuffer <= 0 {
		cfg.FramesPerBuffer = 256
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 48000
	}
	if cfg.RampMS == 0 {
		cfg.RampMS = param.DefaultRampMS
	}
	g := &Graph{cfg: cfg, store: store, dev: dev, byID: make(map[NodeID]*Node)}
	g.build()
	return g
}

func (g *Graph) reg(node NodeID, name string, spec param.Spec) *param.Parameter {
	if spec.RampMS == 0 {
		spec.RampMS = g.cfg.RampMS
	}
	return g.store.Register(param.NewID(string(node), name), spec)
}

func (g *Graph) build() {
	g.gain = g.reg(NodeGain, "level", param.Spec{Min: 1, Max: MaxEngineGain, Default: 1})
	g.balance = g.reg(NodePan, "balance", param.Spec{Min: -1, Max: 1})
	g.highPass = g.reg(NodeHighPass, "cutoff", param.Spec{Min: 20, Max: 20000, Default: NoiseHighPassOff})
	g.lowPass = g.reg(NodeLowPass, "cutoff", param.Spec{Min: 20, Max: 20000, Default: NoiseLowPassOff})
	cents := g.reg(NodePitch, "cents", param.Spec{Min: -2400, Max: 2400})
	width := g.reg(NodeWidener, "width", param.Spec{Min: 0, Max: 2, Default: 1})

	eq := make(multi, len(BandCenters))
	g.bands = make([]Band, len(BandCenters))
	g.bandGains = make([]*param.Parameter, len(BandCenters))
	for i, fc := range BandCenters {
		g.bands[i] = Band{CenterHz: fc, BandwidthHz: fc}
		g.bandGains[i] = g.reg(NodeEqualizer, fmt.Sprintf("band%d", i),
			param.Spec{Min: -BandGainLimit, Max: BandGainLimit, Default: DefaultBandGains[i]})
		eq[i] = dsp.NewPeaking(fc, fc, g.bandGains[i])
	}

	comp := dsp.CompressorParams{
		ThresholdDB: g.reg(NodeCompressor, "threshold", param.Spec{Min: -60, Max: 0, Default: -20}),
		Ratio:       g.reg(NodeCompressor, "ratio", param.Spec{Min: 1, Max: 20, Default: 2}),
		AttackMS:    g.reg(NodeCompressor, "attack", param.Spec{Min: 0.1, Max: 200, Default: 10}),
		ReleaseMS:   g.reg(NodeCompressor, "release", param.Spec{Min: 10, Max: 3000, Default: 200}),
		MakeupDB:    g.reg(NodeCompressor, "makeup", param.Spec{Min: 0, Max: 24}),
	}
	reverbMix := g.reg(NodeReverb, "mix", param.Spec{Min: 0, Max: 100})
	limThreshold := g.reg(NodeLimiter, "threshold", param.Spec{Min: -24, Max: 0, Default: -1})
	limRelease := g.reg(NodeLimiter, "release", param.Spec{Min: 1, Max: 1000, Default: 50})
	mixLevel := g.reg(NodeMixer, "level", param.Spec{Min: 0, Max: 2, Default: 1})
	mixOpen := g.reg(NodeMixer, "open", param.Spec{Min: 0, Max: 1, Default: 1})
	g.mixer = dsp.NewMixer(mixLevel, mixOpen)

	g.add(newNode(NodeCapture, nil))
	g.add(newNode(NodeGain, dsp.NewGain(g.gain), g.gain))
	g.add(newNode(NodePan, dsp.NewPan(g.balance), g.balance))
	g.add(newNode(NodeHighPass, dsp.NewHighPass(g.highPass), g.highPass))
	g.add(newNode(NodeLowPass, dsp.NewLowPass(g.lowPass), g.lowPass))
	g.add(newNode(NodePitch, dsp.NewPitchShifter(cents), cents))
	g.add(newNode(NodeWidener, dsp.NewStereoWidener(width), width))
	g.add(newNode(NodeEqualizer, eq, g.bandGains...))
	g.add(newNode(NodeCompressor, dsp.NewCompressor(comp),
		comp.ThresholdDB, comp.Ratio, comp.AttackMS, comp.ReleaseMS, comp.MakeupDB))
	g.add(newNode(NodeReverb, dsp.NewReverb(reverbMix), reverbMix))
	g.add(newNode(NodeLimiter, dsp.NewLimiter(limThreshold, limRelease), limThreshold, limRelease))
	g.add(newNode(NodeMixer, g.mixer, mixLevel, mixOpen))
	g.add(newNode(NodeOutput, nil))
}

func (g *Graph) add(n *Node) {
	g.nodes = append(g.nodes, n)
	g.byID[n.id] = n
}

// Configure attaches the chain and opens the hardware session. Repeated calls are no-ops.
// A session that cannot be established is logged and retried on the next Start.
func (g *Graph) Configure() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.configured {
		return
	}

	sr, frames := g.cfg.SampleRate, g.cfg.FramesPerBuffer
	g.store.Prepare(sr)
	for _, n := range g.nodes {
		n.prepare(sr, frames, g.cfg.RampMS)
		n.enabled.Store(true)
	}
	g.l = make([]float32, frames)
	g.r = make([]float32, frames)
	g.in = newRing(frames * 8)
	g.configured = true

	g.openLocked()
}

func (g *Graph) openLocked() {
	if g.opened || g.dev == nil {
		return
	}
	if err := g.dev.Open(g.cfg.SampleRate, g.cfg.FramesPerBuffer, g); err != nil {
		slog.Warn("audio session unavailable", "error", err)
		return
	}
	g.opened = true
}

// Configured reports whether Configure has attached the chain.
func (g *Graph) Configured() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.configured
}

// SessionReady reports whether the hardware session is open.
func (g *Graph) SessionReady() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.opened
}

// Start begins rendering to the device. Failure leaves the graph stopped.
func (g *Graph) Start() error {
	g.Configure()

	g.mu.Lock()
	g.openLocked()
	opened := g.opened
	g.mu.Unlock()

	if !opened {
		return apperrors.New(apperrors.CodeHardwareStartFailure, "audio session not established")
	}
	if err := g.dev.Start(); err != nil {
		g.running.Store(false)
		slog.Warn("audio engine start failed", "error", err)
		return apperrors.Wrap(err, apperrors.CodeHardwareStartFailure, "start audio engine")
	}
	g.running.Store(true)
	return nil
}

// Stop halts rendering.
func (g *Graph) Stop() error {
	wasRunning := g.running.Swap(false)
	if !wasRunning || g.dev == nil {
		return nil
	}
	if err := g.dev.Stop(); err != nil {
		slog.Warn("audio engine stop failed", "error", err)
		return err
	}
	return nil
}

// Reopen drops the hardware session so the next Start opens it again with fresh routing.
func (g *Graph) Reopen() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.opened = false
}

// IsRunning reports whether the device is rendering.
func (g *Graph) IsRunning() bool { return g.running.Load() }

// Feed queues captured mono samples for the next Render. Audio thread.
func (g *Graph) Feed(in []float32) {
	if g.in == nil {
		return
	}
	g.in.write(in)
}

// Render pulls queued input through the chain into interleaved stereo out. Audio thread.
func (g *Graph) Render(out []float32) {
	if g.in == nil {
		clear(out)
		return
	}
	frames := len(out) / 2
	sink := g.sink.Load()
	for off := 0; off < frames; {
		n := min(len(g.l), frames-off)
		l, r := g.l[:n], g.r[:n]
		got := g.in.read(l)
		clear(l[got:])
		copy(r, l)

		for _, node := range g.nodes {
			node.process(l, r)
		}
		for i := 0; i < n; i++ {
			out[2*(off+i)] = l[i]
			out[2*(off+i)+1] = r[i]
		}
		if sink != nil {
			(*sink)(l, r)
		}
		off += n
	}
}

// SetSink installs an observer of processed audio; nil removes it.
func (g *Graph) SetSink(s Sink) {
	if s == nil {
		g.sink.Store(nil)
		return
	}
	g.sink.Store(&s)
}

// Peak is the amplitude of the last rendered block.
func (g *Graph) Peak() float32 { return g.mixer.Peak() }

// Mute silences the output without stopping the device.
func (g *Graph) Mute(on bool) { g.mixer.Mute(on) }

// Muted reports the mixer gate.
func (g *Graph) Muted() bool { return g.mixer.Muted() }

// SetEnabled bypasses (false) or reinstates (true) a node.
func (g *Graph) SetEnabled(id NodeID, on bool) error {
	n, ok := g.byID[id]
	if !ok {
		return apperrors.Newf(apperrors.CodeNotFound, "unknown node %q", id)
	}
	if n.proc == nil {
		return apperrors.Newf(apperrors.CodeInvalidArgument, "node %q cannot be bypassed", id)
	}
	if id == NodeMixer {
		// the mixer carries the mute gate; bypassing it would open muted output
		return apperrors.Newf(apperrors.CodeInvalidArgument, "node %q carries the mute gate and cannot be bypassed", id)
	}
	n.bypassed.Store(!on)
	return nil
}

// Enabled reports whether a node is processing (not bypassed).
func (g *Graph) Enabled(id NodeID) bool {
	n, ok := g.byID[id]
	return ok && !n.bypassed.Load()
}

// SetParameter writes a node parameter. The stored (clamped) value is returned.
func (g *Graph) SetParameter(id NodeID, name string, v float64) (float64, error) {
	if _, ok := g.byID[id]; !ok {
		return 0, apperrors.Newf(apperrors.CodeNotFound, "unknown node %q", id)
	}
	return g.store.Set(param.NewID(string(id), name), v)
}

// Parameter reads a node parameter.
func (g *Graph) Parameter(id NodeID, name string) (float64, bool) {
	return g.store.Value(param.NewID(string(id), name))
}

// SetVolume maps a UI percent onto the gain node and returns the applied engine gain.
func (g *Graph) SetVolume(uiVolume float64) float64 {
	uiVolume = math.Min(100, math.Max(0, uiVolume))
	g.mu.Lock()
	defer g.mu.Unlock()
	g.volume = uiVolume
	return g.gain.Set(EngineGain(uiVolume))
}

// Volume returns the last UI percent set.
func (g *Graph) Volume() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.volume
}

// EngineGain returns the gain node target.
func (g *Graph) EngineGain() float64 { return g.gain.Value() }

// SetBalance stores b (clamped to [-1, 1]).
func (g *Graph) SetBalance(b float64) float64 { return g.balance.Set(b) }

// Balance returns exactly the stored balance.
func (g *Graph) Balance() float64 { return g.balance.Value() }

// SetNoiseSuppression moves both filter cutoffs as one step.
func (g *Graph) SetNoiseSuppression(on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.noise = on
	if on {
		g.highPass.Set(NoiseHighPassOn)
		g.lowPass.Set(NoiseLowPassOn)
		return
	}
	g.highPass.Set(NoiseHighPassOff)
	g.lowPass.Set(NoiseLowPassOff)
}

// NoiseSuppression returns the flag and the cutoff pair it implies, read together.
func (g *Graph) NoiseSuppression() (on bool, highPassHz, lowPassHz float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.noise, g.highPass.Value(), g.lowPass.Value()
}

// SetBand sets one equalizer band's gain and returns the stored value.
func (g *Graph) SetBand(index int, gainDB float64) (float64, error) {
	if index < 0 || index >= len(g.bandGains) {
		return 0, apperrors.Newf(apperrors.CodeNotFound, "equalizer band %d out of range", index)
	}
	if math.IsNaN(gainDB) {
		return 0, apperrors.New(apperrors.CodeInvalidArgument, "equalizer gain is NaN")
	}
	return g.bandGains[index].Set(gainDB), nil
}

// Bands lists the equalizer bands with their current gains.
func (g *Graph) Bands() []Band {
	out := make([]Band, len(g.bands))
	for i, b := range g.bands {
		b.GainDB = g.bandGains[i].Value()
		out[i] = b
	}
	return out
}

// ResetEqualizer restores DefaultBandGains.
func (g *Graph) ResetEqualizer() {
	for i, p := range g.bandGains {
		p.Set(DefaultBandGains[i])
	}
}

// Nodes describes the chain in processing order.
func (g *Graph) Nodes() []NodeInfo {
	out := make([]NodeInfo, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n.info())
	}
	return out
}

// multi runs peaking sections in series as one processor.
type multi []*dsp.Biquad

func (m multi) Prepare(sampleRate float64, maxFrames int) {
	for _, b := range m {
		b.Prepare(sampleRate, maxFrames)
	}
}

func (m multi) Process(l, r []float32) {
	for _, b := range m {
		b.Process(l, r)
	}
}

func (m multi) Reset() {
	for _, b := range m {
		b.Reset()
	}
}
