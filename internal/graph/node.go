package graph

import (
	"strings"
	"sync/atomic"

	"github.com/GriffinCanCode/hearing-assist/internal/dsp"
	"github.com/GriffinCanCode/hearing-assist/internal/param"
)

// NodeID names a stage of the chain.
type NodeID string

const (
	NodeCapture    NodeID = "capture"
	NodeGain       NodeID = "gain"
	NodePan        NodeID = "pan"
	NodeHighPass   NodeID = "highpass"
	NodeLowPass    NodeID = "lowpass"
	NodePitch      NodeID = "pitch"
	NodeWidener    NodeID = "widener"
	NodeEqualizer  NodeID = "equalizer"
	NodeCompressor NodeID = "compressor"
	NodeReverb     NodeID = "reverb"
	NodeLimiter    NodeID = "limiter"
	NodeMixer      NodeID = "mixer"
	NodeOutput     NodeID = "output"
)

// Chain is the fixed processing order.
var Chain = []NodeID{
	NodeCapture, NodeGain, NodePan, NodeHighPass, NodeLowPass, NodePitch, NodeWidener,
	NodeEqualizer, NodeCompressor, NodeReverb, NodeLimiter, NodeMixer, NodeOutput,
}

// Node is one stage. Bypass keeps the node wired; the audio side crossfades between
// processed and dry signal over the ramp time.
type Node struct {
	id     NodeID
	proc   dsp.Processor // nil for the capture and output endpoints
	params []*param.Parameter

	enabled  atomic.Bool // attached to the running chain
	bypassed atomic.Bool

	// audio-thread state
	wet        float64
	fadeStep   float64
	dryL, dryR []float32
}

// NodeInfo is a read-only view of a node.
type NodeInfo struct {
	ID       NodeID             `json:"id"`
	Enabled  bool               `json:"enabled"`
	Bypassed bool               `json:"bypassed"`
	Params   map[string]float64 `json:"params,omitempty"`
}

func newNode(id NodeID, proc dsp.Processor, params ...*param.Parameter) *Node {
	return &Node{id: id, proc: proc, params: params, wet: 1}
}

func (n *Node) prepare(sampleRate float64, maxFrames int, rampMS float64) {
	if n.proc == nil {
		return
	}
	n.proc.Prepare(sampleRate, maxFrames)
	n.dryL = make([]float32, maxFrames)
	n.dryR = make([]float32, maxFrames)
	fade := max(1, rampMS*sampleRate/1000)
	n.fadeStep = 1 / fade
	if n.bypassed.Load() {
		n.wet = 0
	} else {
		n.wet = 1
	}
}

func (n *Node) process(l, r []float32) {
	if n.proc == nil {
		return
	}
	target := 1.0
	if n.bypassed.Load() {
		target = 0
	}
	switch {
	case n.wet == 0 && target == 0:
		return
	case n.wet == 1 && target == 1:
		n.proc.Process(l, r)
		return
	}

	dryL, dryR := n.dryL[:len(l)], n.dryR[:len(r)]
	copy(dryL, l)
	copy(dryR, r)
	n.proc.Process(l, r)
	for i := range l {
		if n.wet < target {
			n.wet = min(target, n.wet+n.fadeStep)
		} else if n.wet > target {
			n.wet = max(target, n.wet-n.fadeStep)
		}
		w := float32(n.wet)
		l[i] = dryL[i] + (l[i]-dryL[i])*w
		r[i] = dryR[i] + (r[i]-dryR[i])*w
	}
	if n.wet == 0 {
		n.proc.Reset()
	}
}

func (n *Node) info() NodeInfo {
	ni := NodeInfo{ID: n.id, Enabled: n.enabled.Load(), Bypassed: n.bypassed.Load()}
	if len(n.params) > 0 {
		ni.Params = make(map[string]float64, len(n.params))
		for _, p := range n.params {
			name := strings.TrimPrefix(string(p.ID()), string(n.id)+".")
			ni.Params[name] = p.Value()
		}
	}
	return ni
}
