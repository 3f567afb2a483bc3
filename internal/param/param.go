// Package param holds the live audio parameters shared between the control loop and the
// audio thread. Writes come from one control goroutine, reads from one audio goroutine;
// the handoff is a single atomic word per parameter so the audio thread never locks.
package param

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	apperrors "github.com/GriffinCanCode/hearing-assist/internal/errors"
)

// DefaultRampMS is the smoothing time applied to live parameter changes.
const DefaultRampMS = 20

// ID addresses a parameter as "<node>.<name>".
type ID string

// NewID joins a node id and a parameter name.
func NewID(node, name string) ID { return ID(node + "." + name) }

// Spec describes a parameter's domain.
type Spec struct {
	Min     float64
	Max     float64
	Default float64
	// RampMS overrides DefaultRampMS; negative disables ramping.
	RampMS float64
}

// Clamp limits v to [Min, Max].
func (s Spec) Clamp(v float64) float64 {
	return math.Min(s.Max, math.Max(s.Min, v))
}

// Parameter is a clamped, ramped value.
type Parameter struct {
	id   ID
	spec Spec

	target atomic.Uint64 // float64 bits, written by control

	// audio-thread state
	rampSamples int
	goal        float64
	current     float64
	step        float64
	remaining   int
}

func newParameter(id ID, spec Spec) *Parameter {
	if spec.Min > spec.Max {
		panic(fmt.Sprintf("param %s: min %v > max %v", id, spec.Min, spec.Max))
	}
	if spec.RampMS == 0 {
		spec.RampMS = DefaultRampMS
	}
	def := spec.Clamp(spec.Default)
	p := &Parameter{id: id, spec: spec, goal: def, current: def}
	p.target.Store(math.Float64bits(def))
	return p
}

// ID returns the parameter's address.
func (p *Parameter) ID() ID { return p.id }

// Spec returns the parameter's domain.
func (p *Parameter) Spec() Spec { return p.spec }

// Set clamps v and publishes it as the new target. It returns the stored value.
func (p *Parameter) Set(v float64) float64 {
	v = p.spec.Clamp(v)
	p.target.Store(math.Float64bits(v))
	return v
}

// Value returns the last published target.
func (p *Parameter) Value() float64 {
	return math.Float64frombits(p.target.Load())
}

// Prepare sizes the ramp for a sample rate and jumps to the current target.
// Call before the audio thread starts reading.
func (p *Parameter) Prepare(sampleRate float64) {
	p.rampSamples = 0
	if p.spec.RampMS > 0 {
		p.rampSamples = int(math.Round(p.spec.RampMS * sampleRate / 1000))
	}
	p.goal = p.Value()
	p.current = p.goal
	p.remaining = 0
}

// Tick advances one sample and returns the smoothed value. Audio thread only.
func (p *Parameter) Tick() float64 {
	return p.Advance(1)
}

// Advance moves the ramp forward n samples and returns the value reached.
// Audio thread only.
func (p *Parameter) Advance(n int) float64 {
	if t := math.Float64frombits(p.target.Load()); t != p.goal {
		p.goal = t
		if p.rampSamples <= 0 {
			p.current = t
			p.remaining = 0
		} else {
			p.remaining = p.rampSamples
			p.step = (t - p.current) / float64(p.rampSamples)
		}
	}
	if p.remaining > 0 {
		if n >= p.remaining {
			p.current = p.goal
			p.remaining = 0
		} else {
			p.current += p.step * float64(n)
			p.remaining -= n
		}
	}
	return p.current
}

// Settled reports whether the audio side has reached the target.
func (p *Parameter) Settled() bool {
	return p.remaining == 0 && p.goal == p.Value()
}

// Store indexes every parameter of the graph. Registration happens while the graph is
// built; afterwards the map is only read.
type Store struct {
	mu     sync.RWMutex
	params map[ID]*Parameter
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{params: make(map[ID]*Parameter)}
}

// Register adds a parameter. Registering an id twice returns the existing parameter.
func (s *Store) Register(id ID, spec Spec) *Parameter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.params[id]; ok {
		return p
	}
	p := newParameter(id, spec)
	s.params[id] = p
	return p
}

// Get looks up a parameter.
func (s *Store) Get(id ID) (*Parameter, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.params[id]
	return p, ok
}

// Set writes a value, returning what was stored after clamping.
func (s *Store) Set(id ID, v float64) (float64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, apperrors.Newf(apperrors.CodeInvalidArgument, "parameter %s: non-finite value", id)
	}
	p, ok := s.Get(id)
	if !ok {
		return 0, apperrors.Newf(apperrors.CodeNotFound, "unknown parameter %s", id)
	}
	return p.Set(v), nil
}

// Value reads the current target of a parameter.
func (s *Store) Value(id ID) (float64, bool) {
	p, ok := s.Get(id)
	if !ok {
		return 0, false
	}
	return p.Value(), true
}

// Prepare readies every parameter for a sample rate.
func (s *Store) Prepare(sampleRate float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.params {
		p.Prepare(sampleRate)
	}
}

// IDs lists registered ids in sorted order.
func (s *Store) IDs() []ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]ID, 0, len(s.params))
	for id := range s.params {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Snapshot copies every target value.
func (s *Store) Snapshot() map[ID]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[ID]float64, len(s.params))
	for id, p := range s.params {
		out[id] = p.Value()
	}
	return out
}
