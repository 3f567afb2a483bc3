// Package audio owns the hardware side of the pipeline: the PortAudio duplex stream, the
// microphone tap that fans captured buffers out to the graph and the recognizer, and the
// optional WAV recorder of processed output.
package audio

import (
	"log/slog"
	"sync/atomic"

	apperrors "github.com/GriffinCanCode/hearing-assist/internal/errors"
)

// Bus identifies a capture bus. The hardware delivers microphone input on InputBus.
type Bus int

const (
	InputBus Bus = iota
	maxBuses     = 4
)

// TapFunc receives one captured buffer. It runs on the audio thread, must not block and
// must not retain samples after returning.
type TapFunc func(samples []float32)

// Tap holds at most one callback per bus.
type Tap struct {
	funcs [maxBuses]atomic.Pointer[TapFunc]
}

// NewTap creates an empty tap.
func NewTap() *Tap { return &Tap{} }

// InstallTap sets fn as the callback for bus. Replacing an installed tap is allowed but
// logged, since the previous consumer stops receiving audio.
func (t *Tap) InstallTap(bus Bus, fn TapFunc) error {
	if bus < 0 || bus >= maxBuses {
		return apperrors.Newf(apperrors.CodeInvalidArgument, "bus %d out of range", bus)
	}
	if fn == nil {
		t.RemoveTap(bus)
		return nil
	}
	if prev := t.funcs[bus].Swap(&fn); prev != nil {
		slog.Warn("replacing installed tap", "bus", int(bus))
	}
	return nil
}

// RemoveTap clears the callback for bus. Removing an empty bus is a no-op.
func (t *Tap) RemoveTap(bus Bus) {
	if bus < 0 || bus >= maxBuses {
		return
	}
	t.funcs[bus].Store(nil)
}

// Installed reports whether bus has a callback.
func (t *Tap) Installed(bus Bus) bool {
	return bus >= 0 && bus < maxBuses && t.funcs[bus].Load() != nil
}

// Dispatch hands one captured buffer to the bus callback. Audio thread.
func (t *Tap) Dispatch(bus Bus, samples []float32) {
	if bus < 0 || bus >= maxBuses {
		return
	}
	if fn := t.funcs[bus].Load(); fn != nil {
		(*fn)(samples)
	}
}

// NewFanOut delivers each buffer to every consumer in order. Consumers copy what they need
// (the graph into its ring, the recognizer into a ChunkQueue) so none blocks another.
func NewFanOut(consumers ...TapFunc) TapFunc {
	live := make([]TapFunc, 0, len(consumers))
	for _, c := range consumers {
		if c != nil {
			live = append(live, c)
		}
	}
	return func(samples []float32) {
		for _, c := range live {
			c(samples)
		}
	}
}
