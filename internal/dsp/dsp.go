// Package dsp implements the effect nodes of the enhancement chain.
//
// Every processor works in place on non-interleaved stereo blocks. Prepare allocates;
// Process runs on the audio thread and must not block, lock or allocate.
package dsp

import "math"

// Processor transforms a stereo block in place.
type Processor interface {
	// Prepare sizes internal buffers for a sample rate and the largest block Process will see.
	Prepare(sampleRate float64, maxFrames int)
	// Process transforms l and r in place. len(l) == len(r).
	Process(l, r []float32)
	// Reset clears filter memory and delay lines.
	Reset()
}

// DBToGain converts decibels to a linear factor.
func DBToGain(db float64) float64 { return math.Pow(10, db/20) }

// GainToDB converts a linear factor to decibels, flooring silence at -120 dB.
func GainToDB(g float64) float64 {
	if g <= 1e-6 {
		return -120
	}
	return 20 * math.Log10(g)
}

// Peak returns the largest absolute sample across both channels.
func Peak(l, r []float32) float32 {
	var p float32
	for i := range l {
		if v := abs32(l[i]); v > p {
			p = v
		}
		if v := abs32(r[i]); v > p {
			p = v
		}
	}
	return p
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

// timeCoeff is the one-pole smoothing coefficient for a time constant in milliseconds.
func timeCoeff(ms, sampleRate float64) float64 {
	if ms <= 0 || sampleRate <= 0 {
		return 0
	}
	return math.Exp(-1 / (ms / 1000 * sampleRate))
}
