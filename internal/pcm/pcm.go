// Package pcm converts between float samples and their wire and file encodings. It has
// no cgo dependencies so network clients can use it without the device backend.
package pcm

import (
	"encoding/binary"
	"math"
)

// Encode converts float32 samples to little-endian bytes.
func Encode(samples []float32) []byte {
	buf := make([]byte, len(samples)*4)
	PutFloat32s(buf, samples)
	return buf
}

// PutFloat32s encodes samples into dst, which must hold 4 bytes per sample.
func PutFloat32s(dst []byte, samples []float32) {
	for i, s := range samples {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(s))
	}
}

// Decode reads little-endian float32 samples. Trailing partial samples are ignored.
func Decode(data []byte) []float32 {
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}

// ToInt16 converts float samples in [-1, 1] to 16-bit integers, clipping overs.
func ToInt16(dst []int, samples []float32) []int {
	dst = dst[:0]
	for _, s := range samples {
		v := math.Round(float64(s) * math.MaxInt16)
		v = max(math.MinInt16, min(math.MaxInt16, v))
		dst = append(dst, int(v))
	}
	return dst
}
