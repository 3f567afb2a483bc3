package graph

import "sync/atomic"

// ring is a single-producer single-consumer sample FIFO. The tap writes, Render reads.
type ring struct {
	buf  []float32
	mask uint64
	head atomic.Uint64 // next write
	tail atomic.Uint64 // next read
}

func newRing(minSize int) *ring {
	size := 1
	for size < minSize {
		size <<= 1
	}
	return &ring{buf: make([]float32, size), mask: uint64(size - 1)}
}

// write copies as much of src as fits and returns the count. Excess samples are dropped.
func (r *ring) write(src []float32) int {
	head, tail := r.head.Load(), r.tail.Load()
	free := uint64(len(r.buf)) - (head - tail)
	n := min(uint64(len(src)), free)
	for i := uint64(0); i < n; i++ {
		r.buf[(head+i)&r.mask] = src[i]
	}
	r.head.Store(head + n)
	return int(n)
}

// read fills dst from the FIFO and returns the count.
func (r *ring) read(dst []float32) int {
	head, tail := r.head.Load(), r.tail.Load()
	n := min(uint64(len(dst)), head-tail)
	for i := uint64(0); i < n; i++ {
		dst[i] = r.buf[(tail+i)&r.mask]
	}
	r.tail.Store(tail + n)
	return int(n)
}

func (r *ring) buffered() int {
	return int(r.head.Load() - r.tail.Load())
}
