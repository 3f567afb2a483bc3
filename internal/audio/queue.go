package audio

import (
	"context"
	"sync/atomic"
)

// ChunkQueue hands audio from the audio thread to a consumer goroutine without allocating.
// Slots are preallocated; Push drops the buffer when every slot is in use.
type ChunkQueue struct {
	slots   [][]float32
	lens    []int
	free    chan int
	ready   chan int
	dropped atomic.Uint64
	pushed  atomic.Uint64
}

// NewChunkQueue creates a queue of depth slots of maxFrames samples each.
func NewChunkQueue(depth, maxFrames int) *ChunkQueue {
	if depth <= 0 {
		depth = 32
	}
	if maxFrames <= 0 {
		maxFrames = 1024
	}
	q := &ChunkQueue{
		slots: make([][]float32, depth),
		lens:  make([]int, depth),
		free:  make(chan int, depth),
		ready: make(chan int, depth),
	}
	for i := range q.slots {
		q.slots[i] = make([]float32, maxFrames)
		q.free <- i
	}
	return q
}

// Push copies samples into free slots, splitting buffers larger than a slot. It never
// blocks and reports false if anything was dropped. Audio thread.
func (q *ChunkQueue) Push(samples []float32) bool {
	for len(samples) > 0 {
		var i int
		select {
		case i = <-q.free:
		default:
			q.dropped.Add(1)
			return false
		}
		n := copy(q.slots[i], samples)
		q.lens[i] = n
		samples = samples[n:]
		q.ready <- i
		q.pushed.Add(1)
	}
	return true
}

// Run passes each queued buffer to fn until ctx is done. fn must not retain the slice.
func (q *ChunkQueue) Run(ctx context.Context, fn func([]float32)) {
	for {
		select {
		case <-ctx.Done():
			return
		case i := <-q.ready:
			fn(q.slots[i][:q.lens[i]])
			q.free <- i
		}
	}
}

// Flush discards queued buffers without running a consumer.
func (q *ChunkQueue) Flush() {
	for {
		select {
		case i := <-q.ready:
			q.free <- i
		default:
			return
		}
	}
}

// Len is the number of buffers waiting for the consumer.
func (q *ChunkQueue) Len() int { return len(q.ready) }

// Dropped counts buffers discarded because the queue was full.
func (q *ChunkQueue) Dropped() uint64 { return q.dropped.Load() }

// Pushed counts buffers accepted.
func (q *ChunkQueue) Pushed() uint64 { return q.pushed.Load() }
