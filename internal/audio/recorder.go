package audio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/GriffinCanCode/hearing-assist/internal/graph"
	"github.com/GriffinCanCode/hearing-assist/internal/pcm"
)

// Recorder writes the processed stereo output to a 16-bit WAV file. The graph sink copies
// blocks into a ChunkQueue; Run encodes them off the audio thread.
type Recorder struct {
	w     io.WriteSeeker
	close func() error
	enc   *wav.Encoder
	buf   *goaudio.IntBuffer
	queue *ChunkQueue

	interleaved []float32 // audio thread scratch

	mu     sync.Mutex
	frames int
	closed bool
}

// NewRecorder creates path and prepares a stereo encoder at sampleRate.
func NewRecorder(path string, sampleRate, framesPerBuffer, depth int) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}
	return newRecorder(f, f.Close, sampleRate, framesPerBuffer, depth), nil
}

func newRecorder(w io.WriteSeeker, closeFn func() error, sampleRate, framesPerBuffer, depth int) *Recorder {
	return &Recorder{
		w:     w,
		close: closeFn,
		enc:   wav.NewEncoder(w, sampleRate, 16, 2, 1),
		buf: &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: 2, SampleRate: sampleRate},
			SourceBitDepth: 16,
			Data:           make([]int, 0, framesPerBuffer*2),
		},
		queue:       NewChunkQueue(depth, framesPerBuffer*2),
		interleaved: make([]float32, framesPerBuffer*2),
	}
}

// Sink returns the graph observer that feeds the recorder. Audio thread.
func (r *Recorder) Sink() graph.Sink {
	return func(l, rr []float32) {
		n := len(l)
		if 2*n > len(r.interleaved) {
			n = len(r.interleaved) / 2
		}
		for i := 0; i < n; i++ {
			r.interleaved[2*i] = l[i]
			r.interleaved[2*i+1] = rr[i]
		}
		r.queue.Push(r.interleaved[:2*n])
	}
}

// Run encodes queued blocks until ctx is done, then finalizes the file.
func (r *Recorder) Run(ctx context.Context) error {
	r.queue.Run(ctx, func(block []float32) {
		if err := r.write(block); err != nil {
			slog.Warn("recording write failed", "error", err)
		}
	})
	return r.Close()
}

func (r *Recorder) write(block []float32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.buf.Data = pcm.ToInt16(r.buf.Data, block)
	if err := r.enc.Write(r.buf); err != nil {
		return err
	}
	r.frames += len(block) / 2
	return nil
}

// Frames is the number of stereo frames written so far.
func (r *Recorder) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Dropped counts blocks lost because the encoder fell behind.
func (r *Recorder) Dropped() uint64 { return r.queue.Dropped() }

// Close writes the WAV header and closes the file. Safe to call twice.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if err := r.enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	if r.close != nil {
		return r.close()
	}
	return nil
}
