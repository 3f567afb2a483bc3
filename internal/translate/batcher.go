package translate

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/hearing-assist/internal/trace"
)

// Batcher defaults
const (
	DefaultBatchMaxSize    = 4
	DefaultBatchFlushDelay = 750 * time.Millisecond
	batchQueueDepth        = 16
)

// Result is one translated batch.
type Result struct {
	Source     string
	Text       string
	Err        error
	Duration   time.Duration
	SourceLang string
	TargetLang string
}

// Batcher groups finalized segments that arrive close together into one translation
// request. Batches are translated one at a time, in order.
type Batcher struct {
	engine     Engine
	maxSize    int
	flushDelay time.Duration
	deliver    func(Result)

	source atomic.Pointer[string]
	target atomic.Pointer[string]

	mu     sync.Mutex
	items  []string
	timer  *time.Timer
	queue  chan []string
	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// NewBatcher creates a batcher delivering results to deliver from its worker goroutine.
func NewBatcher(engine Engine, source, target string, maxSize int, flushDelay time.Duration, deliver func(Result)) *Batcher {
	if maxSize <= 0 {
		maxSize = DefaultBatchMaxSize
	}
	if flushDelay <= 0 {
		flushDelay = DefaultBatchFlushDelay
	}
	b := &Batcher{
		engine:     engine,
		maxSize:    maxSize,
		flushDelay: flushDelay,
		deliver:    deliver,
		items:      make([]string, 0, maxSize),
		queue:      make(chan []string, batchQueueDepth),
		stopCh:     make(chan struct{}),
	}
	b.source.Store(&source)
	b.target.Store(&target)
	b.wg.Add(1)
	go b.worker()
	return b
}

// SetTarget changes the target locale. An empty target disables translation.
func (b *Batcher) SetTarget(locale string) { b.target.Store(&locale) }

// Target returns the target locale.
func (b *Batcher) Target() string { return *b.target.Load() }

// Enabled reports whether segments will be translated.
func (b *Batcher) Enabled() bool { return b.Target() != "" && b.engine.Ready() }

// Add queues a segment. It is dropped when translation is disabled.
func (b *Batcher) Add(text string) {
	text = strings.TrimSpace(text)
	if text == "" || !b.Enabled() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items = append(b.items, text)
	if len(b.items) >= b.maxSize {
		b.flushLocked()
		return
	}
	if b.timer == nil {
		b.timer = time.AfterFunc(b.flushDelay, b.timerFlush)
	} else {
		b.timer.Reset(b.flushDelay)
	}
}

func (b *Batcher) timerFlush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

func (b *Batcher) flushLocked() {
	if len(b.items) == 0 {
		return
	}
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	items := b.items
	b.items = make([]string, 0, b.maxSize)

	select {
	case <-b.stopCh:
	case b.queue <- items:
	default:
		trace.Logger(context.Background()).Warn("translation queue full, dropping batch", "count", len(items))
	}
}

func (b *Batcher) worker() {
	defer b.wg.Done()
	for {
		select {
		case items := <-b.queue:
			b.translate(items)
		case <-b.stopCh:
			for {
				select {
				case items := <-b.queue:
					b.translate(items)
				default:
					return
				}
			}
		}
	}
}

func (b *Batcher) translate(items []string) {
	src, dst := *b.source.Load(), *b.target.Load()
	if dst == "" {
		return
	}
	ctx, span := trace.StartSpan(context.Background(), "translation_batch")
	defer span.End()
	span.SetAttr("count", len(items))

	text := strings.Join(items, " ")
	start := time.Now()
	out, err := b.engine.Translate(ctx, text, src, dst)
	span.SetError(err)
	if err != nil {
		trace.Logger(ctx).Warn("translation failed", "error", err, "count", len(items))
	}
	if b.deliver != nil {
		b.deliver(Result{Source: text, Text: out, Err: err, Duration: time.Since(start), SourceLang: src, TargetLang: dst})
	}
}

// Flush forces immediate flush of pending segments.
func (b *Batcher) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

// Stop flushes pending segments, waits for queued batches and stops the worker.
func (b *Batcher) Stop() {
	b.once.Do(func() {
		b.Flush()
		close(b.stopCh)
		b.wg.Wait()
	})
}
