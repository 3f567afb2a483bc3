// Package scheduler serializes control work onto one goroutine. Route events, UI commands
// and recognition results all post here so that mode and dictation state never need locks.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Scheduler runs functions on a single control goroutine.
type Scheduler interface {
	// Post queues fn. It never blocks the caller.
	Post(fn func())
	// After queues fn once d has elapsed. The returned Cancel stops it if it has not run.
	After(d time.Duration, fn func()) Cancel
}

// Cancel stops a delayed task. It reports whether the task was still pending.
type Cancel func() bool

// Loop is the production Scheduler.
type Loop struct {
	mu      sync.Mutex
	pending []func()
	wake    chan struct{}
	done    chan struct{}
}

// NewLoop creates an idle loop; call Run to start it.
func NewLoop() *Loop {
	return &Loop{wake: make(chan struct{}, 1), done: make(chan struct{})}
}

// Run drains posted work until ctx is done.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		}
		for {
			l.mu.Lock()
			batch := l.pending
			l.pending = nil
			l.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, fn := range batch {
				l.run(fn)
			}
		}
	}
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("control task panicked", "panic", r)
		}
	}()
	fn()
}

// Done is closed once Run returns.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Post implements Scheduler.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.pending = append(l.pending, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// After implements Scheduler.
func (l *Loop) After(d time.Duration, fn func()) Cancel {
	var (
		mu       sync.Mutex
		canceled bool
	)
	t := time.AfterFunc(d, func() {
		l.Post(func() {
			mu.Lock()
			c := canceled
			mu.Unlock()
			if !c {
				fn()
			}
		})
	})
	return func() bool {
		mu.Lock()
		defer mu.Unlock()
		if canceled {
			return false
		}
		canceled = true
		return t.Stop()
	}
}

// Call runs fn on the loop and waits for it to finish.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	l.Post(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
		return nil
	case <-l.done:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn on the loop and returns its result.
func Do[T any](ctx context.Context, l *Loop, fn func() T) (T, error) {
	var out T
	err := l.Call(ctx, func() { out = fn() })
	return out, err
}
