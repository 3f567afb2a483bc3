// Package resilience guards calls to the recognizer, the translation endpoint
// and the audio device with circuit breakers and backoff retries.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// State is a breaker position.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned by Allow while the breaker rejects calls.
var ErrOpen = errors.New("circuit breaker open")

// Breaker stops calling a failing dependency after Threshold consecutive failures.
// After Cooldown one probe at a time is let through; Probes successes close it again
// and any probe failure reopens it.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
	probing   bool
	trips     uint64
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{cfg: cfg.withDefaults(), now: time.Now}
}

// Name returns the breaker label.
func (b *Breaker) Name() string { return b.cfg.Name }

// State reports the current position. An open breaker whose cooldown has passed
// reports HalfOpen, since the next Allow would admit a probe.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.cooledDown() {
		return HalfOpen
	}
	return b.state
}

// Trips counts how many times the breaker has opened.
func (b *Breaker) Trips() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.trips
}

// Allow reports whether a call may proceed. Callers that get nil must report the
// outcome with Success or Failure.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open {
		if !b.cooledDown() {
			return ErrOpen
		}
		b.setState(HalfOpen)
	}
	if b.state == HalfOpen {
		if b.probing {
			return ErrOpen
		}
		b.probing = true
	}
	return nil
}

// Success records a successful call.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failures = 0
	case HalfOpen:
		b.probing = false
		b.successes++
		if b.successes >= b.cfg.Probes {
			b.setState(Closed)
		}
	}
}

// Failure records a failed call.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failures++
		if b.failures >= b.cfg.Threshold {
			b.setState(Open)
		}
	case HalfOpen:
		b.setState(Open)
	}
}

// release returns a half-open probe slot without judging the dependency.
func (b *Breaker) release() {
	b.mu.Lock()
	b.probing = false
	b.mu.Unlock()
}

// Do runs fn through the breaker. Only retryable errors count against the
// dependency: a rejected request still proves the endpoint answers, and a
// cancelled caller says nothing about it.
func (b *Breaker) Do(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := fn()
	switch {
	case err == nil:
		b.Success()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		b.release()
	case IsRetryableError(err):
		b.Failure()
	default:
		b.Success()
	}
	return err
}

func (b *Breaker) cooledDown() bool {
	return b.now().Sub(b.openedAt) >= b.cfg.Cooldown
}

// setState must be called with mu held.
func (b *Breaker) setState(to State) {
	from := b.state
	b.state = to
	b.failures = 0
	b.successes = 0
	b.probing = false
	if to == Open {
		b.openedAt = b.now()
		b.trips++
	}

	switch to {
	case Open:
		slog.Warn("circuit breaker opened", "breaker", b.cfg.Name, "from", from.String(), "cooldown", b.cfg.Cooldown)
	case Closed:
		slog.Info("circuit breaker closed", "breaker", b.cfg.Name, "from", from.String())
	default:
		slog.Debug("circuit breaker probing", "breaker", b.cfg.Name)
	}
}
