package recognition

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-process Engine driven by the caller. Tests and offline runs use it to
// script partial, final, error and end events.
type Fake struct {
	mu       sync.Mutex
	sessions []*FakeSession
	startErr error
}

// NewFake creates an engine whose sessions start successfully.
func NewFake() *Fake { return &Fake{} }

// FailStarts makes subsequent StartSession calls return err; nil restores success.
func (f *Fake) FailStarts(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startErr = err
}

// StartSession implements Engine.
func (f *Fake) StartSession(_ context.Context, cfg SessionConfig) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	s := &FakeSession{
		id:      fmt.Sprintf("fake-%d", len(f.sessions)+1),
		cfg:     cfg,
		results: make(chan Result, ResultBuffer),
	}
	f.sessions = append(f.sessions, s)
	return s, nil
}

// Sessions returns how many sessions were started.
func (f *Fake) Sessions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

// Last returns the most recent session, or nil.
func (f *Fake) Last() *FakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sessions) == 0 {
		return nil
	}
	return f.sessions[len(f.sessions)-1]
}

// FakeSession is a session of Fake.
type FakeSession struct {
	id      string
	cfg     SessionConfig
	results chan Result

	mu     sync.Mutex
	fed    int
	err    error
	ended  bool
	closed bool
}

func (s *FakeSession) ID() string             { return s.id }
func (s *FakeSession) Results() <-chan Result { return s.results }

// Config returns the configuration the session was started with.
func (s *FakeSession) Config() SessionConfig { return s.cfg }

func (s *FakeSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Feed counts samples.
func (s *FakeSession) Feed(samples []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return fmt.Errorf("session %s ended", s.id)
	}
	s.fed += len(samples)
	return nil
}

// Fed returns how many samples were fed.
func (s *FakeSession) Fed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fed
}

// Partial emits a partial hypothesis.
func (s *FakeSession) Partial(text string) { s.emit(Result{Text: text}) }

// Final emits a final hypothesis and ends the session, as real recognizers do.
func (s *FakeSession) Final(text string) {
	s.emit(Result{Text: text, IsFinal: true})
	s.end(nil)
}

// Fail ends the session with err.
func (s *FakeSession) Fail(err error) { s.end(err) }

// End ends the session cleanly without a final.
func (s *FakeSession) End() { s.end(nil) }

// Closed reports whether the consumer closed the session.
func (s *FakeSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *FakeSession) emit(r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.results <- r
}

func (s *FakeSession) end(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.err = err
	close(s.results)
}

// Close implements Session.
func (s *FakeSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.end(nil)
	return nil
}
