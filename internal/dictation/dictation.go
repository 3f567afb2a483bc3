// Package dictation turns a stream of recognition hypotheses into one growing transcript
// that survives the recognizer's per-utterance session restarts.
//
// All Accumulator methods except Feed run on the control loop. Results are posted there
// tagged with the session epoch; anything from a stopped session is dropped.
package dictation

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"

	apperrors "github.com/GriffinCanCode/hearing-assist/internal/errors"
	"github.com/GriffinCanCode/hearing-assist/internal/recognition"
	"github.com/GriffinCanCode/hearing-assist/internal/resilience"
	"github.com/GriffinCanCode/hearing-assist/internal/scheduler"
)

// Options configure an Accumulator.
type Options struct {
	Language   string
	SampleRate int
	// StripDeletedPrefix removes text the user cleared from later cumulative hypotheses.
	StripDeletedPrefix bool
}

// Callbacks observe the accumulator. Each runs on the control loop.
type Callbacks struct {
	OnText  func(text string)
	OnFinal func(segment string)
	OnError func(err error)
	// OnListening fires when a session starts or the accumulator stops listening.
	OnListening func(listening bool)
}

type feedRef struct {
	session recognition.Session
}

// Accumulator is the dictation state machine.
type Accumulator struct {
	engine  recognition.Engine
	sched   scheduler.Scheduler
	opts    Options
	cb      Callbacks
	breaker *resilience.Breaker

	segments    []string
	visibleFrom int
	display     string
	lastRaw     string
	deleted     string

	epoch      uint64
	session    recognition.Session
	continuous bool
	ctx        context.Context

	feed atomic.Pointer[feedRef]
}

// New creates an idle accumulator.
func New(engine recognition.Engine, sched scheduler.Scheduler, opts Options, cb Callbacks) *Accumulator {
	return &Accumulator{
		engine:  engine,
		sched:   sched,
		opts:    opts,
		cb:      cb,
		breaker: resilience.NewBreaker(resilience.RecognitionBreaker("dictation")),
		ctx:     context.Background(),
	}
}

// Breaker exposes the session-start breaker for metrics.
func (a *Accumulator) Breaker() *resilience.Breaker { return a.breaker }

// Start begins listening. In continuous mode a new session is started after every final.
// Starting while already listening only updates the continuous flag.
func (a *Accumulator) Start(ctx context.Context, continuous bool) error {
	a.continuous = continuous
	if a.session != nil {
		return nil
	}
	a.ctx = context.WithoutCancel(ctx)
	return a.startSession()
}

func (a *Accumulator) startSession() error {
	if err := a.breaker.Allow(); err != nil {
		return apperrors.Wrap(err, apperrors.CodeUnavailable, "recognition paused after repeated failures")
	}
	s, err := a.engine.StartSession(a.ctx, recognition.SessionConfig{Language: a.opts.Language, SampleRate: a.opts.SampleRate})
	if err != nil {
		a.breaker.Failure()
		if _, ok := apperrors.As(err); ok {
			return err
		}
		return apperrors.Wrap(err, apperrors.CodeRecognitionSession, "start recognition session")
	}
	a.breaker.Success()

	a.epoch++
	a.session = s
	a.lastRaw = ""
	a.deleted = ""
	a.feed.Store(&feedRef{session: s})
	go a.pump(a.epoch, s)

	slog.Debug("dictation session started", "session_id", s.ID(), "epoch", a.epoch)
	a.notifyListening(true)
	return nil
}

// pump forwards session events to the control loop.
func (a *Accumulator) pump(epoch uint64, s recognition.Session) {
	for r := range s.Results() {
		r := r
		a.sched.Post(func() { a.handleResult(epoch, r) })
	}
	err := s.Err()
	a.sched.Post(func() { a.handleEnd(epoch, err) })
}

// Stop ends listening and invalidates every pending event of the current session.
// Finalized text is kept.
func (a *Accumulator) Stop() {
	a.epoch++
	was := a.session != nil
	a.resetHandles()
	if was {
		a.notifyListening(false)
	}
}

// Feed forwards captured audio to the current session. Safe from any goroutine.
func (a *Accumulator) Feed(samples []float32) {
	ref := a.feed.Load()
	if ref == nil {
		return
	}
	if err := ref.session.Feed(samples); err != nil {
		slog.Debug("dictation feed dropped", "session_id", ref.session.ID(), "error", err)
	}
}

func (a *Accumulator) handleResult(epoch uint64, r recognition.Result) {
	if epoch != a.epoch {
		return
	}
	a.lastRaw = r.Text
	text := a.strip(r.Text)

	if !r.IsFinal {
		a.setDisplay(joinWith(a.visibleText(), text))
		return
	}

	appended := false
	if text != "" && (len(a.segments) == 0 || a.segments[len(a.segments)-1] != text) {
		a.segments = append(a.segments, text)
		appended = true
	}
	a.setDisplay(a.visibleText())
	if appended && a.cb.OnFinal != nil {
		a.cb.OnFinal(text)
	}

	if !a.continuous {
		return
	}
	// The recognizer ends after a final; replace the session before its end arrives.
	a.epoch++
	a.resetHandles()
	if err := a.startSession(); err != nil {
		slog.Warn("dictation restart failed", "error", err)
		a.notifyListening(false)
		a.emitError(err)
	}
}

func (a *Accumulator) handleEnd(epoch uint64, err error) {
	if epoch != a.epoch {
		return
	}
	a.epoch++
	a.resetHandles()
	a.notifyListening(false)
	if err != nil {
		slog.Warn("recognition session failed", "error", err)
		a.emitError(err)
	}
}

func (a *Accumulator) resetHandles() {
	a.feed.Store(nil)
	if a.session != nil {
		_ = a.session.Close()
		a.session = nil
	}
}

// Clear empties the transcript, the display and the deleted prefix.
func (a *Accumulator) Clear() {
	a.segments = nil
	a.visibleFrom = 0
	a.lastRaw = ""
	a.deleted = ""
	a.setDisplay("")
}

// ClearVisible empties the display but keeps the transcript. The recognizer keeps
// returning the cleared words as part of its cumulative hypothesis, so they are
// remembered and removed from later results.
func (a *Accumulator) ClearVisible() {
	a.deleted = a.lastRaw
	a.visibleFrom = len(a.segments)
	a.setDisplay("")
}

// Text is the displayed text.
func (a *Accumulator) Text() string { return a.display }

// Transcript is every finalized segment, visible or not, joined by spaces.
func (a *Accumulator) Transcript() string { return strings.Join(a.segments, " ") }

// Segments returns a copy of the finalized segments.
func (a *Accumulator) Segments() []string { return append([]string(nil), a.segments...) }

// Listening reports whether a session is active.
func (a *Accumulator) Listening() bool { return a.session != nil }

// Continuous reports whether finals restart the session.
func (a *Accumulator) Continuous() bool { return a.continuous }

func (a *Accumulator) visibleText() string {
	return strings.Join(a.segments[a.visibleFrom:], " ")
}

func (a *Accumulator) strip(text string) string {
	if !a.opts.StripDeletedPrefix || a.deleted == "" {
		return text
	}
	return strings.TrimSpace(strings.Replace(text, a.deleted, "", 1))
}

func (a *Accumulator) setDisplay(s string) {
	a.display = s
	if a.cb.OnText != nil {
		a.cb.OnText(s)
	}
}

func (a *Accumulator) emitError(err error) {
	if a.cb.OnError != nil {
		a.cb.OnError(err)
	}
}

func (a *Accumulator) notifyListening(on bool) {
	if a.cb.OnListening != nil {
		a.cb.OnListening(on)
	}
}

func joinWith(joined, partial string) string {
	if joined == "" {
		return partial
	}
	return joined + " " + partial
}
