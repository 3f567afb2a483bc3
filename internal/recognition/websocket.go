package recognition

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	apperrors "github.com/GriffinCanCode/hearing-assist/internal/errors"
	"github.com/GriffinCanCode/hearing-assist/internal/pcm"
	"github.com/GriffinCanCode/hearing-assist/internal/resilience"
)

// Wire message types.
const (
	msgStart   = "start"
	msgPartial = "partial"
	msgFinal   = "final"
	msgError   = "error"
)

type startMessage struct {
	Type       string `json:"type"`
	Language   string `json:"language"`
	SampleRate int    `json:"sample_rate"`
	SessionID  string `json:"session_id"`
}

type resultMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ResultBuffer bounds results waiting for the consumer.
const ResultBuffer = 64

// WebSocketEngine streams audio to a remote recognizer over WebSocket.
type WebSocketEngine struct {
	url         string
	dialTimeout time.Duration
	breaker     *resilience.Breaker
}

// NewWebSocketEngine creates an engine for url. Repeated dial failures open the breaker so
// continuous dictation does not hammer a dead recognizer.
func NewWebSocketEngine(url string, dialTimeout time.Duration) *WebSocketEngine {
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	return &WebSocketEngine{
		url:         url,
		dialTimeout: dialTimeout,
		breaker:     resilience.NewBreaker(resilience.RecognitionBreaker("recognizer")),
	}
}

// Breaker exposes the dial breaker for metrics.
func (e *WebSocketEngine) Breaker() *resilience.Breaker { return e.breaker }

// StartSession implements Engine.
func (e *WebSocketEngine) StartSession(ctx context.Context, cfg SessionConfig) (Session, error) {
	if err := e.breaker.Allow(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeUnavailable, "recognizer unavailable")
	}

	dctx, cancel := context.WithTimeout(ctx, e.dialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dctx, e.url, nil)
	if err != nil {
		e.breaker.Failure()
		return nil, apperrors.Wrap(err, apperrors.CodeUnavailable, "dial recognizer").WithMetadata("url", e.url)
	}

	id := uuid.NewString()
	start := startMessage{Type: msgStart, Language: cfg.Language, SampleRate: cfg.SampleRate, SessionID: id}
	if err := wsjson.Write(dctx, conn, start); err != nil {
		e.breaker.Failure()
		_ = conn.Close(websocket.StatusInternalError, "start failed")
		return nil, apperrors.Wrap(err, apperrors.CodeRecognitionSession, "send start")
	}
	e.breaker.Success()

	sctx, scancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &wsSession{
		id:      id,
		conn:    conn,
		ctx:     sctx,
		cancel:  scancel,
		results: make(chan Result, ResultBuffer),
	}
	go s.readLoop()
	slog.Debug("recognition session started", "session_id", id, "language", cfg.Language)
	return s, nil
}

type wsSession struct {
	id      string
	conn    *websocket.Conn
	ctx     context.Context
	cancel  context.CancelFunc
	results chan Result

	writeMu sync.Mutex
	buf     []byte

	mu     sync.Mutex
	err    error
	closed bool
	once   sync.Once
}

func (s *wsSession) ID() string { return s.id }

func (s *wsSession) Results() <-chan Result { return s.results }

func (s *wsSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Feed sends samples as one binary frame of little-endian float32.
func (s *wsSession) Feed(samples []float32) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.ctx.Err() != nil {
		return apperrors.New(apperrors.CodeCancelled, "session closed")
	}
	if cap(s.buf) < len(samples)*4 {
		s.buf = make([]byte, len(samples)*4)
	}
	s.buf = s.buf[:len(samples)*4]
	pcm.PutFloat32s(s.buf, samples)
	if err := s.conn.Write(s.ctx, websocket.MessageBinary, s.buf); err != nil {
		return apperrors.Wrap(err, apperrors.CodeRecognitionSession, "send audio")
	}
	return nil
}

func (s *wsSession) readLoop() {
	defer close(s.results)
	defer s.cancel()
	for {
		var msg resultMessage
		if err := wsjson.Read(s.ctx, s.conn, &msg); err != nil {
			s.finish(err)
			return
		}
		switch msg.Type {
		case msgPartial, msgFinal:
			r := Result{Text: msg.Text, IsFinal: msg.Type == msgFinal}
			select {
			case s.results <- r:
			case <-s.ctx.Done():
				return
			}
			if r.IsFinal {
				_ = s.conn.Close(websocket.StatusNormalClosure, "final received")
				return
			}
		case msgError:
			s.setErr(apperrors.New(apperrors.CodeRecognitionSession, msg.Text).WithMetadata("session_id", s.id))
			_ = s.conn.Close(websocket.StatusNormalClosure, "error received")
			return
		default:
			slog.Debug("ignoring recognizer message", "type", msg.Type, "session_id", s.id)
		}
	}
}

// finish classifies the read error that ended the loop.
func (s *wsSession) finish(err error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed || errors.Is(err, context.Canceled) {
		return
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return
	}
	s.setErr(apperrors.Wrap(err, apperrors.CodeRecognitionSession, "recognizer connection lost").WithMetadata("session_id", s.id))
}

func (s *wsSession) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Close ends the session. Results is closed once the read loop exits.
func (s *wsSession) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.cancel()
		_ = s.conn.Close(websocket.StatusNormalClosure, "client closed")
	})
	return nil
}
