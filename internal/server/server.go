// Package server provides the HTTP control API and the WebSocket event stream
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	apperrors "github.com/GriffinCanCode/hearing-assist/internal/errors"
	"github.com/GriffinCanCode/hearing-assist/internal/metrics"
	"github.com/GriffinCanCode/hearing-assist/internal/mode"
	"github.com/GriffinCanCode/hearing-assist/internal/syncx"
	"github.com/GriffinCanCode/hearing-assist/internal/system"
	"github.com/GriffinCanCode/hearing-assist/internal/trace"
	"github.com/GriffinCanCode/hearing-assist/internal/transcript"
)

// System is the control surface the server drives. *system.AudioSystem implements it.
type System interface {
	State(ctx context.Context) (system.State, error)
	Events() <-chan system.Event

	SwitchMode(ctx context.Context, m mode.Mode) error
	SetRunning(ctx context.Context, on bool) error

	SetVolume(ctx context.Context, volume float64) (float64, error)
	SetBalance(ctx context.Context, balance float64) (float64, error)
	SetNoiseSuppression(ctx context.Context, on bool) error
	SetBand(ctx context.Context, index int, gainDB float64) (float64, error)
	ResetEqualizer(ctx context.Context) error
	SetNodeEnabled(ctx context.Context, node string, on bool) error
	SetParameter(ctx context.Context, node, name string, v float64) (float64, error)

	SelectMicrophone(ctx context.Context, name string) error
	SetOutputPort(ctx context.Context, name string) error

	StartRecognition(ctx context.Context, continuous bool) error
	StopRecognition(ctx context.Context) error
	ClearRecognition(ctx context.Context) error
	ClearVisible(ctx context.Context) error

	SaveTranscript(ctx context.Context) (transcript.Entry, error)
	ListTranscripts(ctx context.Context, limit int) ([]transcript.Entry, error)
	DeleteTranscript(ctx context.Context, id string) error

	SetTranslationTarget(ctx context.Context, locale string) error
	Translate(ctx context.Context, text, target string) (string, error)
}

var _ System = (*system.AudioSystem)(nil)

// Message is the envelope of every WebSocket frame.
type Message struct {
	Type string `json:"type"`
}

// CommandMessage is a client command. Value carries the command argument.
type CommandMessage struct {
	Type    string          `json:"type"`
	Value   json.RawMessage `json:"value,omitempty"`
	TraceID string          `json:"trace_id,omitempty"`
}

type EventMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type AckMessage struct {
	Type    string `json:"type"`
	Command string `json:"command"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Command string `json:"command,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-RateLimitWindow)

	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}

	r.timestamps = append(r.timestamps, now)
	return true
}

// client is one WebSocket connection. A single writer goroutine drains out.
type client struct {
	conn    *websocket.Conn
	out     chan any
	limiter rateLimiter
}

func (c *client) send(msg any) bool {
	select {
	case c.out <- msg:
		return true
	default:
		return false
	}
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	sys     System
	metrics *metrics.Metrics

	clients *syncx.Set[*client]
	done    chan struct{} // closed once the event stream ends
}

// New creates a server and starts broadcasting system events.
func New(sys System, m *metrics.Metrics) *Server {
	if m == nil {
		m = metrics.New()
	}
	s := &Server{
		sys:     sys,
		metrics: m,
		clients: syncx.NewSet[*client](),
		done:    make(chan struct{}),
	}

	go s.broadcastEvents()

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("GET /metrics", s.metrics.Handler())

	// REST API
	s.handle(mux, "GET /api/state", s.handleState)
	s.handle(mux, "PUT /api/mode", s.handleMode)
	s.handle(mux, "POST /api/engine/start", s.handleEngine(true))
	s.handle(mux, "POST /api/engine/stop", s.handleEngine(false))

	s.handle(mux, "PUT /api/volume", s.handleVolume)
	s.handle(mux, "PUT /api/balance", s.handleBalance)
	s.handle(mux, "PUT /api/noise-suppression", s.handleNoiseSuppression)
	s.handle(mux, "PUT /api/equalizer/bands/{index}", s.handleBand)
	s.handle(mux, "DELETE /api/equalizer", s.handleResetEqualizer)
	s.handle(mux, "PUT /api/nodes/{id}", s.handleNode)
	s.handle(mux, "PUT /api/nodes/{id}/params/{name}", s.handleParameter)

	s.handle(mux, "PUT /api/route/microphone", s.handleMicrophone)
	s.handle(mux, "PUT /api/route/output", s.handleOutputPort)

	s.handle(mux, "POST /api/recognition/start", s.handleRecognitionStart)
	s.handle(mux, "POST /api/recognition/stop", s.handleRecognitionStop)
	s.handle(mux, "POST /api/recognition/clear", s.handleRecognitionClear)
	s.handle(mux, "POST /api/recognition/clear-visible", s.handleRecognitionClearVisible)

	s.handle(mux, "GET /api/transcripts", s.handleListTranscripts)
	s.handle(mux, "POST /api/transcripts", s.handleSaveTranscript)
	s.handle(mux, "DELETE /api/transcripts/{id}", s.handleDeleteTranscript)

	s.handle(mux, "PUT /api/translation/target", s.handleTranslationTarget)
	s.handle(mux, "POST /api/translate", s.handleTranslate)

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

// handle registers h with request metrics labelled by the pattern's path.
func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	endpoint := pattern
	if i := strings.IndexByte(pattern, ' '); i >= 0 {
		endpoint = pattern[i+1:]
	}
	mux.Handle(pattern, s.metrics.Middleware(endpoint, h))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	baseCtx := r.Context()
	log := trace.Logger(baseCtx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	c := &client{conn: conn, out: make(chan any, ClientBuffer)}
	if st, err := s.sys.State(baseCtx); err == nil {
		c.send(EventMessage{Type: "state", Data: st})
	}

	s.clients.Add(c)

	ctx, cancel := context.WithCancel(baseCtx)
	defer func() {
		s.clients.Remove(c)
		cancel()
	}()
	go s.writeLoop(ctx, c)

	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, conn, &raw); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		if !c.limiter.allow() {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			c.send(ErrorMessage{Type: "error", Code: apperrors.CodeUnavailable.String(), Message: "rate limit exceeded"})
			continue
		}

		var cmd CommandMessage
		if err := json.Unmarshal(raw, &cmd); err != nil {
			c.send(ErrorMessage{Type: "error", Code: apperrors.CodeInvalidArgument.String(), Message: "malformed command"})
			continue
		}

		if err := s.handleCommand(trace.Join(ctx, cmd.TraceID), cmd); err != nil {
			ae := toAppError(err)
			c.send(ErrorMessage{Type: "error", Command: cmd.Type, Code: ae.Code.String(), Message: ae.Message})
			continue
		}
		c.send(AckMessage{Type: "ack", Command: cmd.Type})
	}
}

func (s *Server) writeLoop(ctx context.Context, c *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.out:
			wctx, cancel := context.WithTimeout(ctx, WriteTimeout)
			err := wsjson.Write(wctx, c.conn, msg)
			cancel()
			if err != nil {
				slog.Debug("websocket write error", "error", err)
				return
			}
		}
	}
}

// handleCommand runs one WebSocket command.
func (s *Server) handleCommand(ctx context.Context, cmd CommandMessage) error {
	ctx, span := trace.StartSpan(ctx, "ws.command")
	defer span.End()
	span.SetAttr("command", cmd.Type)

	var err error
	switch cmd.Type {
	case "ping":
	case "switch_mode":
		var name string
		if err = decodeValue(cmd.Value, &name); err == nil {
			var m mode.Mode
			if m, err = mode.Parse(name); err == nil {
				err = s.sys.SwitchMode(ctx, m)
			} else {
				err = apperrors.Wrap(err, apperrors.CodeInvalidArgument, "switch mode")
			}
		}
	case "set_running":
		var on bool
		if err = decodeValue(cmd.Value, &on); err == nil {
			err = s.sys.SetRunning(ctx, on)
		}
	case "set_volume":
		var v float64
		if err = decodeValue(cmd.Value, &v); err == nil {
			_, err = s.sys.SetVolume(ctx, v)
		}
	case "start_recognition":
		continuous := true
		if len(cmd.Value) > 0 {
			err = decodeValue(cmd.Value, &continuous)
		}
		if err == nil {
			err = s.sys.StartRecognition(ctx, continuous)
		}
	case "stop_recognition":
		err = s.sys.StopRecognition(ctx)
	case "clear_recognition":
		err = s.sys.ClearRecognition(ctx)
	case "clear_visible":
		err = s.sys.ClearVisible(ctx)
	default:
		err = apperrors.Newf(apperrors.CodeInvalidArgument, "unknown command %q", cmd.Type)
	}
	span.SetError(err)
	return err
}

func decodeValue(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return apperrors.New(apperrors.CodeInvalidArgument, "missing value")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperrors.Wrap(err, apperrors.CodeInvalidArgument, "invalid value")
	}
	return nil
}

// broadcastEvents fans system events out to clients until the system closes the stream,
// then disconnects every client.
func (s *Server) broadcastEvents() {
	defer close(s.done)
	defer func() {
		for _, c := range s.clients.Members() {
			_ = c.conn.Close(websocket.StatusGoingAway, "audio system stopped")
		}
		slog.Info("event stream closed, websocket clients disconnected")
	}()

	for evt := range s.sys.Events() {
		msg := EventMessage{Type: evt.Type, Data: evt.Data}

		for _, c := range s.clients.Members() {
			if !c.send(msg) && evt.Type != system.EventAmplitude {
				slog.Debug("websocket client lagging, event dropped", "type", evt.Type)
			}
		}
	}
}
