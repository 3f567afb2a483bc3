// Package trace follows one control action (a REST call, a WebSocket command, a
// route change) through the log. Ids use the W3C traceparent layout so callers
// can join the daemon's spans to their own traces.
package trace

import (
	"context"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Propagation keys, valid both as HTTP headers and gRPC metadata.
const (
	TraceparentKey = "traceparent"
	TraceIDKey     = "x-trace-id" // echoed on responses; accepted when traceparent is absent
)

const (
	traceIDLen = 32
	spanIDLen  = 16
)

type ctxKey struct{}

// Context identifies one span within a trace.
type Context struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
}

// New starts a trace.
func New() Context {
	return Context{TraceID: newTraceID(), SpanID: newSpanID()}
}

func (c Context) child() Context {
	return Context{TraceID: c.TraceID, SpanID: newSpanID(), ParentSpanID: c.SpanID}
}

// Traceparent formats c as a W3C traceparent value with the sampled flag set.
func (c Context) Traceparent() string {
	return "00-" + c.TraceID + "-" + c.SpanID + "-01"
}

// ParseTraceparent reads a version 00 traceparent value and returns a new span
// whose parent is the span it names.
func ParseTraceparent(v string) (Context, bool) {
	parts := strings.Split(strings.TrimSpace(v), "-")
	if len(parts) != 4 || parts[0] != "00" || len(parts[3]) != 2 {
		return Context{}, false
	}
	if !isID(parts[1], traceIDLen) || !isID(parts[2], spanIDLen) {
		return Context{}, false
	}
	return Context{TraceID: parts[1], SpanID: newSpanID(), ParentSpanID: parts[2]}, true
}

// isID accepts n lowercase hex digits that are not all zero.
func isID(s string, n int) bool {
	if len(s) != n || strings.Trim(s, "0") == "" {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

// FromContext returns the span carried by ctx.
func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(ctxKey{}).(Context)
	return tc, ok
}

// WithContext attaches tc to ctx.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc)
}

// Join attaches a span for an incoming request identified by id, which is either
// a traceparent value or a bare trace id. Without a usable id the new span is a
// child of the span already in ctx, or the root of a new trace.
func Join(ctx context.Context, id string) context.Context {
	id = strings.TrimSpace(id)
	if tc, ok := ParseTraceparent(id); ok {
		return WithContext(ctx, tc)
	}
	if id != "" {
		return WithContext(ctx, Context{TraceID: id, SpanID: newSpanID()})
	}
	if parent, ok := FromContext(ctx); ok {
		return WithContext(ctx, parent.child())
	}
	return WithContext(ctx, New())
}

func newTraceID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

func newSpanID() string {
	u := uuid.New()
	return hex.EncodeToString(u[8:])
}

// Logger returns the default logger annotated with the span in ctx.
func Logger(ctx context.Context) *slog.Logger {
	tc, ok := FromContext(ctx)
	if !ok {
		return slog.Default()
	}
	l := slog.Default().With("trace_id", tc.TraceID, "span_id", tc.SpanID)
	if tc.ParentSpanID != "" {
		l = l.With("parent_span_id", tc.ParentSpanID)
	}
	return l
}

// Recorder receives every finished span, e.g. to feed a latency histogram.
type Recorder func(name string, d time.Duration, err error)

var recorder atomic.Pointer[Recorder]

// SetRecorder installs r for all spans; nil removes it.
func SetRecorder(r Recorder) {
	if r == nil {
		recorder.Store(nil)
		return
	}
	recorder.Store(&r)
}

// Span times one operation. A Span belongs to the goroutine that started it.
type Span struct {
	name  string
	tc    Context
	start time.Time
	end   time.Time
	attrs []slog.Attr
	err   error
}

// StartSpan opens a span named name as a child of the span in ctx.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	tc := New()
	if parent, ok := FromContext(ctx); ok {
		tc = parent.child()
	}
	s := &Span{name: name, tc: tc, start: time.Now()}
	return WithContext(ctx, tc), s
}

// Context returns the span ids.
func (s *Span) Context() Context { return s.tc }

// SetAttr adds an attribute to the span's log line.
func (s *Span) SetAttr(key string, val any) {
	s.attrs = append(s.attrs, slog.Any(key, val))
}

// SetError marks the span failed; nil is ignored.
func (s *Span) SetError(err error) {
	if err != nil {
		s.err = err
	}
}

// Err returns the recorded error.
func (s *Span) Err() error { return s.err }

// End closes the span, logs it at debug level and hands it to the recorder.
// Only the first call has an effect.
func (s *Span) End() {
	if !s.end.IsZero() {
		return
	}
	s.end = time.Now()
	slog.Debug("span finished", "span", s)
	if r := recorder.Load(); r != nil {
		(*r)(s.name, s.Duration(), s.err)
	}
}

// Duration is zero until End is called.
func (s *Span) Duration() time.Duration {
	if s.end.IsZero() {
		return 0
	}
	return s.end.Sub(s.start)
}

// LogValue implements slog.LogValuer.
func (s *Span) LogValue() slog.Value {
	attrs := make([]slog.Attr, 0, len(s.attrs)+6)
	attrs = append(attrs,
		slog.String("name", s.name),
		slog.String("trace_id", s.tc.TraceID),
		slog.String("span_id", s.tc.SpanID),
		slog.Duration("duration", s.Duration()),
	)
	if s.tc.ParentSpanID != "" {
		attrs = append(attrs, slog.String("parent_span_id", s.tc.ParentSpanID))
	}
	if s.err != nil {
		attrs = append(attrs, slog.String("error", s.err.Error()))
	}
	attrs = append(attrs, s.attrs...)
	return slog.GroupValue(attrs...)
}
