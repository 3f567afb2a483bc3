package trace

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

const (
	sampleTrace = "4bf92f3577b34da6a3ce929d0e0e4736"
	sampleSpan  = "00f067aa0ba902b7"
)

func TestNewIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tc := New()
		if !isID(tc.TraceID, traceIDLen) || !isID(tc.SpanID, spanIDLen) {
			t.Fatalf("New() = %+v, want 32 and 16 hex digits", tc)
		}
		if seen[tc.TraceID] {
			t.Fatalf("duplicate trace id %s", tc.TraceID)
		}
		seen[tc.TraceID] = true
	}
}

func TestParseTraceparent(t *testing.T) {
	tests := []struct {
		name string
		in   string
		ok   bool
	}{
		{"valid", "00-" + sampleTrace + "-" + sampleSpan + "-01", true},
		{"unsampled", "00-" + sampleTrace + "-" + sampleSpan + "-00", true},
		{"surrounding space", " 00-" + sampleTrace + "-" + sampleSpan + "-01 ", true},
		{"unknown version", "01-" + sampleTrace + "-" + sampleSpan + "-01", false},
		{"uppercase", "00-" + strings.ToUpper(sampleTrace) + "-" + sampleSpan + "-01", false},
		{"zero trace", "00-" + strings.Repeat("0", 32) + "-" + sampleSpan + "-01", false},
		{"short span", "00-" + sampleTrace + "-abc-01", false},
		{"bare id", sampleTrace, false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc, ok := ParseTraceparent(tt.in)
			if ok != tt.ok {
				t.Fatalf("ParseTraceparent(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			}
			if !ok {
				return
			}
			if tc.TraceID != sampleTrace || tc.ParentSpanID != sampleSpan {
				t.Errorf("ParseTraceparent() = %+v", tc)
			}
			if tc.SpanID == sampleSpan {
				t.Error("span id reused from the caller")
			}
		})
	}
}

func TestTraceparentRoundTrip(t *testing.T) {
	tc := New()
	got, ok := ParseTraceparent(tc.Traceparent())
	if !ok || got.TraceID != tc.TraceID || got.ParentSpanID != tc.SpanID {
		t.Errorf("ParseTraceparent(%q) = (%+v, %v)", tc.Traceparent(), got, ok)
	}
}

func TestJoin(t *testing.T) {
	root := WithContext(context.Background(), Context{TraceID: sampleTrace, SpanID: sampleSpan})

	tests := []struct {
		name       string
		ctx        context.Context
		id         string
		wantTrace  string
		wantParent string
	}{
		{"traceparent", context.Background(), "00-" + sampleTrace + "-" + sampleSpan + "-01", sampleTrace, sampleSpan},
		{"bare id", context.Background(), "client-42", "client-42", ""},
		{"inherit", root, "", sampleTrace, sampleSpan},
		{"id beats parent", root, "client-42", "client-42", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc, ok := FromContext(Join(tt.ctx, tt.id))
			if !ok {
				t.Fatal("Join() attached no span")
			}
			if tc.TraceID != tt.wantTrace || tc.ParentSpanID != tt.wantParent {
				t.Errorf("Join() = %+v, want trace %q parent %q", tc, tt.wantTrace, tt.wantParent)
			}
		})
	}

	tc, _ := FromContext(Join(context.Background(), ""))
	if !isID(tc.TraceID, traceIDLen) || tc.ParentSpanID != "" {
		t.Errorf("Join() without id = %+v, want a new root", tc)
	}
}

func TestStartSpanNests(t *testing.T) {
	ctx, outer := StartSpan(context.Background(), "mode.switch")
	_, inner := StartSpan(ctx, "route.change")

	if outer.Context().ParentSpanID != "" {
		t.Errorf("root span has parent %q", outer.Context().ParentSpanID)
	}
	if inner.Context().TraceID != outer.Context().TraceID {
		t.Error("inner span left the trace")
	}
	if inner.Context().ParentSpanID != outer.Context().SpanID {
		t.Errorf("inner parent = %q, want %q", inner.Context().ParentSpanID, outer.Context().SpanID)
	}
	if got, _ := FromContext(ctx); got != outer.Context() {
		t.Errorf("ctx carries %+v, want the outer span", got)
	}
}

func TestSpanRecorder(t *testing.T) {
	type rec struct {
		name string
		d    time.Duration
		err  error
	}
	var got []rec
	SetRecorder(func(name string, d time.Duration, err error) { got = append(got, rec{name, d, err}) })
	t.Cleanup(func() { SetRecorder(nil) })

	boom := errors.New("device busy")
	_, s := StartSpan(context.Background(), "system.initialize")
	s.SetError(nil)
	s.SetError(boom)
	s.End()
	s.End()

	if len(got) != 1 {
		t.Fatalf("recorder calls = %d, want 1", len(got))
	}
	if got[0].name != "system.initialize" || !errors.Is(got[0].err, boom) || got[0].d < 0 {
		t.Errorf("recorded %+v", got[0])
	}
	if s.Duration() != got[0].d {
		t.Errorf("Duration() = %v, recorder saw %v", s.Duration(), got[0].d)
	}
}

func TestSpanDurationBeforeEnd(t *testing.T) {
	_, s := StartSpan(context.Background(), "x")
	if s.Duration() != 0 {
		t.Errorf("Duration() = %v before End, want 0", s.Duration())
	}
}

func TestLoggerCarriesIDs(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	ctx := Join(context.Background(), "00-"+sampleTrace+"-"+sampleSpan+"-01")
	_, s := StartSpan(ctx, "route.output_port")
	s.SetAttr("port", "speaker")
	Logger(ctx).Info("port changed")
	s.End()

	out := buf.String()
	for _, want := range []string{"trace_id=" + sampleTrace, "parent_span_id=" + sampleSpan, "span.name=route.output_port", "span.port=speaker"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q:\n%s", want, out)
		}
	}

	if Logger(context.Background()) != slog.Default() {
		t.Error("Logger() without a span should be the default logger")
	}
}
