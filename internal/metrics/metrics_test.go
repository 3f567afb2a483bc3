package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/GriffinCanCode/hearing-assist/internal/resilience"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestEngineMetrics(t *testing.T) {
	m := New()
	m.SetRunning(true)
	m.SetMode("recognize", "idle", "hearing_aid", "recognize")
	m.RecordModeSwitch("recognize")
	m.RecordRouteChange("new_device_available")
	m.StartFailures.Inc()

	out := scrape(t, m)
	for _, want := range []string{
		"hearing_engine_running 1",
		`hearing_mode{mode="recognize"} 1`,
		`hearing_mode{mode="hearing_aid"} 0`,
		`hearing_mode_switches_total{mode="recognize"} 1`,
		`hearing_route_changes_total{reason="new_device_available"} 1`,
		"hearing_engine_start_failures_total 1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

func TestWatchDropped(t *testing.T) {
	m := New()
	var n uint64 = 7
	m.WatchDropped("tap_dropped_chunks_total", "Dropped chunks", func() uint64 { return n })
	if out := scrape(t, m); !strings.Contains(out, "hearing_tap_dropped_chunks_total 7") {
		t.Errorf("scrape missing dropped counter:\n%s", out)
	}
}

func TestTrackBreaker(t *testing.T) {
	m := New()
	rec := resilience.NewBreaker(resilience.RecognitionBreaker("recognizer"))
	tr := resilience.NewBreaker(resilience.TranslationBreaker())
	m.TrackBreaker(rec)
	m.TrackBreaker(tr)
	for i := 0; i < resilience.RecognitionThreshold; i++ {
		rec.Failure()
	}

	out := scrape(t, m)
	for _, want := range []string{
		`hearing_breaker_state{breaker="recognizer"} 1`,
		`hearing_breaker_trips_total{breaker="recognizer"} 1`,
		`hearing_breaker_state{breaker="translation"} 0`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

func TestTranslationMetrics(t *testing.T) {
	m := New()
	m.RecordTranslation(true, 100*time.Millisecond)
	m.RecordTranslation(false, time.Second)
	out := scrape(t, m)
	if !strings.Contains(out, `hearing_translation_requests_total{result="failure"} 1`) {
		t.Error("missing failure count")
	}
	if !strings.Contains(out, "hearing_translation_duration_seconds_count 2") {
		t.Error("missing duration count")
	}
}

func TestMiddleware(t *testing.T) {
	m := New()
	h := m.Middleware("/api/volume", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/api/volume", nil))

	out := scrape(t, m)
	want := `hearing_http_requests_total{endpoint="/api/volume",method="PUT",status_code="400"} 1`
	if !strings.Contains(out, want) {
		t.Errorf("scrape missing %q", want)
	}
}
