// Package metrics exposes Prometheus collectors for the audio daemon.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GriffinCanCode/hearing-assist/internal/resilience"
)

const namespace = "hearing"

// Metrics contains all Prometheus metrics for the daemon.
type Metrics struct {
	reg *prometheus.Registry

	// Engine metrics
	EngineRunning prometheus.Gauge
	StartFailures prometheus.Counter
	OutputPeak    prometheus.Gauge
	Mode          *prometheus.GaugeVec
	ModeSwitches  *prometheus.CounterVec

	// Route metrics
	RouteChanges *prometheus.CounterVec

	// Recognition metrics
	RecognitionSessions prometheus.Counter
	RecognitionErrors   prometheus.Counter
	DictationSegments   prometheus.Counter

	// Translation metrics
	TranslationRequests *prometheus.CounterVec
	TranslationDuration prometheus.Histogram

	// Traced operations (mode switches, route changes, commands)
	OperationDuration *prometheus.HistogramVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,

		EngineRunning: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "engine_running",
			Help:      "1 while the audio engine is running",
		}),
		StartFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_start_failures_total",
			Help:      "Total number of absorbed engine start failures",
		}),
		OutputPeak: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "output_peak",
			Help:      "Peak absolute sample of the last rendered block",
		}),
		Mode: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mode",
			Help:      "1 for the current engine mode",
		}, []string{"mode"}),
		ModeSwitches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mode_switches_total",
			Help:      "Total number of mode switches by target mode",
		}, []string{"mode"}),

		RouteChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_changes_total",
			Help:      "Total number of audio route changes by reason",
		}, []string{"reason"}),

		RecognitionSessions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_sessions_total",
			Help:      "Total number of recognition sessions started",
		}),
		RecognitionErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_errors_total",
			Help:      "Total number of recognition errors reported",
		}),
		DictationSegments: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dictation_segments_total",
			Help:      "Total number of finalized dictation segments",
		}),

		TranslationRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "translation_requests_total",
			Help:      "Total number of translation requests by result",
		}, []string{"result"}),
		TranslationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "translation_duration_seconds",
			Help:      "Duration of translation requests",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),

		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of traced control operations",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		}, []string{"operation", "result"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// WatchDropped exports a counter read from fn, e.g. a queue's drop count.
func (m *Metrics) WatchDropped(name, help string, fn func() uint64) {
	promauto.With(m.reg).NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, func() float64 { return float64(fn()) })
}

// ObserveOperation records a finished span. Its signature matches trace.Recorder.
func (m *Metrics) ObserveOperation(name string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.OperationDuration.WithLabelValues(name, result).Observe(d.Seconds())
}

// TrackBreaker exports the position and trip count of a circuit breaker,
// labelled with its name.
func (m *Metrics) TrackBreaker(b *resilience.Breaker) {
	labels := prometheus.Labels{"breaker": b.Name()}
	f := promauto.With(m.reg)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "breaker_state",
		Help:        "Circuit breaker position: 0 closed, 1 open, 2 half-open",
		ConstLabels: labels,
	}, func() float64 { return float64(b.State()) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "breaker_trips_total",
		Help:        "Total number of times the circuit breaker opened",
		ConstLabels: labels,
	}, func() float64 { return float64(b.Trips()) })
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// SetRunning records whether the engine is running.
func (m *Metrics) SetRunning(on bool) {
	if on {
		m.EngineRunning.Set(1)
	} else {
		m.EngineRunning.Set(0)
	}
}

// SetMode marks mode as current and clears the rest of known.
func (m *Metrics) SetMode(mode string, known ...string) {
	for _, k := range known {
		m.Mode.WithLabelValues(k).Set(0)
	}
	m.Mode.WithLabelValues(mode).Set(1)
}

// RecordModeSwitch increments the mode switch counter.
func (m *Metrics) RecordModeSwitch(mode string) {
	m.ModeSwitches.WithLabelValues(mode).Inc()
}

// RecordRouteChange increments the route change counter.
func (m *Metrics) RecordRouteChange(reason string) {
	m.RouteChanges.WithLabelValues(reason).Inc()
}

// RecordTranslation records a translation request outcome.
func (m *Metrics) RecordTranslation(ok bool, d time.Duration) {
	result := "success"
	if !ok {
		result = "failure"
	}
	m.TranslationRequests.WithLabelValues(result).Inc()
	m.TranslationDuration.Observe(d.Seconds())
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, endpoint string, status int, d time.Duration) {
	m.HTTPRequests.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(d.Seconds())
}

// Middleware wraps an HTTP handler with request metrics. endpoint is the route pattern,
// not the raw path, so label cardinality stays bounded.
func (m *Metrics) Middleware(endpoint string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.RecordHTTPRequest(r.Method, endpoint, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer (WebSocket hijack).
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }
