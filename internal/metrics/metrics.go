// Package metrics exposes HTTP and grading metrics in Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pavelanni/mathtrainer/internal/model"
)

const unknownTopic = "unknown"

// Metrics holds every collector of the trainer. It implements grading.Recorder.
type Metrics struct {
	HTTPRequests     *prometheus.CounterVec
	HTTPLatency      *prometheus.HistogramVec
	AttemptsTotal    *prometheus.CounterVec
	LLMLatency       prometheus.Histogram
	BaselineLatency  prometheus.Histogram
	GradingFallbacks prometheus.Counter

	llmModel string
}

// New registers the collectors on reg. llmModel is the model label for
// attempts graded by the language model.
func New(reg prometheus.Registerer, llmModel string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		HTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_latency_seconds",
				Help:    "Request latency (seconds)",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path"},
		),
		AttemptsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "attempts_total",
				Help: "Grading attempts by topic/model/outcome",
			},
			[]string{"topic", "model", "outcome"},
		),
		LLMLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "llm_latency_seconds",
			Help:    "LLM grading latency (seconds)",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		BaselineLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "baseline_latency_seconds",
			Help:    "Baseline grading latency (seconds)",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		GradingFallbacks: f.NewCounter(prometheus.CounterOpts{
			Name: "grading_fallbacks_total",
			Help: "Submissions graded by the baseline because the LLM failed",
		}),
		llmModel: llmModel,
	}
}

// Middleware counts requests and observes latency per route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Route patterns keep ids out of the label set.
		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.HTTPLatency.WithLabelValues(path).Observe(time.Since(start).Seconds())
		m.HTTPRequests.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
	})
}

// ObserveGrading records how long a grading strategy took.
func (m *Metrics) ObserveGrading(grader model.GraderName, d time.Duration) {
	switch grader {
	case model.GraderLLM:
		m.LLMLatency.Observe(d.Seconds())
	case model.GraderBaseline:
		m.BaselineLatency.Observe(d.Seconds())
	}
}

// ObserveFallback counts a submission the baseline graded after an LLM failure.
func (m *Metrics) ObserveFallback() {
	m.GradingFallbacks.Inc()
}

// ObserveAttempt counts a recorded attempt.
func (m *Metrics) ObserveAttempt(topic string, grader model.GraderName, correct bool) {
	if topic == "" {
		topic = unknownTopic
	}
	modelLabel := string(grader)
	if grader == model.GraderLLM && m.llmModel != "" {
		modelLabel = m.llmModel
	}
	outcome := "incorrect"
	if correct {
		outcome = "correct"
	}
	m.AttemptsTotal.WithLabelValues(topic, modelLabel, outcome).Inc()
}
