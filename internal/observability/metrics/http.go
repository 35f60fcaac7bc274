package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/catalog-assistant/internal/core/domain"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry
	service  string

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge
	rejectedTotal   *prometheus.CounterVec

	turnsTotal       *prometheus.CounterVec
	turnDuration     *prometheus.HistogramVec
	turnRecords      prometheus.Histogram
	filterAppliedTot prometheus.Counter

	retriesTotal *prometheus.CounterVec
	breakerState *prometheus.GaugeVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "catalog",
			Subsystem:   "http",
			Name:        "requests_total",
			Help:        "Total HTTP requests processed.",
			ConstLabels: constLabels,
		},
		[]string{"method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   "catalog",
			Subsystem:   "http",
			Name:        "request_duration_seconds",
			Help:        "HTTP request duration in seconds.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		},
		[]string{"method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   "catalog",
			Subsystem:   "http",
			Name:        "in_flight_requests",
			Help:        "Number of in-flight HTTP requests.",
			ConstLabels: constLabels,
		},
	)
	rejectedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "catalog",
			Subsystem:   "http",
			Name:        "rejected_total",
			Help:        "Requests rejected before reaching a handler.",
			ConstLabels: constLabels,
		},
		[]string{"reason"},
	)
	turnsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "catalog",
			Subsystem:   "rag",
			Name:        "turns_total",
			Help:        "Finished conversation turns by outcome and failed stage.",
			ConstLabels: constLabels,
		},
		[]string{"outcome", "failed_stage"},
	)
	turnDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   "catalog",
			Subsystem:   "rag",
			Name:        "turn_duration_seconds",
			Help:        "Conversation turn duration in seconds by outcome.",
			Buckets:     []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
			ConstLabels: constLabels,
		},
		[]string{"outcome"},
	)
	turnRecords := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   "catalog",
			Subsystem:   "rag",
			Name:        "retrieved_records",
			Help:        "Distribution of product records shown per turn.",
			Buckets:     []float64{0, 1, 2, 3, 5, 8, 13, 24},
			ConstLabels: constLabels,
		},
	)
	filterAppliedTot := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   "catalog",
			Subsystem:   "rag",
			Name:        "filter_applied_total",
			Help:        "Turns whose retrieval was narrowed by an extracted metadata filter.",
			ConstLabels: constLabels,
		},
	)
	retriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "catalog",
			Subsystem:   "resilience",
			Name:        "retries_total",
			Help:        "Retries of outbound calls by operation.",
			ConstLabels: constLabels,
		},
		[]string{"operation"},
	)
	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   "catalog",
			Subsystem:   "resilience",
			Name:        "breaker_open",
			Help:        "1 while the circuit breaker of an operation is open or half-open.",
			ConstLabels: constLabels,
		},
		[]string{"operation"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		rejectedTotal,
		turnsTotal,
		turnDuration,
		turnRecords,
		filterAppliedTot,
		retriesTotal,
		breakerState,
	)

	return &HTTPServerMetrics{
		registry:         registry,
		service:          service,
		requestTotal:     requestTotal,
		requestDuration:  requestDuration,
		requestInFlight:  requestInFlight,
		rejectedTotal:    rejectedTotal,
		turnsTotal:       turnsTotal,
		turnDuration:     turnDuration,
		turnRecords:      turnRecords,
		filterAppliedTot: filterAppliedTot,
		retriesTotal:     retriesTotal,
		breakerState:     breakerState,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *HTTPServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(r.Method, path, strconv.Itoa(recorder.statusCode)).Inc()
		m.requestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath folds session IDs so label cardinality stays bounded.
func normalizePath(path string) string {
	const prefix = "/v1/sessions/"
	if !strings.HasPrefix(path, prefix) {
		return path
	}
	rest := strings.TrimPrefix(path, prefix)
	if rest == "" {
		return path
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return prefix + "{session_id}" + rest[i:]
	}
	return prefix + "{session_id}"
}

func (m *HTTPServerMetrics) RecordRejected(reason string) {
	m.rejectedTotal.WithLabelValues(reason).Inc()
}

func (m *HTTPServerMetrics) RecordTurn(result domain.TurnResult) {
	outcome := string(result.Outcome)
	if outcome == "" {
		outcome = "unknown"
	}
	m.turnsTotal.WithLabelValues(outcome, string(result.FailedStage)).Inc()
	m.turnDuration.WithLabelValues(outcome).Observe(result.Duration.Seconds())
	m.turnRecords.Observe(float64(len(result.Records)))
	if !result.Filter.Empty() {
		m.filterAppliedTot.Inc()
	}
}

// OnRetry and OnBreakerStateChange let the metrics act as a resilience observer.
func (m *HTTPServerMetrics) OnRetry(operation string, _ int) {
	m.retriesTotal.WithLabelValues(operation).Inc()
}

func (m *HTTPServerMetrics) OnBreakerStateChange(operation string, to string) {
	value := 0.0
	if to != "closed" {
		value = 1
	}
	m.breakerState.WithLabelValues(operation).Set(value)
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
