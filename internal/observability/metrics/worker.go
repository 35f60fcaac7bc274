package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/catalog-assistant/internal/core/domain"
)

// WorkerMetrics covers the background worker: consumed turn events and idle
// session purges.
type WorkerMetrics struct {
	registry *prometheus.Registry

	eventsTotal   *prometheus.CounterVec
	eventDuration *prometheus.HistogramVec
	eventLag      prometheus.Histogram
	purgedTotal   prometheus.Counter
	purgeErrors   prometheus.Counter
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	eventsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "catalog",
			Subsystem:   "worker",
			Name:        "turn_events_total",
			Help:        "Consumed turn events by outcome.",
			ConstLabels: constLabels,
		},
		[]string{"outcome", "failure_reason"},
	)
	eventDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   "catalog",
			Subsystem:   "worker",
			Name:        "turn_duration_seconds",
			Help:        "Turn durations reported by consumed events.",
			Buckets:     []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
			ConstLabels: constLabels,
		},
		[]string{"outcome"},
	)
	eventLag := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   "catalog",
			Subsystem:   "worker",
			Name:        "queue_lag_seconds",
			Help:        "Delay between turn completion and event consumption.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			ConstLabels: constLabels,
		},
	)
	purgedTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   "catalog",
			Subsystem:   "worker",
			Name:        "sessions_purged_total",
			Help:        "Idle sessions removed from the session store.",
			ConstLabels: constLabels,
		},
	)
	purgeErrors := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   "catalog",
			Subsystem:   "worker",
			Name:        "session_purge_errors_total",
			Help:        "Failed idle session purge runs.",
			ConstLabels: constLabels,
		},
	)

	registry.MustRegister(eventsTotal, eventDuration, eventLag, purgedTotal, purgeErrors)

	return &WorkerMetrics{
		registry:      registry,
		eventsTotal:   eventsTotal,
		eventDuration: eventDuration,
		eventLag:      eventLag,
		purgedTotal:   purgedTotal,
		purgeErrors:   purgeErrors,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *WorkerMetrics) ObserveTurnEvent(event domain.TurnEvent, now time.Time) {
	m.eventsTotal.WithLabelValues(string(event.Outcome), event.FailureReason).Inc()
	m.eventDuration.WithLabelValues(string(event.Outcome)).Observe(event.DurationMS / 1000.0)
	if event.At.IsZero() {
		return
	}
	if lag := now.Sub(event.At); lag >= 0 {
		m.eventLag.Observe(lag.Seconds())
	}
}

func (m *WorkerMetrics) ObservePurge(removed int64, err error) {
	if err != nil {
		m.purgeErrors.Inc()
		return
	}
	m.purgedTotal.Add(float64(removed))
}
