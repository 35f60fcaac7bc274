package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/kirillkom/catalog-assistant/internal/config"
	"github.com/kirillkom/catalog-assistant/internal/core/ports"
	"github.com/kirillkom/catalog-assistant/internal/observability/metrics"
)

const (
	maxRequestBodyBytes = 64 << 10
	backpressureWait    = 50 * time.Millisecond
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Router struct {
	cfg      config.Config
	sessions ports.ConversationService
	metrics  *metrics.HTTPServerMetrics
	logger   *zap.Logger
	validate *validator.Validate
	checks   map[string]HealthCheck
}

func NewRouter(
	cfg config.Config,
	sessions ports.ConversationService,
	serverMetrics *metrics.HTTPServerMetrics,
	logger *zap.Logger,
) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		cfg:      cfg,
		sessions: sessions,
		metrics:  serverMetrics,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		checks:   make(map[string]HealthCheck),
	}
}

// WithHealthCheck registers a dependency check reported by /healthz.
func (rt *Router) WithHealthCheck(name string, check HealthCheck) *Router {
	rt.checks[name] = check
	return rt
}

func (rt *Router) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /v1/sessions", rt.startSession)
	api.HandleFunc("GET /v1/sessions/{id}", rt.getSession)
	api.HandleFunc("DELETE /v1/sessions/{id}", rt.endSession)
	api.HandleFunc("POST /v1/sessions/{id}/messages", rt.askQuestion)
	api.HandleFunc("POST /v1/sessions/{id}/clear", rt.clearSession)

	var onRateLimited, onOverloaded func()
	if rt.metrics != nil {
		onRateLimited = func() { rt.metrics.RecordRejected("rate_limited") }
		onOverloaded = func() { rt.metrics.RecordRejected("overloaded") }
	}
	var guarded http.Handler = api
	guarded = backpressureMiddlewareWithHook(guarded, rt.cfg.MaxInFlight, backpressureWait, onOverloaded)
	guarded = rateLimitMiddleware(guarded, rt.cfg.RateLimitRPS, rt.cfg.RateLimitBurst, onRateLimited)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}
	mux.Handle("/v1/", guarded)

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(handler)
	}
	handler = accessLogMiddleware(rt.logger, handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failures := make(map[string]string)
	for name, check := range rt.checks {
		if err := check(ctx); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "failures": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		rt.logger.Error("request_failed",
			zap.String("request_id", requestIDFromContext(r.Context())),
			zap.Error(err),
		)
	}
	writeError(w, status, publicMessage(status, err))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.New("request body too large")
		}
		return errors.New("invalid json")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
