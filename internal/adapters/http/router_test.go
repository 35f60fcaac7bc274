package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/catalog-assistant/internal/core/domain"
	"github.com/kirillkom/catalog-assistant/internal/observability/metrics"
)

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)
	return res
}

func startSession(t *testing.T, h http.Handler) string {
	t.Helper()
	res := doJSON(t, h, http.MethodPost, "/v1/sessions", nil)
	require.Equal(t, http.StatusCreated, res.Code)
	var created map[string]string
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &created))
	require.NotEmpty(t, created["session_id"])
	return created["session_id"]
}

func TestSessionLifecycle(t *testing.T) {
	sessions := newSessionsFake()
	sessions.result = domain.TurnResult{
		Answer:  "Try the Tillamook Medium Cheddar.",
		Outcome: domain.OutcomeAnswered,
		Records: []domain.ProductRecord{{ProductName: domain.Some("Medium Cheddar"), Price: domain.Some("15.99")}},
	}
	h := NewRouter(testConfig(), sessions, metrics.NewHTTPServerMetrics("test"), nil).Handler()

	id := startSession(t, h)

	res := doJSON(t, h, http.MethodPost, "/v1/sessions/"+id+"/messages", map[string]string{"question": "  cheddar under $20  "})
	require.Equal(t, http.StatusOK, res.Code)
	var answer map[string]any
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &answer))
	assert.Equal(t, "Try the Tillamook Medium Cheddar.", answer["answer"])
	assert.Equal(t, "answered", answer["outcome"])
	require.Len(t, answer["records"], 1)
	assert.Equal(t, []string{"cheddar under $20"}, sessions.asked)

	res = doJSON(t, h, http.MethodGet, "/v1/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, res.Code)
	var state map[string]any
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &state))
	assert.Equal(t, "Try the Tillamook Medium Cheddar.", state["previous_answer"])
	assert.Len(t, state["messages"], 2)

	res = doJSON(t, h, http.MethodPost, "/v1/sessions/"+id+"/clear", nil)
	assert.Equal(t, http.StatusNoContent, res.Code)

	res = doJSON(t, h, http.MethodDelete, "/v1/sessions/"+id, nil)
	assert.Equal(t, http.StatusNoContent, res.Code)

	res = doJSON(t, h, http.MethodGet, "/v1/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, res.Code)
}

func TestAskRejectsBlankAndMalformedBodies(t *testing.T) {
	sessions := newSessionsFake()
	h := NewRouter(testConfig(), sessions, nil, nil).Handler()
	id := startSession(t, h)

	res := doJSON(t, h, http.MethodPost, "/v1/sessions/"+id+"/messages", map[string]string{"question": "   "})
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Contains(t, res.Body.String(), "question is required")

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/"+id+"/messages", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	res = doJSON(t, h, http.MethodPost, "/v1/sessions/"+id+"/messages", map[string]string{"question": "hi", "mode": "x"})
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Empty(t, sessions.asked)
}

func TestUnknownSessionIDsAre404(t *testing.T) {
	h := NewRouter(testConfig(), newSessionsFake(), nil, nil).Handler()

	res := doJSON(t, h, http.MethodGet, "/v1/sessions/not-a-uuid", nil)
	assert.Equal(t, http.StatusNotFound, res.Code)

	res = doJSON(t, h, http.MethodPost, "/v1/sessions/6f1c1d1e-8f0e-4a4f-9d55-6a0f1f9b2a11/messages", map[string]string{"question": "brie?"})
	assert.Equal(t, http.StatusNotFound, res.Code)
}

func TestHealthzReportsFailingChecks(t *testing.T) {
	rt := NewRouter(testConfig(), newSessionsFake(), nil, nil)
	res := doJSON(t, rt.Handler(), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, res.Code)

	rt.WithHealthCheck("redis", func(context.Context) error { return errors.New("connection refused") })
	res = doJSON(t, rt.Handler(), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, res.Code)
	assert.Contains(t, res.Body.String(), "connection refused")
}

func TestRequestIDIsEchoed(t *testing.T) {
	h := NewRouter(testConfig(), newSessionsFake(), nil, nil).Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "req-123")
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)
	assert.Equal(t, "req-123", res.Header().Get(requestIDHeader))

	res = httptest.NewRecorder()
	h.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.NotEmpty(t, res.Header().Get(requestIDHeader))
}

func TestMetricsEndpointExposesTurns(t *testing.T) {
	sessions := newSessionsFake()
	sessions.result = domain.TurnResult{Answer: domain.FallbackMessage, Outcome: domain.OutcomeFailed, FailedStage: domain.StageEmbedding}
	h := NewRouter(testConfig(), sessions, metrics.NewHTTPServerMetrics("test"), nil).Handler()

	id := startSession(t, h)
	res := doJSON(t, h, http.MethodPost, "/v1/sessions/"+id+"/messages", map[string]string{"question": "gouda?"})
	require.Equal(t, http.StatusOK, res.Code)

	res = doJSON(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), `catalog_rag_turns_total{failed_stage="embedding",outcome="failed",service="test"} 1`)
}
