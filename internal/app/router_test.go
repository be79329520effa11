package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/observability"
	"github.com/odyssey-erp/stockledger/jobs"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func testRouter(checks map[string]Pinger) http.Handler {
	return NewRouter(RouterParams{
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config:     &Config{RateLimitPerMinute: 1000},
		JobHandler: jobs.NewHandler(nil, slog.New(slog.NewTextHandler(io.Discard, nil))),
		Metrics:    observability.NewMetrics(),
		Checks:     checks,
	})
}

func TestHealthz(t *testing.T) {
	rr := httptest.NewRecorder()
	testRouter(map[string]Pinger{"postgres": stubPinger{}}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	rr = httptest.NewRecorder()
	testRouter(map[string]Pinger{"redis": stubPinger{err: errors.New("down")}}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "degraded", body["status"])
}

func TestRouterMountsMetricsAndJobs(t *testing.T) {
	h := testRouter(nil)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `stockledger_http_requests_total{code="200",route="/api/v1/jobs/health"} 1`)
}

func TestRouterRejectsMalformedActor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/health", nil)
	req.Header.Set("X-Actor-ID", "abc")
	rr := httptest.NewRecorder()
	testRouter(nil).ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
