package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/koscout/internal/app"
	"github.com/ternarybob/koscout/internal/common"
)

func newTestServer(t *testing.T, rps float64, burst int) *Server {
	t.Helper()
	cfg := common.NewDefaultConfig()
	cfg.Server.RateLimit = rps
	cfg.Server.RateBurst = burst

	application, err := app.New(cfg, arbor.NewLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = application.Close() })

	return New(application)
}

func serve(s *Server, method, target, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestRoutes(t *testing.T) {
	s := newTestServer(t, 0, 0)

	tests := []struct {
		method string
		target string
		want   int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/api/knockouts/breaker", http.StatusOK},
		{http.MethodPost, "/api/knockouts/breaker/reset", http.StatusOK},
		{http.MethodDelete, "/api/knockouts/cache", http.StatusOK},
		{http.MethodGet, "/api/knockouts/cache", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/knockouts/search", http.StatusBadRequest},
		{http.MethodPost, "/api/knockouts/warm", http.StatusServiceUnavailable},
		{http.MethodGet, "/nope", http.StatusNotFound},
		{http.MethodOptions, "/api/knockouts/search", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			rec := serve(s, tt.method, tt.target, "192.0.2.1:1234")
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestHealthReportsBreaker(t *testing.T) {
	s := newTestServer(t, 0, 0)

	rec := serve(s, http.MethodGet, "/health", "192.0.2.1:1234")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "closed", body["breaker_state"])
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, 0.001, 2)

	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/api/knockouts/breaker", "192.0.2.1:1000").Code)
	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/api/knockouts/breaker", "192.0.2.1:1001").Code)

	limited := serve(s, http.MethodGet, "/api/knockouts/breaker", "192.0.2.1:1002")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "1", limited.Header().Get("Retry-After"))

	// Buckets are per client host.
	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/api/knockouts/breaker", "198.51.100.7:1000").Code)

	// Health checks bypass the limiter.
	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/health", "192.0.2.1:1003").Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	s := newTestServer(t, 0, 0)

	handler := s.recoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	require.NotPanics(t, func() {
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestClientLimiter_Disabled(t *testing.T) {
	l := newClientLimiter(0, 0)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("192.0.2.1"))
	}
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	assert.Equal(t, "192.0.2.1", clientKey(req))

	req.RemoteAddr = "unix-socket"
	assert.Equal(t, "unix-socket", clientKey(req))
}

func TestWrongMethodListsAllowed(t *testing.T) {
	s := newTestServer(t, 0, 0)

	rec := serve(s, http.MethodPost, "/api/knockouts/breaker", "192.0.2.1:1234")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET", rec.Header().Get("Allow"))

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "error", body["status"])
	assert.Contains(t, body["error"], "/api/knockouts/breaker")
}

func TestMethodsAllowHeaderIsSorted(t *testing.T) {
	noop := func(http.ResponseWriter, *http.Request) {}
	m := methods{http.MethodPost: noop, http.MethodDelete: noop, http.MethodGet: noop}
	assert.Equal(t, "DELETE, GET, POST", m.allow())
}
