package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowSpendsBurst(t *testing.T) {
	l := New(1, 3)
	defer l.Stop()

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("client"), "request %d within burst", i)
	}
	assert.False(t, l.Allow("client"), "burst exhausted")
}

func TestAllowRefills(t *testing.T) {
	l := New(10, 1)
	defer l.Stop()
	now := time.Now()
	l.now = func() time.Time { return now }

	require.True(t, l.Allow("client"))
	require.False(t, l.Allow("client"))

	now = now.Add(200 * time.Millisecond)
	assert.True(t, l.Allow("client"), "two tokens refilled, capped at burst")
	assert.False(t, l.Allow("client"))
}

func TestClientsIsolated(t *testing.T) {
	l := New(1, 1)
	defer l.Stop()

	require.True(t, l.Allow("a"))
	require.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"), "separate bucket per client")
}

func TestMiddlewareRejectsWith429(t *testing.T) {
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_rejected_total"})
	l := New(1, 1, WithRejectionCounter(counter))
	defer l.Stop()

	var served int
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served++
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/ask", nil)
	req.RemoteAddr = "10.0.0.1:55000"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, 1, served)
	assert.Equal(t, float64(1), testutil.ToFloat64(counter))
}

func TestClientKeyPrecedence(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:55000"
	assert.Equal(t, "10.0.0.1", clientKey(req))

	req.Header.Set("X-Real-IP", "203.0.113.9")
	assert.Equal(t, "203.0.113.9", clientKey(req))

	req.Header.Set("X-Forwarded-For", "198.51.100.7, 203.0.113.9")
	assert.Equal(t, "198.51.100.7", clientKey(req))
}

func TestEvictionCapsTrackedClients(t *testing.T) {
	l := New(1, 1, WithMaxClients(2))
	defer l.Stop()
	now := time.Now()
	l.now = func() time.Time { return now }

	require.True(t, l.Allow("a"))
	now = now.Add(time.Second)
	require.True(t, l.Allow("b"))
	now = now.Add(time.Second)
	require.True(t, l.Allow("c"), "a evicted to make room")

	l.mu.Lock()
	_, hasA := l.clients["a"]
	l.mu.Unlock()
	assert.False(t, hasA)
}
