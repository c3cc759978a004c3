package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func requestFrom(addr string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/tests", nil)
	req.RemoteAddr = addr
	return req
}

func TestRateLimiter_LimitsPerIP(t *testing.T) {
	rl := NewRateLimiter(3, 15*time.Minute)
	h := rl.Middleware(okHandler())

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, requestFrom("10.0.0.1:5000"))
		assert.Equal(t, http.StatusOK, rec.Code, "request %d", i)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, requestFrom("10.0.0.1:5001"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "300", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "Too many requests")

	// another client has its own allowance
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, requestFrom("10.0.0.2:5000"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	h := rl.Middleware(okHandler())

	h.ServeHTTP(httptest.NewRecorder(), requestFrom("10.0.0.1:1"))
	assert.Equal(t, 1, rl.Size())

	// a limiter with spent tokens is kept
	rl.Cleanup()
	assert.Equal(t, 1, rl.Size())

	rl.getLimiter("10.0.0.3") // untouched, full burst
	assert.Equal(t, 2, rl.Size())

	rl.Cleanup()
	assert.Equal(t, 1, rl.Size())
}

func TestClientIP(t *testing.T) {
	assert.Equal(t, "192.168.1.4", clientIP(requestFrom("192.168.1.4:443")))
	assert.Equal(t, "::1", clientIP(requestFrom("[::1]:8080")))
	assert.Equal(t, "pipe", clientIP(requestFrom("pipe")))
}
