package middlewarectx

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newNoopLoggerLimit() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func TestRateLimitMiddleware(t *testing.T) {
	logger := newNoopLoggerLimit()

	testHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("success")); err != nil {
			t.Errorf("failed to write response: %v", err)
		}
	})

	t.Run("allows requests within rate limit", func(t *testing.T) {
		mw := RateLimitMiddleware(NewLimiter(10, 10), logger)(testHandler)
		for range 10 {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/login", nil)
			w := httptest.NewRecorder()
			mw.ServeHTTP(w, req)
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "success", w.Body.String())
		}
	})

	t.Run("blocks requests exceeding rate limit", func(t *testing.T) {
		mw := RateLimitMiddleware(NewLimiter(0.001, 1), logger)(testHandler)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/login", nil)
		w := httptest.NewRecorder()
		mw.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)

		w = httptest.NewRecorder()
		mw.ServeHTTP(w, req)
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Contains(t, w.Body.String(), "too many requests")
	})

	t.Run("limits each client separately", func(t *testing.T) {
		mw := RateLimitMiddleware(NewLimiter(0.001, 1), logger)(testHandler)

		first := httptest.NewRequest(http.MethodPost, "/api/v1/login", nil)
		first.RemoteAddr = "10.0.0.1:5000"
		second := httptest.NewRequest(http.MethodPost, "/api/v1/login", nil)
		second.RemoteAddr = "10.0.0.2:5000"

		w := httptest.NewRecorder()
		mw.ServeHTTP(w, first)
		assert.Equal(t, http.StatusOK, w.Code)

		w = httptest.NewRecorder()
		mw.ServeHTTP(w, second)
		assert.Equal(t, http.StatusOK, w.Code)

		w = httptest.NewRecorder()
		mw.ServeHTTP(w, first)
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
	})
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.7:443"
	assert.Equal(t, "203.0.113.7", ClientIP(req))

	req.RemoteAddr = "203.0.113.7"
	assert.Equal(t, "203.0.113.7", ClientIP(req))
}
