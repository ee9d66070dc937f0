package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{Name: "test", RequestsPerMinute: 6, Burst: 2, CleanupInterval: time.Minute})
	defer rl.Stop()

	h := RateLimitMiddleware(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/start", nil)
		req.Header.Set("X-Real-IP", ip)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, call("1.1.1.1").Code)
	assert.Equal(t, http.StatusNoContent, call("1.1.1.1").Code)

	rec := call("1.1.1.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "10", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate limit exceeded","code":"RATE_LIMIT"}`, rec.Body.String())

	assert.Equal(t, http.StatusNoContent, call("2.2.2.2").Code)
	assert.Equal(t, 2, rl.VisitorCount())
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", GetClientIP(req))

	req.Header.Set("X-Forwarded-For", "3.3.3.3, 10.0.0.1")
	assert.Equal(t, "3.3.3.3", GetClientIP(req))

	req.Header.Set("CF-Connecting-IP", "4.4.4.4")
	assert.Equal(t, "4.4.4.4", GetClientIP(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[::1]:80"
	assert.Equal(t, "::1", GetClientIP(req))
}

func TestSiteValidator(t *testing.T) {
	open := NewSiteValidator(nil)
	assert.NoError(t, open.Validate("https://anything.example.org/albums/1"))

	v := NewSiteValidator([]string{" Yupoo.com "})
	assert.NoError(t, v.Validate("https://shop.x.yupoo.com/albums/1"))
	assert.NoError(t, v.Validate("https://yupoo.com/albums/1"))
	assert.ErrorIs(t, v.Validate("https://evil-yupoo.com/albums/1"), ErrDomainNotAllowed)
	assert.ErrorIs(t, v.Validate(""), ErrEmptyURL)
	assert.ErrorIs(t, v.Validate("https://user:pw@shop.x.yupoo.com/albums/1"), ErrUserInfoPresent)
	assert.ErrorIs(t, v.Validate("https:///albums/1"), ErrInvalidURL)
	assert.ErrorIs(t, v.Validate("https://x.yupoo.com/"+string(make([]byte, 2100))), ErrURLTooLong)
	assert.Equal(t, []string{"yupoo.com"}, v.Domains())
}
