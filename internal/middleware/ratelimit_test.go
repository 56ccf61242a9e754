package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/fortec/gateway/internal/apperr"
	"github.com/fortec/gateway/internal/metrics"
	"github.com/fortec/gateway/internal/testutil"
	"github.com/fortec/gateway/internal/throttle"
)

func newThrottleHandler(t *testing.T, limit int, rec metrics.Recorder) http.Handler {
	t.Helper()
	th := throttle.New(throttle.NewMemoryCounter(nil), throttle.Options{Limit: limit, Window: time.Minute}, testutil.DiscardLogger())
	return Throttle(ThrottleConfig{
		Logger:   testutil.DiscardLogger(),
		Throttle: th,
		Enabled:  true,
		Metrics:  rec,
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestThrottle_AdmitsLimitThenRejects(t *testing.T) {
	rec := metrics.NewInMemory()
	handler := newThrottleHandler(t, 30, rec)

	for i := 1; i <= 30; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/text/generate", nil)
		req.RemoteAddr = "203.0.113.7:5000"
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)

		if resp.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, resp.Code)
		}
		if got := resp.Header().Get("X-RateLimit-Remaining"); got != strconv.Itoa(30-i) {
			t.Fatalf("request %d: X-RateLimit-Remaining = %s", i, got)
		}
	}

	// Same host from a different source port shares the window.
	req := httptest.NewRequest(http.MethodPost, "/api/text/generate", nil)
	req.RemoteAddr = "203.0.113.7:6000"
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("31st request: status = %d, want 429", resp.Code)
	}
	retry, err := strconv.Atoi(resp.Header().Get("Retry-After"))
	if err != nil || retry < 1 || retry > 60 {
		t.Errorf("Retry-After = %q, want 1..60", resp.Header().Get("Retry-After"))
	}
	if body := decodeError(t, resp); body.RetryAfter != retry {
		t.Errorf("body retryAfter = %d, want %d", body.RetryAfter, retry)
	}
	if rec.Snapshot().Throttled != 1 {
		t.Errorf("throttled = %d, want 1", rec.Snapshot().Throttled)
	}
}

func TestThrottle_AddressesAreIndependent(t *testing.T) {
	handler := newThrottleHandler(t, 1, nil)

	for _, addr := range []string{"198.51.100.1:1", "198.51.100.2:1", "[2001:db8::1]:443"} {
		req := httptest.NewRequest(http.MethodGet, "/api/text/generate", nil)
		req.RemoteAddr = addr
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		if resp.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", addr, resp.Code)
		}
	}
}

func TestThrottle_Disabled(t *testing.T) {
	th := throttle.New(throttle.NewMemoryCounter(nil), throttle.Options{Limit: 1}, testutil.DiscardLogger())
	handler := Throttle(ThrottleConfig{Throttle: th, Enabled: false})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for i := 0; i < 3; i++ {
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
		if resp.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.Code)
		}
	}
}

type brokenCounter struct{}

func (brokenCounter) IncrWindow(context.Context, string, time.Duration) (int64, time.Duration, error) {
	return 0, 0, errors.New("redis: connection refused")
}

func TestThrottle_FailsOpen(t *testing.T) {
	th := throttle.New(brokenCounter{}, throttle.Options{Limit: 1}, testutil.DiscardLogger())
	handler := Throttle(ThrottleConfig{Logger: testutil.DiscardLogger(), Throttle: th, Enabled: true, Errors: apperr.Writer{}})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for i := 0; i < 3; i++ {
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
		if resp.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200 when the counter is down", resp.Code)
		}
	}
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		remote string
		want   string
	}{
		{"192.0.2.1:1234", "192.0.2.1"},
		{"[2001:db8::1]:80", "2001:db8::1"},
		{"192.0.2.9", "192.0.2.9"}, // already rewritten by RealIP
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remote
		req.Header.Set("X-Forwarded-For", "10.0.0.1")
		if got := ClientIP(req); got != tt.want {
			t.Errorf("ClientIP(%q) = %q, want %q", tt.remote, got, tt.want)
		}
	}
}
