package httpx_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aussiebroadwan/faceguard/pkg/httpx"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func get(h http.Handler, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRemoteIPIgnoresForwardingHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "127.0.0.1:4242"
	req.Header.Set("X-Forwarded-For", "203.0.113.1")
	req.Header.Set("X-Real-IP", "203.0.113.2")

	require.Equal(t, "127.0.0.1", httpx.RemoteIP(req))
}

func TestRateLimitBlocksOverBurst(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := httpx.NewKeyedLimiter(httpx.RateLimitConfig{RequestsPerWindow: 3, Window: time.Minute, Burst: 3}, clock)
	h := httpx.RateLimit(l)(okHandler())

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, get(h, "127.0.0.1:1000").Code, "request %d", i+1)
	}

	rec := get(h, "127.0.0.1:1000")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
	require.Equal(t, "3", rec.Header().Get("X-RateLimit-Limit"))
	require.Contains(t, rec.Body.String(), "rate_limit_exceeded")

	// One token every 20s.
	clock.Advance(21 * time.Second)
	require.Equal(t, http.StatusOK, get(h, "127.0.0.1:1000").Code)
	require.Equal(t, http.StatusTooManyRequests, get(h, "127.0.0.1:1000").Code)
}

func TestRateLimitTracksPeersSeparately(t *testing.T) {
	l := httpx.NewKeyedLimiter(httpx.RateLimitConfig{RequestsPerWindow: 1, Window: time.Minute, Burst: 1}, clockwork.NewFakeClock())
	h := httpx.RateLimit(l)(okHandler())

	require.Equal(t, http.StatusOK, get(h, "127.0.0.1:1000").Code)
	require.Equal(t, http.StatusTooManyRequests, get(h, "127.0.0.1:1001").Code, "port is not part of the key")
	require.Equal(t, http.StatusOK, get(h, "127.0.0.2:1000").Code)
	require.Equal(t, 2, l.Len())
}

func TestKeyedLimiterDropsIdleBuckets(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := httpx.NewKeyedLimiter(httpx.RateLimitConfig{RequestsPerWindow: 60, Window: time.Minute, Burst: 2}, clock)

	ok, _ := l.Allow("a")
	require.True(t, ok)
	ok, _ = l.Allow("b")
	require.True(t, ok)
	require.Equal(t, 2, l.Len())

	clock.Advance(10 * time.Minute)
	ok, _ = l.Allow("c")
	require.True(t, ok)
	require.Equal(t, 1, l.Len())
}

func TestParseRateLimitFromEnv(t *testing.T) {
	t.Setenv("RATELIMIT_TEST_REQUESTS", "7")
	t.Setenv("RATELIMIT_TEST_WINDOW_SEC", "30")
	t.Setenv("RATELIMIT_TEST_BURST", "-1")

	def := httpx.RateLimitConfig{RequestsPerWindow: 1, Window: time.Minute, Burst: 4}
	got := httpx.ParseRateLimitFromEnv("TEST", def)
	require.Equal(t, 7, got.RequestsPerWindow)
	require.Equal(t, 30*time.Second, got.Window)
	require.Equal(t, 4, got.Burst, "invalid values keep the default")
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) httpx.Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := httpx.Chain(okHandler(), mw("outer"), mw("inner"))
	get(h, "127.0.0.1:1")
	require.Equal(t, []string{"outer", "inner"}, order)
}

func TestLoopbackOnly(t *testing.T) {
	h := httpx.LoopbackOnly(okHandler())

	require.Equal(t, http.StatusOK, get(h, "127.0.0.1:1").Code)
	require.Equal(t, http.StatusOK, get(h, "[::1]:1").Code)
	require.Equal(t, http.StatusForbidden, get(h, "192.168.1.10:1").Code)
}
