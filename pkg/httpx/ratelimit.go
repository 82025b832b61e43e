package httpx

import (
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/aussiebroadwan/faceguard/pkg/slogx"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// RateLimitConfig allows RequestsPerWindow per Window with bursts up to Burst.
type RateLimitConfig struct {
	RequestsPerWindow int
	Window            time.Duration
	Burst             int
}

// Limit converts the config to a token rate.
func (c RateLimitConfig) Limit() rate.Limit {
	if c.Window <= 0 {
		return rate.Inf
	}
	return rate.Limit(float64(c.RequestsPerWindow) / c.Window.Seconds())
}

var (
	// ProbeLimit covers health probes, which supervisors poll often.
	// Override with RATELIMIT_PROBE_REQUESTS, RATELIMIT_PROBE_WINDOW_SEC, RATELIMIT_PROBE_BURST.
	ProbeLimit = RateLimitConfig{RequestsPerWindow: 600, Window: time.Minute, Burst: 60}

	// QueryLimit covers status and history reads that touch the database.
	// Override with RATELIMIT_QUERY_REQUESTS, RATELIMIT_QUERY_WINDOW_SEC, RATELIMIT_QUERY_BURST.
	QueryLimit = RateLimitConfig{RequestsPerWindow: 60, Window: time.Minute, Burst: 20}
)

func init() {
	ProbeLimit = ParseRateLimitFromEnv("PROBE", ProbeLimit)
	QueryLimit = ParseRateLimitFromEnv("QUERY", QueryLimit)
}

// ParseRateLimitFromEnv overrides fields of def from RATELIMIT_{prefix}_*.
// Invalid or non-positive values are ignored.
func ParseRateLimitFromEnv(prefix string, def RateLimitConfig) RateLimitConfig {
	cfg := def
	if n, ok := positiveEnv("RATELIMIT_" + prefix + "_REQUESTS"); ok {
		cfg.RequestsPerWindow = n
	}
	if n, ok := positiveEnv("RATELIMIT_" + prefix + "_WINDOW_SEC"); ok {
		cfg.Window = time.Duration(n) * time.Second
	}
	if n, ok := positiveEnv("RATELIMIT_" + prefix + "_BURST"); ok {
		cfg.Burst = n
	}
	return cfg
}

func positiveEnv(key string) (int, bool) {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// RemoteIP is the peer address of r. Forwarding headers are ignored: the
// status API is bound to loopback and never sits behind a proxy.
func RemoteIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func isLoopback(addr string) bool {
	ip := net.ParseIP(addr)
	return ip != nil && ip.IsLoopback()
}

// KeyedLimiter holds one token bucket per key. Idle buckets are dropped.
type KeyedLimiter struct {
	cfg   RateLimitConfig
	clock clockwork.Clock

	mu          sync.Mutex
	buckets     map[string]*rate.Limiter
	lastCleanup time.Time
}

func NewKeyedLimiter(cfg RateLimitConfig, clock clockwork.Clock) *KeyedLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &KeyedLimiter{
		cfg:         cfg,
		clock:       clock,
		buckets:     make(map[string]*rate.Limiter),
		lastCleanup: clock.Now(),
	}
}

// Allow consumes a token for key. When refused it also returns how long
// until the next token.
func (l *KeyedLimiter) Allow(key string) (bool, time.Duration) {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastCleanup) >= 5*time.Minute {
		l.lastCleanup = now
		for k, b := range l.buckets {
			if b.TokensAt(now) >= float64(l.cfg.Burst) {
				delete(l.buckets, k)
			}
		}
	}

	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.cfg.Limit(), l.cfg.Burst)
		l.buckets[key] = b
	}

	if b.AllowN(now, 1) {
		return true, 0
	}
	r := b.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	return false, delay
}

// Len is the number of tracked keys.
func (l *KeyedLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// RateLimitByIP limits each peer address to cfg.
func RateLimitByIP(cfg RateLimitConfig) Middleware {
	return RateLimit(NewKeyedLimiter(cfg, nil))
}

// RateLimit answers 429 with Retry-After once the peer's bucket is empty.
func RateLimit(l *KeyedLimiter) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := RemoteIP(r)
			ok, delay := l.Allow(key)
			if ok {
				next.ServeHTTP(w, r)
				return
			}

			retryAfter := max(int(delay.Seconds()), 1)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.RequestsPerWindow))
			w.Header().Set("X-RateLimit-Window", l.cfg.Window.String())

			slogx.FromContext(r.Context()).Warn("rate limit exceeded",
				"key", key,
				"endpoint", r.URL.Path,
				"retry_after", retryAfter,
			)
			WriteError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "Too many requests. Please try again later.")
		})
	}
}
