package httpx

import (
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alialinx/mini-gateway/pkg/slogx"
	"golang.org/x/time/rate"
)

// RateLimitConfig is a token bucket that refills RequestsPerWindow tokens
// every Window and holds at most Burst.
type RateLimitConfig struct {
	RequestsPerWindow int
	Window            time.Duration
	Burst             int
}

// Profiles used by the token endpoints. Callers read overrides with
// ParseRateLimitFromEnv at configuration time.
var (
	// StrictLimit guards credential issuance (brute force prevention).
	StrictLimit = RateLimitConfig{
		RequestsPerWindow: 5,
		Window:            time.Minute,
		Burst:             5,
	}

	// ModerateLimit guards refresh and revoke.
	ModerateLimit = RateLimitConfig{
		RequestsPerWindow: 20,
		Window:            time.Minute,
		Burst:             20,
	}
)

// ParseRateLimitFromEnv overrides def from RATELIMIT_{prefix}_REQUESTS,
// RATELIMIT_{prefix}_WINDOW_SEC and RATELIMIT_{prefix}_BURST. Values that are
// not positive integers are ignored.
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

func positiveEnv(name string) (int, bool) {
	n, err := strconv.Atoi(os.Getenv(name))
	return n, err == nil && n > 0
}

// KeyExtractor names the bucket a request draws from. An empty key opts the
// request out of limiting.
type KeyExtractor func(*http.Request) string

// IPKeyExtractor keys requests by the connection's remote IP.
func IPKeyExtractor(r *http.Request) string {
	return ClientIP(r)
}

// BasicAuthUserKeyExtractor keys requests by the basic auth username, if any.
func BasicAuthUserKeyExtractor(r *http.Request) string {
	user, _, ok := r.BasicAuth()
	if !ok {
		return ""
	}
	return user
}

// CompositeKeyExtractor joins the non-empty keys of extractors with sep,
// e.g. "192.0.2.1:issuer".
func CompositeKeyExtractor(sep string, extractors ...KeyExtractor) KeyExtractor {
	return func(r *http.Request) string {
		var parts []string
		for _, extractor := range extractors {
			if key := extractor(r); key != "" {
				parts = append(parts, key)
			}
		}
		return strings.Join(parts, sep)
	}
}

// sweepEvery bounds how often idle buckets are dropped.
const sweepEvery = 5 * time.Minute

// buckets holds one token bucket per key. A bucket that has refilled to
// burst carries no state worth keeping and is dropped on the next sweep.
type buckets struct {
	limit rate.Limit
	burst int

	byKey sync.Map // string -> *rate.Limiter

	mu        sync.Mutex
	lastSweep time.Time
}

func newBuckets(cfg RateLimitConfig) *buckets {
	return &buckets{
		limit:     rate.Limit(float64(cfg.RequestsPerWindow) / cfg.Window.Seconds()),
		burst:     cfg.Burst,
		lastSweep: time.Now(),
	}
}

func (b *buckets) get(key string) *rate.Limiter {
	if l, ok := b.byKey.Load(key); ok {
		return l.(*rate.Limiter)
	}
	l, _ := b.byKey.LoadOrStore(key, rate.NewLimiter(b.limit, b.burst))
	b.sweep(time.Now())
	return l.(*rate.Limiter)
}

func (b *buckets) sweep(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if now.Sub(b.lastSweep) < sweepEvery {
		return
	}
	b.lastSweep = now

	b.byKey.Range(func(k, v any) bool {
		if v.(*rate.Limiter).Tokens() >= float64(b.burst) {
			b.byKey.Delete(k)
		}
		return true
	})
}

// retryAfter is the whole number of seconds, at least one, until l admits
// another request.
func retryAfter(l *rate.Limiter) int {
	r := l.Reserve()
	defer r.Cancel()
	return max(int(math.Ceil(r.Delay().Seconds())), 1)
}

// RateLimitMiddleware throttles requests per key. Requests whose key is
// empty pass unthrottled. Rejections are 429 with the error envelope and a
// Retry-After header.
func RateLimitMiddleware(cfg RateLimitConfig, key KeyExtractor) Middleware {
	b := newBuckets(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" {
				slogx.FromContext(r.Context()).Warn("rate limit key is empty, not throttling", "path", r.URL.Path)
				next.ServeHTTP(w, r)
				return
			}

			l := b.get(k)
			if l.Allow() {
				next.ServeHTTP(w, r)
				return
			}

			wait := retryAfter(l)
			h := w.Header()
			h.Set("Retry-After", strconv.Itoa(wait))
			h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.RequestsPerWindow))
			h.Set("X-RateLimit-Window", cfg.Window.String())

			slogx.FromContext(r.Context()).Warn("rate limited",
				"key", k,
				"path", r.URL.Path,
				"retry_after", wait,
			)
			WriteError(w, http.StatusTooManyRequests, h.Get("X-Request-ID"),
				"rate_limit_exceeded", "too many requests, please try again later")
		})
	}
}

// RateLimitByIP limits by the connection's remote IP.
func RateLimitByIP(config RateLimitConfig) Middleware {
	return RateLimitMiddleware(config, IPKeyExtractor)
}

// RateLimitByIPAndBasicUser limits by IP plus the basic auth username.
func RateLimitByIPAndBasicUser(config RateLimitConfig) Middleware {
	return RateLimitMiddleware(config, CompositeKeyExtractor(":",
		IPKeyExtractor,
		BasicAuthUserKeyExtractor,
	))
}
