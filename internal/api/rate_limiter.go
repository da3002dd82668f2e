package api

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/algo-portfolio/internal/errors"
)

// Limiter decides whether a keyed request may proceed and, if not, how
// long the caller should wait.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, time.Duration)
}

// maxIdleLimiters bounds the per-key map before idle entries are pruned
const maxIdleLimiters = 10000

type keyedEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is an in-process Limiter. Each key gets a token bucket that
// refills maxRequests tokens per window with a burst of maxRequests, which
// admits the same sustained rate as a fixed window.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*keyedEntry
	limit    rate.Limit
	burst    int
	window   time.Duration
	now      func() time.Time
}

// NewRateLimiter creates a limiter allowing maxRequests per window and key
func NewRateLimiter(window time.Duration, maxRequests int) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	if maxRequests <= 0 {
		maxRequests = 60
	}
	return &RateLimiter{
		limiters: make(map[string]*keyedEntry),
		limit:    rate.Limit(float64(maxRequests) / window.Seconds()),
		burst:    maxRequests,
		window:   window,
		now:      time.Now,
	}
}

func (rl *RateLimiter) getLimiter(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if entry, ok := rl.limiters[key]; ok {
		entry.lastSeen = now
		return entry.limiter
	}

	if len(rl.limiters) >= maxIdleLimiters {
		for k, entry := range rl.limiters {
			if now.Sub(entry.lastSeen) > rl.window {
				delete(rl.limiters, k)
			}
		}
	}

	limiter := rate.NewLimiter(rl.limit, rl.burst)
	rl.limiters[key] = &keyedEntry{limiter: limiter, lastSeen: now}
	return limiter
}

// Allow consumes one token for key
func (rl *RateLimiter) Allow(_ context.Context, key string) (bool, time.Duration) {
	now := rl.now()
	limiter := rl.getLimiter(key, now)

	reservation := limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return false, rl.window
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return false, delay
	}
	return true, 0
}

type prefixLimiter struct {
	prefix string
	next   Limiter
}

// PrefixLimiter namespaces keys so limiters sharing a backend keep
// separate counters
func PrefixLimiter(prefix string, next Limiter) Limiter {
	return &prefixLimiter{prefix: prefix + ":", next: next}
}

func (p *prefixLimiter) Allow(ctx context.Context, key string) (bool, time.Duration) {
	return p.next.Allow(ctx, p.prefix+key)
}

// RateLimitMiddleware limits requests per caller and client IP
func RateLimitMiddleware(limiter Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(HeaderUserID) + ":" + clientIP(r)

			allowed, wait := limiter.Allow(r.Context(), key)
			if !allowed {
				retryAfter := int(math.Ceil(wait.Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				respondServiceError(w, r, apperrors.NewRateLimitError(retryAfter))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
