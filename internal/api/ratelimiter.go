package api

import (
	"net/http"

	"golang.org/x/time/rate"
)

// rateLimiter gates incoming requests. Implementations must be safe for
// concurrent use.
type rateLimiter interface {
	Allow() bool
}

// requestLimiter shares one token bucket across every route. A background
// request can fan out into manifest reads and upstream compression calls,
// so the whole API is throttled as a unit rather than per endpoint.
type requestLimiter struct {
	bucket *rate.Limiter
}

func newTokenBucketLimiter(ratePerSecond float64, burst int) rateLimiter {
	if ratePerSecond <= 0 {
		ratePerSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}

	return &requestLimiter{bucket: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

func (l *requestLimiter) Allow() bool {
	return l.bucket.Allow()
}

func rateLimitMiddleware(limiter rateLimiter, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "Too many requests", "rate limit exceeded, please retry shortly")
			return
		}
		next.ServeHTTP(w, r)
	})
}
