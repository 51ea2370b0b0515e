package ratelimit

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"github.com/kuitang/entrystore/internal/errs"
	"github.com/kuitang/entrystore/internal/obs"
)

var errRateLimited = errs.New(errs.ResourceExhausted, "rate limit exceeded")

// DefaultRetryAfterSeconds is the smallest Retry-After value sent.
const DefaultRetryAfterSeconds = 1

// RateLimitMiddleware enforces per-key limits. getKey returns "" for
// requests that are not limited (anonymous callers never reach the store).
//
// Limited requests get 429 with Retry-After and a JSON error body. Allowed
// requests carry X-RateLimit-Remaining.
func RateLimitMiddleware(limiter *RateLimiter, getKey func(r *http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := getKey(r)
			if key == "" || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			if !limiter.Allow(key) {
				retry := int(math.Ceil(limiter.RetryAfter(key).Seconds()))
				if retry < DefaultRetryAfterSeconds {
					retry = DefaultRetryAfterSeconds
				}
				obs.From(r.Context()).Info("rate limit exceeded", "path", r.URL.Path, "retry_after_s", retry)

				w.Header().Set("Retry-After", strconv.Itoa(retry))
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(errs.HTTPStatus(errs.CodeOf(errRateLimited)))
				_ = json.NewEncoder(w).Encode(map[string]string{"error": errs.MessageOf(errRateLimited)})
				return
			}

			remaining := int(limiter.GetLimiter(key).TokensAt(limiter.now()))
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			next.ServeHTTP(w, r)
		})
	}
}
