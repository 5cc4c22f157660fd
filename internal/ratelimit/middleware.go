package ratelimit

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/botzfyi/botz/internal/errs"
	"github.com/botzfyi/botz/internal/respond"
)

// KeyFunc returns the identity a request is counted against.
type KeyFunc func(r *http.Request) string

// IdentityKey uses the authenticated user when userID returns one, else the
// client IP. userID may be nil.
func IdentityKey(userID func(*http.Request) string) KeyFunc {
	return func(r *http.Request) string {
		if userID != nil {
			if id := userID(r); id != "" {
				return "user:" + id
			}
		}
		return "ip:" + ClientIP(r)
	}
}

// ClientIP returns the host part of RemoteAddr. chi's RealIP middleware
// rewrites RemoteAddr from proxy headers upstream.
func ClientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	if addr != "" {
		return addr
	}
	return "unknown"
}

// Middleware rejects requests over limit per window with 429.
func (l *Limiter) Middleware(action string, limit int, window time.Duration, keyFn KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := l.Allow(r.Context(), Rule{
				Key:    action + ":" + keyFn(r),
				Limit:  limit,
				Window: window,
			})

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

			if !res.OK {
				retry := int(math.Ceil(res.ResetAt.Sub(l.now()).Seconds()))
				if retry < 1 {
					retry = 1
				}
				h.Set("Retry-After", strconv.Itoa(retry))
				respond.Error(w, errs.RateLimited, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
