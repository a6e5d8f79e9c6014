package ratelimit

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/render"
)

// retryAfterSeconds is the Retry-After hint sent with 429 responses
const retryAfterSeconds = 60

// PerIP rejects requests from a client IP that exhausted its bucket
func PerIP(limiter *Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.Capacity()))
			if !limiter.Allow(ip) {
				slog.Warn("Rate limit exceeded", "ip", ip, "path", r.URL.Path)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
				render.Status(r, http.StatusTooManyRequests)
				render.JSON(w, r, map[string]string{
					"error":   "rate_limit_exceeded",
					"message": "Too many login attempts, try again later",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the client address, preferring proxy headers
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
