package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/diagnosis/qr-attendance/internal/http/response"
	"github.com/diagnosis/qr-attendance/pkg/logger"
)

type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// RateLimitConfig defines rate limiting parameters
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
	KeyFunc  func(r *http.Request) []string
}

type RateLimiter struct {
	store  Limiter
	config RateLimitConfig
}

func NewRateLimiter(store Limiter, config RateLimitConfig) *RateLimiter {
	if config.KeyFunc == nil {
		config.KeyFunc = ClientIPKeyFunc
	}
	return &RateLimiter{store: store, config: config}
}

// Middleware rejects a request once any of its keys exceeds the limit. Store
// errors let the request through.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rl.store == nil || rl.config.Requests <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			for _, key := range rl.config.KeyFunc(r) {
				ok, err := rl.store.Allow(r.Context(), key, rl.config.Requests, rl.config.Window)
				if err != nil {
					logger.WarnContext(r.Context(), "rate limit check failed", "error", err)
					continue
				}
				if !ok {
					response.RateLimit(w, "Too many requests. Try again later.")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func ClientIPKeyFunc(r *http.Request) []string {
	if ip := getClientIP(r); ip != "" {
		return []string{r.URL.Path + ":ip:" + ip}
	}
	return nil
}

// getClientIP extracts the real client IP from the request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
