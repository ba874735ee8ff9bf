// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// counter increments a windowed counter and returns the new value.
type counter interface {
	incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// valkeyCounter keeps fixed-window counters in Valkey so every replica
// shares the same budget.
type valkeyCounter struct {
	client *redis.Client
}

func (c valkeyCounter) incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	n := pipe.Incr(ctx, key)
	// NX keeps the first expiry, so the window does not slide.
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return n.Val(), nil
}

// RateLimiter limits requests per client IP in fixed windows.
type RateLimiter struct {
	counter counter
	prefix  string
	limit   int           // max requests per window
	window  time.Duration // window duration
}

// NewRateLimiter creates a Valkey-backed limiter that allows limit
// requests per window for each client IP. prefix namespaces the keys so
// several limiters can share one Valkey.
func NewRateLimiter(client *redis.Client, prefix string, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		counter: valkeyCounter{client: client},
		prefix:  prefix,
		limit:   limit,
		window:  window,
	}
}

// allow reports whether key is within the limit. Valkey failures fail
// open: a cache outage must not take the API down.
func (rl *RateLimiter) allow(ctx context.Context, key string) (bool, time.Duration) {
	now := time.Now()
	bucket := now.Truncate(rl.window)
	k := "ratelimit:" + rl.prefix + ":" + key + ":" + strconv.FormatInt(bucket.Unix(), 10)

	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	n, err := rl.counter.incr(ctx, k, rl.window)
	if err != nil {
		slog.Warn("rate limiter unavailable", "error", err)
		return true, 0
	}
	if n > int64(rl.limit) {
		return false, bucket.Add(rl.window).Sub(now)
	}
	return true, 0
}

// Middleware returns an HTTP middleware that rate-limits by client IP.
// A nil limiter or a non-positive limit disables limiting.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	if rl == nil || rl.limit <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, retry := rl.allow(r.Context(), clientIP(r))
		if !ok {
			secs := int(retry.Round(time.Second) / time.Second)
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP extracts the client's IP address, checking X-Forwarded-For
// and X-Real-IP headers for proxied requests.
func clientIP(r *http.Request) string {
	// Check X-Forwarded-For first (may contain multiple IPs).
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// The leftmost entry is the original client.
		if idx := strings.IndexByte(xff, ','); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// Fall back to RemoteAddr (strip port).
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}
