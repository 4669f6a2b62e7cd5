package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterSweepEvery = 5 * time.Minute
	limiterIdleAfter  = 10 * time.Minute
)

// clientLimiters keeps one token bucket per client IP.
type clientLimiters struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	rate     rate.Limit
	burst    int
	now      func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiters(r rate.Limit, burst int) *clientLimiters {
	return &clientLimiters{
		limiters: make(map[string]*limiterEntry),
		rate:     r,
		burst:    burst,
		now:      time.Now,
	}
}

func (c *clientLimiters) get(ip string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.limiters[ip]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(c.rate, c.burst)}
		c.limiters[ip] = entry
	}
	entry.lastSeen = c.now()
	return entry.limiter
}

// sweep drops clients idle for longer than limiterIdleAfter.
func (c *clientLimiters) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := c.now().Add(-limiterIdleAfter)
	for ip, entry := range c.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(c.limiters, ip)
		}
	}
}

func (c *clientLimiters) run(ctx context.Context) {
	t := time.NewTicker(limiterSweepEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.sweep()
		}
	}
}

// retryAfter is the whole number of seconds until one token is available.
func (c *clientLimiters) retryAfter() string {
	if c.rate <= 0 || c.rate == rate.Inf {
		return "60"
	}
	return strconv.Itoa(int(math.Ceil(1 / float64(c.rate))))
}

// RateLimit returns middleware that limits requests per client IP.
// r is the number of requests allowed per second, burst is the max burst size.
// Idle clients are forgotten until ctx is cancelled.
//
// For login: RateLimit(ctx, rate.Every(12*time.Second), 5) = ~5 attempts/minute max.
func RateLimit(ctx context.Context, r rate.Limit, burst int) func(http.Handler) http.Handler {
	limiters := newClientLimiters(r, burst)
	go limiters.run(ctx)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiters.get(clientIP(r)).Allow() {
				w.Header().Set("Retry-After", limiters.retryAfter())
				writeError(w, http.StatusTooManyRequests, "Too many requests. Please try again later.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP returns the first X-Forwarded-For hop when behind a proxy,
// otherwise the host part of RemoteAddr.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
