package rest

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TenantLimiter is a token bucket per company. Unauthenticated callers are keyed by client IP.
type TenantLimiter struct {
	mu       sync.Mutex
	limiters map[string]*tenantBucket
	rate     rate.Limit
	burst    int
	idle     time.Duration
	now      func() time.Time
}

type tenantBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewTenantLimiter returns nil when rps is not positive, which disables limiting
func NewTenantLimiter(rps float64, burst int) *TenantLimiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = max(1, int(math.Ceil(rps)))
	}
	return &TenantLimiter{
		limiters: make(map[string]*tenantBucket),
		rate:     rate.Limit(rps),
		burst:    burst,
		idle:     10 * time.Minute,
		now:      time.Now,
	}
}

// Allow consumes a token for key
func (l *TenantLimiter) Allow(key string) bool {
	l.mu.Lock()
	b, ok := l.limiters[key]
	if !ok {
		b = &tenantBucket{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[key] = b
	}
	now := l.now()
	b.lastSeen = now
	l.mu.Unlock()

	return b.limiter.AllowN(now, 1)
}

// Sweep drops buckets idle for longer than the idle window
func (l *TenantLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.idle)
	removed := 0
	for key, b := range l.limiters {
		if b.lastSeen.Before(cutoff) {
			delete(l.limiters, key)
			removed++
		}
	}
	return removed
}

// Run sweeps periodically until ctx is done
func (l *TenantLimiter) Run(ctx context.Context, interval time.Duration) {
	if l == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

func (l *TenantLimiter) key(r *http.Request) string {
	if p, ok := PrincipalFromContext(r.Context()); ok && p.CompanyID != "" {
		return "company:" + p.CompanyID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// Middleware answers 429 once a tenant exhausts its bucket
func (l *TenantLimiter) Middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(l.key(r)) {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.burst))
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("Retry-After", "1")
			writeFailure(w, http.StatusTooManyRequests, "Too many requests", "RATE_LIMIT_EXCEEDED", "rate_limited")
			return
		}
		next.ServeHTTP(w, r)
	})
}
