package api

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nerrad567/rollcall/internal/infrastructure/config"
)

// limiterIdleTTL is how long an idle client keeps its limiter.
const limiterIdleTTL = 10 * time.Minute

type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// scanLimiter holds one token bucket per client address.
//
// Thread Safety:
//   - Safe for concurrent use.
type scanLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*clientLimiter
	now     func() time.Time
}

// newScanLimiter returns nil when rate limiting is disabled.
func newScanLimiter(cfg config.RateLimitConfig) *scanLimiter {
	if !cfg.Enabled || cfg.RequestsPerMinute <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &scanLimiter{
		limit:   rate.Limit(float64(cfg.RequestsPerMinute) / 60.0),
		burst:   burst,
		clients: make(map[string]*clientLimiter),
		now:     time.Now,
	}
}

// Allow takes a token for key. When none is available it returns how long
// until one will be.
func (l *scanLimiter) Allow(key string) (time.Duration, bool) {
	now := l.now()

	l.mu.Lock()
	cl, ok := l.clients[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = cl
	}
	cl.lastAccess = now
	l.mu.Unlock()

	res := cl.limiter.ReserveN(now, 1)
	if !res.OK() {
		return time.Minute, false
	}
	if wait := res.DelayFrom(now); wait > 0 {
		res.CancelAt(now)
		return wait, false
	}
	return 0, true
}

// Len returns the number of tracked clients.
func (l *scanLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// cleanup drops clients idle for longer than limiterIdleTTL.
func (l *scanLimiter) cleanup() {
	cutoff := l.now().Add(-limiterIdleTTL)
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, cl := range l.clients {
		if cl.lastAccess.Before(cutoff) {
			delete(l.clients, key)
		}
	}
}

// cleanupLoop runs cleanup until ctx is cancelled.
func (l *scanLimiter) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(limiterIdleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-ctx.Done():
			return
		}
	}
}

// clientIP is the remote host without its port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
