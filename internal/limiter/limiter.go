// Package limiter throttles callers of the execution endpoints.
package limiter

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/michaelbrown/labrunner/internal/metrics"
)

// RateLimiter applies a global token bucket and one bucket per client key.
type RateLimiter struct {
	global  *rate.Limiter
	perKey  sync.Map // key -> *entry
	keyRate rate.Limit
	burst   int
}

type entry struct {
	limiter  *rate.Limiter
	mu       sync.Mutex
	lastSeen time.Time
}

// New creates a limiter. A non-positive globalRPS disables the global bucket.
func New(globalRPS, perClientRPS float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	rl := &RateLimiter{keyRate: rate.Limit(perClientRPS), burst: burst}
	if globalRPS > 0 {
		rl.global = rate.NewLimiter(rate.Limit(globalRPS), max(int(globalRPS)*2, 1))
	}
	return rl
}

func (rl *RateLimiter) entryFor(key string) *entry {
	if e, ok := rl.perKey.Load(key); ok {
		return e.(*entry)
	}
	e, _ := rl.perKey.LoadOrStore(key, &entry{limiter: rate.NewLimiter(rl.keyRate, rl.burst)})
	return e.(*entry)
}

// Allow reports whether key may make a request now.
func (rl *RateLimiter) Allow(key string) bool {
	if rl.global != nil && !rl.global.Allow() {
		metrics.RateLimitHits.Inc()
		return false
	}
	e := rl.entryFor(key)
	e.mu.Lock()
	e.lastSeen = time.Now()
	e.mu.Unlock()
	if !e.limiter.Allow() {
		metrics.RateLimitHits.Inc()
		return false
	}
	return true
}

// Middleware rejects over-limit requests with 429. Clients are keyed by keyFn,
// falling back to the remote IP.
func (rl *RateLimiter) Middleware(keyFn func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ""
			if keyFn != nil {
				key = keyFn(r)
			}
			if key == "" {
				key = clientIP(r)
			}
			if !rl.Allow(key) {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "Too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Sweep drops buckets idle for longer than idle.
func (rl *RateLimiter) Sweep(idle time.Duration) {
	cutoff := time.Now().Add(-idle)
	rl.perKey.Range(func(key, value any) bool {
		e := value.(*entry)
		e.mu.Lock()
		stale := e.lastSeen.Before(cutoff)
		e.mu.Unlock()
		if stale {
			rl.perKey.Delete(key)
		}
		return true
	})
}

// StartCleanup sweeps idle buckets every interval until stop is closed.
func (rl *RateLimiter) StartCleanup(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Sweep(interval)
			case <-stop:
				return
			}
		}
	}()
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
