// Package ratelimit limits public lookups per client address.
package ratelimit

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"ring0.store/fulfillment/internal/logger"
)

type RateLimit interface {
	Allow(addr string) bool
}

type window struct {
	count int
	start time.Time
}

// FixedWindowLimiter allows maxRequests per address in each window.
type FixedWindowLimiter struct {
	maxRequests int
	window      time.Duration
	requests    map[string]*window
	mutex       sync.Mutex
	now         func() time.Time
}

func New(maxRequests int, interval time.Duration) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		maxRequests: maxRequests,
		window:      interval,
		requests:    make(map[string]*window),
		now:         time.Now,
	}
}

func (rl *FixedWindowLimiter) Allow(addr string) bool {
	_, ok := rl.allow(addr)
	return ok
}

// allow reports whether addr may proceed and, if not, how long until its
// window resets.
func (rl *FixedWindowLimiter) allow(addr string) (time.Duration, bool) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	w := rl.requests[addr]

	if w == nil || now.Sub(w.start) >= rl.window {
		if rl.maxRequests <= 0 {
			return rl.window, false
		}
		rl.requests[addr] = &window{count: 1, start: now}
		return 0, true
	}

	if w.count >= rl.maxRequests {
		return rl.window - now.Sub(w.start), false
	}
	w.count++
	return 0, true
}

// Prune drops windows that have expired and returns how many were removed.
func (rl *FixedWindowLimiter) Prune() int {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	removed := 0
	for addr, w := range rl.requests {
		if now.Sub(w.start) >= rl.window {
			delete(rl.requests, addr)
			removed++
		}
	}
	return removed
}

// StartPruning prunes expired windows every interval until stop is closed.
func (rl *FixedWindowLimiter) StartPruning(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := rl.Prune(); n > 0 {
					logger.Debug("Pruned rate limit windows", map[string]interface{}{"removed": n})
				}
			case <-stop:
				return
			}
		}
	}()
}

// Middleware rejects requests over the limit with 429.
func (rl *FixedWindowLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr := ClientAddr(r)
		retryAfter, ok := rl.allow(addr)
		if !ok {
			logger.Warn("Rate limit exceeded", map[string]interface{}{
				"client_ip": addr,
				"path":      r.URL.Path,
			})
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "Too many requests, please try again later"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientAddr is the request's remote IP without the port.
func ClientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
