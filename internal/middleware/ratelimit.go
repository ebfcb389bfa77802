package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"licgate/internal/metrics"
	"licgate/internal/models"
)

type clientLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// RateLimiter — token bucket на IP клиента (адрес берётся из ProxyTrust.Handler).
type RateLimiter struct {
	mu      sync.Mutex
	rps     rate.Limit
	burst   int
	clients map[string]*clientLimiter
	idle    time.Duration
	now     func() time.Time
}

func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		clients: make(map[string]*clientLimiter),
		idle:    10 * time.Minute,
		now:     time.Now,
	}
}

func (rl *RateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	c, ok := rl.clients[key]
	if !ok {
		c = &clientLimiter{lim: rate.NewLimiter(rl.rps, rl.burst)}
		rl.clients[key] = c
	}
	c.lastSeen = now
	return c.lim.AllowN(now, 1)
}

// GC забывает клиентов, которые молчат дольше idle.
func (rl *RateLimiter) GC() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cut := rl.now().Add(-rl.idle)
	n := 0
	for k, c := range rl.clients {
		if c.lastSeen.Before(cut) {
			delete(rl.clients, k)
			n++
		}
	}
	return n
}

func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)
		if !rl.allow(ip) {
			metrics.RateLimited.Inc()
			Entry(r).WithFields(logrus.Fields{"ip": ip, "path": r.URL.Path}).Warn("rate limit exceeded")
			w.Header().Set("Retry-After", "1")
			models.WriteFail(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
