package server

import (
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterIdleTTL is how long an unused per-client limiter is kept
const limiterIdleTTL = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LoginLimiter throttles login attempts per client IP with a token bucket
// refilled at perMinute tokens per minute
type LoginLimiter struct {
	mu         sync.Mutex
	clients    map[string]*clientLimiter
	limit      rate.Limit
	burst      int
	trustProxy bool
	lastSweep  time.Time
	now        func() time.Time
}

// NewLoginLimiter returns nil when perMinute is zero, which disables limiting
func NewLoginLimiter(perMinute int, trustProxy bool) *LoginLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &LoginLimiter{
		clients:    make(map[string]*clientLimiter),
		limit:      rate.Limit(float64(perMinute) / 60),
		burst:      perMinute,
		trustProxy: trustProxy,
		now:        time.Now,
	}
}

// Allow consumes one attempt for the request's client. When the bucket is
// empty it returns false and how long until the next attempt is allowed.
func (l *LoginLimiter) Allow(r *http.Request) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}

	key := clientIP(r, l.trustProxy)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= limiterIdleTTL {
		l.sweep(now)
	}

	c, ok := l.clients[key]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = now

	res := c.limiter.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Minute
	}
	delay := res.DelayFrom(now)
	if delay == 0 {
		return true, 0
	}
	// Don't hold a token we refused to use
	res.CancelAt(now)
	return false, delay
}

// sweep drops limiters idle for longer than limiterIdleTTL. Caller holds l.mu.
func (l *LoginLimiter) sweep(now time.Time) {
	for key, c := range l.clients {
		if now.Sub(c.lastSeen) >= limiterIdleTTL {
			delete(l.clients, key)
		}
	}
	l.lastSweep = now
}

func (l *LoginLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// clientIP returns the caller's address, taking the rightmost
// X-Forwarded-For entry only when the proxy is trusted
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		// The load balancer appends the address it saw, so only the last
		// entry is trustworthy; anything before it came from the client
		if values := r.Header.Values("X-Forwarded-For"); len(values) > 0 {
			last := values[len(values)-1]
			if i := strings.LastIndexByte(last, ','); i >= 0 {
				last = last[i+1:]
			}
			if ip := strings.TrimSpace(last); net.ParseIP(ip) != nil {
				return ip
			}
		}
	}

	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return host
}

// retryAfterSeconds rounds a wait up to whole seconds for Retry-After
func retryAfterSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
