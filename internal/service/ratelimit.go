// File: internal/service/ratelimit.go
package service

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// sweepThreshold is the number of tracked clients above which idle ones are dropped.
const sweepThreshold = 1024

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiter keeps one token bucket per client key.
type clientLimiter struct {
	limit  rate.Limit
	burst  int
	window time.Duration

	mu      sync.Mutex
	clients map[string]*visitor
	now     func() time.Time
}

// newClientLimiter allows requests per window per client. A non-positive
// requests disables limiting and returns nil.
func newClientLimiter(requests int, window time.Duration) *clientLimiter {
	if requests <= 0 || window <= 0 {
		return nil
	}
	return &clientLimiter{
		limit:   rate.Every(window / time.Duration(requests)),
		burst:   requests,
		window:  window,
		clients: make(map[string]*visitor),
		now:     time.Now,
	}
}

// Allow reports whether key may make a request now and consumes a token if so.
func (l *clientLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	v, ok := l.clients[key]
	if !ok {
		if len(l.clients) >= sweepThreshold {
			l.sweep(now)
		}
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// sweep drops clients idle for a full window; their buckets are full again anyway.
func (l *clientLimiter) sweep(now time.Time) {
	for k, v := range l.clients {
		if now.Sub(v.lastSeen) >= l.window {
			delete(l.clients, k)
		}
	}
}

// clientKey identifies the caller by the first X-Forwarded-For hop, falling back
// to the remote address without its port.
func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
