package httpapi

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientLimiter keeps one token bucket per client address.
type clientLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientEntry
	r       rate.Limit
	b       int
	idle    time.Duration
	now     func() time.Time
	swept   time.Time
}

type clientEntry struct {
	limiter *rate.Limiter
	seen    time.Time
}

func newClientLimiter(rps float64, burst int) *clientLimiter {
	if burst < 1 {
		burst = 1
	}
	return &clientLimiter{
		clients: make(map[string]*clientEntry),
		r:       rate.Limit(rps),
		b:       burst,
		idle:    10 * time.Minute,
		now:     time.Now,
	}
}

func (l *clientLimiter) allow(remoteAddr string) bool {
	key := remoteAddr
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		key = host
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.swept) > l.idle {
		for k, e := range l.clients {
			if now.Sub(e.seen) > l.idle {
				delete(l.clients, k)
			}
		}
		l.swept = now
	}

	e, ok := l.clients[key]
	if !ok {
		e = &clientEntry{limiter: rate.NewLimiter(l.r, l.b)}
		l.clients[key] = e
	}
	e.seen = now
	return e.limiter.AllowN(now, 1)
}
