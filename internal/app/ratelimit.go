package app

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// rateLimiter applies a per-client token bucket keyed by IP. Entries
// idle for staleAfter are dropped during the periodic sweep so the map
// does not grow with every address ever seen.
type rateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*clientLimiter
	rps       rate.Limit
	burst     int
	lastSweep time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const (
	sweepEvery = time.Minute
	staleAfter = 10 * time.Minute
)

func newRateLimiter(rps, burst int) *rateLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	return &rateLimiter{
		clients:   make(map[string]*clientLimiter),
		rps:       rate.Limit(rps),
		burst:     burst,
		lastSweep: time.Now(),
	}
}

// Allow reports whether the client may proceed. A nil limiter allows
// everything.
func (l *rateLimiter) Allow(clientKey string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.lastSweep) > sweepEvery {
		for key, client := range l.clients {
			if now.Sub(client.lastSeen) > staleAfter {
				delete(l.clients, key)
			}
		}
		l.lastSweep = now
	}

	client, ok := l.clients[clientKey]
	if !ok {
		client = &clientLimiter{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[clientKey] = client
	}
	client.lastSeen = now
	return client.limiter.Allow()
}

// clientIP extracts the caller's address, trusting the first entry of
// X-Forwarded-For when a proxy set it.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if first, _, found := strings.Cut(forwarded, ","); found || first != "" {
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
