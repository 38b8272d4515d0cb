package server

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	clientIdleTTL     = 10 * time.Minute
	clientSweepEvery  = time.Minute
	defaultMaxClients = 4096
)

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiter keeps one token bucket per client address. Buckets idle for
// clientIdleTTL are swept, and the map never holds more than maxClients.
type clientLimiter struct {
	mu         sync.Mutex
	clients    map[string]*clientEntry
	rps        float64
	burst      int
	maxClients int
	lastSweep  time.Time
	now        func() time.Time
}

// newClientLimiter creates a limiter allowing rps requests per second per
// client with the given burst. rps <= 0 disables limiting.
func newClientLimiter(rps float64, burst int) *clientLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &clientLimiter{
		clients:    make(map[string]*clientEntry),
		rps:        rps,
		burst:      burst,
		maxClients: defaultMaxClients,
		now:        time.Now,
	}
}

func (l *clientLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= clientSweepEvery {
		l.sweep(now)
	}

	if entry, exists := l.clients[key]; exists {
		entry.lastSeen = now
		return entry.limiter
	}

	if len(l.clients) >= l.maxClients {
		l.evictOldest()
	}
	entry := &clientEntry{
		limiter:  rate.NewLimiter(rate.Limit(l.rps), l.burst),
		lastSeen: now,
	}
	l.clients[key] = entry
	return entry.limiter
}

// sweep drops idle buckets. Caller holds mu.
func (l *clientLimiter) sweep(now time.Time) {
	for key, entry := range l.clients {
		if now.Sub(entry.lastSeen) > clientIdleTTL {
			delete(l.clients, key)
		}
	}
	l.lastSweep = now
}

// evictOldest drops the least recently seen bucket. Caller holds mu.
func (l *clientLimiter) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for key, entry := range l.clients {
		if oldestKey == "" || entry.lastSeen.Before(oldest) {
			oldestKey = key
			oldest = entry.lastSeen
		}
	}
	if oldestKey != "" {
		delete(l.clients, oldestKey)
	}
}

// Len returns the number of tracked clients.
func (l *clientLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Allow reports whether a request from key may proceed now.
func (l *clientLimiter) Allow(key string) bool {
	if l.rps <= 0 {
		return true
	}
	return l.get(key).Allow()
}

// clientKey returns the remote host without its port.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
