// Package ratelimit is a per-client token bucket guarding the ask API. A
// consensus run fans out to several paid model calls, so admission control
// sits in front of the HTTP surface rather than per provider.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultMaxClients = 100000
	staleAfter        = 10 * time.Minute
	sweepEvery        = 5 * time.Minute
)

// Limiter refills perSecond tokens up to burst for each client key.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*bucket

	perSecond  float64
	burst      float64
	maxClients int

	rejected prometheus.Counter
	stop     chan struct{}
	now      func() time.Time
}

type bucket struct {
	tokens float64
	seen   time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithRejectionCounter increments the counter on every rejected request.
func WithRejectionCounter(c prometheus.Counter) Option {
	return func(l *Limiter) { l.rejected = c }
}

// WithMaxClients caps the number of tracked client keys.
func WithMaxClients(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.maxClients = n
		}
	}
}

func New(perSecond float64, burst int, opts ...Option) *Limiter {
	l := &Limiter{
		clients:    make(map[string]*bucket),
		perSecond:  perSecond,
		burst:      float64(burst),
		maxClients: defaultMaxClients,
		stop:       make(chan struct{}),
		now:        time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	go l.sweep()
	return l
}

// Middleware rejects over-limit requests with 429 and a Retry-After hint.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientKey(r)) {
			if l.rejected != nil {
				l.rejected.Inc()
			}
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Allow spends one token for the key if available.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.clients[key]
	if !ok {
		if len(l.clients) >= l.maxClients {
			l.evictStalest()
		}
		b = &bucket{tokens: l.burst, seen: now}
		l.clients[key] = b
	} else {
		b.tokens += now.Sub(b.seen).Seconds() * l.perSecond
		if b.tokens > l.burst {
			b.tokens = l.burst
		}
		b.seen = now
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Stop ends the background sweeper.
func (l *Limiter) Stop() {
	close(l.stop)
}

// clientKey resolves the client identity: first hop of X-Forwarded-For, then
// X-Real-IP, then the connection's remote host.
func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, ok := strings.Cut(fwd, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(fwd)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// evictStalest drops the least recently seen client. Caller holds l.mu.
func (l *Limiter) evictStalest() {
	var victim string
	var oldest time.Time
	for k, b := range l.clients {
		if victim == "" || b.seen.Before(oldest) {
			victim, oldest = k, b.seen
		}
	}
	if victim != "" {
		delete(l.clients, victim)
	}
}

func (l *Limiter) sweep() {
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			cutoff := l.now().Add(-staleAfter)
			for k, b := range l.clients {
				if b.seen.Before(cutoff) {
					delete(l.clients, k)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}
