package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// RateLimiter enforces a per-client token bucket on directive submission.
// Proxy headers are ignored when resolving the client; they are spoofable.
type RateLimiter struct {
	mu         sync.Mutex
	clients    map[string]*clientBucket
	rate       float64
	burst      float64
	maxClients int // cap on tracked clients between prunes
}

type clientBucket struct {
	tokens   float64
	refilled time.Time
}

// NewRateLimiter creates a limiter allowing rate requests per second with
// the given burst.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	return &RateLimiter{
		clients:    make(map[string]*clientBucket),
		rate:       rate,
		burst:      float64(burst),
		maxClients: 100000,
	}
}

// Handler returns middleware applying the limit.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.take(clientAddr(r)) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) take(addr string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	b, ok := rl.clients[addr]
	if !ok {
		if len(rl.clients) >= rl.maxClients {
			return false // at capacity, reject unknown clients until pruned
		}
		rl.clients[addr] = &clientBucket{tokens: rl.burst - 1, refilled: now}
		return true
	}

	b.tokens += now.Sub(b.refilled).Seconds() * rl.rate
	if b.tokens > rl.burst {
		b.tokens = rl.burst
	}
	b.refilled = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Prune drops buckets idle longer than maxIdle. Callers run it on a timer.
func (rl *RateLimiter) Prune(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := time.Now().Add(-maxIdle)
	for addr, b := range rl.clients {
		if b.refilled.Before(cutoff) {
			delete(rl.clients, addr)
		}
	}
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
