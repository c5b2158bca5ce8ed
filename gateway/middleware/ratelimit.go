package middleware

import (
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimit configures one limiter group. RatePerSecond wins over
// RequestsPerMinute when both are set. Tokens maps "METHOD /path" routes to a
// per-request token cost; routes not listed consume DefaultTokens (minimum 1).
type RateLimit struct {
	RequestsPerMinute float64
	RatePerSecond     float64
	Burst             int
	DefaultTokens     int
	Tokens            map[string]int
}

func (l RateLimit) perSecond() rate.Limit {
	if l.RatePerSecond > 0 {
		return rate.Limit(l.RatePerSecond)
	}
	if l.RequestsPerMinute > 0 {
		return rate.Limit(l.RequestsPerMinute / 60.0)
	}
	return rate.Limit(1)
}

func (l RateLimit) cost(r *http.Request) int {
	if len(l.Tokens) > 0 {
		if tokens, ok := l.Tokens[r.Method+" "+r.URL.Path]; ok && tokens > 0 {
			return tokens
		}
	}
	if l.DefaultTokens > 0 {
		return l.DefaultTokens
	}
	return 1
}

type rateEntry struct {
	limiter *rate.Limiter
}

type RateLimiter struct {
	logger   *log.Logger
	limits   map[string]RateLimit
	mu       sync.RWMutex
	visitors map[string]*rateEntry
	clockNow func() time.Time
}

func NewRateLimiter(limits map[string]RateLimit, logger *log.Logger) *RateLimiter {
	if logger == nil {
		logger = log.Default()
	}
	return &RateLimiter{
		logger:   logger,
		limits:   limits,
		visitors: make(map[string]*rateEntry),
		clockNow: time.Now,
	}
}

func (r *RateLimiter) Middleware(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			limit, ok := r.limits[key]
			if !ok {
				next.ServeHTTP(w, req)
				return
			}
			// Limiters are scoped per route group per caller so one noisy
			// tenant cannot starve another.
			limiter := r.obtainLimiter(key+"|"+clientID(req), limit)
			if !limiter.AllowN(r.clockNow(), limit.cost(req)) {
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func (r *RateLimiter) obtainLimiter(id string, cfg RateLimit) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.visitors[id]
	if ok {
		return entry.limiter
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(cfg.perSecond(), burst)
	r.visitors[id] = &rateEntry{limiter: limiter}
	go r.cleanup(id)
	return limiter
}

func (r *RateLimiter) cleanup(id string) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		r.mu.Lock()
		delete(r.visitors, id)
		r.mu.Unlock()
		return
	}
}

// clientID identifies the caller: API key first so authenticated tenants get
// their own budget regardless of source address, then proxy headers, then the
// socket peer.
func clientID(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return "key:" + key
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		if parsed := net.ParseIP(ip); parsed != nil {
			return parsed.String()
		}
		if comma := strings.IndexByte(ip, ','); comma > 0 {
			trimmed := strings.TrimSpace(ip[:comma])
			if parsed := net.ParseIP(trimmed); parsed != nil {
				return parsed.String()
			}
		}
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
