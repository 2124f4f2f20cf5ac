// Package policylimit bounds request bodies, request duration and the
// per-client request rate.
package policylimit

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultMaxRequestBodyBytes = 1 << 20
	DefaultRequestTimeout      = 2 * time.Minute
	// idleClientTTL is how long an unused client limiter is kept.
	idleClientTTL = 10 * time.Minute
)

var (
	ErrRequestTooLarge = errors.New("request body too large")
	ErrRequestTimedOut = errors.New("request timeout exceeded")
	ErrRateLimited     = errors.New("request rate limit exceeded")
)

type Config struct {
	MaxRequestBodyBytes int64
	RequestTimeout      time.Duration
	// RatePerSecond of zero disables rate limiting.
	RatePerSecond float64
	Burst         int
}

type RejectFunc func(http.ResponseWriter, *http.Request, error)

func NormalizeConfig(cfg Config) Config {
	if cfg.MaxRequestBodyBytes <= 0 {
		cfg.MaxRequestBodyBytes = DefaultMaxRequestBodyBytes
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.RatePerSecond > 0 && cfg.Burst < 1 {
		cfg.Burst = 1
	}
	return cfg
}

// Middleware caps the body and attaches a deadline to the request context.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	cfg = NormalizeConfig(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxRequestBodyBytes)
			}

			ctx, cancel := context.WithTimeoutCause(r.Context(), cfg.RequestTimeout, ErrRequestTimedOut)
			defer cancel()

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimiter keeps one token bucket per client address.
type RateLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu      sync.Mutex
	clients map[string]*client
	sweepAt time.Time
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter returns nil when cfg disables rate limiting.
func NewRateLimiter(cfg Config) *RateLimiter {
	cfg = NormalizeConfig(cfg)
	if cfg.RatePerSecond <= 0 {
		return nil
	}
	return &RateLimiter{
		limit:   rate.Limit(cfg.RatePerSecond),
		burst:   cfg.Burst,
		now:     time.Now,
		clients: make(map[string]*client),
	}
}

// Allow reports whether key may make a request now.
func (l *RateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.After(l.sweepAt) {
		for k, c := range l.clients {
			if now.Sub(c.lastSeen) > idleClientTTL {
				delete(l.clients, k)
			}
		}
		l.sweepAt = now.Add(idleClientTTL)
	}

	c, ok := l.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

// Middleware rejects requests over the client's budget. A nil limiter passes
// everything through.
func (l *RateLimiter) Middleware(reject RejectFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(clientKey(r)) {
				reject(w, r, ErrRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
