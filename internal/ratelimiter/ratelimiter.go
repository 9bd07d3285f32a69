package ratelimiter

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// unlimited is used instead of rate.Inf, which has edge cases with burst.
const unlimited = 1_000_000_000

// Config configures request admission.
//
// Zero rates disable the corresponding bucket.
type Config struct {
	// RequestsPerSecond and Burst bound the whole server
	RequestsPerSecond uint `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             uint `mapstructure:"burst" yaml:"burst"`

	// PerClientRequestsPerSecond and PerClientBurst bound each client
	// address independently
	PerClientRequestsPerSecond uint `mapstructure:"per_client_requests_per_second" yaml:"per_client_requests_per_second"`
	PerClientBurst             uint `mapstructure:"per_client_burst" yaml:"per_client_burst"`
}

// Limiter admits requests using token buckets: one shared by every client
// and, optionally, one per client address.
//
// A request is admitted only when both buckets have a token, so a single
// noisy client cannot starve the others of the global budget.
//
// Thread safety:
// All methods are safe for concurrent use.
type Limiter struct {
	global *rate.Limiter

	perClient      rate.Limit
	perClientBurst int

	mu      sync.Mutex
	clients map[string]*rate.Limiter
}

func newBucket(rps, burst uint) *rate.Limiter {
	if rps == 0 {
		return rate.NewLimiter(rate.Limit(unlimited), unlimited)
	}
	if burst == 0 {
		burst = rps
	}
	return rate.NewLimiter(rate.Limit(rps), int(burst))
}

// New creates a Limiter.
//
// Example:
//
//	// 5000 req/s for the server, 500 req/s per client
//	limiter := New(Config{RequestsPerSecond: 5000, Burst: 10000, PerClientRequestsPerSecond: 500})
func New(cfg Config) *Limiter {
	l := &Limiter{
		global:  newBucket(cfg.RequestsPerSecond, cfg.Burst),
		clients: make(map[string]*rate.Limiter),
	}
	if cfg.PerClientRequestsPerSecond > 0 {
		l.perClient = rate.Limit(cfg.PerClientRequestsPerSecond)
		l.perClientBurst = int(cfg.PerClientBurst)
		if l.perClientBurst == 0 {
			l.perClientBurst = int(cfg.PerClientRequestsPerSecond)
		}
	}
	return l
}

func (l *Limiter) bucket(client string) *rate.Limiter {
	if l.perClient == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.clients[client]
	if !ok {
		b = rate.NewLimiter(l.perClient, l.perClientBurst)
		l.clients[client] = b
	}
	return b
}

// Allow reports whether a request from client may run now, consuming a
// token from each bucket when it may.
func (l *Limiter) Allow(client string) bool {
	if b := l.bucket(client); b != nil {
		// Reserve the client token first so a rejection by the global
		// bucket can give it back.
		r := b.Reserve()
		if r.Delay() > 0 {
			r.Cancel()
			return false
		}
		if !l.global.Allow() {
			r.Cancel()
			return false
		}
		return true
	}
	return l.global.Allow()
}

// Wait blocks until a request from client is admitted or ctx ends.
func (l *Limiter) Wait(ctx context.Context, client string) error {
	if b := l.bucket(client); b != nil {
		if err := b.Wait(ctx); err != nil {
			return err
		}
	}
	return l.global.Wait(ctx)
}

// Forget drops the bucket of a disconnected client.
func (l *Limiter) Forget(client string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.clients, client)
}

// Clients returns the number of client buckets currently tracked.
func (l *Limiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Tokens returns the tokens left in the global bucket.
func (l *Limiter) Tokens() float64 {
	return l.global.Tokens()
}
