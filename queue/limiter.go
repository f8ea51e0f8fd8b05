package queue

import (
	"sync"

	"golang.org/x/time/rate"
)

// LimitConfig defines optional per-kind dispatch limiting.
type LimitConfig struct {
	// Kind is the job kind this limit applies to.
	Kind string

	// RatePerSecond is the maximum sustained dispatches per second for
	// this kind. Zero disables rate limiting.
	RatePerSecond float64

	// Burst is the token-bucket burst size. Defaults to 1 when
	// RatePerSecond is set but Burst is zero.
	Burst int
}

// Limiter applies token-bucket rate limits per job kind at dispatch
// time. Kinds without a configured limit always pass. It is safe for
// concurrent use.
type Limiter struct {
	mu    sync.Mutex
	kinds map[string]*rate.Limiter
}

// NewLimiter creates a Limiter with the given kind configurations.
func NewLimiter(configs ...LimitConfig) *Limiter {
	l := &Limiter{
		kinds: make(map[string]*rate.Limiter, len(configs)),
	}
	for _, cfg := range configs {
		if cfg.RatePerSecond <= 0 {
			continue
		}
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		l.kinds[cfg.Kind] = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return l
}

// Allow reports whether a job of the given kind may dispatch now.
// A denied job goes back to the queue head so FIFO order is preserved.
func (l *Limiter) Allow(kind string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	rl, ok := l.kinds[kind]
	if !ok {
		return true
	}
	return rl.Allow()
}
