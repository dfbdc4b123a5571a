package pageprovider

import (
	"errors"
	"time"
	"unsafe"

	"github.com/sony/gobreaker"
	"github.com/yasserelgammal/rate-limiter/limiter"
	"github.com/yasserelgammal/rate-limiter/store"
)

// BoundedConfig tunes the request-rate ceiling and failure-isolation
// policy a Bounded provider enforces around its underlying Provider.
type BoundedConfig struct {
	// RequestsPerSecond caps how often Acquire may call into the
	// underlying provider; growth beyond this rate returns
	// ErrRateLimited rather than hammering the OS.
	RequestsPerSecond int64
	// Burst is the token bucket's burst allowance.
	Burst int64
	// FailureThreshold is the number of consecutive Acquire failures
	// that trips the breaker open.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before probing
	// the underlying provider again.
	OpenTimeout time.Duration
}

// DefaultBoundedConfig matches the rate shape gossip.go uses for its own
// send path, scaled up for page-growth traffic (superpage acquisition is
// inherently much rarer than per-message gossip sends).
func DefaultBoundedConfig() BoundedConfig {
	return BoundedConfig{
		RequestsPerSecond: 1000,
		Burst:             64,
		FailureThreshold:  8,
		OpenTimeout:       5 * time.Second,
	}
}

// ErrRateLimited is returned when Acquire is called faster than
// BoundedConfig.RequestsPerSecond allows.
var ErrRateLimited = errors.New("pageprovider: acquire rate limit exceeded")

// Bounded decorates a Provider with a token-bucket rate limiter and a
// circuit breaker, so that a misbehaving or exhausted OS allocator
// degrades into bounded ErrOutOfMemory responses instead of unbounded
// retries. Grounded on kernel/core/mesh/routing/gossip.go's use of
// limiter.TokenBucket for its send path; the breaker wraps the same
// call for fault isolation, a use the teacher declares as a dependency
// but never wires to anything.
type Bounded struct {
	inner   Provider
	limiter *limiter.TokenBucket
	cb      *gobreaker.CircuitBreaker
}

// NewBounded wraps inner with the given policy.
func NewBounded(inner Provider, cfg BoundedConfig) (*Bounded, error) {
	st := store.NewMemoryStore(time.Minute)
	tb, err := limiter.NewTokenBucket(limiter.Config{
		Rate:     cfg.RequestsPerSecond,
		Duration: time.Second,
		Burst:    cfg.Burst,
	}, st)
	if err != nil {
		return nil, err
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "pageprovider",
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
	})

	return &Bounded{inner: inner, limiter: tb, cb: cb}, nil
}

func (b *Bounded) Acquire(n uintptr) (unsafe.Pointer, error) {
	if !b.limiter.Allow("acquire") {
		return nil, ErrRateLimited
	}
	p, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.Acquire(n)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, ErrOutOfMemory
		}
		return nil, err
	}
	return p.(unsafe.Pointer), nil
}

func (b *Bounded) Release(p unsafe.Pointer, n uintptr) error {
	return b.inner.Release(p, n)
}
