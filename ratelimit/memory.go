package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vinayprograms/callkit/logging"
)

type bucket struct {
	limiter    *rate.Limiter
	reductions int
}

// MemoryLimiter provides local rate limiting using token buckets.
// It is safe for concurrent use.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	closed  bool
	log     *logging.Logger
	nowFunc func() time.Time // for testing
}

// NewMemoryLimiter creates a new in-memory rate limiter. log may be nil.
func NewMemoryLimiter(log *logging.Logger) *MemoryLimiter {
	if log == nil {
		log = logging.Nop()
	}
	return &MemoryLimiter{
		buckets: make(map[string]*bucket),
		log:     log.WithComponent("ratelimit"),
		nowFunc: time.Now,
	}
}

// SetRate configures the rate limit for a resource.
func (m *MemoryLimiter) SetRate(resource string, perSecond float64, burst int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	if perSecond <= 0 {
		delete(m.buckets, resource)
		return
	}
	if burst < 1 {
		burst = 1
	}

	if b, ok := m.buckets[resource]; ok {
		now := m.nowFunc()
		b.limiter.SetLimitAt(now, rate.Limit(perSecond))
		b.limiter.SetBurstAt(now, burst)
		b.reductions = 0
		return
	}
	m.buckets[resource] = &bucket{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (m *MemoryLimiter) lookup(resource string) (*rate.Limiter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	b, ok := m.buckets[resource]
	if !ok {
		return nil, nil
	}
	return b.limiter, nil
}

// Wait blocks until a token is available for the resource.
func (m *MemoryLimiter) Wait(ctx context.Context, resource string) (time.Duration, error) {
	l, err := m.lookup(resource)
	if err != nil || l == nil {
		return 0, err
	}

	start := time.Now()
	if err := l.Wait(ctx); err != nil {
		// rate.Limiter reports a deadline it cannot meet before it expires.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return time.Since(start), ctxErr
		}
		return time.Since(start), context.DeadlineExceeded
	}
	return time.Since(start), nil
}

// Allow takes a token without blocking.
func (m *MemoryLimiter) Allow(resource string) bool {
	l, err := m.lookup(resource)
	if err != nil {
		return false
	}
	if l == nil {
		return true
	}
	return l.AllowN(m.nowFunc(), 1)
}

// Reduce cuts the rate by a quarter. The burst shrinks with it but never
// below one.
func (m *MemoryLimiter) Reduce(resource, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[resource]
	if !ok || m.closed {
		return
	}

	now := m.nowFunc()
	newRate := float64(b.limiter.Limit()) * reduceFactor
	newBurst := int(float64(b.limiter.Burst()) * reduceFactor)
	if newBurst < 1 {
		newBurst = 1
	}
	b.limiter.SetLimitAt(now, rate.Limit(newRate))
	b.limiter.SetBurstAt(now, newBurst)
	b.reductions++

	m.log.Warn("rate reduced", map[string]interface{}{
		"resource": resource,
		"rate":     newRate,
		"burst":    newBurst,
		"reason":   reason,
	})
}

// Capacity returns the current settings for a resource.
func (m *MemoryLimiter) Capacity(resource string) *Capacity {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[resource]
	if !ok {
		return nil
	}
	return &Capacity{
		Resource:   resource,
		Rate:       float64(b.limiter.Limit()),
		Burst:      b.limiter.Burst(),
		Available:  b.limiter.TokensAt(m.nowFunc()),
		Reductions: b.reductions,
	}
}

// Close shuts down the limiter. Waiters already blocked finish on their own
// schedule; new calls fail with ErrClosed.
func (m *MemoryLimiter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.closed = true
	return nil
}

// Ensure MemoryLimiter implements RateLimiter.
var _ RateLimiter = (*MemoryLimiter)(nil)
