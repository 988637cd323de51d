package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned after the limiter has been closed.
var ErrClosed = errors.New("limiter closed")

// reduceFactor scales a rate down when a provider reports throttling.
const reduceFactor = 0.75

// RateLimiter paces requests to named resources, usually LLM providers.
// Resources without a configured rate are not limited.
type RateLimiter interface {
	// Wait blocks until a token is available and reports how long it waited.
	// Returns the context error if ctx ends first.
	Wait(ctx context.Context, resource string) (time.Duration, error)

	// Allow takes a token without blocking.
	Allow(resource string) bool

	// SetRate configures perSecond requests with the given burst.
	// A non-positive rate removes the limit.
	SetRate(resource string, perSecond float64, burst int)

	// Reduce lowers the rate after the resource pushed back (e.g. a 429).
	Reduce(resource, reason string)

	// Capacity reports the current settings, or nil for an unlimited resource.
	Capacity(resource string) *Capacity

	Close() error
}

// Capacity describes the rate limit for a resource.
type Capacity struct {
	Resource string  `json:"resource"`
	Rate     float64 `json:"rate"`  // tokens per second
	Burst    int     `json:"burst"` // bucket size
	// Available is the number of tokens in the bucket now.
	Available float64 `json:"available"`
	// Reductions counts Reduce calls since the rate was last set.
	Reductions int `json:"reductions"`
}
