package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// RetryConfig holds retry settings for LLM calls.
type RetryConfig struct {
	MaxRetries  int           `json:"max_retries" mapstructure:"max_retries" toml:"max_retries"`    // Max retry attempts (default 2)
	MaxBackoff  time.Duration `json:"max_backoff" mapstructure:"max_backoff" toml:"max_backoff"`    // Max backoff duration (default 5s)
	InitBackoff time.Duration `json:"init_backoff" mapstructure:"init_backoff" toml:"init_backoff"` // Initial backoff (default 500ms)
}

// Retry configuration defaults, sized for a single voice turn.
const (
	defaultMaxRetries  = 2
	defaultInitBackoff = 500 * time.Millisecond
	defaultMaxBackoff  = 5 * time.Second
	backoffFactor      = 2.0
)

// effective returns retry settings with defaults filled in.
func (c RetryConfig) effective() (maxRetries int, initBackoff, maxBackoff time.Duration) {
	maxRetries = c.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	initBackoff = c.InitBackoff
	if initBackoff <= 0 {
		initBackoff = defaultInitBackoff
	}
	maxBackoff = c.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	return
}

// withRetry runs call until it succeeds, fails permanently, or the retry
// budget or ctx runs out. Context errors are returned unwrapped.
func withRetry[T any](ctx context.Context, provider string, cfg RetryConfig, call func(context.Context) (T, error)) (T, error) {
	var zero T
	maxRetries, backoff, maxBackoff := cfg.effective()

	for attempt := 0; ; attempt++ {
		resp, err := call(ctx)
		if err == nil {
			return resp, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}

		if isBillingError(err) {
			return zero, fmt.Errorf("billing/payment error (fatal): %w", err)
		}

		if !isRetryableError(err) {
			return zero, fmt.Errorf("%s request failed: %w", provider, err)
		}

		if attempt == maxRetries {
			return zero, fmt.Errorf("%s request failed after %d retries: %w", provider, maxRetries, err)
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * backoffFactor)
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// IsRateLimitError reports whether err says the provider throttled us.
func IsRateLimitError(err error) bool {
	return isRateLimitError(err)
}

// isRateLimitError checks if the error is a rate limit error.
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "overloaded")
}

// isServerError checks if the error is a transient server error (5xx).
func isServerError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "status 500") ||
		strings.Contains(errStr, "status 502") ||
		strings.Contains(errStr, "status 503") ||
		strings.Contains(errStr, "status 504") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "gateway timeout") ||
		strings.Contains(errStr, "temporarily unavailable")
}

// isRetryableError checks if the error is retryable (rate limit or server error).
func isRetryableError(err error) bool {
	return isRateLimitError(err) || isServerError(err)
}

// isBillingError checks if the error is a billing/payment/quota error (fatal, no retry).
func isBillingError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "billing") ||
		strings.Contains(errStr, "payment") ||
		strings.Contains(errStr, "credits") ||
		strings.Contains(errStr, "quota exceeded") ||
		strings.Contains(errStr, "402")
}
