// Package ratelimit paces outbound requests to LLM providers.
//
// Each provider gets a token bucket with a steady rate and a burst:
//
//	limiter := ratelimit.NewMemoryLimiter(log)
//	limiter.SetRate("groq", 5, 10) // 5 requests per second, bursts of 10
//
//	waited, err := limiter.Wait(ctx, "groq")
//	if err != nil {
//	    return err // context ended first
//	}
//
// Providers without a configured rate pass straight through. When a
// provider throttles (HTTP 429), Reduce lowers its rate by a quarter until
// SetRate is called again.
package ratelimit
