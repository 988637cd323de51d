package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

// Error categories define how errors should be handled.
const (
	// CategoryTransient indicates temporary failures where retry may succeed.
	// Examples: provider timeouts, an agent busy with another think.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	// Examples: unknown account, invalid agent config, double hangup.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryResource indicates resource exhaustion or quota issues.
	CategoryResource ErrorCategory = "resource"

	// CategoryInternal indicates unexpected errors, bugs, or system failures.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	switch c {
	case CategoryTransient, CategoryResource:
		return true
	default:
		return false
	}
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

// Error codes for callkit failure scenarios.
const (
	// Transient errors
	ErrCodeTimeout       ErrorCode = "TIMEOUT"        // Operation timed out
	ErrCodeUnavailable   ErrorCode = "UNAVAILABLE"    // Dependency temporarily unavailable
	ErrCodeAgentBusy     ErrorCode = "AGENT_BUSY"     // Agent already has a think in flight
	ErrCodeProviderError ErrorCode = "PROVIDER_ERROR" // Think provider failed

	// Permanent errors
	ErrCodeNotFound            ErrorCode = "NOT_FOUND"            // Entity does not exist
	ErrCodeConflict            ErrorCode = "CONFLICT"             // Duplicate identity or invalid state transition
	ErrCodeInvalidInput        ErrorCode = "INVALID_INPUT"        // Malformed request
	ErrCodeUnprocessableConfig ErrorCode = "UNPROCESSABLE_CONFIG" // Agent config failed validation
	ErrCodeCanceled            ErrorCode = "CANCELED"             // Operation was canceled

	// Resource errors
	ErrCodeRateLimit ErrorCode = "RATE_LIMITED" // Provider rate limit exhausted

	// Internal errors
	ErrCodeInternal ErrorCode = "INTERNAL" // Unexpected internal error
	ErrCodePanic    ErrorCode = "PANIC"    // Recovered from panic
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeTimeout, ErrCodeUnavailable, ErrCodeAgentBusy, ErrCodeProviderError:
		return CategoryTransient

	case ErrCodeNotFound, ErrCodeConflict, ErrCodeInvalidInput, ErrCodeUnprocessableConfig,
		ErrCodeCanceled:
		return CategoryPermanent

	case ErrCodeRateLimit:
		return CategoryResource

	default:
		return CategoryInternal
	}
}

// DefaultRetryable returns whether this error code is typically retryable.
func (c ErrorCode) DefaultRetryable() bool {
	return c.DefaultCategory().IsRetryable()
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeTimeout:             "operation timed out",
	ErrCodeUnavailable:         "service temporarily unavailable",
	ErrCodeAgentBusy:           "agent is busy",
	ErrCodeProviderError:       "think provider failed",
	ErrCodeNotFound:            "not found",
	ErrCodeConflict:            "conflicting operation",
	ErrCodeInvalidInput:        "invalid input provided",
	ErrCodeUnprocessableConfig: "invalid agent configuration",
	ErrCodeCanceled:            "operation canceled",
	ErrCodeRateLimit:           "rate limit exceeded",
	ErrCodeInternal:            "internal error",
	ErrCodePanic:               "recovered from panic",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}

// Kind is the taxonomy tag reported to API callers alongside the message.
type Kind string

// Kinds reported across the API boundary.
const (
	KindNotFound            Kind = "NotFound"
	KindConflict            Kind = "Conflict"
	KindUnprocessableConfig Kind = "UnprocessableConfig"
	KindBusy                Kind = "Busy"
	KindProviderError       Kind = "ProviderError"
	KindInvalidInput        Kind = "InvalidInput"
	KindInternal            Kind = "Internal"
)

// Kind maps the code onto its API taxonomy tag.
// Codes without a dedicated tag are reported as Internal.
func (c ErrorCode) Kind() Kind {
	switch c {
	case ErrCodeNotFound:
		return KindNotFound
	case ErrCodeConflict:
		return KindConflict
	case ErrCodeUnprocessableConfig:
		return KindUnprocessableConfig
	case ErrCodeAgentBusy:
		return KindBusy
	case ErrCodeProviderError:
		return KindProviderError
	case ErrCodeInvalidInput:
		return KindInvalidInput
	default:
		return KindInternal
	}
}
