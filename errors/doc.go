// Package errors provides the structured error taxonomy used across callkit.
// Every registry and scheduler failure carries an ErrorCode, and the API layer
// derives both the HTTP status and the reported kind tag from that code.
//
// # Error Categories
//
// Errors are classified into four categories:
//
//   - Transient: Temporary failures where retry may succeed (busy agent, provider timeout)
//   - Permanent: Failures where retry will not help (not found, invalid config)
//   - Resource: Resource exhaustion issues (provider rate limits)
//   - Internal: Unexpected errors indicating bugs or system failures
//
// # Kinds
//
// Codes map onto the kind tags reported to callers as {"error", "kind"}:
//
//   - NOT_FOUND: NotFound
//   - CONFLICT: Conflict
//   - UNPROCESSABLE_CONFIG: UnprocessableConfig
//   - AGENT_BUSY: Busy
//   - PROVIDER_ERROR: ProviderError
//   - INVALID_INPUT: InvalidInput
//   - everything else: Internal
//
// # Usage
//
// Create a new error:
//
//	err := errors.NotFound("account alice@example.com not found")
//
// Wrap an existing error with context:
//
//	wrapped := errors.Wrap(err, "hangup")
//
// Report it:
//
//	kind := errors.KindOf(wrapped) // KindNotFound
package errors
