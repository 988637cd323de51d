package errors

import (
	"context"
	"errors"
	"fmt"
)

// Wrap wraps an error with additional context while preserving the error chain.
// If err is nil, Wrap returns nil.
// If err is already an *Error, the wrapper keeps its code and metadata.
// Otherwise, context errors map to TIMEOUT/CANCELED and anything else to INTERNAL.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var ce *Error
	if errors.As(err, &ce) {
		wrapped := &Error{
			code:      ce.code,
			category:  ce.category,
			message:   message,
			cause:     err,
			metadata:  ce.Metadata(),
			retryable: ce.retryable,
			timestamp: ce.timestamp,
			entityID:  ce.entityID,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return New(ErrCodeTimeout, message, append(opts, WithCause(err))...)
	}
	if errors.Is(err, context.Canceled) {
		return New(ErrCodeCanceled, message, append(opts, WithCause(err))...)
	}

	return New(ErrCodeInternal, message, append(opts, WithCause(err))...)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WrapWithCode wraps an error with a specific error code.
func WrapWithCode(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	opts = append(opts, WithCause(err))
	return New(code, message, opts...)
}

// As extracts the outermost *Error from an error chain.
// Returns nil if no *Error is found.
func As(err error) *Error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	return nil
}

// Is checks if the outermost *Error in the chain has the given error code.
func Is(err error, code ErrorCode) bool {
	if ce := As(err); ce != nil {
		return ce.code == code
	}
	return false
}

// IsTimeout reports whether err is a timeout, either by code or because a
// context deadline expired somewhere in the chain.
func IsTimeout(err error) bool {
	return Is(err, ErrCodeTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// IsRetryable checks if the error is retryable.
func IsRetryable(err error) bool {
	if ce := As(err); ce != nil {
		return ce.Retryable()
	}
	return false
}

// Code extracts the error code from an error, if available.
// Returns empty string if err carries no *Error.
func Code(err error) ErrorCode {
	if ce := As(err); ce != nil {
		return ce.code
	}
	return ""
}

// KindOf returns the API taxonomy tag for err.
// Errors without a code are reported as Internal.
func KindOf(err error) Kind {
	return Code(err).Kind()
}

// Cause returns the root cause of the error chain.
func Cause(err error) error {
	for {
		inner := errors.Unwrap(err)
		if inner == nil {
			return err
		}
		err = inner
	}
}

// Join combines multiple errors into a single error.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// RecoverPanic converts a recovered panic value into an Error.
func RecoverPanic(recovered interface{}) *Error {
	if recovered == nil {
		return nil
	}
	var message string
	switch v := recovered.(type) {
	case error:
		message = v.Error()
	case string:
		message = v
	default:
		message = fmt.Sprintf("%v", v)
	}
	return New(ErrCodePanic, message, WithMetadata("panic_value", fmt.Sprintf("%T", recovered)))
}
