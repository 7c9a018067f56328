// Package provider holds the pieces shared by every external provider
// integration: the error type that marks a failure as originating in a remote
// service rather than in local processing.
//
// Concrete providers live in sub-packages grouped by capability
// (moderation, transcription). Every concrete implementation wraps transport
// failures, non-2xx responses and undecodable payloads in an [*Error] so that
// callers can distinguish "the remote side is unavailable or misbehaving" from
// local validation failures using [errors.As].
package provider

import (
	"errors"
	"fmt"
)

// Error reports that an external provider was unreachable, timed out, or
// returned a response that could not be used.
//
// Callers should treat an Error as retryable at their own discretion. The
// gateway itself never retries.
type Error struct {
	// Provider is the short provider name (e.g., "openai", "whisper").
	Provider string

	// Op names the operation that failed (e.g., "classify", "transcribe").
	Op string

	// StatusCode is the HTTP status returned by the provider, or 0 when the
	// request never produced a response.
	StatusCode int

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s: %s: status %d: %v", e.Provider, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Wrap returns err wrapped in an [*Error] for the given provider and
// operation. If err already carries an [*Error] it is returned unchanged so
// that layered providers (rate limiters, breakers) do not double-wrap.
// Wrap returns nil when err is nil.
func Wrap(providerName, op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	return &Error{Provider: providerName, Op: op, Err: err}
}

// WrapStatus is like [Wrap] but records the HTTP status code.
func WrapStatus(providerName, op string, status int, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Provider: providerName, Op: op, StatusCode: status, Err: err}
}

// IsProviderError reports whether err, or any error in its chain, is an
// [*Error].
func IsProviderError(err error) bool {
	var pe *Error
	return errors.As(err, &pe)
}
