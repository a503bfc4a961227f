package auth

import (
	"errors"
	"fmt"
	"time"
)

// Stable error kinds returned to clients.
const (
	KindInvalidProof        = "invalid_proof"
	KindExpiredProof        = "expired_proof"
	KindInvalidCredentials  = "invalid_credentials"
	KindRateLimited         = "rate_limited"
	KindAlreadyLinked       = "already_linked_elsewhere"
	KindSecurityViolation   = "security_violation"
	KindProviderUnavailable = "provider_unavailable"
	KindNotFound            = "not_found"
)

// Error carries a stable kind plus a human-readable message. RetryAfter and
// AttemptsLeft are optional hints for client-side throttling; AttemptsLeft
// is -1 when not applicable.
type Error struct {
	Kind         string
	Message      string
	RetryAfter   time.Duration
	AttemptsLeft int
	err          error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.err }

// E builds an Error with the given kind and message.
func E(kind, message string) *Error {
	return &Error{Kind: kind, Message: message, AttemptsLeft: -1}
}

// Wrap builds an Error that wraps an underlying cause.
func Wrap(kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, AttemptsLeft: -1, err: err}
}

func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

func (e *Error) WithAttemptsLeft(n int) *Error {
	e.AttemptsLeft = n
	return e
}

// KindOf returns the error kind, or empty string for non-auth errors.
func KindOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// AsError returns the *Error wrapped in err, if any.
func AsError(err error) (*Error, bool) {
	var ae *Error
	ok := errors.As(err, &ae)
	return ae, ok
}
