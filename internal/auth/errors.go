package auth

import (
	"errors"
	"fmt"
	"time"
)

// Kind is the closed set of failure outcomes returned by Service.
// The string value doubles as the error code in HTTP responses.
type Kind string

const (
	KindValidation         Kind = "VALIDATION_ERROR"
	KindRateLimited        Kind = "RATE_LIMITED"
	KindInvalidCredentials Kind = "INVALID_CREDENTIALS"
	KindEmailUnverified    Kind = "EMAIL_UNVERIFIED"
	KindOTPInvalid         Kind = "OTP_INVALID"
	KindOTPExpired         Kind = "OTP_EXPIRED"
	KindOTPMaxAttempts     Kind = "OTP_MAX_ATTEMPTS"
	KindNotFound           Kind = "NOT_FOUND"
	KindConflict           Kind = "CONFLICT"
	KindDependency         Kind = "DEPENDENCY_FAILURE"
)

// Error is a typed service failure
type Error struct {
	Kind    Kind
	Message string
	// RetryAfter is set for KindRateLimited
	RetryAfter time.Duration
	// RemainingAttempts is set for KindOTPInvalid
	RemainingAttempts int
	Err               error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrOTPExpired) works
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is
var (
	ErrValidation         = &Error{Kind: KindValidation}
	ErrRateLimited        = &Error{Kind: KindRateLimited}
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials}
	ErrEmailUnverified    = &Error{Kind: KindEmailUnverified}
	ErrOTPInvalid         = &Error{Kind: KindOTPInvalid}
	ErrOTPExpired         = &Error{Kind: KindOTPExpired}
	ErrOTPMaxAttempts     = &Error{Kind: KindOTPMaxAttempts}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrConflict           = &Error{Kind: KindConflict}
	ErrDependency         = &Error{Kind: KindDependency}
)

// KindOf returns the kind of err. Untyped errors count as dependency failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindDependency
}

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func dependencyError(op string, err error) *Error {
	return &Error{Kind: KindDependency, Message: op, Err: err}
}

func invalidCredentials() *Error {
	return newError(KindInvalidCredentials, "invalid email or password")
}

func rateLimited(window time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Message: "too many login attempts, try again later", RetryAfter: window}
}
