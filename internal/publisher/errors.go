package publisher

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a publish failure by what should happen next: user
// action (not_connected, credential_expired, validation), an immediate
// refresh-and-retry (auth), or retry per policy (transient, rate_limited).
type Kind string

const (
	KindNotConnected      Kind = "not_connected"
	KindCredentialExpired Kind = "credential_expired"
	KindAuth              Kind = "auth"
	KindValidation        Kind = "validation"
	KindTransient         Kind = "transient"
	KindRateLimited       Kind = "rate_limited"
)

type Error struct {
	Kind       Kind
	Platform   string
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Platform, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Platform, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(kind Kind, platform, message string) *Error {
	return &Error{Kind: kind, Platform: platform, Message: message}
}

func WrapError(kind Kind, platform string, err error) *Error {
	return &Error{Kind: kind, Platform: platform, Err: err}
}

// KindOf extracts the failure kind, treating anything untyped (network
// errors, unexpected decode failures) as transient.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransient
}

func RetryAfterOf(err error) time.Duration {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.RetryAfter
	}
	return 0
}

// errorFromStatus maps an HTTP status from a platform API to a failure
// kind. Callers attach the response body as the message.
func errorFromStatus(platform string, status int, body string, retryAfter time.Duration) *Error {
	e := &Error{Platform: platform, Message: fmt.Sprintf("status %d: %s", status, body)}
	switch {
	case status == 401 || status == 403:
		e.Kind = KindAuth
	case status == 429:
		e.Kind = KindRateLimited
		e.RetryAfter = retryAfter
	case status >= 400 && status < 500:
		e.Kind = KindValidation
	default:
		e.Kind = KindTransient
	}
	return e
}
