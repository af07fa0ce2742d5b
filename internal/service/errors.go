package service

import "errors"

var (
	// ErrEmptySelection rejects a composition that enables no platform.
	// Nothing is persisted when it fires.
	ErrEmptySelection = errors.New("no platforms selected")

	// ErrNotCancelable means at least one platform attempt already
	// started; in-flight attempts always run to a terminal outcome.
	ErrNotCancelable = errors.New("post can no longer be canceled")

	// ErrNotRetryable means the target is absent or not in a
	// re-armable state, so there is nothing to re-attempt.
	ErrNotRetryable = errors.New("target is not in a retryable state")

	ErrPostNotFound = errors.New("post doesn't exist")
)
