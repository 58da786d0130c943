package delivery

import (
	"context"
	"errors"
)

// Record store errors.
var (
	ErrRecordExists   = errors.New("delivery record already exists")
	ErrRecordNotFound = errors.New("delivery record not found")
)

// ErrNoSender is returned for a channel type without a registered adapter.
var ErrNoSender = errors.New("no sender for channel type")

// RetryableError wraps an error and marks it as retryable or not.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

// IsRetryable returns whether the error is retryable.
func (e *RetryableError) IsRetryable() bool {
	return e.Retryable
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError marks err as a transient delivery failure.
func NewRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: true}
}

// NewPermanentError marks err as a failure that cannot succeed without a configuration change.
func NewPermanentError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: false}
}

// IsRetryable classifies a send error. Errors that do not carry a classification
// are treated as transient.
func IsRetryable(err error) bool {
	type retryable interface {
		IsRetryable() bool
	}
	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Default: retry unknown errors
	return true
}
