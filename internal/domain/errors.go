package domain

import "errors"

var (
	// ErrTaskNotFound is returned when a task cannot be found in the database
	ErrTaskNotFound = errors.New("task not found")

	// ErrDuplicateIdempotencyKey is returned when the tasks unique constraint
	// rejects an insert because another task already holds the idempotency key
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already exists")

	// ErrTaskNotCancelable is returned when a cancel request hits a task that
	// is not in a cancelable state
	ErrTaskNotCancelable = errors.New("task is not in a cancelable state")

	// ErrTaskAlreadyClaimed is returned when attempting to claim a task that
	// another worker is already running
	ErrTaskAlreadyClaimed = errors.New("task already claimed or not claimable")

	// ErrInvalidPayload is returned when task payload JSON is malformed
	ErrInvalidPayload = errors.New("invalid task payload")

	// ErrMaxRetriesExceeded is returned when a task has exceeded its retry limit
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
