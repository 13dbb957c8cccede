/*
Package core runs the batch classification: it walks the extracted addresses
from the checkpointed resume point, classifies each domain, and persists
progress. Parallel runs go through a sharded worker scheduler.
*/
package core

import "errors"

// customError is an error type that includes a retryable flag.
// This allows callers to decide whether the failed operation is worth another attempt.
type customError struct {
	message   string // The error message.
	retryable bool   // True if retrying may succeed.
}

// NewError creates a new customError with the given message and retryable status.
func NewError(msg string, retryable bool) error {
	return &customError{
		message:   msg,
		retryable: retryable,
	}
}

// Error implements the standard Go `error` interface.
func (e *customError) Error() string {
	return e.message
}

// IsRetryable returns true if the error is designated as retryable, false otherwise.
func (e *customError) IsRetryable() bool {
	return e.retryable
}

// IsRetryable reports whether err, or any error it wraps, is a retryable
// *customError. Unknown error types are treated as not retryable.
func IsRetryable(err error) bool {
	var ce *customError
	if errors.As(err, &ce) {
		return ce.IsRetryable()
	}
	return false
}

var (
	// ErrQueueFull indicates that a worker's queue is at capacity.
	// Retryable: the queue drains as the worker makes progress.
	ErrQueueFull = NewError("queue full", true)
	// ErrWorkerShutdown indicates that the scheduler no longer accepts work.
	ErrWorkerShutdown = NewError("worker shutdown", false)
	// ErrWorkerPanic is reported for an address whose classification panicked.
	ErrWorkerPanic = NewError("worker panic", false)
	// ErrInterrupted is returned by BatchRunner.Run when the run was cancelled
	// before reaching the end of the input. The checkpoint has been saved.
	ErrInterrupted = errors.New("run interrupted")
	// ErrPersistence wraps checkpoint save failures, which abort the run.
	ErrPersistence = errors.New("checkpoint persistence failed")
)
