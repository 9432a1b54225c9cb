package concurrency

import (
	"github.com/pkg/errors"
)

// Sentinel errors identifying the error kinds described in the design: admission
// failures surface immediately from Submit, execution failures surface through
// a task's Future. Use errors.Is against these to classify a returned error;
// the concrete error returned is usually wrapped with context via errors.Wrap.
var (
	// ErrServiceShutDown is returned when Submit is called after Shutdown or
	// ShutdownNow has been invoked.
	ErrServiceShutDown = errors.New("concurrency: service shut down")

	// ErrRejected is returned when a task cannot be admitted: the resource
	// manager isn't ready, or the target pool refused the task (it is
	// closed, or ctx ended while Submit was waiting). A full bounded queue
	// does not by itself reject a task: Submit waits for room.
	ErrRejected = errors.New("concurrency: task rejected")

	// ErrCancelled is returned when a task is cancelled before or during
	// execution.
	ErrCancelled = errors.New("concurrency: task cancelled")

	// ErrInterrupted is returned when a worker is interrupted while a task is
	// running, distinct from cancellation requested by the caller.
	ErrInterrupted = errors.New("concurrency: worker interrupted")

	// ErrValidation is returned when a transaction commit task fails
	// validation against concurrently committed writes.
	ErrValidation = errors.New("concurrency: validation failed")

	// ErrCommitFailed is returned to every member of a commit group when the
	// durable commit step (the group's fsync) fails.
	ErrCommitFailed = errors.New("concurrency: commit failed")

	// ErrFatal indicates the resource manager reported an unrecoverable
	// failure; the manager transitions to closed as a result.
	ErrFatal = errors.New("concurrency: fatal resource manager failure")
)

// Rejected wraps ErrRejected with a reason, mirroring the Java source's
// RejectedExecutionException("store not available") style messages.
func Rejected(reason string) error {
	return errors.Wrap(ErrRejected, reason)
}

// IsRetryable reports whether resubmitting the same task after the error has
// a chance of succeeding. ValidationError and CommitFailed are retryable
// (the caller may retry the whole transaction); ErrServiceShutDown and
// ErrFatal are not.
func IsRetryable(err error) bool {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrCommitFailed), errors.Is(err, ErrCancelled):
		return true
	default:
		return false
	}
}
