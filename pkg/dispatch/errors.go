package dispatch

import "errors"

var (
	// ErrInvalidTask is returned by Enqueue for a nil task or a task without Run.
	ErrInvalidTask = errors.New("invalid task: Run func is required")

	// ErrTimedOut is the failure reported when a task outlives Config.Timeout.
	ErrTimedOut = errors.New("task timed out")

	// ErrTaskPanic wraps a recovered panic from a task's Run.
	ErrTaskPanic = errors.New("task panicked")
)
