package scheduler

import "errors"

var (
	// ErrTooManyJobs signals per-session admission rejection.
	ErrTooManyJobs = errors.New("too many concurrent jobs")
	// ErrNotFound signals a job that does not exist or belongs to a
	// different session.
	ErrNotFound = errors.New("job not found")
	// ErrQueueFull signals the global queue cannot accept more work.
	ErrQueueFull = errors.New("queue full")
)
