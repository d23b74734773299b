package scheduler

import "errors"

var (
	// ErrSchedulerNotRunning is returned when trying to submit a job to a stopped scheduler
	ErrSchedulerNotRunning = errors.New("scheduler is not running")

	// ErrJobQueueFull is returned when the job queue is full
	ErrJobQueueFull = errors.New("job queue is full")

	// ErrUnknownSlot is returned when a manual trigger names no configured slot
	ErrUnknownSlot = errors.New("unknown warm-up slot")

	// ErrInvalidSchedule is returned for a daily schedule that cannot be parsed
	ErrInvalidSchedule = errors.New("invalid daily schedule")
)
