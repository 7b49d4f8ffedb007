package publish

import "errors"

// Common errors
var (
	// ErrStorageNil is returned when a nil storage is provided
	ErrStorageNil = errors.New("storage cannot be nil")

	// ErrExecutorNil is returned when a platform is registered without an executor
	ErrExecutorNil = errors.New("executor cannot be nil")

	// ErrInvalidTask is returned when a submitted task is missing required fields
	ErrInvalidTask = errors.New("task is missing required fields")

	// ErrPlatformNotRegistered is returned when an operation targets an unknown platform
	ErrPlatformNotRegistered = errors.New("platform is not registered")

	// ErrPlatformRegistered is returned when registering a platform twice
	ErrPlatformRegistered = errors.New("platform is already registered")

	// ErrRateLimitExceeded is returned by submission when the hourly or daily
	// publish window is already full
	ErrRateLimitExceeded = errors.New("publish rate limit exceeded")

	// ErrTaskNotFound is returned when a task id is unknown
	ErrTaskNotFound = errors.New("task not found")

	// ErrStateConflict is returned when a review, edit, or delete targets a
	// task that is no longer in the expected status
	ErrStateConflict = errors.New("task is not in the expected status")

	// ErrNoTaskToClaim is returned by Claim when the ready queue is empty
	ErrNoTaskToClaim = errors.New("no task available to claim")

	// ErrAlreadyRunning is returned when starting a queuer twice
	ErrAlreadyRunning = errors.New("queuer already started")

	// ErrNotRunning is returned when stopping a queuer that was never started
	ErrNotRunning = errors.New("queuer not started")
)
