package publish

import (
	"context"
	"time"
)

// Storage encapsulates all persistence for the queue. Every method is
// namespaced by platform; a single Storage is shared by all platforms and
// all workers. Implementations must make Claim a single indivisible
// operation: it removes the minimum-scored member of the ready queue and
// records it in the in-flight set in one step, or does nothing at all.
type Storage interface {
	// Task records.
	PutTask(ctx context.Context, platform string, task *Task) error
	GetTask(ctx context.Context, platform, taskID string) (*Task, error)
	DeleteTask(ctx context.Context, platform, taskID string) error

	// Pending review set, ordered by creation time.
	AddPending(ctx context.Context, platform, taskID string, createdAt int64) error
	RemovePending(ctx context.Context, platform, taskID string) (bool, error)
	ListPending(ctx context.Context, platform string, limit, offset int64) ([]string, error)

	// Ready queue and in-flight set.
	Enqueue(ctx context.Context, platform, taskID string, score float64) error
	Claim(ctx context.Context, platform string) (string, error)
	ReleaseClaim(ctx context.Context, platform, taskID string) error
	// RecoverClaims moves every in-flight id back into the ready queue at
	// the given score and clears the in-flight set, returning how many ids
	// were recovered.
	RecoverClaims(ctx context.Context, platform string, score float64) (int, error)

	// Publish history and pacing marker.
	RecordPublish(ctx context.Context, platform string, at time.Time) error
	LastPublish(ctx context.Context, platform string) (time.Time, error)
	PublishedBetween(ctx context.Context, platform string, since, until time.Time) (int64, error)

	// Depths returns the ready-queue, pending-review, and in-flight sizes.
	Depths(ctx context.Context, platform string) (queued, pending, processing int64, err error)

	Close() error
}
