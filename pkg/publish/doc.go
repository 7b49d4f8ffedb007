// Package publish provides a persistent, rate-limited, crash-recoverable
// task queue for multi-platform content publishing.
//
// The package is organised around four main components:
//
//   - Storage   — persistence for task records, the pending review set, the
//     ready queue, the in-flight set, and publish history; RedisStorage for
//     production, MemoryStorage for tests and local development
//   - Queuer    — per-platform admission, review workflow, worker pool,
//     retry scheduling, and crash recovery
//   - Registry  — process-wide map of platform to Queuer and the lifecycle
//     entry point
//   - Executor  — the injected action that performs the real publish
//
// # Task lifecycle
//
// A task submitted for review starts pending; Approve moves it into the
// ready queue as queued, Reject cancels it. A direct submission starts
// queued. Workers atomically claim the minimum-scored queued task into the
// in-flight set, mark it processing, and invoke the Executor. Success,
// exhausted retries, and rejection are terminal (success, failed,
// cancelled); a failed attempt with retries left is re-queued with a delay.
//
// # Delivery semantics
//
// The queue is at-least-once. On start, each queuer re-queues every id
// found in the in-flight set: those are orphans of a prior crash
// mid-processing. If the crashed process had already performed the
// real-world action, the Executor runs again for the same task, so
// executors must be idempotent or tolerate duplicates.
//
// # Rate limiting
//
// Hourly and daily windows over the publish history gate submission only;
// min_interval paces execution continuously. See Queuer.Submit for the
// overshoot caveat this split creates.
//
// # Usage
//
//	store, _ := publish.NewRedisStorage(client)
//	reg, _ := publish.NewRegistry(store)
//	_ = reg.Register("xhs", func(ctx context.Context, task *publish.Task) (map[string]any, error) {
//		return browserPublish(ctx, task.Payload)
//	})
//	_ = reg.StartAll(ctx)
//	defer reg.StopAll()
//
//	task := publish.NewTask("xhs", publish.TaskTypeImage, payload)
//	if err := reg.Submit(ctx, task); err != nil { ... }
//
// # Error Handling
//
// Package-level sentinel errors (e.g. ErrRateLimitExceeded,
// ErrStateConflict) signal violations of business invariants and can be
// checked with errors.Is. Executor failures never escape the worker loop;
// they drive the retry or terminal-fail transition instead.
package publish
