package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Queuer drives everything for a single platform: admission, the pending
// review workflow, a pool of worker loops, retry scheduling, and crash
// recovery. All state lives in the Storage; the Queuer itself holds only
// the bound strategy, executor, and its live workers, so several processes
// can safely run queuers for the same platform against one store.
type Queuer struct {
	platform string
	strategy Strategy
	storage  Storage
	executor Executor
	logger   *slog.Logger

	idleInterval time.Duration
	errorBackoff time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
	workers int
}

// NewQueuer creates a queuer for one platform. The executor performs the
// real publish action and must tolerate rare duplicate invocation after a
// crash (see Start).
func NewQueuer(platform string, storage Storage, executor Executor, opts ...QueuerOption) (*Queuer, error) {
	if storage == nil {
		return nil, ErrStorageNil
	}
	if executor == nil {
		return nil, ErrExecutorNil
	}
	if platform == "" {
		return nil, fmt.Errorf("%w: empty platform", ErrInvalidTask)
	}

	options := &queuerOptions{
		strategy:     DefaultStrategy(),
		logger:       slog.Default(),
		idleInterval: time.Second,
		errorBackoff: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Queuer{
		platform:     platform,
		strategy:     options.strategy,
		storage:      storage,
		executor:     executor,
		logger:       options.logger,
		idleInterval: options.idleInterval,
		errorBackoff: options.errorBackoff,
	}, nil
}

// Platform returns the platform this queuer is bound to.
func (q *Queuer) Platform() string { return q.platform }

// Strategy returns a copy of the bound strategy.
func (q *Queuer) Strategy() Strategy { return q.strategy }

// Running reports whether worker loops are active.
func (q *Queuer) Running() bool { return q.running.Load() }

// Submit validates and enqueues a task for execution. The hourly and daily
// publish windows are checked here and only here; a burst of submissions
// accepted before the first of them completes can therefore overshoot the
// daily ceiling. Submissions past a full window fail with
// ErrRateLimitExceeded.
func (q *Queuer) Submit(ctx context.Context, task *Task) error {
	if err := q.validate(task); err != nil {
		return err
	}
	if err := q.checkRateLimits(ctx); err != nil {
		return err
	}

	task.Status = StatusQueued
	task.QueuedAt = time.Now().Unix()

	if err := q.storage.PutTask(ctx, q.platform, task); err != nil {
		return err
	}
	if err := q.storage.Enqueue(ctx, q.platform, task.TaskID, queueScore(task.Priority, task.CreatedAt)); err != nil {
		return err
	}

	q.logger.InfoContext(ctx, "task enqueued",
		slog.String("platform", q.platform),
		slog.String("task_id", task.TaskID),
		slog.Int("priority", task.Priority))
	return nil
}

// SubmitForReview stores a task in the pending review set, where it waits
// for Approve or Reject. No rate check applies on this path.
func (q *Queuer) SubmitForReview(ctx context.Context, task *Task) error {
	if err := q.validate(task); err != nil {
		return err
	}

	task.Status = StatusPending

	if err := q.storage.PutTask(ctx, q.platform, task); err != nil {
		return err
	}
	if err := q.storage.AddPending(ctx, q.platform, task.TaskID, task.CreatedAt); err != nil {
		return err
	}

	q.logger.InfoContext(ctx, "task submitted for review",
		slog.String("platform", q.platform),
		slog.String("task_id", task.TaskID))
	return nil
}

// ListPending returns tasks awaiting review, oldest first.
func (q *Queuer) ListPending(ctx context.Context, limit, offset int64) ([]*Task, error) {
	ids, err := q.storage.ListPending(ctx, q.platform, limit, offset)
	if err != nil {
		return nil, err
	}

	tasks := make([]*Task, 0, len(ids))
	for _, id := range ids {
		task, err := q.storage.GetTask(ctx, q.platform, id)
		if errors.Is(err, ErrTaskNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// Approve moves a reviewed task from the pending set into the ready queue.
func (q *Queuer) Approve(ctx context.Context, taskID string) error {
	task, err := q.storage.GetTask(ctx, q.platform, taskID)
	if err != nil {
		return err
	}
	if task.Status != StatusPending {
		return fmt.Errorf("%w: task %s is %s, expected %s", ErrStateConflict, taskID, task.Status, StatusPending)
	}

	removed, err := q.storage.RemovePending(ctx, q.platform, taskID)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("%w: task %s is not pending review", ErrStateConflict, taskID)
	}

	task.Status = StatusQueued
	task.QueuedAt = time.Now().Unix()

	if err := q.storage.PutTask(ctx, q.platform, task); err != nil {
		return err
	}
	if err := q.storage.Enqueue(ctx, q.platform, taskID, queueScore(task.Priority, task.CreatedAt)); err != nil {
		return err
	}

	q.logger.InfoContext(ctx, "task approved",
		slog.String("platform", q.platform),
		slog.String("task_id", taskID))
	return nil
}

// Reject removes a reviewed task from the pending set and cancels it.
// Cancelled is terminal; the record stays inspectable until deleted.
func (q *Queuer) Reject(ctx context.Context, taskID, reason string) error {
	task, err := q.storage.GetTask(ctx, q.platform, taskID)
	if err != nil {
		return err
	}
	if task.Status != StatusPending {
		return fmt.Errorf("%w: task %s is %s, expected %s", ErrStateConflict, taskID, task.Status, StatusPending)
	}

	if _, err := q.storage.RemovePending(ctx, q.platform, taskID); err != nil {
		return err
	}

	task.Status = StatusCancelled
	task.CompletedAt = time.Now().Unix()
	task.Message = reason

	if err := q.storage.PutTask(ctx, q.platform, task); err != nil {
		return err
	}

	q.logger.InfoContext(ctx, "task rejected",
		slog.String("platform", q.platform),
		slog.String("task_id", taskID),
		slog.String("reason", reason))
	return nil
}

// UpdatePending merges changes into the payload of a task still awaiting
// review. It refuses without mutating anything once the task has advanced.
func (q *Queuer) UpdatePending(ctx context.Context, taskID string, changes map[string]any) error {
	return q.updatePayload(ctx, taskID, StatusPending, changes)
}

// UpdateQueued merges changes into the payload of a task waiting in the
// ready queue. A task a worker has already claimed is in processing status
// and is refused.
func (q *Queuer) UpdateQueued(ctx context.Context, taskID string, changes map[string]any) error {
	return q.updatePayload(ctx, taskID, StatusQueued, changes)
}

func (q *Queuer) updatePayload(ctx context.Context, taskID string, expected Status, changes map[string]any) error {
	task, err := q.storage.GetTask(ctx, q.platform, taskID)
	if err != nil {
		return err
	}
	if task.Status != expected {
		return fmt.Errorf("%w: task %s is %s, expected %s", ErrStateConflict, taskID, task.Status, expected)
	}

	if task.Payload == nil {
		task.Payload = make(map[string]any, len(changes))
	}
	for k, v := range changes {
		task.Payload[k] = v
	}

	return q.storage.PutTask(ctx, q.platform, task)
}

// Delete removes a task record. Only terminal tasks may be deleted; anything
// else is still referenced by one of the queue sets.
func (q *Queuer) Delete(ctx context.Context, taskID string) error {
	task, err := q.storage.GetTask(ctx, q.platform, taskID)
	if err != nil {
		return err
	}
	if !task.Status.Terminal() {
		return fmt.Errorf("%w: task %s is %s, not terminal", ErrStateConflict, taskID, task.Status)
	}
	return q.storage.DeleteTask(ctx, q.platform, taskID)
}

// GetTask loads the current record for a task id.
func (q *Queuer) GetTask(ctx context.Context, taskID string) (*Task, error) {
	return q.storage.GetTask(ctx, q.platform, taskID)
}

// Stats snapshots the queue state.
func (q *Queuer) Stats(ctx context.Context) (Stats, error) {
	queued, pending, processing, err := q.storage.Depths(ctx, q.platform)
	if err != nil {
		return Stats{}, err
	}

	now := time.Now()
	hourly, err := q.storage.PublishedBetween(ctx, q.platform, now.Add(-time.Hour), now)
	if err != nil {
		return Stats{}, err
	}
	daily, err := q.storage.PublishedBetween(ctx, q.platform, now.Add(-24*time.Hour), now)
	if err != nil {
		return Stats{}, err
	}
	last, err := q.storage.LastPublish(ctx, q.platform)
	if err != nil {
		return Stats{}, err
	}

	q.mu.Lock()
	workers := q.workers
	q.mu.Unlock()

	return Stats{
		Platform:        q.platform,
		QueueSize:       queued,
		PendingReview:   pending,
		ProcessingCount: processing,
		DailyPublished:  daily,
		HourlyPublished: hourly,
		LastPublish:     last,
		Running:         q.running.Load(),
		WorkerCount:     workers,
		Strategy:        q.strategy,
	}, nil
}

// Start recovers orphaned in-flight tasks and then launches
// strategy.MaxConcurrent worker loops. Orphans are ids left in the in-flight
// set by a prior crash mid-processing; re-queueing them guarantees
// at-least-once scheduling at the cost of a possible duplicate executor
// invocation.
func (q *Queuer) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cancel != nil {
		return ErrAlreadyRunning
	}

	recovered, err := q.storage.RecoverClaims(ctx, q.platform, recoveryScore(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to recover in-flight tasks for %s: %w", q.platform, err)
	}
	if recovered > 0 {
		q.logger.InfoContext(ctx, "recovered in-flight tasks",
			slog.String("platform", q.platform),
			slog.Int("count", recovered))
	}

	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.running.Store(true)
	q.workers = q.strategy.MaxConcurrent

	for i := 0; i < q.strategy.MaxConcurrent; i++ {
		workerID := fmt.Sprintf("worker_%d", i)
		q.wg.Add(1)
		go q.workerLoop(runCtx, workerID)
	}

	q.logger.InfoContext(ctx, "queuer started",
		slog.String("platform", q.platform),
		slog.Int("workers", q.strategy.MaxConcurrent))
	return nil
}

// Stop cancels all worker loops and waits for them to finish. A task mid
// executor call at cancellation time stays in the in-flight set and is
// picked up by the next Start.
func (q *Queuer) Stop() error {
	q.mu.Lock()
	if q.cancel == nil {
		q.mu.Unlock()
		return ErrNotRunning
	}
	cancel := q.cancel
	q.cancel = nil
	q.mu.Unlock()

	cancel()
	q.wg.Wait()

	q.mu.Lock()
	q.running.Store(false)
	q.workers = 0
	q.mu.Unlock()

	q.logger.Info("queuer stopped", slog.String("platform", q.platform))
	return nil
}

// workerLoop claims and processes tasks until the context is cancelled.
// Store errors log and back off; only cancellation stops the loop.
func (q *Queuer) workerLoop(ctx context.Context, workerID string) {
	defer q.wg.Done()

	q.logger.Debug("worker started",
		slog.String("platform", q.platform),
		slog.String("worker_id", workerID))

	for {
		select {
		case <-ctx.Done():
			q.logger.Debug("worker stopped",
				slog.String("platform", q.platform),
				slog.String("worker_id", workerID))
			return
		default:
		}

		ok, err := q.canPublishNow(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			q.logger.Error("failed to check publish interval",
				slog.String("platform", q.platform),
				slog.String("worker_id", workerID),
				slog.String("error", err.Error()))
			q.sleep(ctx, q.errorBackoff)
			continue
		}
		if !ok {
			q.sleep(ctx, q.idleInterval)
			continue
		}

		taskID, err := q.storage.Claim(ctx, q.platform)
		if errors.Is(err, ErrNoTaskToClaim) {
			q.sleep(ctx, q.idleInterval)
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			q.logger.Error("failed to claim task",
				slog.String("platform", q.platform),
				slog.String("worker_id", workerID),
				slog.String("error", err.Error()))
			q.sleep(ctx, q.errorBackoff)
			continue
		}

		q.process(ctx, taskID, workerID)
	}
}

// process runs one claimed task through the executor and drives the
// success, retry, or terminal-fail transition. The claim is released
// unconditionally on the way out; on the retry path the task is re-queued
// first, so a crash in between leaves the id in the in-flight set where
// recovery will find it.
func (q *Queuer) process(ctx context.Context, taskID, workerID string) {
	// Release must happen even when ctx is already cancelled.
	releaseCtx := context.WithoutCancel(ctx)
	defer func() {
		if err := q.storage.ReleaseClaim(releaseCtx, q.platform, taskID); err != nil {
			q.logger.Error("failed to release claim",
				slog.String("platform", q.platform),
				slog.String("task_id", taskID),
				slog.String("error", err.Error()))
		}
	}()

	task, err := q.storage.GetTask(ctx, q.platform, taskID)
	if errors.Is(err, ErrTaskNotFound) {
		q.logger.Warn("claimed task has no record, dropping",
			slog.String("platform", q.platform),
			slog.String("task_id", taskID))
		return
	}
	if err != nil {
		q.logger.Error("failed to load claimed task",
			slog.String("platform", q.platform),
			slog.String("task_id", taskID),
			slog.String("error", err.Error()))
		return
	}

	task.Status = StatusProcessing
	task.StartedAt = time.Now().Unix()
	task.Message = "claimed by " + workerID
	if err := q.storage.PutTask(ctx, q.platform, task); err != nil {
		q.logger.Error("failed to persist processing status",
			slog.String("platform", q.platform),
			slog.String("task_id", taskID),
			slog.String("error", err.Error()))
		// Put the task back rather than dropping it on a store hiccup.
		if err := q.storage.Enqueue(releaseCtx, q.platform, taskID, recoveryScore(time.Now())); err != nil {
			q.logger.Error("failed to re-enqueue task",
				slog.String("platform", q.platform),
				slog.String("task_id", taskID),
				slog.String("error", err.Error()))
		}
		return
	}

	q.logger.Info("processing task",
		slog.String("platform", q.platform),
		slog.String("worker_id", workerID),
		slog.String("task_id", taskID))

	result, execErr := q.invokeExecutor(ctx, task)
	if execErr != nil {
		q.handleFailure(releaseCtx, task, execErr)
		return
	}
	q.handleSuccess(releaseCtx, task, result)
}

// invokeExecutor shields the worker loop from executor panics, converting
// them into ordinary execution failures.
func (q *Queuer) invokeExecutor(ctx context.Context, task *Task) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in executor: %v", r)
			q.logger.Error("executor panicked",
				slog.String("platform", q.platform),
				slog.String("task_id", task.TaskID),
				slog.Any("panic", r))
		}
	}()
	return q.executor(ctx, task)
}

func (q *Queuer) handleSuccess(ctx context.Context, task *Task, result map[string]any) {
	now := time.Now()
	task.Status = StatusSuccess
	task.CompletedAt = now.Unix()
	task.Progress = 100
	task.Result = result
	task.Message = "published"

	if err := q.storage.PutTask(ctx, q.platform, task); err != nil {
		q.logger.Error("failed to persist success",
			slog.String("platform", q.platform),
			slog.String("task_id", task.TaskID),
			slog.String("error", err.Error()))
	}
	if err := q.storage.RecordPublish(ctx, q.platform, now); err != nil {
		q.logger.Error("failed to record publish history",
			slog.String("platform", q.platform),
			slog.String("task_id", task.TaskID),
			slog.String("error", err.Error()))
	}

	q.logger.Info("task published",
		slog.String("platform", q.platform),
		slog.String("task_id", task.TaskID),
		slog.Int("retry_count", task.RetryCount))
}

func (q *Queuer) handleFailure(ctx context.Context, task *Task, execErr error) {
	task.RetryCount++

	if task.RetryCount <= q.strategy.RetryCount {
		task.Status = StatusQueued
		task.ErrorDetail = execErr.Error()
		task.Message = fmt.Sprintf("retry %d", task.RetryCount)

		if err := q.storage.PutTask(ctx, q.platform, task); err != nil {
			q.logger.Error("failed to persist retry",
				slog.String("platform", q.platform),
				slog.String("task_id", task.TaskID),
				slog.String("error", err.Error()))
		}
		if err := q.storage.Enqueue(ctx, q.platform, task.TaskID, retryScore(time.Now(), q.strategy.RetryDelay)); err != nil {
			q.logger.Error("failed to re-enqueue retry",
				slog.String("platform", q.platform),
				slog.String("task_id", task.TaskID),
				slog.String("error", err.Error()))
		}

		q.logger.Warn("task retry scheduled",
			slog.String("platform", q.platform),
			slog.String("task_id", task.TaskID),
			slog.Int("retry_count", task.RetryCount),
			slog.String("error", execErr.Error()))
		return
	}

	task.Status = StatusFailed
	task.CompletedAt = time.Now().Unix()
	task.ErrorDetail = execErr.Error()
	task.Message = "publish failed: " + execErr.Error()

	if err := q.storage.PutTask(ctx, q.platform, task); err != nil {
		q.logger.Error("failed to persist failure",
			slog.String("platform", q.platform),
			slog.String("task_id", task.TaskID),
			slog.String("error", err.Error()))
	}

	q.logger.Error("task failed permanently",
		slog.String("platform", q.platform),
		slog.String("task_id", task.TaskID),
		slog.Int("retry_count", task.RetryCount),
		slog.String("error", execErr.Error()))
}

// canPublishNow enforces the pacing interval between successful publishes.
func (q *Queuer) canPublishNow(ctx context.Context) (bool, error) {
	last, err := q.storage.LastPublish(ctx, q.platform)
	if err != nil {
		return false, err
	}
	if last.IsZero() {
		return true, nil
	}
	return time.Since(last) >= q.strategy.MinInterval, nil
}

// checkRateLimits rejects a submission once the hourly or daily window of
// successful publishes has reached its limit.
func (q *Queuer) checkRateLimits(ctx context.Context) error {
	now := time.Now()

	hourly, err := q.storage.PublishedBetween(ctx, q.platform, now.Add(-time.Hour), now)
	if err != nil {
		return err
	}
	if hourly >= int64(q.strategy.HourlyLimit) {
		return fmt.Errorf("%w: %d publishes in the last hour (limit %d)",
			ErrRateLimitExceeded, hourly, q.strategy.HourlyLimit)
	}

	daily, err := q.storage.PublishedBetween(ctx, q.platform, now.Add(-24*time.Hour), now)
	if err != nil {
		return err
	}
	if daily >= int64(q.strategy.DailyLimit) {
		return fmt.Errorf("%w: %d publishes in the last day (limit %d)",
			ErrRateLimitExceeded, daily, q.strategy.DailyLimit)
	}
	return nil
}

func (q *Queuer) validate(task *Task) error {
	if task == nil {
		return ErrInvalidTask
	}
	if task.TaskID == "" {
		return fmt.Errorf("%w: empty task_id", ErrInvalidTask)
	}
	if task.Platform == "" {
		task.Platform = q.platform
	}
	if task.Platform != q.platform {
		return fmt.Errorf("%w: task platform %q does not match queuer platform %q",
			ErrInvalidTask, task.Platform, q.platform)
	}
	if task.Payload == nil {
		return fmt.Errorf("%w: nil payload", ErrInvalidTask)
	}
	if task.CreatedAt == 0 {
		task.CreatedAt = time.Now().Unix()
	}
	return nil
}

// sleep waits for d or until the context is cancelled.
func (q *Queuer) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
