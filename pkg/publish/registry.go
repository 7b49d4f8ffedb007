package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Registry is the process-wide entry point: it maps platform identifiers to
// their queuers and owns lifecycle. It is an explicit value constructed at
// startup and passed to callers; tests can run several independent
// registries against separate storages.
type Registry struct {
	storage    Storage
	logger     *slog.Logger
	defaults   map[string]Strategy
	queuerOpts []QueuerOption

	mu      sync.RWMutex
	queuers map[string]*Queuer
}

// NewRegistry creates an empty registry over a shared storage.
func NewRegistry(storage Storage, opts ...RegistryOption) (*Registry, error) {
	if storage == nil {
		return nil, ErrStorageNil
	}

	options := &registryOptions{
		logger:   slog.Default(),
		defaults: make(map[string]Strategy),
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Registry{
		storage:    storage,
		logger:     options.logger,
		defaults:   options.defaults,
		queuerOpts: options.queuerOpts,
		queuers:    make(map[string]*Queuer),
	}, nil
}

// Register binds a platform to an executor. The strategy comes from
// WithStrategy in opts, falling back to the registry default for the
// platform, then to DefaultStrategy.
func (r *Registry) Register(platform string, executor Executor, opts ...QueuerOption) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.queuers[platform]; exists {
		return fmt.Errorf("%w: %s", ErrPlatformRegistered, platform)
	}

	strategy, ok := r.defaults[platform]
	if !ok {
		strategy = DefaultStrategy()
	}

	queuerOpts := make([]QueuerOption, 0, len(r.queuerOpts)+len(opts)+2)
	queuerOpts = append(queuerOpts, WithStrategy(strategy), WithLogger(r.logger))
	queuerOpts = append(queuerOpts, r.queuerOpts...)
	queuerOpts = append(queuerOpts, opts...)

	queuer, err := NewQueuer(platform, r.storage, executor, queuerOpts...)
	if err != nil {
		return err
	}

	r.queuers[platform] = queuer
	r.logger.Info("platform registered", slog.String("platform", platform))
	return nil
}

// StartAll starts every registered queuer. On failure the queuers already
// started are stopped again before returning.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	started := make([]*Queuer, 0, len(r.queuers))
	for platform, queuer := range r.queuers {
		if err := queuer.Start(ctx); err != nil {
			for _, s := range started {
				_ = s.Stop()
			}
			return fmt.Errorf("failed to start queuer for %s: %w", platform, err)
		}
		started = append(started, queuer)
	}

	r.logger.InfoContext(ctx, "all publish queues started", slog.Int("platforms", len(r.queuers)))
	return nil
}

// StopAll stops every running queuer and releases the store connection.
func (r *Registry) StopAll() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	for platform, queuer := range r.queuers {
		if err := queuer.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
			errs = append(errs, fmt.Errorf("failed to stop queuer for %s: %w", platform, err))
		}
	}

	if err := r.storage.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close storage: %w", err))
	}

	r.logger.Info("all publish queues stopped")
	return errors.Join(errs...)
}

// Reconfigure swaps a platform's strategy by stopping its workers and
// constructing a fresh queuer over the same store-backed queues and the
// same executor. Data persists across the swap; in-flight tasks at swap
// time are re-scanned by the new queuer's recovery pass on Start.
func (r *Registry) Reconfigure(ctx context.Context, platform string, strategy Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.queuers[platform]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPlatformNotRegistered, platform)
	}

	wasRunning := current.Running()
	if wasRunning {
		if err := current.Stop(); err != nil {
			return err
		}
	}

	queuerOpts := make([]QueuerOption, 0, len(r.queuerOpts)+2)
	queuerOpts = append(queuerOpts, WithStrategy(strategy), WithLogger(r.logger))
	queuerOpts = append(queuerOpts, r.queuerOpts...)

	replacement, err := NewQueuer(platform, r.storage, current.executor, queuerOpts...)
	if err != nil {
		return err
	}
	r.queuers[platform] = replacement

	if wasRunning {
		if err := replacement.Start(ctx); err != nil {
			return err
		}
	}

	r.logger.InfoContext(ctx, "platform strategy updated", slog.String("platform", platform))
	return nil
}

// Queuer returns the queuer bound to a platform.
func (r *Registry) Queuer(platform string) (*Queuer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	queuer, ok := r.queuers[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPlatformNotRegistered, platform)
	}
	return queuer, nil
}

// Submit enqueues a task on the queuer matching its platform.
func (r *Registry) Submit(ctx context.Context, task *Task) error {
	if task == nil {
		return ErrInvalidTask
	}
	queuer, err := r.Queuer(task.Platform)
	if err != nil {
		return err
	}
	return queuer.Submit(ctx, task)
}

// SubmitForReview files a task into its platform's pending review set.
func (r *Registry) SubmitForReview(ctx context.Context, task *Task) error {
	if task == nil {
		return ErrInvalidTask
	}
	queuer, err := r.Queuer(task.Platform)
	if err != nil {
		return err
	}
	return queuer.SubmitForReview(ctx, task)
}

// GetStatus loads the current record for a task.
func (r *Registry) GetStatus(ctx context.Context, platform, taskID string) (*Task, error) {
	queuer, err := r.Queuer(platform)
	if err != nil {
		return nil, err
	}
	return queuer.GetTask(ctx, taskID)
}

// ListPending lists tasks awaiting review, oldest first.
func (r *Registry) ListPending(ctx context.Context, platform string, limit, offset int64) ([]*Task, error) {
	queuer, err := r.Queuer(platform)
	if err != nil {
		return nil, err
	}
	return queuer.ListPending(ctx, limit, offset)
}

// Approve moves a reviewed task into the ready queue.
func (r *Registry) Approve(ctx context.Context, platform, taskID string) error {
	queuer, err := r.Queuer(platform)
	if err != nil {
		return err
	}
	return queuer.Approve(ctx, taskID)
}

// Reject cancels a reviewed task.
func (r *Registry) Reject(ctx context.Context, platform, taskID, reason string) error {
	queuer, err := r.Queuer(platform)
	if err != nil {
		return err
	}
	return queuer.Reject(ctx, taskID, reason)
}

// UpdatePending edits the payload of a task still awaiting review.
func (r *Registry) UpdatePending(ctx context.Context, platform, taskID string, changes map[string]any) error {
	queuer, err := r.Queuer(platform)
	if err != nil {
		return err
	}
	return queuer.UpdatePending(ctx, taskID, changes)
}

// UpdateQueued edits the payload of a task waiting in the ready queue.
func (r *Registry) UpdateQueued(ctx context.Context, platform, taskID string, changes map[string]any) error {
	queuer, err := r.Queuer(platform)
	if err != nil {
		return err
	}
	return queuer.UpdateQueued(ctx, taskID, changes)
}

// Delete removes a terminal task record.
func (r *Registry) Delete(ctx context.Context, platform, taskID string) error {
	queuer, err := r.Queuer(platform)
	if err != nil {
		return err
	}
	return queuer.Delete(ctx, taskID)
}

// Stats snapshots one platform's queue.
func (r *Registry) Stats(ctx context.Context, platform string) (Stats, error) {
	queuer, err := r.Queuer(platform)
	if err != nil {
		return Stats{}, err
	}
	return queuer.Stats(ctx)
}

// AllStats snapshots every registered platform.
func (r *Registry) AllStats(ctx context.Context) (RegistryStats, error) {
	r.mu.RLock()
	queuers := make(map[string]*Queuer, len(r.queuers))
	for platform, queuer := range r.queuers {
		queuers[platform] = queuer
	}
	r.mu.RUnlock()

	all := RegistryStats{
		TotalPlatforms: len(queuers),
		Platforms:      make(map[string]Stats, len(queuers)),
	}
	for platform, queuer := range queuers {
		stats, err := queuer.Stats(ctx)
		if err != nil {
			return RegistryStats{}, err
		}
		all.Platforms[platform] = stats
	}
	return all, nil
}
