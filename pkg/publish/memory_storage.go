package publish

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStorage implements Storage in process memory for tests and local
// development. All operations, including Claim, run under a single mutex,
// which gives the same at-most-one-claimant guarantee the Redis script does.
type MemoryStorage struct {
	mu         sync.Mutex
	namespaces map[string]*memoryNamespace
}

type memoryNamespace struct {
	tasks       map[string]*Task
	pending     map[string]float64
	queue       map[string]float64
	processing  map[string]struct{}
	history     []float64
	lastPublish time.Time
}

// NewMemoryStorage creates an empty in-memory Storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		namespaces: make(map[string]*memoryNamespace),
	}
}

func (ms *MemoryStorage) ns(platform string) *memoryNamespace {
	n, ok := ms.namespaces[platform]
	if !ok {
		n = &memoryNamespace{
			tasks:      make(map[string]*Task),
			pending:    make(map[string]float64),
			queue:      make(map[string]float64),
			processing: make(map[string]struct{}),
		}
		ms.namespaces[platform] = n
	}
	return n
}

func (ms *MemoryStorage) PutTask(ctx context.Context, platform string, task *Task) error {
	if task == nil || task.TaskID == "" {
		return ErrInvalidTask
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	// Store a copy so callers cannot mutate persisted state.
	taskCopy := cloneTask(task)
	ms.ns(platform).tasks[task.TaskID] = taskCopy
	return nil
}

func (ms *MemoryStorage) GetTask(ctx context.Context, platform, taskID string) (*Task, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, ok := ms.ns(platform).tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return cloneTask(task), nil
}

func (ms *MemoryStorage) DeleteTask(ctx context.Context, platform, taskID string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	delete(ms.ns(platform).tasks, taskID)
	return nil
}

func (ms *MemoryStorage) AddPending(ctx context.Context, platform, taskID string, createdAt int64) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.ns(platform).pending[taskID] = float64(createdAt)
	return nil
}

func (ms *MemoryStorage) RemovePending(ctx context.Context, platform, taskID string) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	n := ms.ns(platform)
	if _, ok := n.pending[taskID]; !ok {
		return false, nil
	}
	delete(n.pending, taskID)
	return true, nil
}

func (ms *MemoryStorage) ListPending(ctx context.Context, platform string, limit, offset int64) ([]string, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ids := sortedMembers(ms.ns(platform).pending)
	if offset >= int64(len(ids)) {
		return nil, nil
	}
	ids = ids[offset:]
	if limit > 0 && limit < int64(len(ids)) {
		ids = ids[:limit]
	}
	return ids, nil
}

func (ms *MemoryStorage) Enqueue(ctx context.Context, platform, taskID string, score float64) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.ns(platform).queue[taskID] = score
	return nil
}

func (ms *MemoryStorage) Claim(ctx context.Context, platform string) (string, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	n := ms.ns(platform)
	if len(n.queue) == 0 {
		return "", ErrNoTaskToClaim
	}

	// Minimum score wins; ties break on lexically smallest member, matching
	// sorted-set pop order.
	var best string
	var bestScore float64
	for id, score := range n.queue {
		if best == "" || score < bestScore || (score == bestScore && id < best) {
			best = id
			bestScore = score
		}
	}

	delete(n.queue, best)
	n.processing[best] = struct{}{}
	return best, nil
}

func (ms *MemoryStorage) ReleaseClaim(ctx context.Context, platform, taskID string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	delete(ms.ns(platform).processing, taskID)
	return nil
}

func (ms *MemoryStorage) RecoverClaims(ctx context.Context, platform string, score float64) (int, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	n := ms.ns(platform)
	recovered := len(n.processing)
	for id := range n.processing {
		n.queue[id] = score
	}
	n.processing = make(map[string]struct{})
	return recovered, nil
}

func (ms *MemoryStorage) RecordPublish(ctx context.Context, platform string, at time.Time) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	n := ms.ns(platform)
	ts := unixFloat(at)
	n.lastPublish = at
	n.history = append(n.history, ts)

	cutoff := ts - 86400
	kept := n.history[:0]
	for _, entry := range n.history {
		if entry > cutoff {
			kept = append(kept, entry)
		}
	}
	n.history = kept
	return nil
}

func (ms *MemoryStorage) LastPublish(ctx context.Context, platform string) (time.Time, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	return ms.ns(platform).lastPublish, nil
}

func (ms *MemoryStorage) PublishedBetween(ctx context.Context, platform string, since, until time.Time) (int64, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	lo, hi := unixFloat(since), unixFloat(until)
	var count int64
	for _, entry := range ms.ns(platform).history {
		if entry >= lo && entry <= hi {
			count++
		}
	}
	return count, nil
}

func (ms *MemoryStorage) Depths(ctx context.Context, platform string) (queued, pending, processing int64, err error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	n := ms.ns(platform)
	return int64(len(n.queue)), int64(len(n.pending)), int64(len(n.processing)), nil
}

func (ms *MemoryStorage) Close() error {
	return nil
}

// InFlight lists the ids currently in the in-flight set. Used by tests to
// assert the claim and recovery invariants.
func (ms *MemoryStorage) InFlight(platform string) []string {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	n := ms.ns(platform)
	ids := make([]string, 0, len(n.processing))
	for id := range n.processing {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Queued lists the ids currently in the ready queue in claim order.
func (ms *MemoryStorage) Queued(platform string) []string {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	return sortedMembers(ms.ns(platform).queue)
}

func sortedMembers(set map[string]float64) []string {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if set[ids[i]] == set[ids[j]] {
			return ids[i] < ids[j]
		}
		return set[ids[i]] < set[ids[j]]
	})
	return ids
}

func cloneTask(task *Task) *Task {
	taskCopy := *task
	if task.Payload != nil {
		taskCopy.Payload = make(map[string]any, len(task.Payload))
		for k, v := range task.Payload {
			taskCopy.Payload[k] = v
		}
	}
	if task.Result != nil {
		taskCopy.Result = make(map[string]any, len(task.Result))
		for k, v := range task.Result {
			taskCopy.Result[k] = v
		}
	}
	return &taskCopy
}
