package publish

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TaskType distinguishes what kind of content a task publishes.
type TaskType string

const (
	TaskTypeImage TaskType = "image"
	TaskTypeVideo TaskType = "video"
)

// Status represents the lifecycle state of a publish task.
type Status string

const (
	StatusPending    Status = "pending"    // awaiting human review
	StatusQueued     Status = "queued"     // approved, waiting for a worker
	StatusProcessing Status = "processing" // claimed by a worker
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// statusTransitions is the forward-only task state machine. Retries move
// processing back to queued; everything else only advances.
var statusTransitions = map[Status][]Status{
	StatusPending:    {StatusQueued, StatusCancelled},
	StatusQueued:     {StatusProcessing},
	StatusProcessing: {StatusSuccess, StatusQueued, StatusFailed},
}

// CanTransition reports whether moving from s to next is a legal transition.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Task is the durable unit of work. It is serialized as a flat JSON record
// into the per-platform tasks hash; every field change is persisted through
// the Storage immediately after mutation. Timestamps are unix seconds, zero
// meaning unset.
type Task struct {
	TaskID   string         `json:"task_id"`
	Platform string         `json:"platform"`
	TaskType TaskType       `json:"task_type"`
	Payload  map[string]any `json:"payload"`
	Status   Status         `json:"status"`
	Priority int            `json:"priority"`

	CreatedAt   int64 `json:"created_at"`
	QueuedAt    int64 `json:"queued_at,omitempty"`
	StartedAt   int64 `json:"started_at,omitempty"`
	CompletedAt int64 `json:"completed_at,omitempty"`

	RetryCount  int            `json:"retry_count"`
	Progress    int            `json:"progress"`
	Message     string         `json:"message"`
	ErrorDetail string         `json:"error_detail,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
}

// NewTask builds a task in its initial state with a fresh id.
func NewTask(platform string, taskType TaskType, payload map[string]any) *Task {
	return &Task{
		TaskID:    uuid.NewString(),
		Platform:  platform,
		TaskType:  taskType,
		Payload:   payload,
		Status:    StatusPending,
		CreatedAt: time.Now().Unix(),
	}
}

// Strategy is the per-platform policy controlling pacing, concurrency,
// retries, and admission limits. Defaults match typical anti-spam pacing
// for social platforms.
type Strategy struct {
	MinInterval   time.Duration `json:"min_interval" env:"PUBLISH_MIN_INTERVAL" envDefault:"30s"`
	MaxConcurrent int           `json:"max_concurrent" env:"PUBLISH_MAX_CONCURRENT" envDefault:"1"`
	RetryCount    int           `json:"retry_count" env:"PUBLISH_RETRY_COUNT" envDefault:"3"`
	RetryDelay    time.Duration `json:"retry_delay" env:"PUBLISH_RETRY_DELAY" envDefault:"60s"`
	DailyLimit    int           `json:"daily_limit" env:"PUBLISH_DAILY_LIMIT" envDefault:"50"`
	HourlyLimit   int           `json:"hourly_limit" env:"PUBLISH_HOURLY_LIMIT" envDefault:"10"`
}

// DefaultStrategy returns the policy applied when a platform is registered
// without an explicit one.
func DefaultStrategy() Strategy {
	return Strategy{
		MinInterval:   30 * time.Second,
		MaxConcurrent: 1,
		RetryCount:    3,
		RetryDelay:    time.Minute,
		DailyLimit:    50,
		HourlyLimit:   10,
	}
}

// Executor performs the real publish action for a claimed task. It is
// injected by the caller and treated as opaque; it may run for a long time
// and may be invoked more than once for the same task after a crash, so it
// must be idempotent or tolerate duplicates.
type Executor func(ctx context.Context, task *Task) (map[string]any, error)

// Stats is a point-in-time snapshot of one platform's queue.
type Stats struct {
	Platform        string    `json:"platform"`
	QueueSize       int64     `json:"queue_size"`
	PendingReview   int64     `json:"pending_review"`
	ProcessingCount int64     `json:"processing_count"`
	DailyPublished  int64     `json:"daily_published"`
	HourlyPublished int64     `json:"hourly_published"`
	LastPublish     time.Time `json:"last_publish_time"`
	Running         bool      `json:"is_running"`
	WorkerCount     int       `json:"worker_count"`
	Strategy        Strategy  `json:"strategy"`
}

// RegistryStats aggregates per-platform snapshots.
type RegistryStats struct {
	TotalPlatforms int              `json:"total_platforms"`
	Platforms      map[string]Stats `json:"platforms"`
}
