package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces all queue keys in the shared store.
const DefaultKeyPrefix = "publish_queue"

// claimScript pops the minimum-scored member of the ready queue and records
// it in the in-flight set as one server-side operation. This is the sole
// mechanism keeping two workers from claiming the same task, so it must stay
// a single EVAL round-trip.
var claimScript = redis.NewScript(`
local popped = redis.call('ZPOPMIN', KEYS[1])
if popped[1] then
	redis.call('SADD', KEYS[2], popped[1])
	return popped[1]
end
return false
`)

// RedisStorage implements Storage on top of a shared Redis instance.
// Multiple processes may point at the same keys; see Claim for the only
// cross-process coordination primitive.
type RedisStorage struct {
	client redis.UniversalClient
	prefix string
}

// RedisStorageOption configures a RedisStorage.
type RedisStorageOption func(*RedisStorage)

// WithKeyPrefix overrides the key namespace, mainly for tests sharing one
// Redis database.
func WithKeyPrefix(prefix string) RedisStorageOption {
	return func(s *RedisStorage) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// NewRedisStorage creates a Redis-backed Storage.
func NewRedisStorage(client redis.UniversalClient, opts ...RedisStorageOption) (*RedisStorage, error) {
	if client == nil {
		return nil, ErrStorageNil
	}

	s := &RedisStorage{
		client: client,
		prefix: DefaultKeyPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *RedisStorage) key(platform, suffix string) string {
	return s.prefix + ":" + platform + ":" + suffix
}

func (s *RedisStorage) PutTask(ctx context.Context, platform string, task *Task) error {
	if task == nil || task.TaskID == "" {
		return ErrInvalidTask
	}

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task %s: %w", task.TaskID, err)
	}

	if err := s.client.HSet(ctx, s.key(platform, "tasks"), task.TaskID, data).Err(); err != nil {
		return fmt.Errorf("failed to store task %s: %w", task.TaskID, err)
	}
	return nil
}

func (s *RedisStorage) GetTask(ctx context.Context, platform, taskID string) (*Task, error) {
	data, err := s.client.HGet(ctx, s.key(platform, "tasks"), taskID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load task %s: %w", taskID, err)
	}

	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("failed to decode task %s: %w", taskID, err)
	}
	return &task, nil
}

func (s *RedisStorage) DeleteTask(ctx context.Context, platform, taskID string) error {
	if err := s.client.HDel(ctx, s.key(platform, "tasks"), taskID).Err(); err != nil {
		return fmt.Errorf("failed to delete task %s: %w", taskID, err)
	}
	return nil
}

func (s *RedisStorage) AddPending(ctx context.Context, platform, taskID string, createdAt int64) error {
	member := redis.Z{Score: float64(createdAt), Member: taskID}
	if err := s.client.ZAdd(ctx, s.key(platform, "pending"), member).Err(); err != nil {
		return fmt.Errorf("failed to add task %s to pending review: %w", taskID, err)
	}
	return nil
}

func (s *RedisStorage) RemovePending(ctx context.Context, platform, taskID string) (bool, error) {
	removed, err := s.client.ZRem(ctx, s.key(platform, "pending"), taskID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to remove task %s from pending review: %w", taskID, err)
	}
	return removed > 0, nil
}

func (s *RedisStorage) ListPending(ctx context.Context, platform string, limit, offset int64) ([]string, error) {
	stop := int64(-1) // full range when no limit given
	if limit > 0 {
		stop = offset + limit - 1
	}

	ids, err := s.client.ZRange(ctx, s.key(platform, "pending"), offset, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list pending review: %w", err)
	}
	return ids, nil
}

func (s *RedisStorage) Enqueue(ctx context.Context, platform, taskID string, score float64) error {
	member := redis.Z{Score: score, Member: taskID}
	if err := s.client.ZAdd(ctx, s.key(platform, "queue"), member).Err(); err != nil {
		return fmt.Errorf("failed to enqueue task %s: %w", taskID, err)
	}
	return nil
}

func (s *RedisStorage) Claim(ctx context.Context, platform string) (string, error) {
	keys := []string{s.key(platform, "queue"), s.key(platform, "processing")}
	taskID, err := claimScript.Run(ctx, s.client, keys).Text()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoTaskToClaim
	}
	if err != nil {
		return "", fmt.Errorf("failed to claim task: %w", err)
	}
	return taskID, nil
}

func (s *RedisStorage) ReleaseClaim(ctx context.Context, platform, taskID string) error {
	if err := s.client.SRem(ctx, s.key(platform, "processing"), taskID).Err(); err != nil {
		return fmt.Errorf("failed to release claim on task %s: %w", taskID, err)
	}
	return nil
}

func (s *RedisStorage) RecoverClaims(ctx context.Context, platform string, score float64) (int, error) {
	processingKey := s.key(platform, "processing")

	orphans, err := s.client.SMembers(ctx, processingKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read in-flight set: %w", err)
	}
	if len(orphans) == 0 {
		return 0, nil
	}

	members := make([]redis.Z, len(orphans))
	for i, id := range orphans {
		members[i] = redis.Z{Score: score, Member: id}
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, s.key(platform, "queue"), members...)
		pipe.Del(ctx, processingKey)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to recover in-flight tasks: %w", err)
	}
	return len(orphans), nil
}

func (s *RedisStorage) RecordPublish(ctx context.Context, platform string, at time.Time) error {
	ts := unixFloat(at)
	historyKey := s.key(platform, "history")

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(platform, "last_publish"), formatUnix(ts), 0)
		pipe.ZAdd(ctx, historyKey, redis.Z{Score: ts, Member: uuid.NewString()})
		// Opportunistic prune of entries older than the daily window.
		pipe.ZRemRangeByScore(ctx, historyKey, "0", formatUnix(ts-86400))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record publish: %w", err)
	}
	return nil
}

func (s *RedisStorage) LastPublish(ctx context.Context, platform string) (time.Time, error) {
	raw, err := s.client.Get(ctx, s.key(platform, "last_publish")).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read last publish time: %w", err)
	}

	ts, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse last publish time %q: %w", raw, err)
	}
	return timeFromUnixFloat(ts), nil
}

func (s *RedisStorage) PublishedBetween(ctx context.Context, platform string, since, until time.Time) (int64, error) {
	count, err := s.client.ZCount(ctx, s.key(platform, "history"),
		formatUnix(unixFloat(since)), formatUnix(unixFloat(until))).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count publish history: %w", err)
	}
	return count, nil
}

func (s *RedisStorage) Depths(ctx context.Context, platform string) (queued, pending, processing int64, err error) {
	var queueCmd, pendingCmd *redis.IntCmd
	var processingCmd *redis.IntCmd

	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		queueCmd = pipe.ZCard(ctx, s.key(platform, "queue"))
		pendingCmd = pipe.ZCard(ctx, s.key(platform, "pending"))
		processingCmd = pipe.SCard(ctx, s.key(platform, "processing"))
		return nil
	})
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to read queue depths: %w", err)
	}
	return queueCmd.Val(), pendingCmd.Val(), processingCmd.Val(), nil
}

func (s *RedisStorage) Close() error {
	return s.client.Close()
}

func unixFloat(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func timeFromUnixFloat(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}

func formatUnix(ts float64) string {
	return strconv.FormatFloat(ts, 'f', -1, 64)
}
