package publish_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pubkit/pubkit/pkg/publish"
)

func newTestRegistry(t *testing.T, store publish.Storage) *publish.Registry {
	t.Helper()
	reg, err := publish.NewRegistry(store,
		publish.WithRegistryLogger(quietLogger()),
		publish.WithQueuerOptions(
			publish.WithIdleInterval(5*time.Millisecond),
			publish.WithErrorBackoff(5*time.Millisecond),
		),
	)
	require.NoError(t, err)
	return reg
}

func TestNewRegistry_NilStorage(t *testing.T) {
	t.Parallel()

	_, err := publish.NewRegistry(nil)
	assert.ErrorIs(t, err, publish.ErrStorageNil)
}

func TestRegistry_Register(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, publish.NewMemoryStorage())

	require.NoError(t, reg.Register("xhs", okExecutor(nil)))
	assert.ErrorIs(t, reg.Register("xhs", okExecutor(nil)), publish.ErrPlatformRegistered)

	err := reg.Register("weibo", nil)
	assert.ErrorIs(t, err, publish.ErrExecutorNil)

	queuer, err := reg.Queuer("xhs")
	require.NoError(t, err)
	assert.Equal(t, "xhs", queuer.Platform())
	assert.Equal(t, publish.DefaultStrategy(), queuer.Strategy())
}

func TestRegistry_DefaultStrategies(t *testing.T) {
	t.Parallel()

	custom := publish.Strategy{
		MinInterval:   time.Second,
		MaxConcurrent: 2,
		RetryCount:    1,
		RetryDelay:    time.Second,
		DailyLimit:    5,
		HourlyLimit:   5,
	}

	reg, err := publish.NewRegistry(publish.NewMemoryStorage(),
		publish.WithRegistryLogger(quietLogger()),
		publish.WithDefaultStrategy("xhs", custom),
	)
	require.NoError(t, err)

	// Pre-bound default applies.
	require.NoError(t, reg.Register("xhs", okExecutor(nil)))
	queuer, err := reg.Queuer("xhs")
	require.NoError(t, err)
	assert.Equal(t, custom, queuer.Strategy())

	// Explicit strategy at registration wins over everything.
	override := custom
	override.MaxConcurrent = 7
	require.NoError(t, reg.Register("weibo", okExecutor(nil), publish.WithStrategy(override)))
	queuer, err = reg.Queuer("weibo")
	require.NoError(t, err)
	assert.Equal(t, override, queuer.Strategy())
}

func TestRegistry_UnknownPlatform(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := newTestRegistry(t, publish.NewMemoryStorage())

	task := publish.NewTask("nope", publish.TaskTypeImage, map[string]any{})
	assert.ErrorIs(t, reg.Submit(ctx, task), publish.ErrPlatformNotRegistered)
	assert.ErrorIs(t, reg.SubmitForReview(ctx, task), publish.ErrPlatformNotRegistered)

	_, err := reg.GetStatus(ctx, "nope", "id")
	assert.ErrorIs(t, err, publish.ErrPlatformNotRegistered)

	_, err = reg.ListPending(ctx, "nope", 10, 0)
	assert.ErrorIs(t, err, publish.ErrPlatformNotRegistered)

	assert.ErrorIs(t, reg.Approve(ctx, "nope", "id"), publish.ErrPlatformNotRegistered)
	assert.ErrorIs(t, reg.Reject(ctx, "nope", "id", "r"), publish.ErrPlatformNotRegistered)
	assert.ErrorIs(t, reg.UpdatePending(ctx, "nope", "id", nil), publish.ErrPlatformNotRegistered)
	assert.ErrorIs(t, reg.UpdateQueued(ctx, "nope", "id", nil), publish.ErrPlatformNotRegistered)
	assert.ErrorIs(t, reg.Delete(ctx, "nope", "id"), publish.ErrPlatformNotRegistered)
	assert.ErrorIs(t, reg.Reconfigure(ctx, "nope", publish.DefaultStrategy()), publish.ErrPlatformNotRegistered)

	_, err = reg.Stats(ctx, "nope")
	assert.ErrorIs(t, err, publish.ErrPlatformNotRegistered)

	assert.ErrorIs(t, reg.Submit(ctx, nil), publish.ErrInvalidTask)
}

func TestRegistry_EndToEnd(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := publish.NewMemoryStorage()
	reg := newTestRegistry(t, store)

	strategy := fastStrategy()
	require.NoError(t, reg.Register("xhs", okExecutor(map[string]any{"url": "ok"}), publish.WithStrategy(strategy)))
	require.NoError(t, reg.Register("weibo", okExecutor(nil), publish.WithStrategy(strategy)))

	require.NoError(t, reg.StartAll(ctx))
	defer func() { require.NoError(t, reg.StopAll()) }()

	task := publish.NewTask("xhs", publish.TaskTypeImage, map[string]any{"title": "hi"})
	require.NoError(t, reg.Submit(ctx, task))

	require.Eventually(t, func() bool {
		loaded, err := reg.GetStatus(ctx, "xhs", task.TaskID)
		return err == nil && loaded.Status == publish.StatusSuccess
	}, 3*time.Second, 5*time.Millisecond)

	all, err := reg.AllStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, all.TotalPlatforms)
	assert.EqualValues(t, 1, all.Platforms["xhs"].DailyPublished)
	assert.EqualValues(t, 0, all.Platforms["weibo"].DailyPublished)
	assert.True(t, all.Platforms["xhs"].Running)
	assert.Equal(t, strategy, all.Platforms["xhs"].Strategy)
}

func TestRegistry_Reconfigure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := publish.NewMemoryStorage()
	reg := newTestRegistry(t, store)

	require.NoError(t, reg.Register("xhs", okExecutor(nil), publish.WithStrategy(fastStrategy())))

	// Queue data written before the swap.
	task := publish.NewTask("xhs", publish.TaskTypeImage, map[string]any{"title": "hi"})
	queuer, err := reg.Queuer("xhs")
	require.NoError(t, err)
	require.NoError(t, queuer.Submit(ctx, task))

	t.Run("stopped queuer stays stopped", func(t *testing.T) {
		updated := fastStrategy()
		updated.MaxConcurrent = 3
		require.NoError(t, reg.Reconfigure(ctx, "xhs", updated))

		swapped, err := reg.Queuer("xhs")
		require.NoError(t, err)
		assert.NotSame(t, queuer, swapped, "reconfigure replaces the queuer")
		assert.Equal(t, updated, swapped.Strategy())
		assert.False(t, swapped.Running())

		// Store-backed queues survive the swap.
		stats, err := reg.Stats(ctx, "xhs")
		require.NoError(t, err)
		assert.EqualValues(t, 1, stats.QueueSize)
	})

	t.Run("running queuer is restarted", func(t *testing.T) {
		require.NoError(t, reg.StartAll(ctx))
		defer func() { require.NoError(t, reg.StopAll()) }()

		updated := fastStrategy()
		updated.MaxConcurrent = 2
		require.NoError(t, reg.Reconfigure(ctx, "xhs", updated))

		swapped, err := reg.Queuer("xhs")
		require.NoError(t, err)
		assert.True(t, swapped.Running())

		stats, err := reg.Stats(ctx, "xhs")
		require.NoError(t, err)
		assert.Equal(t, 2, stats.WorkerCount)
	})
}

func TestRegistry_StopAllIdempotentQueuers(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, publish.NewMemoryStorage())
	require.NoError(t, reg.Register("xhs", okExecutor(nil), publish.WithStrategy(fastStrategy())))

	// StopAll on never-started queuers is not an error.
	require.NoError(t, reg.StopAll())
}
