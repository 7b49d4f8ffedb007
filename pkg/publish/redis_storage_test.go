package publish

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisStorage(t *testing.T) {
	t.Parallel()

	t.Run("nil client", func(t *testing.T) {
		t.Parallel()

		_, err := NewRedisStorage(nil)
		assert.ErrorIs(t, err, ErrStorageNil)
	})

	t.Run("default key prefix", func(t *testing.T) {
		t.Parallel()

		s, err := NewRedisStorage(redis.NewClient(&redis.Options{}))
		require.NoError(t, err)
		assert.Equal(t, "publish_queue:xhs:queue", s.key("xhs", "queue"))
		assert.Equal(t, "publish_queue:xhs:tasks", s.key("xhs", "tasks"))
		assert.Equal(t, "publish_queue:weibo:processing", s.key("weibo", "processing"))
	})

	t.Run("custom key prefix", func(t *testing.T) {
		t.Parallel()

		s, err := NewRedisStorage(redis.NewClient(&redis.Options{}), WithKeyPrefix("test_ns"))
		require.NoError(t, err)
		assert.Equal(t, "test_ns:xhs:history", s.key("xhs", "history"))

		// Empty prefix is ignored.
		s, err = NewRedisStorage(redis.NewClient(&redis.Options{}), WithKeyPrefix(""))
		require.NoError(t, err)
		assert.Equal(t, "publish_queue:xhs:history", s.key("xhs", "history"))
	})
}

func TestUnixFloatConversions(t *testing.T) {
	t.Parallel()

	now := time.Now()
	ts := unixFloat(now)

	back := timeFromUnixFloat(ts)
	assert.WithinDuration(t, now, back, time.Millisecond)

	assert.Equal(t, "0", formatUnix(0))
	assert.Equal(t, "1700000000", formatUnix(1_700_000_000))
	assert.Equal(t, "1700000000.5", formatUnix(1_700_000_000.5))
}
