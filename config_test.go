package chronicle_test

import (
	"testing"
	"time"

	"github.com/autom8ter/chronicle"
	"github.com/autom8ter/chronicle/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		c, err := chronicle.LoadConfig(map[string]any{})
		require.NoError(t, err)
		assert.Equal(t, "badger", c.Provider)
		assert.Equal(t, 10, c.MaxHistory)
		assert.Equal(t, 2*time.Second, c.Staleness)
		assert.EqualValues(t, 5, c.RetryMaxTries)
		assert.Equal(t, "bucket_", c.CollectionPrefix())
		assert.Equal(t, "buckets", c.SchemaCollection)
		assert.Equal(t, chronicle.FeedKV, c.Feed)
	})
	t.Run("decode values", func(t *testing.T) {
		c, err := chronicle.LoadConfig(map[string]any{
			"provider":        "badger",
			"providerParams":  map[string]any{"storage_path": "/tmp/chronicle"},
			"maxHistory":      "3",
			"staleness":       "500ms",
			"compactInterval": "1m",
			"documentPattern": "docs_*",
			"feed":            "redis",
			"redisAddr":       "localhost:6379",
		})
		require.NoError(t, err)
		assert.Equal(t, 3, c.MaxHistory)
		assert.Equal(t, 500*time.Millisecond, c.Staleness)
		assert.Equal(t, time.Minute, c.CompactInterval)
		assert.Equal(t, "docs_", c.CollectionPrefix())
		assert.Equal(t, "/tmp/chronicle", c.ProviderParams["storage_path"])
		assert.Equal(t, "localhost:6379", c.RedisAddr)
	})
	t.Run("redis feed without address", func(t *testing.T) {
		_, err := chronicle.LoadConfig(map[string]any{"feed": "redis"})
		require.Error(t, err)
		assert.Equal(t, errors.Validation, errors.Extract(err).Code)
	})
	t.Run("unknown feed", func(t *testing.T) {
		_, err := chronicle.LoadConfig(map[string]any{"feed": "kafka"})
		require.Error(t, err)
		assert.Equal(t, errors.Validation, errors.Extract(err).Code)
	})
	t.Run("document pattern without wildcard", func(t *testing.T) {
		_, err := chronicle.LoadConfig(map[string]any{"documentPattern": "bucket_"})
		require.Error(t, err)
		assert.Equal(t, errors.Validation, errors.Extract(err).Code)
	})
	t.Run("negative max history", func(t *testing.T) {
		_, err := chronicle.LoadConfig(map[string]any{"maxHistory": -1})
		require.Error(t, err)
	})
}
