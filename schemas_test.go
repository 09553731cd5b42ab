package chronicle_test

import (
	"context"
	"testing"
	"time"

	"github.com/autom8ter/chronicle"
	"github.com/autom8ter/chronicle/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingReader struct {
	schemas map[string]map[string]any
	reads   int
	// onRead runs while a schema is being read
	onRead func()
}

func (c *countingReader) GetDocument(ctx context.Context, bucketID, documentID string) (map[string]any, error) {
	return nil, nil
}

func (c *countingReader) GetSchema(ctx context.Context, bucketID string) (map[string]any, error) {
	c.reads++
	value := c.schemas[bucketID]
	if c.onRead != nil {
		c.onRead()
	}
	return value, nil
}

func TestSchemaCache(t *testing.T) {
	ctx := context.Background()
	reader := &countingReader{schemas: map[string]map[string]any{
		"posts": {
			"type": "object",
			"properties": map[string]any{
				"published_at": map[string]any{"type": "date"},
			},
		},
	}}
	cache, err := chronicle.NewSchemaCache(reader)
	require.NoError(t, err)
	t.Cleanup(cache.Close)

	t.Run("normalized", func(t *testing.T) {
		s, err := cache.Schema(ctx, "posts")
		require.NoError(t, err)
		typ, ok := s.TypeAt([]any{"published_at"})
		require.True(t, ok)
		assert.Equal(t, "string", typ)
	})
	t.Run("cached", func(t *testing.T) {
		// ristretto applies sets asynchronously
		assert.Eventually(t, func() bool {
			before := reader.reads
			_, err := cache.Schema(ctx, "posts")
			return err == nil && reader.reads == before
		}, time.Second, 10*time.Millisecond)
	})
	t.Run("evict", func(t *testing.T) {
		cache.Evict("posts")
		before := reader.reads
		_, err := cache.Schema(ctx, "posts")
		require.NoError(t, err)
		assert.Equal(t, before+1, reader.reads)
	})
	t.Run("missing bucket", func(t *testing.T) {
		_, err := cache.Schema(ctx, "users")
		require.Error(t, err)
		assert.Equal(t, errors.NotFound, errors.Extract(err).Code)
	})
}

func TestSchemaCacheEvictDuringRead(t *testing.T) {
	ctx := context.Background()
	schemaWithCount := func(typ string) map[string]any {
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"count": map[string]any{"type": typ},
			},
		}
	}
	reader := &countingReader{schemas: map[string]map[string]any{"posts": schemaWithCount("string")}}
	cache, err := chronicle.NewSchemaCache(reader)
	require.NoError(t, err)
	t.Cleanup(cache.Close)

	// the schema changes and is evicted after the old version was read but before it is cached
	reader.onRead = func() {
		reader.onRead = nil
		reader.schemas["posts"] = schemaWithCount("number")
		cache.Evict("posts")
	}
	stale, err := cache.Schema(ctx, "posts")
	require.NoError(t, err)
	typ, _ := stale.TypeAt([]any{"count"})
	assert.Equal(t, "string", typ)

	for i := 0; i < 10; i++ {
		s, err := cache.Schema(ctx, "posts")
		require.NoError(t, err)
		typ, _ := s.TypeAt([]any{"count"})
		assert.Equal(t, "number", typ)
		time.Sleep(10 * time.Millisecond)
	}
}
