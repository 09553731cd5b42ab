package chronicle

import (
	"context"
	"sync"

	"github.com/autom8ter/chronicle/errors"
	"github.com/autom8ter/chronicle/replica"
	"github.com/autom8ter/chronicle/schema"
	"github.com/dgraph-io/ristretto"
)

// SchemaSource returns the current normalized schema of a bucket
type SchemaSource interface {
	Schema(ctx context.Context, bucketID string) (schema.Schema, error)
}

// SchemaCache is a SchemaSource caching normalized schemas read from a snapshot reader
type SchemaCache struct {
	reader replica.SnapshotReader
	cache  *ristretto.Cache
	mu     sync.Mutex
	// generations counts the evictions of each bucket. A schema read before an eviction is never cached.
	generations map[string]uint64
}

type cachedSchema struct {
	generation uint64
	schema     schema.Schema
}

// NewSchemaCache creates a schema cache on top of the reader
func NewSchemaCache(reader replica.SnapshotReader) (*SchemaCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10000,
		MaxCost:     1000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.Internal, "failed to create schema cache")
	}
	return &SchemaCache{
		reader:      reader,
		cache:       cache,
		generations: map[string]uint64{},
	}, nil
}

// Schema returns the normalized schema of the bucket
func (s *SchemaCache) Schema(ctx context.Context, bucketID string) (schema.Schema, error) {
	generation := s.generation(bucketID)
	if cached, ok := s.cache.Get(bucketID); ok {
		if entry := cached.(cachedSchema); entry.generation == generation {
			return entry.schema, nil
		}
	}
	raw, err := s.reader.GetSchema(ctx, bucketID)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errors.New(errors.NotFound, "bucket %s does not exist", bucketID)
	}
	normalized := schema.NormalizeTypes(schema.Schema(raw))
	s.mu.Lock()
	if s.generations[bucketID] == generation {
		s.cache.Set(bucketID, cachedSchema{generation: generation, schema: normalized}, 1)
	}
	s.mu.Unlock()
	return normalized, nil
}

func (s *SchemaCache) generation(bucketID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generations[bucketID]
}

// Evict removes the bucket's schema from the cache
func (s *SchemaCache) Evict(bucketID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generations[bucketID]++
	s.cache.Del(bucketID)
}

// Close releases the cache
func (s *SchemaCache) Close() {
	s.cache.Close()
}
