package history_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/autom8ter/chronicle/errors"
	"github.com/autom8ter/chronicle/history"
	"github.com/autom8ter/chronicle/jsondiff"
	"github.com/autom8ter/chronicle/kv"
	"github.com/autom8ter/chronicle/kv/badger"
	"github.com/autom8ter/chronicle/kv/kvutil"
	"github.com/autom8ter/chronicle/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, opts ...history.Option) (kv.DB, *history.Store) {
	t.Helper()
	db, err := badger.Open("")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close(context.Background())
	})
	return db, history.New(db, opts...)
}

func edit(path ...any) jsondiff.Change {
	return jsondiff.Change{Kind: jsondiff.KindEdit, Path: path, Patches: "@@ -1 +1 @@\n-a\n+b\n"}
}

func record(bucketID, documentID string, changes ...jsondiff.Change) *history.History {
	if len(changes) == 0 {
		changes = []jsondiff.Change{edit("title")}
	}
	return &history.History{
		BucketID:   bucketID,
		DocumentID: documentID,
		Changes:    changes,
	}
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	t.Run("insert and find", func(t *testing.T) {
		_, store := newStore(t)
		id, err := store.InsertOne(ctx, record("posts", "1"))
		require.NoError(t, err)
		assert.NotEmpty(t, id)
		histories, err := store.Find(ctx, history.Filter{BucketID: "posts", DocumentID: "1"})
		require.NoError(t, err)
		require.Len(t, histories, 1)
		assert.Equal(t, id, histories[0].ID)
		assert.False(t, histories[0].Date.IsZero())
		assert.Equal(t, jsondiff.Path{"title"}, histories[0].Changes[0].Path)

		h, err := store.Get(ctx, "posts", "1", id)
		require.NoError(t, err)
		assert.Equal(t, id, h.ID)
		_, err = store.Get(ctx, "posts", "1", util.NewID())
		assert.Equal(t, errors.NotFound, errors.Extract(err).Code)
	})
	t.Run("invalid records", func(t *testing.T) {
		_, store := newStore(t)
		_, err := store.InsertOne(ctx, &history.History{BucketID: "posts", DocumentID: "1"})
		assert.Equal(t, errors.Validation, errors.Extract(err).Code)
		_, err = store.InsertOne(ctx, record("", "1"))
		assert.Equal(t, errors.Validation, errors.Extract(err).Code)
		_, err = store.InsertOne(ctx, record("posts/archived", "1"))
		assert.Equal(t, errors.Validation, errors.Extract(err).Code)
		h := record("posts", "1")
		h.ID = "not-a-ksuid"
		_, err = store.InsertOne(ctx, h)
		assert.Equal(t, errors.Validation, errors.Extract(err).Code)
	})
	t.Run("oldest history is evicted at the limit", func(t *testing.T) {
		_, store := newStore(t)
		var ids []string
		for i := 0; i < 11; i++ {
			id, err := store.InsertOne(ctx, record("posts", "1", edit(fmt.Sprintf("field%d", i))))
			require.NoError(t, err)
			ids = append(ids, id)
		}
		histories, err := store.Find(ctx, history.Filter{BucketID: "posts", DocumentID: "1"})
		require.NoError(t, err)
		require.Len(t, histories, history.DefaultMaxHistory)
		assert.Equal(t, ids[1], histories[0].ID)
		assert.Equal(t, ids[10], histories[9].ID)
		for _, h := range histories {
			assert.NotEqual(t, ids[0], h.ID)
		}
	})
	t.Run("never exceeds the configured limit", func(t *testing.T) {
		for _, limit := range []int{1, 2, 5} {
			_, store := newStore(t, history.WithMaxHistory(limit))
			for i := 0; i < limit*3; i++ {
				_, err := store.InsertOne(ctx, record("posts", "1"))
				require.NoError(t, err)
				histories, err := store.Find(ctx, history.Filter{BucketID: "posts", DocumentID: "1"})
				require.NoError(t, err)
				assert.LessOrEqual(t, len(histories), limit)
			}
		}
	})
	t.Run("limits are per document", func(t *testing.T) {
		_, store := newStore(t, history.WithMaxHistory(2))
		for i := 0; i < 3; i++ {
			_, err := store.InsertOne(ctx, record("posts", "1"))
			require.NoError(t, err)
			_, err = store.InsertOne(ctx, record("posts", "2"))
			require.NoError(t, err)
		}
		all, err := store.Find(ctx, history.Filter{BucketID: "posts"})
		require.NoError(t, err)
		assert.Len(t, all, 4)
	})
	t.Run("concurrent inserts keep the limit", func(t *testing.T) {
		_, store := newStore(t, history.WithMaxHistory(3), history.WithRetryMaxTries(50))
		wg := sync.WaitGroup{}
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.InsertOne(ctx, record("posts", "1"))
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		histories, err := store.Find(ctx, history.Filter{BucketID: "posts", DocumentID: "1"})
		require.NoError(t, err)
		assert.Len(t, histories, 3)
	})
	t.Run("find between", func(t *testing.T) {
		_, store := newStore(t)
		var ids []string
		for i := 0; i < 4; i++ {
			id, err := store.InsertOne(ctx, record("posts", "1"))
			require.NoError(t, err)
			ids = append(ids, id)
		}
		_, err := store.InsertOne(ctx, record("posts", "2"))
		require.NoError(t, err)
		histories, err := store.FindBetween(ctx, "posts", "1", ids[2])
		require.NoError(t, err)
		require.Len(t, histories, 2)
		assert.Equal(t, ids[2], histories[0].ID)
		assert.Equal(t, ids[3], histories[1].ID)
		_, err = store.FindBetween(ctx, "posts", "1", "bogus")
		assert.Error(t, err)
	})
	t.Run("summaries are newest first", func(t *testing.T) {
		_, store := newStore(t)
		first, err := store.InsertOne(ctx, record("posts", "1", edit("title")))
		require.NoError(t, err)
		second, err := store.InsertOne(ctx, record("posts", "1", edit("title"), edit("age")))
		require.NoError(t, err)
		summaries, err := store.Summaries(ctx, "posts", "1")
		require.NoError(t, err)
		require.Len(t, summaries, 2)
		assert.Equal(t, second, summaries[0].ID)
		assert.Equal(t, 2, summaries[0].Changes)
		assert.Equal(t, first, summaries[1].ID)
		assert.Equal(t, 1, summaries[1].Changes)
		assert.False(t, summaries[1].Date.IsZero())
	})
	t.Run("malformed records are skipped in summaries", func(t *testing.T) {
		db, store := newStore(t)
		id, err := store.InsertOne(ctx, record("posts", "1"))
		require.NoError(t, err)
		require.NoError(t, db.Tx(ctx, kv.TxOpts{}, func(ctx context.Context, tx kv.Tx) error {
			return tx.Set(ctx, kvutil.Key("history", "posts", "1", util.NewID()), []byte("{not json"))
		}))
		summaries, err := store.Summaries(ctx, "posts", "1")
		require.NoError(t, err)
		require.Len(t, summaries, 1)
		assert.Equal(t, id, summaries[0].ID)
	})
	t.Run("delete document histories", func(t *testing.T) {
		_, store := newStore(t)
		for i := 0; i < 3; i++ {
			_, err := store.InsertOne(ctx, record("posts", "1"))
			require.NoError(t, err)
		}
		_, err := store.InsertOne(ctx, record("posts", "2"))
		require.NoError(t, err)
		deleted, err := store.DeleteMany(ctx, history.Filter{BucketID: "posts", DocumentID: "1"})
		require.NoError(t, err)
		assert.Equal(t, 3, deleted)
		remaining, err := store.Find(ctx, history.Filter{BucketID: "posts"})
		require.NoError(t, err)
		require.Len(t, remaining, 1)
		assert.Equal(t, "2", remaining[0].DocumentID)
	})
	t.Run("delete document across buckets", func(t *testing.T) {
		_, store := newStore(t)
		for _, bucket := range []string{"posts", "users", "tags"} {
			_, err := store.InsertOne(ctx, record(bucket, "1"))
			require.NoError(t, err)
			_, err = store.InsertOne(ctx, record(bucket, "2"))
			require.NoError(t, err)
		}
		found, err := store.Find(ctx, history.Filter{DocumentID: "1"})
		require.NoError(t, err)
		assert.Len(t, found, 3)
		deleted, err := store.DeleteMany(ctx, history.Filter{DocumentID: "1"})
		require.NoError(t, err)
		assert.Equal(t, 3, deleted)
		found, err = store.Find(ctx, history.Filter{DocumentID: "2"})
		require.NoError(t, err)
		assert.Len(t, found, 3)
	})
	t.Run("delete bucket histories", func(t *testing.T) {
		_, store := newStore(t)
		for i := 0; i < 3; i++ {
			_, err := store.InsertOne(ctx, record("posts", fmt.Sprint(i)))
			require.NoError(t, err)
		}
		_, err := store.InsertOne(ctx, record("postsarchive", "1"))
		require.NoError(t, err)
		deleted, err := store.DeleteMany(ctx, history.Filter{BucketID: "posts"})
		require.NoError(t, err)
		assert.Equal(t, 3, deleted)
		remaining, err := store.Find(ctx, history.Filter{BucketID: "postsarchive"})
		require.NoError(t, err)
		assert.Len(t, remaining, 1)
	})
	t.Run("empty delete filter", func(t *testing.T) {
		_, store := newStore(t)
		_, err := store.DeleteMany(ctx, history.Filter{})
		assert.Equal(t, errors.Validation, errors.Extract(err).Code)
	})
	t.Run("delete at paths", func(t *testing.T) {
		_, store := newStore(t)
		mixed, err := store.InsertOne(ctx, record("posts", "1", edit("age"), edit("title")))
		require.NoError(t, err)
		_, err = store.InsertOne(ctx, record("posts", "1", edit("age")))
		require.NoError(t, err)
		nested, err := store.InsertOne(ctx, record("posts", "2", edit("tags", 0, "name"), edit("tags", 1, "name"), edit("tagline")))
		require.NoError(t, err)
		other, err := store.InsertOne(ctx, record("users", "1", edit("age")))
		require.NoError(t, err)

		deleted, err := store.DeleteAtPaths(ctx, "posts", []jsondiff.Path{{"age"}, {"tags", jsondiff.Wildcard}})
		require.NoError(t, err)
		assert.Equal(t, 1, deleted)

		h, err := store.Get(ctx, "posts", "1", mixed)
		require.NoError(t, err)
		require.Len(t, h.Changes, 1)
		assert.Equal(t, jsondiff.Path{"title"}, h.Changes[0].Path)

		remaining, err := store.Find(ctx, history.Filter{BucketID: "posts", DocumentID: "1"})
		require.NoError(t, err)
		assert.Len(t, remaining, 1)

		h, err = store.Get(ctx, "posts", "2", nested)
		require.NoError(t, err)
		require.Len(t, h.Changes, 1)
		assert.Equal(t, jsondiff.Path{"tagline"}, h.Changes[0].Path)

		_, err = store.Get(ctx, "users", "1", other)
		assert.NoError(t, err)
	})
	t.Run("delete at no paths", func(t *testing.T) {
		_, store := newStore(t)
		_, err := store.InsertOne(ctx, record("posts", "1"))
		require.NoError(t, err)
		deleted, err := store.DeleteAtPaths(ctx, "posts", nil)
		require.NoError(t, err)
		assert.Equal(t, 0, deleted)
	})
}
