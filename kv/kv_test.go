package kv_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/autom8ter/chronicle/errors"
	"github.com/autom8ter/chronicle/kv"
	_ "github.com/autom8ter/chronicle/kv/badger"
	"github.com/autom8ter/chronicle/kv/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test(t *testing.T) {
	var providers = []string{"badger"}
	for _, provider := range providers {
		t.Run(provider, func(t *testing.T) {
			ctx := context.Background()
			db, err := registry.Open(provider, map[string]interface{}{
				"storage_path": "",
			})
			require.NoError(t, err)
			defer db.Close(ctx)
			data := map[string]string{}
			for i := 0; i < 10; i++ {
				data[fmt.Sprintf("data/%d", i)] = fmt.Sprint(i)
			}
			t.Run("set", func(t *testing.T) {
				assert.Nil(t, db.Tx(ctx, kv.TxOpts{}, func(ctx context.Context, tx kv.Tx) error {
					for k, v := range data {
						assert.Nil(t, tx.Set(ctx, []byte(k), []byte(v)))
					}
					return nil
				}))
			})
			t.Run("get", func(t *testing.T) {
				assert.Nil(t, db.Tx(ctx, kv.TxOpts{IsReadOnly: true}, func(ctx context.Context, tx kv.Tx) error {
					for k, v := range data {
						data, err := tx.Get(ctx, []byte(k))
						assert.NoError(t, err)
						assert.EqualValues(t, v, string(data))
					}
					missing, err := tx.Get(ctx, []byte("data/missing"))
					assert.NoError(t, err)
					assert.Nil(t, missing)
					return nil
				}))
			})
			t.Run("iterate prefix", func(t *testing.T) {
				assert.Nil(t, db.Tx(ctx, kv.TxOpts{IsReadOnly: true}, func(ctx context.Context, tx kv.Tx) error {
					iter, err := tx.NewIterator(kv.IterOpts{Prefix: []byte("data/")})
					require.NoError(t, err)
					defer iter.Close()
					i := 0
					for iter.Valid() {
						val, _ := iter.Value()
						assert.Equal(t, fmt.Sprint(i), string(val))
						i++
						assert.NoError(t, iter.Next())
					}
					assert.Equal(t, len(data), i)
					return nil
				}))
			})
			t.Run("iterate reverse", func(t *testing.T) {
				assert.Nil(t, db.Tx(ctx, kv.TxOpts{IsReadOnly: true}, func(ctx context.Context, tx kv.Tx) error {
					iter, err := tx.NewIterator(kv.IterOpts{Prefix: []byte("data/"), Reverse: true})
					require.NoError(t, err)
					defer iter.Close()
					require.True(t, iter.Valid())
					assert.Equal(t, "data/9", string(iter.Key()))
					return nil
				}))
			})
			t.Run("iterate upper bound", func(t *testing.T) {
				assert.Nil(t, db.Tx(ctx, kv.TxOpts{IsReadOnly: true}, func(ctx context.Context, tx kv.Tx) error {
					iter, err := tx.NewIterator(kv.IterOpts{Prefix: []byte("data/"), UpperBound: []byte("data/5"), Reverse: true})
					require.NoError(t, err)
					defer iter.Close()
					require.True(t, iter.Valid())
					assert.Equal(t, "data/4", string(iter.Key()))
					return nil
				}))
			})
			t.Run("rollback on error", func(t *testing.T) {
				err := db.Tx(ctx, kv.TxOpts{}, func(ctx context.Context, tx kv.Tx) error {
					assert.NoError(t, tx.Set(ctx, []byte("data/rolled"), []byte("x")))
					return errors.New(errors.Internal, "abort")
				})
				assert.Error(t, err)
				assert.Nil(t, db.Tx(ctx, kv.TxOpts{IsReadOnly: true}, func(ctx context.Context, tx kv.Tx) error {
					val, err := tx.Get(ctx, []byte("data/rolled"))
					assert.NoError(t, err)
					assert.Nil(t, val)
					return nil
				}))
			})
			t.Run("conflict", func(t *testing.T) {
				tx1, err := db.NewTx(kv.TxOpts{})
				require.NoError(t, err)
				defer tx1.Close(ctx)
				tx2, err := db.NewTx(kv.TxOpts{})
				require.NoError(t, err)
				defer tx2.Close(ctx)
				_, err = tx1.Get(ctx, []byte("data/0"))
				require.NoError(t, err)
				_, err = tx2.Get(ctx, []byte("data/0"))
				require.NoError(t, err)
				require.NoError(t, tx1.Set(ctx, []byte("data/0"), []byte("a")))
				require.NoError(t, tx2.Set(ctx, []byte("data/0"), []byte("b")))
				require.NoError(t, tx1.Commit(ctx))
				assert.True(t, errors.Is(tx2.Commit(ctx), kv.ErrConflict))
			})
			t.Run("concurrent writers", func(t *testing.T) {
				wg := sync.WaitGroup{}
				for i := 0; i < 5; i++ {
					i := i
					wg.Add(1)
					go func() {
						defer wg.Done()
						assert.NoError(t, db.Tx(ctx, kv.TxOpts{}, func(ctx context.Context, tx kv.Tx) error {
							return tx.Set(ctx, []byte(fmt.Sprintf("concurrent/%d", i)), []byte("x"))
						}))
					}()
				}
				wg.Wait()
			})
			t.Run("providers", func(t *testing.T) {
				assert.Contains(t, registry.Providers(), provider)
			})
		})
	}
}
