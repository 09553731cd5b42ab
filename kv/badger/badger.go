package badger

import (
	"context"

	"github.com/autom8ter/chronicle/kv"
	"github.com/autom8ter/chronicle/kv/registry"
	"github.com/dgraph-io/badger/v3"
	"github.com/spf13/cast"
)

func init() {
	registry.Register("badger", func(params map[string]interface{}) (kv.DB, error) {
		return Open(cast.ToString(params["storage_path"]))
	})
}

type badgerKV struct {
	db *badger.DB
}

// Open opens a badger database at the storage path. An empty storage path opens an in-memory database.
func Open(storagePath string) (kv.DB, error) {
	opts := badger.DefaultOptions(storagePath)
	if storagePath == "" {
		opts.InMemory = true
		opts.Dir = ""
		opts.ValueDir = ""
	}
	opts = opts.WithLoggingLevel(badger.ERROR)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &badgerKV{
		db: db,
	}, nil
}

func (b *badgerKV) Tx(ctx context.Context, opts kv.TxOpts, fn func(context.Context, kv.Tx) error) error {
	tx, err := b.NewTx(opts)
	if err != nil {
		return err
	}
	defer tx.Close(ctx)
	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if opts.IsReadOnly {
		return nil
	}
	return tx.Commit(ctx)
}

func (b *badgerKV) NewTx(opts kv.TxOpts) (kv.Tx, error) {
	return &badgerTx{
		opts: opts,
		txn:  b.db.NewTransaction(!opts.IsReadOnly),
		db:   b,
	}, nil
}

func (b *badgerKV) Close(ctx context.Context) error {
	if err := b.db.Sync(); err != nil {
		return err
	}
	return b.db.Close()
}
