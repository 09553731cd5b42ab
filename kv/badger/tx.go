package badger

import (
	"context"
	"fmt"

	"github.com/autom8ter/chronicle/kv"
	"github.com/autom8ter/chronicle/kv/kvutil"
	"github.com/dgraph-io/badger/v3"
)

type badgerTx struct {
	opts kv.TxOpts
	txn  *badger.Txn
	db   *badgerKV
}

func (b *badgerTx) NewIterator(kopts kv.IterOpts) (kv.Iterator, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = true
	opts.PrefetchSize = 10
	opts.Prefix = kopts.Prefix
	opts.Reverse = kopts.Reverse
	seek := kopts.Seek
	if seek == nil {
		switch {
		case kopts.Reverse && kopts.UpperBound != nil:
			seek = kopts.UpperBound
		case kopts.Reverse && kopts.Prefix != nil:
			seek = kvutil.NextPrefix(kopts.Prefix)
		default:
			seek = kopts.Prefix
		}
	}
	iter := b.txn.NewIterator(opts)
	if seek == nil {
		iter.Rewind()
	} else {
		iter.Seek(seek)
	}
	bi := &badgerIterator{iter: iter, opts: kopts}
	// reverse seeks land on keys <= seek; the upper bound is exclusive
	if kopts.Reverse && kopts.UpperBound != nil {
		for bi.iter.Valid() && !bi.inBounds() {
			bi.iter.Next()
		}
	}
	return bi, nil
}

func (b *badgerTx) Get(ctx context.Context, key []byte) ([]byte, error) {
	i, err := b.txn.Get(key)
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}
	return i.ValueCopy(nil)
}

func (b *badgerTx) Set(ctx context.Context, key, value []byte) error {
	if b.opts.IsReadOnly {
		return fmt.Errorf("writes forbidden in read-only transaction")
	}
	return b.txn.SetEntry(&badger.Entry{
		Key:   key,
		Value: value,
	})
}

func (b *badgerTx) Delete(ctx context.Context, key []byte) error {
	if b.opts.IsReadOnly {
		return fmt.Errorf("writes forbidden in read-only transaction")
	}
	return b.txn.Delete(key)
}

func (b *badgerTx) Rollback(ctx context.Context) error {
	b.txn.Discard()
	return nil
}

func (b *badgerTx) Commit(ctx context.Context) error {
	if err := b.txn.Commit(); err != nil {
		if err == badger.ErrConflict {
			return kv.ErrConflict
		}
		return err
	}
	return nil
}

func (b *badgerTx) Close(ctx context.Context) {
	b.txn.Discard()
}
