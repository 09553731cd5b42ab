package tikv

import (
	"context"
	"fmt"

	"github.com/autom8ter/chronicle/kv"
	"github.com/autom8ter/chronicle/kv/kvutil"
	tikvErr "github.com/tikv/client-go/v2/error"
	"github.com/tikv/client-go/v2/txnkv/transaction"
)

type tikvTx struct {
	txn      *transaction.KVTxn
	readOnly bool
	done     bool
	db       *tikvKV
}

func (t *tikvTx) NewIterator(kopts kv.IterOpts) (kv.Iterator, error) {
	if kopts.Reverse {
		seek := kopts.Seek
		switch {
		case seek != nil:
			// IterReverse starts strictly below its key
			seek = append(append([]byte{}, seek...), 0)
		case kopts.UpperBound != nil:
			seek = kopts.UpperBound
		case kopts.Prefix != nil:
			seek = kvutil.NextPrefix(kopts.Prefix)
		}
		iter, err := t.txn.IterReverse(seek)
		if err != nil {
			return nil, err
		}
		return &tikvIterator{iter: iter, opts: kopts}, nil
	}
	start := kopts.Seek
	if start == nil {
		start = kopts.Prefix
	}
	upper := kopts.UpperBound
	if upper == nil && kopts.Prefix != nil {
		upper = kvutil.NextPrefix(kopts.Prefix)
	}
	iter, err := t.txn.Iter(start, upper)
	if err != nil {
		return nil, err
	}
	return &tikvIterator{iter: iter, opts: kopts}, nil
}

func (t *tikvTx) Get(ctx context.Context, key []byte) ([]byte, error) {
	val, err := t.txn.Get(ctx, key)
	if err != nil {
		if tikvErr.IsErrNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return val, err
}

func (t *tikvTx) Set(ctx context.Context, key, value []byte) error {
	if t.readOnly {
		return fmt.Errorf("writes forbidden in read-only transaction")
	}
	return t.txn.Set(key, value)
}

func (t *tikvTx) Delete(ctx context.Context, key []byte) error {
	if t.readOnly {
		return fmt.Errorf("writes forbidden in read-only transaction")
	}
	return t.txn.Delete(key)
}

func (t *tikvTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	return t.txn.Rollback()
}

func (t *tikvTx) Commit(ctx context.Context) error {
	t.done = true
	if err := t.txn.Commit(ctx); err != nil {
		if tikvErr.IsErrWriteConflict(err) {
			return kv.ErrConflict
		}
		return err
	}
	return nil
}

func (t *tikvTx) Close(ctx context.Context) {
	_ = t.Rollback(ctx)
}
