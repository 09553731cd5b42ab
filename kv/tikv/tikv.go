package tikv

import (
	"context"
	"fmt"

	"github.com/autom8ter/chronicle/kv"
	"github.com/autom8ter/chronicle/kv/registry"
	"github.com/spf13/cast"
	"github.com/tikv/client-go/v2/txnkv"
)

func init() {
	registry.Register("tikv", func(params map[string]interface{}) (kv.DB, error) {
		if params["pd_addr"] == nil {
			return nil, fmt.Errorf("'pd_addr' is a required paramater")
		}
		return Open(cast.ToStringSlice(params["pd_addr"]))
	})
}

type tikvKV struct {
	db *txnkv.Client
}

// Open connects to a tikv cluster through its placement driver addresses
func Open(pdAddrs []string) (kv.DB, error) {
	if len(pdAddrs) == 0 {
		return nil, fmt.Errorf("empty pd address")
	}
	client, err := txnkv.NewClient(pdAddrs)
	if err != nil {
		return nil, err
	}
	return &tikvKV{
		db: client,
	}, nil
}

func (b *tikvKV) Tx(ctx context.Context, opts kv.TxOpts, fn func(context.Context, kv.Tx) error) error {
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
		return tx.Rollback(ctx)
	}
	return tx.Commit(ctx)
}

func (b *tikvKV) NewTx(opts kv.TxOpts) (kv.Tx, error) {
	tx, err := b.db.Begin()
	if err != nil {
		return nil, err
	}
	return &tikvTx{txn: tx, db: b, readOnly: opts.IsReadOnly}, nil
}

func (b *tikvKV) Close(ctx context.Context) error {
	return b.db.Close()
}
