package badger

import (
	"bytes"

	"github.com/autom8ter/chronicle/kv"
	"github.com/dgraph-io/badger/v3"
)

type badgerIterator struct {
	opts kv.IterOpts
	iter *badger.Iterator
}

func (b *badgerIterator) Close() {
	b.iter.Close()
}

func (b *badgerIterator) Valid() bool {
	if b.opts.Prefix != nil {
		if !b.iter.ValidForPrefix(b.opts.Prefix) {
			return false
		}
	} else if !b.iter.Valid() {
		return false
	}
	return b.inBounds()
}

func (b *badgerIterator) inBounds() bool {
	if b.opts.UpperBound == nil {
		return true
	}
	return bytes.Compare(b.iter.Item().Key(), b.opts.UpperBound) < 0
}

func (b *badgerIterator) Key() []byte {
	return b.iter.Item().KeyCopy(nil)
}

func (b *badgerIterator) Value() ([]byte, error) {
	return b.iter.Item().ValueCopy(nil)
}

func (b *badgerIterator) Next() error {
	b.iter.Next()
	return nil
}
