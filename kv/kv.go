package kv

import (
	"context"
	"fmt"
)

// ErrConflict is returned when a read-write transaction could not commit because a concurrent
// transaction modified the keys it read. The transaction may be retried.
var ErrConflict = fmt.Errorf("kv: transaction conflict")

// DB is a transactional key value database
type DB interface {
	// Tx executes the function against a new transaction. The transaction is committed if the function returns
	// nil, otherwise it is rolled back.
	Tx(ctx context.Context, opts TxOpts, fn func(ctx context.Context, tx Tx) error) error
	// NewTx creates a new transaction. Callers must Commit or Rollback and then Close the transaction.
	NewTx(opts TxOpts) (Tx, error)
	// Close closes the database
	Close(ctx context.Context) error
}

// TxOpts are options for creating a transaction
type TxOpts struct {
	IsReadOnly bool `json:"isReadOnly"`
}

// IterOpts are options for creating an iterator
type IterOpts struct {
	// Prefix limits iteration to keys with the prefix
	Prefix []byte `json:"prefix"`
	// Seek positions the iterator at the first key >= seek (or <= seek in reverse)
	Seek []byte `json:"seek"`
	// UpperBound limits iteration to keys < upperBound
	UpperBound []byte `json:"upperBound"`
	// Reverse iterates in descending key order
	Reverse bool `json:"reverse"`
}

// Getter gets a value by key. A missing key returns a nil value and a nil error.
type Getter interface {
	Get(ctx context.Context, key []byte) ([]byte, error)
}

// Setter sets a key value pair
type Setter interface {
	Set(ctx context.Context, key, value []byte) error
}

// Deleter deletes a key
type Deleter interface {
	Delete(ctx context.Context, key []byte) error
}

// Tx is a database transaction
type Tx interface {
	Getter
	Setter
	Deleter
	// NewIterator creates a new iterator
	NewIterator(opts IterOpts) (Iterator, error)
	// Commit commits the transaction
	Commit(ctx context.Context) error
	// Rollback rolls back the transaction
	Rollback(ctx context.Context) error
	// Close closes the transaction
	Close(ctx context.Context)
}

// Iterator iterates over key value pairs in order
type Iterator interface {
	Valid() bool
	Key() []byte
	Value() ([]byte, error)
	Next() error
	Close()
}
