package replica

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/autom8ter/chronicle/errors"
	"github.com/autom8ter/chronicle/kv"
	"github.com/autom8ter/chronicle/kv/kvutil"
	"github.com/autom8ter/chronicle/stream"
	"github.com/nqd/flat"
	"github.com/tidwall/sjson"
)

const (
	documentspace = "documents"
	schemaspace   = "schemas"
)

// SnapshotReader reads documents and schemas as of some point in time
type SnapshotReader interface {
	// GetDocument returns the document or nil if it did not exist
	GetDocument(ctx context.Context, bucketID, documentID string) (map[string]any, error)
	// GetSchema returns the bucket's schema or nil if it did not exist
	GetSchema(ctx context.Context, bucketID string) (map[string]any, error)
}

// version is a single stored revision of a document or schema
type version struct {
	Deleted bool           `json:"deleted,omitempty"`
	Value   map[string]any `json:"value,omitempty"`
}

// Replica is a versioned document and schema store. Every write keeps the previous revisions so that readers can
// observe the store as of an earlier time, and publishes a change event.
type Replica struct {
	db               kv.DB
	publisher        stream.Publisher
	database         string
	collectionPrefix string
	schemaCollection string
	now              func() time.Time
}

// Option configures a Replica
type Option func(r *Replica)

// WithDatabase sets the database name of published events
func WithDatabase(name string) Option {
	return func(r *Replica) {
		r.database = name
	}
}

// WithCollectionPrefix sets the prefix of the collection name of a bucket's documents
func WithCollectionPrefix(prefix string) Option {
	return func(r *Replica) {
		r.collectionPrefix = prefix
	}
}

// WithSchemaCollection sets the collection name of schema events
func WithSchemaCollection(name string) Option {
	return func(r *Replica) {
		r.schemaCollection = name
	}
}

// WithClock sets the function used to timestamp revisions
func WithClock(now func() time.Time) Option {
	return func(r *Replica) {
		r.now = now
	}
}

// New creates a replica storing revisions in the database and publishing events to the publisher
func New(db kv.DB, publisher stream.Publisher, opts ...Option) *Replica {
	r := &Replica{
		db:               db,
		publisher:        publisher,
		database:         "chronicle",
		collectionPrefix: "bucket_",
		schemaCollection: "buckets",
		now:              time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Collection returns the collection name of a bucket's documents
func (r *Replica) Collection(bucketID string) string {
	return r.collectionPrefix + bucketID
}

// Current returns a reader of the newest revisions
func (r *Replica) Current() SnapshotReader {
	return &reader{replica: r}
}

// Delayed returns a reader of the revisions that were current staleness ago
func (r *Replica) Delayed(staleness time.Duration) SnapshotReader {
	return &reader{replica: r, staleness: staleness}
}

// PutDocument inserts or replaces a document
func (r *Replica) PutDocument(ctx context.Context, bucketID, documentID string, document map[string]any) error {
	if document == nil {
		return errors.New(errors.Validation, "empty document")
	}
	op := stream.Replace
	err := r.db.Tx(ctx, kv.TxOpts{}, func(ctx context.Context, tx kv.Tx) error {
		prefix := kvutil.Prefix(documentspace, bucketID, documentID)
		latest, err := newest(tx, prefix, nil)
		if err != nil {
			return err
		}
		if latest == nil || latest.Deleted {
			op = stream.Insert
		}
		return r.write(ctx, tx, prefix, version{Value: document})
	})
	if err != nil {
		return errors.Wrap(err, 0, "failed to put document %s/%s", bucketID, documentID)
	}
	return r.publish(ctx, r.Collection(bucketID), documentID, op, document)
}

// UpdateDocument merges the fields of the patch into an existing document. Nested objects are merged field by
// field. Arrays and scalars are replaced.
func (r *Replica) UpdateDocument(ctx context.Context, bucketID, documentID string, patch map[string]any) (map[string]any, error) {
	var updated map[string]any
	err := r.db.Tx(ctx, kv.TxOpts{}, func(ctx context.Context, tx kv.Tx) error {
		prefix := kvutil.Prefix(documentspace, bucketID, documentID)
		latest, err := newest(tx, prefix, nil)
		if err != nil {
			return err
		}
		if latest == nil || latest.Deleted {
			return errors.New(errors.NotFound, "document %s/%s does not exist", bucketID, documentID)
		}
		updated, err = merge(latest.Value, patch)
		if err != nil {
			return err
		}
		return r.write(ctx, tx, prefix, version{Value: updated})
	})
	if err != nil {
		return nil, errors.Wrap(err, 0, "failed to update document %s/%s", bucketID, documentID)
	}
	return updated, r.publish(ctx, r.Collection(bucketID), documentID, stream.Update, updated)
}

// DeleteDocument deletes a document. Deleting a missing document is a no-op.
func (r *Replica) DeleteDocument(ctx context.Context, bucketID, documentID string) error {
	deleted, err := r.tombstone(ctx, kvutil.Prefix(documentspace, bucketID, documentID))
	if err != nil {
		return errors.Wrap(err, 0, "failed to delete document %s/%s", bucketID, documentID)
	}
	if !deleted {
		return nil
	}
	return r.publish(ctx, r.Collection(bucketID), documentID, stream.Delete, nil)
}

// PutSchema inserts or replaces a bucket's schema
func (r *Replica) PutSchema(ctx context.Context, bucketID string, schema map[string]any) error {
	if schema == nil {
		return errors.New(errors.Validation, "empty schema")
	}
	op := stream.Replace
	err := r.db.Tx(ctx, kv.TxOpts{}, func(ctx context.Context, tx kv.Tx) error {
		prefix := kvutil.Prefix(schemaspace, bucketID)
		latest, err := newest(tx, prefix, nil)
		if err != nil {
			return err
		}
		if latest == nil || latest.Deleted {
			op = stream.Insert
		}
		return r.write(ctx, tx, prefix, version{Value: schema})
	})
	if err != nil {
		return errors.Wrap(err, 0, "failed to put schema %s", bucketID)
	}
	return r.publish(ctx, r.schemaCollection, bucketID, op, schema)
}

// DeleteSchema deletes a bucket's schema. Deleting a missing schema is a no-op.
func (r *Replica) DeleteSchema(ctx context.Context, bucketID string) error {
	deleted, err := r.tombstone(ctx, kvutil.Prefix(schemaspace, bucketID))
	if err != nil {
		return errors.Wrap(err, 0, "failed to delete schema %s", bucketID)
	}
	if !deleted {
		return nil
	}
	return r.publish(ctx, r.schemaCollection, bucketID, stream.Delete, nil)
}

// Compact removes revisions that are older than the retention and shadowed by a newer revision that is also older
// than the retention. Readers with a staleness below the retention are unaffected. Returns the number of revisions
// removed.
func (r *Replica) Compact(ctx context.Context, retention time.Duration) (int, error) {
	horizon := r.now().Add(-retention).UnixNano()
	removed := 0
	err := r.db.Tx(ctx, kv.TxOpts{}, func(ctx context.Context, tx kv.Tx) error {
		var stale [][]byte
		for _, space := range []string{documentspace, schemaspace} {
			iter, err := tx.NewIterator(kv.IterOpts{Prefix: kvutil.Prefix(space)})
			if err != nil {
				return err
			}
			var (
				previous       []byte
				previousOwner  string
				previousBefore bool
			)
			for ; iter.Valid(); iter.Next() {
				key := iter.Key()
				owner, at, ok := splitVersionKey(key)
				if !ok {
					continue
				}
				before := at <= horizon
				// a revision before the horizon is shadowed by the next revision of the same owner before the horizon
				if previous != nil && previousOwner == owner && previousBefore && before {
					stale = append(stale, previous)
				}
				previous, previousOwner, previousBefore = key, owner, before
			}
			iter.Close()
		}
		for _, key := range stale {
			if err := tx.Delete(ctx, key); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, errors.Internal, "failed to compact revisions")
	}
	return removed, nil
}

func (r *Replica) tombstone(ctx context.Context, prefix []byte) (bool, error) {
	deleted := false
	err := r.db.Tx(ctx, kv.TxOpts{}, func(ctx context.Context, tx kv.Tx) error {
		latest, err := newest(tx, prefix, nil)
		if err != nil {
			return err
		}
		if latest == nil || latest.Deleted {
			return nil
		}
		deleted = true
		return r.write(ctx, tx, prefix, version{Deleted: true})
	})
	return deleted, err
}

// write stores a revision keyed by its timestamp. Revisions of one owner never share a timestamp.
func (r *Replica) write(ctx context.Context, tx kv.Tx, prefix []byte, v version) error {
	at := r.now().UnixNano()
	iter, err := tx.NewIterator(kv.IterOpts{Prefix: prefix, Reverse: true})
	if err != nil {
		return err
	}
	if iter.Valid() {
		if _, last, ok := splitVersionKey(iter.Key()); ok && last >= at {
			at = last + 1
		}
	}
	iter.Close()
	bits, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return tx.Set(ctx, versionKey(prefix, at), bits)
}

func (r *Replica) publish(ctx context.Context, collection, key string, op stream.OperationType, value map[string]any) error {
	if r.publisher == nil {
		return nil
	}
	_, err := r.publisher.Publish(ctx, &stream.Event{
		Namespace: stream.Namespace{
			DB:   r.database,
			Coll: collection,
		},
		OperationType: op,
		DocumentKey:   key,
		FullDocument:  value,
		Timestamp:     r.now().UTC(),
	})
	return err
}

// versionKey appends the zero padded timestamp to the owner prefix so revisions sort by time
func versionKey(prefix []byte, at int64) []byte {
	return append(append([]byte{}, prefix...), []byte(fmt.Sprintf("%020d", at))...)
}

func splitVersionKey(key []byte) (string, int64, bool) {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '/' {
			at, err := strconv.ParseInt(string(key[i+1:]), 10, 64)
			if err != nil {
				return "", 0, false
			}
			return string(key[:i]), at, true
		}
	}
	return "", 0, false
}

// newest returns the newest revision under the prefix written at or before the seek key (or the newest overall when
// seek is nil). Returns nil if there is none.
func newest(tx kv.Tx, prefix, seek []byte) (*version, error) {
	iter, err := tx.NewIterator(kv.IterOpts{Prefix: prefix, Seek: seek, Reverse: true})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	if !iter.Valid() {
		return nil, nil
	}
	bits, err := iter.Value()
	if err != nil {
		return nil, err
	}
	var v version
	if err := json.Unmarshal(bits, &v); err != nil {
		return nil, errors.Wrap(err, errors.Internal, "failed to decode revision %s", string(iter.Key()))
	}
	return &v, nil
}

func merge(document, patch map[string]any) (map[string]any, error) {
	bits, err := json.Marshal(document)
	if err != nil {
		return nil, err
	}
	flattened, err := flat.Flatten(patch, &flat.Options{Delimiter: ".", Safe: true})
	if err != nil {
		return nil, errors.Wrap(err, errors.Validation, "invalid patch")
	}
	for field, value := range flattened {
		bits, err = sjson.SetBytes(bits, field, value)
		if err != nil {
			return nil, errors.Wrap(err, errors.Validation, "failed to set %s", field)
		}
	}
	merged := map[string]any{}
	if err := json.Unmarshal(bits, &merged); err != nil {
		return nil, err
	}
	return merged, nil
}

type reader struct {
	replica   *Replica
	staleness time.Duration
}

func (r *reader) GetDocument(ctx context.Context, bucketID, documentID string) (map[string]any, error) {
	return r.get(ctx, kvutil.Prefix(documentspace, bucketID, documentID))
}

func (r *reader) GetSchema(ctx context.Context, bucketID string) (map[string]any, error) {
	return r.get(ctx, kvutil.Prefix(schemaspace, bucketID))
}

func (r *reader) get(ctx context.Context, prefix []byte) (map[string]any, error) {
	var seek []byte
	if r.staleness > 0 {
		seek = versionKey(prefix, r.replica.now().Add(-r.staleness).UnixNano())
	}
	var value map[string]any
	err := r.replica.db.Tx(ctx, kv.TxOpts{IsReadOnly: true}, func(ctx context.Context, tx kv.Tx) error {
		v, err := newest(tx, prefix, seek)
		if err != nil {
			return err
		}
		if v != nil && !v.Deleted {
			value = v.Value
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, 0, "failed to read %s", string(prefix))
	}
	return value, nil
}
