package history

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/autom8ter/chronicle/errors"
	"github.com/autom8ter/chronicle/jsondiff"
	"github.com/autom8ter/chronicle/kv"
	"github.com/autom8ter/chronicle/kv/kvutil"
	"github.com/autom8ter/chronicle/logger"
	"github.com/autom8ter/chronicle/util"
	"github.com/cenkalti/backoff/v5"
	"github.com/samber/lo"
	"github.com/segmentio/ksuid"
	"github.com/tidwall/gjson"
)

// DefaultMaxHistory is the number of histories kept per document when no limit is configured
const DefaultMaxHistory = 10

// batchSize is the number of records written per transaction by bulk operations
const batchSize = 500

// Store persists histories in a kv database, keeping at most MaxHistory records per document
type Store struct {
	db         kv.DB
	maxHistory int
	maxTries   uint
	logger     logger.Logger
}

// Option configures a Store
type Option func(s *Store)

// WithMaxHistory sets the number of histories kept per document
func WithMaxHistory(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxHistory = n
		}
	}
}

// WithRetryMaxTries sets how many times a write is attempted when it conflicts with a concurrent write
func WithRetryMaxTries(n uint) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxTries = n
		}
	}
}

// WithLogger sets the store's logger
func WithLogger(l logger.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// New creates a history store on top of the database
func New(db kv.DB, opts ...Option) *Store {
	s := &Store{
		db:         db,
		maxHistory: DefaultMaxHistory,
		maxTries:   10,
		logger:     logger.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// MaxHistory returns the number of histories kept per document
func (s *Store) MaxHistory() int {
	return s.maxHistory
}

// update runs fn in a read-write transaction, retrying when the commit conflicts with a concurrent transaction
func (s *Store) update(ctx context.Context, fn func(ctx context.Context, tx kv.Tx) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 10 * time.Millisecond
	policy.MaxInterval = time.Second
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := s.db.Tx(ctx, kv.TxOpts{}, fn)
		if err != nil && !errors.Is(err, kv.ErrConflict) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(s.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.Debug(ctx, "retrying conflicting history write", map[string]any{
				"error": err.Error(),
				"next":  next.String(),
			})
		}),
	)
	// the last attempt is returned as is, even when permanent
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Unwrap()
	}
	return err
}

// InsertOne inserts the history, evicting the oldest histories of the document so that at most MaxHistory remain.
// The count, eviction and insert happen in one transaction. An empty ID is assigned a new ksuid and an empty date
// is set to the id's timestamp.
func (s *Store) InsertOne(ctx context.Context, h *History) (string, error) {
	if h.ID == "" {
		h.ID = util.NewID()
	}
	if err := validID(h.ID); err != nil {
		return "", err
	}
	if h.Date.IsZero() {
		id, _ := ksuid.Parse(h.ID)
		h.Date = id.Time().UTC()
	}
	if err := util.ValidateStruct(h); err != nil {
		return "", err
	}
	bits, err := json.Marshal(h)
	if err != nil {
		return "", errors.Wrap(err, errors.Internal, "failed to encode history")
	}
	prefix := Filter{BucketID: h.BucketID, DocumentID: h.DocumentID}.prefix()
	err = s.update(ctx, func(ctx context.Context, tx kv.Tx) error {
		head := headKey(h.BucketID, h.DocumentID)
		if _, err := tx.Get(ctx, head); err != nil {
			return err
		}
		if err := tx.Set(ctx, head, []byte(h.ID)); err != nil {
			return err
		}
		existing, err := keys(tx, kv.IterOpts{Prefix: prefix}, nil)
		if err != nil {
			return err
		}
		key := h.key()
		existing = lo.Reject(existing, func(k []byte, _ int) bool {
			return bytes.Equal(k, key)
		})
		for len(existing) >= s.maxHistory {
			if err := tx.Delete(ctx, existing[0]); err != nil {
				return err
			}
			existing = existing[1:]
		}
		return tx.Set(ctx, key, bits)
	})
	if err != nil {
		return "", errors.Wrap(err, 0, "failed to insert history %s/%s", h.BucketID, h.DocumentID)
	}
	return h.ID, nil
}

// Get returns a single history
func (s *Store) Get(ctx context.Context, bucketID, documentID, id string) (*History, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	var h *History
	err := s.db.Tx(ctx, kv.TxOpts{IsReadOnly: true}, func(ctx context.Context, tx kv.Tx) error {
		bits, err := tx.Get(ctx, kvutil.Key(keyspace, bucketID, documentID, id))
		if err != nil {
			return err
		}
		if bits == nil {
			return errors.New(errors.NotFound, "history %s does not exist", id)
		}
		h, err = decode(bits)
		return err
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Find returns the histories matching the filter in ascending id order
func (s *Store) Find(ctx context.Context, filter Filter) ([]*History, error) {
	return s.find(ctx, kv.IterOpts{Prefix: filter.prefix()}, filter)
}

// FindBetween returns the histories of the document with an id greater than or equal to fromID in ascending order
func (s *Store) FindBetween(ctx context.Context, bucketID, documentID, fromID string) ([]*History, error) {
	if err := validID(fromID); err != nil {
		return nil, err
	}
	filter := Filter{BucketID: bucketID, DocumentID: documentID}
	return s.find(ctx, kv.IterOpts{
		Prefix: filter.prefix(),
		Seek:   kvutil.Key(keyspace, bucketID, documentID, fromID),
	}, filter)
}

func (s *Store) find(ctx context.Context, opts kv.IterOpts, filter Filter) ([]*History, error) {
	if filter.BucketID == "" && filter.DocumentID != "" {
		opts.Prefix = Filter{}.prefix()
	}
	var histories []*History
	err := s.db.Tx(ctx, kv.TxOpts{IsReadOnly: true}, func(ctx context.Context, tx kv.Tx) error {
		iter, err := tx.NewIterator(opts)
		if err != nil {
			return err
		}
		defer iter.Close()
		for ; iter.Valid(); iter.Next() {
			if !filter.matches(iter.Key()) {
				continue
			}
			bits, err := iter.Value()
			if err != nil {
				return err
			}
			h, err := decode(bits)
			if err != nil {
				return errors.Wrap(err, 0, "key: %s", string(iter.Key()))
			}
			histories = append(histories, h)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return histories, nil
}

// Summaries lists the histories of a document newest first. Records that cannot be parsed are logged and skipped.
func (s *Store) Summaries(ctx context.Context, bucketID, documentID string) ([]Summary, error) {
	filter := Filter{BucketID: bucketID, DocumentID: documentID}
	var summaries []Summary
	err := s.db.Tx(ctx, kv.TxOpts{IsReadOnly: true}, func(ctx context.Context, tx kv.Tx) error {
		iter, err := tx.NewIterator(kv.IterOpts{Prefix: filter.prefix(), Reverse: true})
		if err != nil {
			return err
		}
		defer iter.Close()
		for ; iter.Valid(); iter.Next() {
			bits, err := iter.Value()
			if err != nil {
				return err
			}
			summary, ok := summarize(bits)
			if !ok {
				s.logger.Warn(ctx, "skipping malformed history", map[string]any{
					"key": string(iter.Key()),
				})
				continue
			}
			summaries = append(summaries, summary)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summaries, nil
}

func summarize(bits []byte) (Summary, bool) {
	if !gjson.ValidBytes(bits) {
		return Summary{}, false
	}
	results := gjson.GetManyBytes(bits, "_id", "date", "changes")
	if results[0].Type != gjson.String || !results[2].IsArray() {
		return Summary{}, false
	}
	date, err := time.Parse(time.RFC3339Nano, results[1].String())
	if err != nil {
		return Summary{}, false
	}
	return Summary{
		ID:      results[0].String(),
		Date:    date,
		Changes: len(results[2].Array()),
	}, true
}

// DeleteMany deletes every history matching the filter and returns the number deleted
func (s *Store) DeleteMany(ctx context.Context, filter Filter) (int, error) {
	if filter.empty() {
		return 0, errors.New(errors.Validation, "refusing to delete histories with an empty filter")
	}
	opts := kv.IterOpts{Prefix: filter.prefix()}
	if filter.BucketID == "" {
		opts.Prefix = Filter{}.prefix()
	}
	deleted := 0
	for {
		var batch [][]byte
		err := s.update(ctx, func(ctx context.Context, tx kv.Tx) error {
			var err error
			batch, err = keys(tx, opts, func(key []byte) bool {
				return filter.matches(key)
			})
			if err != nil {
				return err
			}
			for _, key := range batch {
				if err := tx.Delete(ctx, key); err != nil {
					return err
				}
				if head := headKeyOf(key); head != nil {
					if err := tx.Delete(ctx, head); err != nil {
						return err
					}
				}
			}
			return nil
		})
		if err != nil {
			return deleted, errors.Wrap(err, 0, "failed to delete histories")
		}
		deleted += len(batch)
		if len(batch) < batchSize {
			return deleted, nil
		}
		opts.Seek = append(batch[len(batch)-1], 0)
	}
}

// DeleteAtPaths removes the changes at or below any of the document paths from every history of the bucket.
// A jsondiff.Wildcard element in a path matches any array index. Histories left without changes are deleted and
// their count is returned.
func (s *Store) DeleteAtPaths(ctx context.Context, bucketID string, paths []jsondiff.Path) (int, error) {
	if bucketID == "" {
		return 0, errors.New(errors.Validation, "empty bucket id")
	}
	if len(paths) == 0 {
		return 0, nil
	}
	opts := kv.IterOpts{Prefix: Filter{BucketID: bucketID}.prefix()}
	deleted := 0
	for {
		var (
			scanned int
			lastKey []byte
			removed int
		)
		err := s.update(ctx, func(ctx context.Context, tx kv.Tx) error {
			scanned, lastKey, removed = 0, nil, 0
			records, err := entries(tx, opts)
			if err != nil {
				return err
			}
			for _, record := range records {
				scanned++
				lastKey = record.key
				h, err := decode(record.value)
				if err != nil {
					s.logger.Warn(ctx, "skipping malformed history", map[string]any{
						"key": string(record.key),
					})
					continue
				}
				kept := lo.Reject(h.Changes, func(c jsondiff.Change, _ int) bool {
					return lo.SomeBy(paths, func(p jsondiff.Path) bool {
						return c.Path.HasPrefix(p)
					})
				})
				switch {
				case len(kept) == len(h.Changes):
				case len(kept) == 0:
					if err := tx.Delete(ctx, record.key); err != nil {
						return err
					}
					removed++
				default:
					h.Changes = kept
					bits, err := json.Marshal(h)
					if err != nil {
						return err
					}
					if err := tx.Set(ctx, record.key, bits); err != nil {
						return err
					}
				}
			}
			return nil
		})
		if err != nil {
			return deleted, errors.Wrap(err, 0, "failed to delete histories of bucket %s", bucketID)
		}
		deleted += removed
		if scanned < batchSize {
			return deleted, nil
		}
		opts.Seek = append(lastKey, 0)
	}
}

type entry struct {
	key   []byte
	value []byte
}

// keys returns up to batchSize keys accepted by the match function (all keys when match is nil) in key order
func keys(tx kv.Tx, opts kv.IterOpts, match func(key []byte) bool) ([][]byte, error) {
	iter, err := tx.NewIterator(opts)
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var found [][]byte
	for ; iter.Valid(); iter.Next() {
		if match != nil && !match(iter.Key()) {
			continue
		}
		found = append(found, iter.Key())
		if match != nil && len(found) >= batchSize {
			break
		}
	}
	return found, nil
}

// entries returns up to batchSize key value pairs in key order
func entries(tx kv.Tx, opts kv.IterOpts) ([]entry, error) {
	iter, err := tx.NewIterator(opts)
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var found []entry
	for ; iter.Valid() && len(found) < batchSize; iter.Next() {
		value, err := iter.Value()
		if err != nil {
			return nil, err
		}
		found = append(found, entry{key: iter.Key(), value: value})
	}
	return found, nil
}
