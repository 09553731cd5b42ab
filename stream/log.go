package stream

import (
	"context"
	"sync"
	"time"

	"github.com/autom8ter/chronicle/errors"
	"github.com/autom8ter/chronicle/kv"
	"github.com/autom8ter/chronicle/kv/kvutil"
	"github.com/autom8ter/chronicle/logger"
	"github.com/autom8ter/chronicle/util"
	"github.com/autom8ter/machine/v4"
)

const (
	feedspace   = "feed"
	cursorspace = "cursor"
	// channel wakes subscribers when an event is published
	channel = "feed"
)

// Log is an ordered change feed stored in a kv database. Subscribers persist their position with Ack and
// resume after the last acknowledged event.
type Log struct {
	db           kv.DB
	machine      machine.Machine
	logger       logger.Logger
	pollInterval time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
	// publishMu makes offsets commit in the order they are assigned
	publishMu sync.Mutex
}

// LogOption configures a Log
type LogOption func(l *Log)

// WithPollInterval sets how often idle subscribers re-check the log when no wakeup arrives
func WithPollInterval(interval time.Duration) LogOption {
	return func(l *Log) {
		if interval > 0 {
			l.pollInterval = interval
		}
	}
}

// WithLogLogger sets the log's logger
func WithLogLogger(lgger logger.Logger) LogOption {
	return func(l *Log) {
		l.logger = lgger
	}
}

// NewLog creates a change feed in the database
func NewLog(db kv.DB, opts ...LogOption) *Log {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Log{
		db:           db,
		machine:      machine.New(),
		logger:       logger.NewNop(),
		pollInterval: time.Second,
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Publish appends the event to the log. An empty offset is assigned a new one and an empty timestamp is set to now.
func (l *Log) Publish(ctx context.Context, event *Event) (string, error) {
	if err := event.Validate(); err != nil {
		return "", err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if err := l.append(ctx, event); err != nil {
		return "", err
	}
	l.machine.Publish(ctx, machine.Message{
		Channel: channel,
		Body:    event.Offset,
	})
	return event.Offset, nil
}

func (l *Log) append(ctx context.Context, event *Event) error {
	l.publishMu.Lock()
	defer l.publishMu.Unlock()
	if event.Offset == "" {
		event.Offset = util.NewID()
	}
	bits, err := event.Encode()
	if err != nil {
		return err
	}
	if err := l.db.Tx(ctx, kv.TxOpts{}, func(ctx context.Context, tx kv.Tx) error {
		return tx.Set(ctx, kvutil.Key(feedspace, event.Offset), bits)
	}); err != nil {
		return errors.Wrap(err, errors.Internal, "failed to publish event")
	}
	return nil
}

// Subscribe returns a Source delivering the events of collections matching any of the patterns, starting after the
// consumer's last acknowledged offset
func (l *Log) Subscribe(ctx context.Context, consumer string, patterns ...string) (Source, error) {
	if consumer == "" {
		return nil, errors.New(errors.Validation, "empty consumer name")
	}
	cursor, err := l.Cursor(ctx, consumer)
	if err != nil {
		return nil, err
	}
	subCtx, cancel := context.WithCancel(l.ctx)
	s := &subscription{
		log:      l,
		consumer: consumer,
		patterns: patterns,
		position: cursor,
		wake:     make(chan struct{}, 1),
		cancel:   cancel,
	}
	l.machine.Go(subCtx, func(ctx context.Context) error {
		return l.machine.Subscribe(ctx, channel, func(ctx context.Context, msg machine.Message) (bool, error) {
			select {
			case s.wake <- struct{}{}:
			default:
			}
			return true, nil
		})
	})
	return s, nil
}

// Cursor returns the last offset acknowledged by the consumer
func (l *Log) Cursor(ctx context.Context, consumer string) (string, error) {
	var cursor string
	err := l.db.Tx(ctx, kv.TxOpts{IsReadOnly: true}, func(ctx context.Context, tx kv.Tx) error {
		bits, err := tx.Get(ctx, kvutil.Key(cursorspace, consumer))
		cursor = string(bits)
		return err
	})
	if err != nil {
		return "", errors.Wrap(err, errors.Internal, "failed to read cursor of %s", consumer)
	}
	return cursor, nil
}

// Trim deletes the events acknowledged by every consumer and returns the number deleted. Nothing is deleted before
// any consumer has acknowledged an event.
func (l *Log) Trim(ctx context.Context) (int, error) {
	var (
		oldest  string
		deleted int
	)
	err := l.db.Tx(ctx, kv.TxOpts{}, func(ctx context.Context, tx kv.Tx) error {
		iter, err := tx.NewIterator(kv.IterOpts{Prefix: kvutil.Prefix(cursorspace)})
		if err != nil {
			return err
		}
		for ; iter.Valid(); iter.Next() {
			bits, err := iter.Value()
			if err != nil {
				iter.Close()
				return err
			}
			if oldest == "" || string(bits) < oldest {
				oldest = string(bits)
			}
		}
		iter.Close()
		if oldest == "" {
			return nil
		}
		var acked [][]byte
		iter, err = tx.NewIterator(kv.IterOpts{
			Prefix:     kvutil.Prefix(feedspace),
			UpperBound: append(kvutil.Key(feedspace, oldest), 0),
		})
		if err != nil {
			return err
		}
		for ; iter.Valid(); iter.Next() {
			acked = append(acked, iter.Key())
		}
		iter.Close()
		for _, key := range acked {
			if err := tx.Delete(ctx, key); err != nil {
				return err
			}
		}
		deleted = len(acked)
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, errors.Internal, "failed to trim feed")
	}
	return deleted, nil
}

// Close stops every subscription
func (l *Log) Close(ctx context.Context) error {
	l.closeOnce.Do(func() {
		l.cancel()
	})
	if err := l.machine.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

type subscription struct {
	log      *Log
	consumer string
	patterns []string
	mu       sync.Mutex
	// position is the offset of the last delivered (or skipped) event
	position string
	wake     chan struct{}
	cancel   context.CancelFunc
}

func (s *subscription) Next(ctx context.Context) (*Event, error) {
	for {
		event, err := s.scan(ctx)
		if err != nil {
			return nil, err
		}
		if event != nil {
			return event, nil
		}
		timer := time.NewTimer(s.log.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-s.log.ctx.Done():
			timer.Stop()
			return nil, errors.New(errors.Internal, "feed closed")
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// scan returns the first matching event after the current position or nil if there is none
func (s *subscription) scan(ctx context.Context) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	opts := kv.IterOpts{Prefix: kvutil.Prefix(feedspace)}
	if s.position != "" {
		opts.Seek = append(kvutil.Key(feedspace, s.position), 0)
	}
	var found *Event
	err := s.log.db.Tx(ctx, kv.TxOpts{IsReadOnly: true}, func(ctx context.Context, tx kv.Tx) error {
		iter, err := tx.NewIterator(opts)
		if err != nil {
			return err
		}
		defer iter.Close()
		for ; iter.Valid(); iter.Next() {
			bits, err := iter.Value()
			if err != nil {
				return err
			}
			event, err := Decode(bits)
			if err != nil {
				s.log.logger.Warn(ctx, "skipping malformed event", map[string]any{
					"key":      string(iter.Key()),
					"consumer": s.consumer,
				})
				s.position = string(iter.Key()[len(feedspace)+1:])
				continue
			}
			s.position = event.Offset
			if Match(event.Namespace.Coll, s.patterns...) {
				found = event
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.Internal, "failed to read feed")
	}
	return found, nil
}

func (s *subscription) Ack(ctx context.Context, offset string) error {
	if offset == "" {
		return errors.New(errors.Validation, "empty offset")
	}
	key := kvutil.Key(cursorspace, s.consumer)
	err := s.log.db.Tx(ctx, kv.TxOpts{}, func(ctx context.Context, tx kv.Tx) error {
		current, err := tx.Get(ctx, key)
		if err != nil {
			return err
		}
		if string(current) >= offset {
			return nil
		}
		return tx.Set(ctx, key, []byte(offset))
	})
	if err != nil {
		return errors.Wrap(err, errors.Internal, "failed to acknowledge %s", offset)
	}
	return nil
}

func (s *subscription) Close(ctx context.Context) error {
	s.cancel()
	return nil
}
