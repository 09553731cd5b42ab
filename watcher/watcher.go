package watcher

import (
	"context"
	"time"

	"github.com/autom8ter/chronicle/errors"
	"github.com/autom8ter/chronicle/history"
	"github.com/autom8ter/chronicle/jsondiff"
	"github.com/autom8ter/chronicle/logger"
	"github.com/autom8ter/chronicle/replica"
	"github.com/autom8ter/chronicle/stream"
	"github.com/cenkalti/backoff/v5"
)

// HistoryStore is the history persistence used by the watchers
type HistoryStore interface {
	InsertOne(ctx context.Context, h *history.History) (string, error)
	DeleteMany(ctx context.Context, filter history.Filter) (int, error)
	DeleteAtPaths(ctx context.Context, bucketID string, paths []jsondiff.Path) (int, error)
}

// Options are the dependencies and settings shared by both watchers
type Options struct {
	// Source is the change feed subscription
	Source stream.Source
	// Reader returns the state before the event being handled
	Reader replica.SnapshotReader
	// Histories stores the recorded histories
	Histories HistoryStore
	Logger    logger.Logger
	Metrics   *Metrics
	// RetryMaxTries is the number of attempts of a failing read or write before giving up
	RetryMaxTries uint
	// RetryInitialInterval is the wait before the first retry
	RetryInitialInterval time.Duration
}

func (o *Options) validate() error {
	if o.Source == nil {
		return errors.New(errors.Validation, "watcher: empty source")
	}
	if o.Reader == nil {
		return errors.New(errors.Validation, "watcher: empty snapshot reader")
	}
	if o.Histories == nil {
		return errors.New(errors.Validation, "watcher: empty history store")
	}
	if o.Logger == nil {
		o.Logger = logger.NewNop()
	}
	if o.RetryMaxTries == 0 {
		o.RetryMaxTries = 5
	}
	if o.RetryInitialInterval <= 0 {
		o.RetryInitialInterval = 100 * time.Millisecond
	}
	return nil
}

// handler handles a single event
type handler func(ctx context.Context, event *stream.Event) (Outcome, error)

// run consumes the source until the context is cancelled. Events are acknowledged after they are handled.
func run(ctx context.Context, name string, opts Options, handle handler) error {
	opts.Logger.Info(ctx, "starting watcher", map[string]any{"watcher": name})
	defer opts.Logger.Info(ctx, "stopped watcher", map[string]any{"watcher": name})
	for {
		event, err := opts.Source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, 0, "%s watcher: failed to read change feed", name)
		}
		eventCtx := logger.SetTags(ctx, event.Tags())
		eventCtx = logger.SetTags(eventCtx, map[string]any{"watcher": name})
		outcome, err := handle(eventCtx, event)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			opts.Logger.Error(eventCtx, "failed to handle event", err, nil)
			return errors.Wrap(err, 0, "%s watcher: failed to handle event %s", name, event.Offset)
		}
		opts.Metrics.Observe(name, outcome)
		opts.Logger.Debug(eventCtx, "handled event", map[string]any{"outcome": outcome})
		if err := opts.Source.Ack(ctx, event.Offset); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, 0, "%s watcher: failed to acknowledge event %s", name, event.Offset)
		}
	}
}

// retry calls fn until it succeeds, the attempts are exhausted or the context is cancelled
func retry[T any](ctx context.Context, opts Options, what string, fn func() (T, error)) (T, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = opts.RetryInitialInterval
	result, err := backoff.Retry(ctx, fn,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(opts.RetryMaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			opts.Logger.Warn(ctx, "retrying "+what, map[string]any{
				"error": err.Error(),
				"next":  next.String(),
			})
		}),
	)
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return result, permanent.Unwrap()
	}
	return result, err
}

// violation logs an event that contradicts the stored state
func violation(ctx context.Context, opts Options, reason string, tags map[string]any) (Outcome, error) {
	if tags == nil {
		tags = map[string]any{}
	}
	tags["reason"] = reason
	opts.Logger.Warn(ctx, "skipping inconsistent event", tags)
	return Violation, nil
}
