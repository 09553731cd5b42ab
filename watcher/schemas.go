package watcher

import (
	"context"

	"github.com/autom8ter/chronicle/history"
	"github.com/autom8ter/chronicle/jsondiff"
	"github.com/autom8ter/chronicle/schema"
	"github.com/autom8ter/chronicle/stream"
	"github.com/samber/lo"
)

// SchemaWatcherName labels the schema watcher in logs and metrics
const SchemaWatcherName = "schemas"

// SchemaWatcher deletes the histories a schema change made unreplayable
type SchemaWatcher struct {
	opts       Options
	collection string
	onChange   func(bucketID string)
}

// NewSchemaWatcher creates a schema watcher for events of the schema collection. onChange (if not nil) is called
// with the bucket id after every handled schema event.
func NewSchemaWatcher(opts Options, collection string, onChange func(bucketID string)) (*SchemaWatcher, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if onChange == nil {
		onChange = func(string) {}
	}
	return &SchemaWatcher{
		opts:       opts,
		collection: collection,
		onChange:   onChange,
	}, nil
}

// Run handles events until the context is cancelled
func (w *SchemaWatcher) Run(ctx context.Context) error {
	return run(ctx, SchemaWatcherName, w.opts, w.Handle)
}

// Handle handles a single event. Errors are returned only for failures that should stop the watcher.
func (w *SchemaWatcher) Handle(ctx context.Context, event *stream.Event) (Outcome, error) {
	if event.Namespace.Coll != w.collection {
		return Skipped, nil
	}
	bucketID := event.DocumentKey
	switch event.OperationType {
	case stream.Delete:
		deleted, err := retry(ctx, w.opts, "bucket history deletion", func() (int, error) {
			return w.opts.Histories.DeleteMany(ctx, history.Filter{BucketID: bucketID})
		})
		if err != nil {
			return "", err
		}
		w.onChange(bucketID)
		w.opts.Logger.Debug(ctx, "deleted bucket histories", map[string]any{"deleted": deleted})
		return Deleted, nil
	case stream.Insert, stream.Update, stream.Replace:
		outcome, err := w.invalidate(ctx, bucketID, event)
		if err != nil {
			return "", err
		}
		w.onChange(bucketID)
		return outcome, nil
	default:
		return Skipped, nil
	}
}

func (w *SchemaWatcher) invalidate(ctx context.Context, bucketID string, event *stream.Event) (Outcome, error) {
	if event.FullDocument == nil {
		return violation(ctx, w.opts, "event without full document", nil)
	}
	previous, err := retry(ctx, w.opts, "previous schema read", func() (map[string]any, error) {
		return w.opts.Reader.GetSchema(ctx, bucketID)
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return violation(ctx, w.opts, "previous schema unavailable", map[string]any{"error": err.Error()})
	}
	if previous == nil {
		// a new bucket has no histories
		return Ignored, nil
	}
	changes := schema.Diff(
		schema.NormalizeTypes(schema.Schema(previous)),
		schema.NormalizeTypes(schema.Schema(event.FullDocument)),
	)
	paths := schema.InvalidatedPaths(changes)
	if len(paths) == 0 {
		return Ignored, nil
	}
	deleted, err := retry(ctx, w.opts, "history invalidation", func() (int, error) {
		return w.opts.Histories.DeleteAtPaths(ctx, bucketID, paths)
	})
	if err != nil {
		return "", err
	}
	w.opts.Logger.Info(ctx, "invalidated histories", map[string]any{
		"paths": lo.Map(paths, func(p jsondiff.Path, _ int) string {
			return p.String()
		}),
		"deleted": deleted,
	})
	return Invalidated, nil
}
