package watcher

import (
	"context"
	"strings"

	"github.com/autom8ter/chronicle/errors"
	"github.com/autom8ter/chronicle/history"
	"github.com/autom8ter/chronicle/jsondiff"
	"github.com/autom8ter/chronicle/stream"
	"github.com/autom8ter/chronicle/util"
	"github.com/cenkalti/backoff/v5"
)

// DocumentWatcherName labels the document watcher in logs and metrics
const DocumentWatcherName = "documents"

// DocumentWatcher records a history for every document update and deletes the histories of deleted documents
type DocumentWatcher struct {
	opts             Options
	collectionPrefix string
}

// NewDocumentWatcher creates a document watcher. The bucket id of an event is its collection name without the
// collection prefix.
func NewDocumentWatcher(opts Options, collectionPrefix string) (*DocumentWatcher, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &DocumentWatcher{
		opts:             opts,
		collectionPrefix: collectionPrefix,
	}, nil
}

// Run handles events until the context is cancelled
func (w *DocumentWatcher) Run(ctx context.Context) error {
	return run(ctx, DocumentWatcherName, w.opts, w.Handle)
}

// Handle handles a single event. Errors are returned only for failures that should stop the watcher.
func (w *DocumentWatcher) Handle(ctx context.Context, event *stream.Event) (Outcome, error) {
	bucketID, ok := strings.CutPrefix(event.Namespace.Coll, w.collectionPrefix)
	if !ok || bucketID == "" {
		return Skipped, nil
	}
	switch event.OperationType {
	case stream.Delete:
		deleted, err := retry(ctx, w.opts, "history deletion", func() (int, error) {
			return w.opts.Histories.DeleteMany(ctx, history.Filter{
				BucketID:   bucketID,
				DocumentID: event.DocumentKey,
			})
		})
		if err != nil {
			return "", err
		}
		w.opts.Logger.Debug(ctx, "deleted document histories", map[string]any{"deleted": deleted})
		return Deleted, nil
	case stream.Insert:
		return Ignored, nil
	case stream.Update, stream.Replace:
		return w.record(ctx, bucketID, event)
	default:
		return Skipped, nil
	}
}

func (w *DocumentWatcher) record(ctx context.Context, bucketID string, event *stream.Event) (Outcome, error) {
	if event.FullDocument == nil {
		return violation(ctx, w.opts, "event without full document", nil)
	}
	normalized, err := util.Normalize(event.FullDocument)
	if err != nil {
		return violation(ctx, w.opts, "full document is not json", map[string]any{"error": err.Error()})
	}
	// typed values (ex: []string from a custom source) are compared as the generic values the reader returns
	current, _ := normalized.(map[string]any)
	previous, err := retry(ctx, w.opts, "previous document read", func() (map[string]any, error) {
		return w.opts.Reader.GetDocument(ctx, bucketID, event.DocumentKey)
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return violation(ctx, w.opts, "previous document unavailable", map[string]any{"error": err.Error()})
	}
	if previous == nil {
		return violation(ctx, w.opts, "previous document not found", nil)
	}
	// the changes move the current document back to the previous one
	changes := jsondiff.Diff(current, previous)
	if len(changes) == 0 {
		return violation(ctx, w.opts, "document unchanged", map[string]any{
			"previous": previous,
			"current":  current,
		})
	}
	h := &history.History{
		BucketID:   bucketID,
		DocumentID: event.DocumentKey,
		Changes:    changes,
	}
	if !event.Timestamp.IsZero() {
		h.Date = event.Timestamp.UTC()
	}
	id, err := retry(ctx, w.opts, "history insert", func() (string, error) {
		id, err := w.opts.Histories.InsertOne(ctx, h)
		if errors.Extract(err).Code == errors.Validation {
			return "", backoff.Permanent(err)
		}
		return id, err
	})
	if err != nil {
		if errors.Extract(err).Code == errors.Validation {
			return violation(ctx, w.opts, "invalid history", map[string]any{"error": err.Error()})
		}
		return "", err
	}
	w.opts.Logger.Debug(ctx, "recorded history", map[string]any{
		"history_id": id,
		"changes":    len(changes),
	})
	return Recorded, nil
}
