package chronicle

import (
	"context"

	"github.com/autom8ter/chronicle/errors"
	"github.com/autom8ter/chronicle/jsondiff"
	"github.com/autom8ter/chronicle/util"
)

// Revert returns the document as it was before the mutation recorded by the history. The stored document is not
// modified. Histories from the newest down to historyID are replayed against a copy of the current document. Any
// failure returns an error and no document.
func (e *Engine) Revert(ctx context.Context, bucketID, documentID, historyID string) (map[string]any, error) {
	current, err := e.replica.Current().GetDocument(ctx, bucketID, documentID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, errors.New(errors.NotFound, "document %s/%s does not exist", bucketID, documentID)
	}
	s, err := e.schemas.Schema(ctx, bucketID)
	if err != nil {
		return nil, err
	}
	if _, err := e.histories.Get(ctx, bucketID, documentID, historyID); err != nil {
		return nil, err
	}
	histories, err := e.histories.FindBetween(ctx, bucketID, documentID, historyID)
	if err != nil {
		return nil, err
	}
	document := util.CopyMap(current)
	// each history moves the document one mutation back, so the newest is applied first
	for i := len(histories) - 1; i >= 0; i-- {
		if err := jsondiff.ApplyPatch(histories[i].Changes, document, s); err != nil {
			var (
				coercionErr *jsondiff.CoercionError
				patchErr    *jsondiff.PatchError
			)
			if errors.As(err, &coercionErr) || errors.As(err, &patchErr) {
				return nil, errors.Wrap(err, errors.Validation, "cannot reconstruct state")
			}
			return nil, errors.Wrap(err, errors.Internal, "failed to apply history %s", histories[i].ID)
		}
	}
	return document, nil
}
