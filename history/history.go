package history

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/autom8ter/chronicle/errors"
	"github.com/autom8ter/chronicle/jsondiff"
	"github.com/autom8ter/chronicle/kv/kvutil"
	"github.com/segmentio/ksuid"
)

const (
	keyspace = "history"
	// headspace holds the newest history id of each document. Every insert reads and writes it so concurrent
	// inserts for the same document conflict.
	headspace = "historyhead"
)

// History is the set of changes that move a document back to the state it had before a single mutation
type History struct {
	ID         string            `json:"_id"`
	BucketID   string            `json:"bucket_id" validate:"required,excludes=/"`
	DocumentID string            `json:"document_id" validate:"required,excludes=/"`
	Changes    []jsondiff.Change `json:"changes" validate:"required,min=1"`
	Date       time.Time         `json:"date"`
}

// Summary is a lightweight view of a History used for listing
type Summary struct {
	ID   string    `json:"_id"`
	Date time.Time `json:"date"`
	// Changes is the number of changes in the history
	Changes int `json:"changes"`
}

// Filter selects histories. A filter with only DocumentID matches the document in every bucket.
type Filter struct {
	BucketID   string `json:"bucket_id"`
	DocumentID string `json:"document_id"`
}

func (f Filter) empty() bool {
	return f.BucketID == "" && f.DocumentID == ""
}

// prefix returns the narrowest key prefix covering the filter
func (f Filter) prefix() []byte {
	switch {
	case f.BucketID != "" && f.DocumentID != "":
		return kvutil.Prefix(keyspace, f.BucketID, f.DocumentID)
	case f.BucketID != "":
		return kvutil.Prefix(keyspace, f.BucketID)
	default:
		return kvutil.Prefix(keyspace)
	}
}

// matches returns true if the key of a history record matches the filter
func (f Filter) matches(key []byte) bool {
	parts := strings.Split(string(key), "/")
	if len(parts) != 4 {
		return false
	}
	if f.BucketID != "" && parts[1] != f.BucketID {
		return false
	}
	if f.DocumentID != "" && parts[2] != f.DocumentID {
		return false
	}
	return true
}

func (h *History) key() []byte {
	return kvutil.Key(keyspace, h.BucketID, h.DocumentID, h.ID)
}

func headKey(bucketID, documentID string) []byte {
	return kvutil.Key(headspace, bucketID, documentID)
}

// headKeyOf returns the head key of the document owning a history key
func headKeyOf(key []byte) []byte {
	parts := strings.Split(string(key), "/")
	if len(parts) != 4 {
		return nil
	}
	return headKey(parts[1], parts[2])
}

func decode(bits []byte) (*History, error) {
	var h History
	if err := json.Unmarshal(bits, &h); err != nil {
		return nil, errors.Wrap(err, errors.Internal, "failed to decode history")
	}
	return &h, nil
}

func validID(id string) error {
	if _, err := ksuid.Parse(id); err != nil {
		return errors.Wrap(err, errors.Validation, "invalid history id: %s", id)
	}
	return nil
}
