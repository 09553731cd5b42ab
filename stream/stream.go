package stream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/autom8ter/chronicle/errors"
	"github.com/tidwall/match"
)

// OperationType is the kind of mutation an event describes
type OperationType string

const (
	Insert  OperationType = "insert"
	Update  OperationType = "update"
	Replace OperationType = "replace"
	Delete  OperationType = "delete"
)

// Namespace identifies the collection an event belongs to
type Namespace struct {
	DB   string `json:"db"`
	Coll string `json:"coll"`
}

// Event is a single change feed entry
type Event struct {
	// Offset is the position of the event in the feed. Acknowledging it resumes the feed after the event.
	Offset        string         `json:"offset"`
	Namespace     Namespace      `json:"ns"`
	OperationType OperationType  `json:"operationType"`
	DocumentKey   string         `json:"documentKey"`
	FullDocument  map[string]any `json:"fullDocument,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// Tags returns the event's identifying fields for logging
func (e *Event) Tags() map[string]any {
	return map[string]any{
		"offset":         e.Offset,
		"db":             e.Namespace.DB,
		"collection":     e.Namespace.Coll,
		"operation_type": e.OperationType,
		"document_key":   e.DocumentKey,
		"timestamp":      e.Timestamp,
	}
}

// Validate returns an error if the event is missing required fields
func (e *Event) Validate() error {
	if e.Namespace.Coll == "" {
		return errors.New(errors.Validation, "event: empty collection")
	}
	if e.DocumentKey == "" {
		return errors.New(errors.Validation, "event: empty document key")
	}
	switch e.OperationType {
	case Insert, Update, Replace:
		if e.FullDocument == nil {
			return errors.New(errors.Validation, "event: %s without full document", e.OperationType)
		}
	case Delete:
	default:
		return errors.New(errors.Validation, "event: unsupported operation type: %s", e.OperationType)
	}
	return nil
}

// Encode returns the event as json bytes
func (e *Event) Encode() ([]byte, error) {
	bits, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, errors.Internal, "failed to encode event")
	}
	return bits, nil
}

// Decode decodes an event from json bytes
func Decode(bits []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(bits, &e); err != nil {
		return nil, errors.Wrap(err, errors.Internal, "failed to decode event")
	}
	return &e, nil
}

// Source is a change feed subscription
type Source interface {
	// Next blocks until the next event is available or the context is cancelled
	Next(ctx context.Context) (*Event, error)
	// Ack marks the event at the offset (and every event before it) as processed
	Ack(ctx context.Context, offset string) error
	// Close releases the subscription
	Close(ctx context.Context) error
}

// Publisher appends events to a change feed
type Publisher interface {
	// Publish appends the event and returns its offset
	Publish(ctx context.Context, event *Event) (string, error)
}

// Match returns true if the collection matches any of the glob patterns. No patterns matches every collection.
func Match(collection string, patterns ...string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, pattern := range patterns {
		if match.Match(collection, pattern) {
			return true
		}
	}
	return false
}
