package watcher

import (
	"github.com/autom8ter/chronicle/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome is the result of handling a single event
type Outcome string

const (
	// Recorded means a history was stored
	Recorded Outcome = "recorded"
	// Deleted means histories were deleted along with their document or bucket
	Deleted Outcome = "deleted"
	// Invalidated means histories were rewritten after a schema change
	Invalidated Outcome = "invalidated"
	// Skipped means the event did not belong to the watcher
	Skipped Outcome = "skipped"
	// Ignored means the event required no work
	Ignored Outcome = "ignored"
	// Violation means the event contradicted the stored state and was dropped
	Violation Outcome = "violation"
)

// Metrics counts handled events by watcher and outcome
type Metrics struct {
	events *prometheus.CounterVec
}

// NewMetrics creates the watcher counters and registers them with the registerer (if not nil). Registering twice
// with the same registerer reuses the existing counters.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chronicle",
		Subsystem: "watcher",
		Name:      "events_total",
		Help:      "Change feed events handled by the history watchers",
	}, []string{"watcher", "outcome"})
	if registerer != nil {
		if err := registerer.Register(events); err != nil {
			var existing prometheus.AlreadyRegisteredError
			if !errors.As(err, &existing) {
				return nil, errors.Wrap(err, errors.Internal, "failed to register watcher metrics")
			}
			events = existing.ExistingCollector.(*prometheus.CounterVec)
		}
	}
	return &Metrics{events: events}, nil
}

// Observe counts an event
func (m *Metrics) Observe(watcher string, outcome Outcome) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(watcher, string(outcome)).Inc()
}

// Events returns the underlying counter vector
func (m *Metrics) Events() *prometheus.CounterVec {
	return m.events
}
