// Package storage defines the event journal interfaces.
package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/oasisprotocol/yieldvault/common"
	"github.com/oasisprotocol/yieldvault/log"
	"github.com/oasisprotocol/yieldvault/metrics"
	"github.com/oasisprotocol/yieldvault/vault"
)

const (
	// DefaultLimit is the page size used when EventFilter.Limit is 0.
	DefaultLimit = 100
	// MaxLimit is the largest page size a query may ask for.
	MaxLimit = 1000
)

// EventStore is an append-only journal of committed vault events.
type EventStore interface {
	// InsertEvents appends events atomically, in order.
	InsertEvents(ctx context.Context, events []vault.Event) error

	// Events returns journaled events matching the filter, oldest first.
	Events(ctx context.Context, filter EventFilter) ([]vault.Event, error)

	// Close releases the store's resources.
	Close()

	// Name returns the name of the storage backend.
	Name() string
}

// EventFilter selects journaled events. Zero-valued fields match everything.
type EventFilter struct {
	User   *common.Address
	Type   vault.EventType
	Limit  uint64
	Offset uint64
}

// Normalize validates the filter and applies the default page size.
func (f EventFilter) Normalize() (EventFilter, error) {
	if f.Limit == 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		return f, fmt.Errorf("limit %d exceeds %d", f.Limit, MaxLimit)
	}
	if f.Type != "" {
		known := false
		for _, t := range vault.EventTypes {
			known = known || t == f.Type
		}
		if !known {
			return f, fmt.Errorf("unknown event type '%s'", f.Type)
		}
	}
	return f, nil
}

// Matches reports whether ev passes the filter's User and Type selectors.
func (f EventFilter) Matches(ev *vault.Event) bool {
	if f.Type != "" && ev.Type != f.Type {
		return false
	}
	if f.User != nil && (ev.User == nil || *ev.User != *f.User) {
		return false
	}
	return true
}

// EncodeEvent serializes an event for backends that store it as a document.
func EncodeEvent(ev *vault.Event) ([]byte, error) {
	return json.Marshal(ev)
}

// DecodeEvent is the inverse of EncodeEvent.
func DecodeEvent(raw []byte) (vault.Event, error) {
	var ev vault.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return ev, fmt.Errorf("decoding event: %w", err)
	}
	return ev, nil
}

// UserColumn is the value of the indexed user column for ev.
func UserColumn(ev *vault.Event) *string {
	if ev.User == nil {
		return nil
	}
	s := ev.User.Hex()
	return &s
}

// EventSink journals the engine's committed events into an EventStore.
type EventSink struct {
	store   EventStore
	logger  *log.Logger
	metrics metrics.StorageMetrics
}

var _ vault.EventSink = (*EventSink)(nil)

// NewEventSink returns a vault.EventSink writing into store.
func NewEventSink(store EventStore, logger *log.Logger) *EventSink {
	return &EventSink{
		store:   store,
		logger:  logger.WithModule("storage"),
		metrics: metrics.NewDefaultStorageMetrics("yieldvault"),
	}
}

// Publish implements vault.EventSink.
func (s *EventSink) Publish(ctx context.Context, events []vault.Event) error {
	if len(events) == 0 {
		return nil
	}
	timer := s.metrics.DatabaseLatencies(s.store.Name(), "insert_events")
	defer timer.ObserveDuration()

	if err := s.store.InsertEvents(ctx, events); err != nil {
		s.metrics.DatabaseOperations(s.store.Name(), "insert_events", "failure").Inc()
		return fmt.Errorf("journaling %d events: %w", len(events), err)
	}
	s.metrics.DatabaseOperations(s.store.Name(), "insert_events", "success").Inc()
	s.logger.Debug("journaled events", "count", len(events))
	return nil
}

// Events queries the underlying store, recording metrics.
func (s *EventSink) Events(ctx context.Context, filter EventFilter) ([]vault.Event, error) {
	timer := s.metrics.DatabaseLatencies(s.store.Name(), "events")
	defer timer.ObserveDuration()

	events, err := s.store.Events(ctx, filter)
	if err != nil {
		s.metrics.DatabaseOperations(s.store.Name(), "events", "failure").Inc()
		return nil, err
	}
	s.metrics.DatabaseOperations(s.store.Name(), "events", "success").Inc()
	return events, nil
}
