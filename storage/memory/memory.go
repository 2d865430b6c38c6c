// Package memory implements an in-process event journal.
package memory

import (
	"context"
	"sync"

	"github.com/oasisprotocol/yieldvault/storage"
	"github.com/oasisprotocol/yieldvault/vault"
)

const moduleName = "inmemory"

// Store keeps journaled events in a slice. Contents are lost on exit.
type Store struct {
	mu     sync.RWMutex
	events []vault.Event
}

var _ storage.EventStore = (*Store)(nil)

// NewStore creates an empty journal.
func NewStore() *Store {
	return &Store{}
}

// InsertEvents implements storage.EventStore.
func (s *Store) InsertEvents(_ context.Context, events []vault.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

// Events implements storage.EventStore.
func (s *Store) Events(_ context.Context, filter storage.EventFilter) ([]vault.Event, error) {
	filter, err := filter.Normalize()
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []vault.Event{}
	var skipped uint64
	for i := range s.events {
		if !filter.Matches(&s.events[i]) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		out = append(out, s.events[i])
		if uint64(len(out)) == filter.Limit {
			break
		}
	}
	return out, nil
}

// Close implements storage.EventStore.
func (s *Store) Close() {}

// Name implements storage.EventStore.
func (s *Store) Name() string {
	return moduleName
}
