// Package database provides the pluggable local event store the relay
// core persists observed events into. Memory is the default in-memory
// implementation relay.Builder uses when none is supplied.
package database

import (
	"context"
	"sort"
	"sync"

	"github.com/nbd-wtf/go-nostr"
)

// Memory is a thread-safe, process-local NostrDatabase. Save is
// idempotent on event id; Query is a linear scan, adequate for the small
// working sets a relay-pool client typically holds.
type Memory struct {
	mu     sync.RWMutex
	events map[string]*nostr.Event
}

// NewMemory returns an empty Memory database.
func NewMemory() *Memory {
	return &Memory{events: make(map[string]*nostr.Event)}
}

func (m *Memory) SaveEvent(_ context.Context, ev *nostr.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.events[ev.ID]; exists {
		return nil
	}
	m.events[ev.ID] = ev
	return nil
}

func (m *Memory) EventByID(_ context.Context, id string) (*nostr.Event, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ev, ok := m.events[id]
	return ev, ok, nil
}

func (m *Memory) Query(_ context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*nostr.Event
	for _, ev := range m.events {
		if filter.Matches(ev) {
			out = append(out, ev)
		}
	}
	sortByCanonicalOrder(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// sortByCanonicalOrder orders events newest-first, breaking ties on id
// ascending.
func sortByCanonicalOrder(events []*nostr.Event) {
	sort.Slice(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt > b.CreatedAt
		}
		return a.ID < b.ID
	})
}
