// Package pool implements the subscription/query coordinator (C7) and the
// event-stream/request builder (C8): fan-out of filters across many
// relay.Relay connections, deduplication, canonical ordering and a small
// chainable request type.
package pool

import "github.com/nbd-wtf/go-nostr"

// TargetKind tags which shape of relay targeting a Request carries. A
// broadcast and a per-relay targeted request are really the same shape
// with different filter resolution, so both collapse onto the strictly
// more expressive multi-target variant.
type TargetKind int

const (
	// Broadcast sends the same filters to every relay in the pool.
	Broadcast TargetKind = iota
	// Targeted sends distinct filters to distinct relays.
	Targeted
)

// Target selects which relays a request reaches and with which filters.
type Target struct {
	kind      TargetKind
	filters   nostr.Filters          // Broadcast
	perRelay  map[string]nostr.Filters // Targeted, keyed by relay url
}

// NewBroadcast targets every relay in the pool with the same filters.
func NewBroadcast(filters nostr.Filters) Target {
	return Target{kind: Broadcast, filters: filters}
}

// NewTargeted targets specific relays, each with its own filters.
func NewTargeted(perRelay map[string]nostr.Filters) Target {
	return Target{kind: Targeted, perRelay: perRelay}
}

// Resolve expands the target against the set of relay urls currently in
// the pool, returning the filters to use for each.
func (t Target) Resolve(urls []string) map[string]nostr.Filters {
	out := make(map[string]nostr.Filters, len(urls))
	switch t.kind {
	case Broadcast:
		for _, u := range urls {
			out[u] = t.filters
		}
	case Targeted:
		for u, f := range t.perRelay {
			out[u] = f
		}
	}
	return out
}
