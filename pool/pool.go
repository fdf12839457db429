package pool

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/samber/lo"

	"github.com/asmogo/nostrelay/relay"
)

// RelayEvent pairs a delivered event with the relay url it came from, the
// unit stream_events yields.
type RelayEvent struct {
	RelayURL string
	Event    *nostr.Event
	Err      error
}

// Pool fans filters out across many relay.Relay connections and collects
// or streams back their results.
type Pool struct {
	relays *xsync.MapOf[string, *relay.Relay]
}

// New returns an empty Pool.
func New() *Pool {
	return &Pool{relays: xsync.NewMapOf[string, *relay.Relay]()}
}

// AddRelay registers an already-built, already-connected relay under its
// url. EnsureRelay-style reconnection is the relay's own responsibility
// (its FSM supervisor); the pool just tracks membership.
func (p *Pool) AddRelay(r *relay.Relay) {
	p.relays.Store(r.URL().String(), r)
}

// RemoveRelay disconnects and forgets the relay at url, if present.
func (p *Pool) RemoveRelay(url string) {
	if r, ok := p.relays.LoadAndDelete(url); ok {
		r.Disconnect()
	}
}

// Relay returns the relay registered under url, if any.
func (p *Pool) Relay(url string) (*relay.Relay, bool) {
	return p.relays.Load(url)
}

func (p *Pool) urls() []string {
	var urls []string
	p.relays.Range(func(u string, _ *relay.Relay) bool {
		urls = append(urls, u)
		return true
	})
	return urls
}

// fetchEvents opens a transient subscription per targeted relay, collects
// events according to policy, closes every subscription, and returns
// deduplicated events in canonical order.
func (p *Pool) fetchEvents(ctx context.Context, target Target, policy relay.ExitPolicy) ([]*nostr.Event, error) {
	perRelay := target.Resolve(p.urls())

	var mu sync.Mutex
	var collected []*nostr.Event
	seen := make(map[string]struct{})

	var wg sync.WaitGroup
	for url, filters := range perRelay {
		r, ok := p.relays.Load(url)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(r *relay.Relay, filters nostr.Filters) {
			defer wg.Done()
			events := p.drainSubscription(ctx, r, filters, policy)
			mu.Lock()
			for _, ev := range events {
				if _, dup := seen[ev.ID]; dup {
					continue
				}
				seen[ev.ID] = struct{}{}
				collected = append(collected, ev)
			}
			mu.Unlock()
		}(r, filters)
	}
	wg.Wait()

	sortCanonical(collected)
	return collected, nil
}

// drainSubscription runs one subscription to completion against its exit
// policy or ctx's deadline, returning whatever events it collected.
func (p *Pool) drainSubscription(ctx context.Context, r *relay.Relay, filters nostr.Filters, policy relay.ExitPolicy) []*nostr.Event {
	sub, err := r.Subscribe(ctx, filters, policy)
	if err != nil {
		return nil
	}
	defer func() {
		_ = r.Unsubscribe(context.Background(), sub.ID)
	}()

	var events []*nostr.Event
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case ev := <-sub.Events:
			events = append(events, ev)
		case <-sub.Eose:
			// The inbound pump only ever sends EOSE after every EVENT that
			// preceded it on the wire, in the same goroutine and in order,
			// so by the time this receive wakes up every already-buffered
			// event is available without blocking. Drain it before
			// evaluating the exit policy so ExitOnEose can't race ahead of
			// a select that happened to pick the EOSE case first.
			events = append(events, drainBuffered(sub)...)
		case <-ctx.Done():
			return events
		case <-ticker.C:
		}
		if sub.PolicyDone(time.Now()) {
			return events
		}
	}
}

// drainBuffered drains every event currently sitting in sub.Events without
// blocking.
func drainBuffered(sub *relay.Subscription) []*nostr.Event {
	var events []*nostr.Event
	for {
		select {
		case ev := <-sub.Events:
			events = append(events, ev)
		default:
			return events
		}
	}
}

// streamEvents is the lazy counterpart of fetchEvents: it yields
// RelayEvent as soon as each relay delivers, closing the returned channel
// once every targeted relay's subscription has satisfied its exit policy
// or ctx ends. The caller-supplied cancel is invoked once streaming
// finishes so the Request's derived context is always cleaned up.
func (p *Pool) streamEvents(ctx context.Context, cancel context.CancelFunc, target Target, policy relay.ExitPolicy) (<-chan RelayEvent, error) {
	perRelay := target.Resolve(p.urls())
	out := make(chan RelayEvent, 64)

	var wg sync.WaitGroup
	for url, filters := range perRelay {
		r, ok := p.relays.Load(url)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(url string, r *relay.Relay, filters nostr.Filters) {
			defer wg.Done()
			sub, err := r.Subscribe(ctx, filters, policy)
			if err != nil {
				select {
				case out <- RelayEvent{RelayURL: url, Err: err}:
				case <-ctx.Done():
				}
				return
			}
			defer func() {
				_ = r.Unsubscribe(context.Background(), sub.ID)
			}()

			ticker := time.NewTicker(20 * time.Millisecond)
			defer ticker.Stop()
			seen := make(map[string]struct{})
			for {
				select {
				case ev := <-sub.Events:
					if _, dup := seen[ev.ID]; dup {
						break
					}
					seen[ev.ID] = struct{}{}
					select {
					case out <- RelayEvent{RelayURL: url, Event: ev}:
					case <-ctx.Done():
						return
					}
				case <-sub.Eose:
					// Same ordering guarantee as drainSubscription: every
					// event the pump already buffered ahead of this EOSE
					// is ready for a non-blocking receive right now.
					for _, ev := range drainBuffered(sub) {
						if _, dup := seen[ev.ID]; dup {
							continue
						}
						seen[ev.ID] = struct{}{}
						select {
						case out <- RelayEvent{RelayURL: url, Event: ev}:
						case <-ctx.Done():
							return
						}
					}
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
				if sub.PolicyDone(time.Now()) {
					return
				}
			}
		}(url, r, filters)
	}

	go func() {
		wg.Wait()
		cancel()
		close(out)
	}()

	return out, nil
}

// Publish sends ev to every relay in urls (or every relay in the pool, if
// urls is nil) and returns each relay's outcome keyed by url.
func (p *Pool) Publish(ctx context.Context, ev nostr.Event, urls []string) map[string]relay.PublishOutcome {
	if urls == nil {
		urls = p.urls()
	}
	results := make(map[string]relay.PublishOutcome, len(urls))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, url := range urls {
		r, ok := p.relays.Load(url)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(url string, r *relay.Relay) {
			defer wg.Done()
			outcome, err := r.Publish(ctx, ev)
			if err != nil {
				outcome = relay.PublishOutcome{Accepted: false, Reason: err.Error()}
			}
			mu.Lock()
			results[url] = outcome
			mu.Unlock()
		}(url, r)
	}
	wg.Wait()
	return results
}

// sortCanonical orders events newest-first, id ascending on ties.
func sortCanonical(events []*nostr.Event) {
	sort.Slice(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt > b.CreatedAt
		}
		return a.ID < b.ID
	})
}

// UniqueByID drops duplicate-id events, keeping the first occurrence. This
// is a thin samber/lo wrapper exposed for stream callers who choose to
// dedupe across relays themselves.
func UniqueByID(events []*nostr.Event) []*nostr.Event {
	return lo.UniqBy(events, func(ev *nostr.Event) string { return ev.ID })
}
