package relay

import (
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// SubscriptionStatus is the lifecycle state of a single subscription.
type SubscriptionStatus int

const (
	SubActive SubscriptionStatus = iota
	SubEoseSeen
	SubClosed
)

// ExitPolicyKind tags a ReqExitPolicy variant.
type ExitPolicyKind int

const (
	ExitOnEose ExitPolicyKind = iota
	WaitDurationAfterEose
	WaitForEvents
	WaitForEventsAfterEose
	Never
)

// ExitPolicy drives when the coordinator auto-closes a subscription after
// observing EOSE and/or event counts.
type ExitPolicy struct {
	Kind     ExitPolicyKind
	Duration time.Duration // WaitDurationAfterEose
	Count    int           // WaitForEvents / WaitForEventsAfterEose
}

func PolicyExitOnEose() ExitPolicy { return ExitPolicy{Kind: ExitOnEose} }
func PolicyWaitDurationAfterEose(d time.Duration) ExitPolicy {
	return ExitPolicy{Kind: WaitDurationAfterEose, Duration: d}
}
func PolicyWaitForEvents(n int) ExitPolicy { return ExitPolicy{Kind: WaitForEvents, Count: n} }
func PolicyWaitForEventsAfterEose(n int) ExitPolicy {
	return ExitPolicy{Kind: WaitForEventsAfterEose, Count: n}
}
func PolicyNever() ExitPolicy { return ExitPolicy{Kind: Never} }

// ShouldClose evaluates the close condition for this policy given the
// observed counters.
func (p ExitPolicy) ShouldClose(eose bool, eoseAt time.Time, total, postEose int, now time.Time) bool {
	switch p.Kind {
	case ExitOnEose:
		return eose
	case WaitDurationAfterEose:
		return eose && now.Sub(eoseAt) >= p.Duration
	case WaitForEvents:
		return total >= p.Count
	case WaitForEventsAfterEose:
		return eose && postEose >= p.Count
	case Never:
		return false
	default:
		return false
	}
}

// Subscription is the core-allocated record behind a live REQ: filters,
// exit policy, delivery sink and status. It carries no deadline of its
// own; whoever drives it bounds it with a context. The counters and
// status below are written from the inbound-pump goroutine (deliver,
// markEose, SetStatus) and read concurrently from whichever goroutine is
// driving the subscription to completion (the pool coordinator's drain
// loop, resubscribeAll), so every access goes through mu.
type Subscription struct {
	ID      string
	Filters nostr.Filters
	Policy  ExitPolicy

	Events chan *nostr.Event
	Eose   chan struct{}
	Closed chan string // delivers the CLOSED reason, if any

	mu       sync.Mutex
	status   SubscriptionStatus
	eoseSeen bool
	eoseAt   time.Time
	total    int
	postEose int
}

// NewSubscription allocates a subscription record. The caller is
// responsible for registering it in a relay's subscription table.
func NewSubscription(id string, filters nostr.Filters, policy ExitPolicy) *Subscription {
	return &Subscription{
		ID:      id,
		Filters: filters,
		Policy:  policy,
		status:  SubActive,
		Events:  make(chan *nostr.Event, 64),
		Eose:    make(chan struct{}, 1),
		Closed:  make(chan string, 1),
	}
}

// Matches reports whether ev matches this subscription's filters.
func (s *Subscription) Matches(ev *nostr.Event) bool {
	return s.Filters.Match(ev)
}

// Status returns the subscription's current lifecycle state.
func (s *Subscription) Status() SubscriptionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetStatus sets the subscription's lifecycle state.
func (s *Subscription) SetStatus(status SubscriptionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// deliver records ev against the subscription's counters and pushes it to
// the sink. Returns false if the sink is full and the event was dropped
// rather than blocking the inbound pump indefinitely; counters only
// advance for events actually delivered, so a full sink can't trigger
// WaitForEvents on events the caller never received.
func (s *Subscription) deliver(ev *nostr.Event) bool {
	select {
	case s.Events <- ev:
		s.mu.Lock()
		s.total++
		if s.eoseSeen {
			s.postEose++
		}
		s.mu.Unlock()
		return true
	default:
		return false
	}
}

// markEose transitions the subscription to EoseSeen, recording the time
// for WaitDurationAfterEose.
func (s *Subscription) markEose(at time.Time) {
	s.mu.Lock()
	if s.eoseSeen {
		s.mu.Unlock()
		return
	}
	s.eoseSeen = true
	s.eoseAt = at
	s.status = SubEoseSeen
	s.mu.Unlock()
	select {
	case s.Eose <- struct{}{}:
	default:
	}
}

// shouldClose evaluates this subscription's exit policy now.
func (s *Subscription) shouldClose(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Policy.ShouldClose(s.eoseSeen, s.eoseAt, s.total, s.postEose, now)
}

// PolicyDone is the exported form of shouldClose for callers outside the
// package (the pool coordinator) that drive a subscription to completion.
func (s *Subscription) PolicyDone(now time.Time) bool {
	return s.shouldClose(now)
}
