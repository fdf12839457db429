package pool

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/asmogo/nostrelay/relay"
)

const defaultRequestTimeout = 60 * time.Second

// Request is a small, typed, single-use builder bound to a Target. Building
// the request is pure; calling Fetch or Stream drives the coordinator.
// The builder is "must_use": calling Fetch/Stream more than once on the
// same Request panics, and dropping an unused Request is simply a no-op
// (nothing to release).
type Request struct {
	pool    *Pool
	target  Target
	timeout time.Duration
	policy  relay.ExitPolicy

	used atomic.Bool
}

// NewRequest starts a Request against target, with the documented defaults
// of a 60s timeout and the ExitOnEose policy.
func (p *Pool) NewRequest(target Target) *Request {
	return &Request{
		pool:    p,
		target:  target,
		timeout: defaultRequestTimeout,
		policy:  relay.PolicyExitOnEose(),
	}
}

// Timeout overrides the request's deadline. Timeout always overrides the
// exit policy: whichever fires first ends the request.
func (req *Request) Timeout(d time.Duration) *Request {
	req.timeout = d
	return req
}

// Policy overrides the request's exit policy.
func (req *Request) Policy(p relay.ExitPolicy) *Request {
	req.policy = p
	return req
}

func (req *Request) markUsed() {
	if !req.used.CompareAndSwap(false, true) {
		panic("pool: Request used more than once")
	}
}

// Fetch collects events per fetch_events semantics: deduplicated by id,
// returned sorted by canonical order (created_at desc, id asc).
func (req *Request) Fetch(ctx context.Context) ([]*nostr.Event, error) {
	req.markUsed()
	ctx, cancel := context.WithTimeout(ctx, req.timeout)
	defer cancel()
	return req.pool.fetchEvents(ctx, req.target, req.policy)
}

// Stream yields events lazily as RelayEvent, one per (relay, event) pair;
// the coordinator guarantees at-most-once delivery per (relay, id) but may
// deliver the same id from different relays.
func (req *Request) Stream(ctx context.Context) (<-chan RelayEvent, error) {
	req.markUsed()
	ctx, cancel := context.WithTimeout(ctx, req.timeout)
	return req.pool.streamEvents(ctx, cancel, req.target, req.policy)
}
