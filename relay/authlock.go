package relay

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// maxReads is a weight large enough that ordinary message sends never
// meaningfully contend for capacity, while still letting an AUTH guard
// acquire "all of it" to exclude every other writer.
const maxReads = int64(0xFFFFFFFF >> 3)

// AuthLock is a write-biased shared lock over a weighted semaphore. A
// normal send acquires a single permit (many can run concurrently); a
// NIP-42 AUTH flow acquires every permit, which blocks until all in-flight
// sends finish and excludes new ones until it releases. golang.org/x/sync's
// Weighted semaphore serves blocked acquirers in FIFO order, so continuous
// ordinary traffic can't starve an AUTH waiter indefinitely.
//
// Do not replace this with a sync.Mutex (that would serialise every
// ordinary send behind every other) or a sync.RWMutex (Go's RWMutex gives
// no FIFO guarantee between readers and writers).
type AuthLock struct {
	sem *semaphore.Weighted
}

// NewAuthLock returns a ready AuthLock.
func NewAuthLock() *AuthLock {
	return &AuthLock{sem: semaphore.NewWeighted(maxReads)}
}

// MessagePermit is held for the duration of one ordinary send.
type MessagePermit struct {
	lock *AuthLock
}

// Release returns the permit.
func (p *MessagePermit) Release() {
	p.lock.sem.Release(1)
}

// AcquireMessagePermit blocks until a single send permit is available.
func (l *AuthLock) AcquireMessagePermit(ctx context.Context) (*MessagePermit, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return &MessagePermit{lock: l}, nil
}

// AuthGuard is held for the duration of one NIP-42 AUTH round trip.
type AuthGuard struct {
	lock *AuthLock
}

// Release returns every permit held by the guard, unblocking queued
// ordinary sends.
func (g *AuthGuard) Release() {
	g.lock.sem.Release(maxReads)
}

// AcquireAuthGuard blocks until every permit is available, i.e. until all
// in-flight ordinary sends have finished, and then holds all of them.
func (l *AuthLock) AcquireAuthGuard(ctx context.Context) (*AuthGuard, error) {
	if err := l.sem.Acquire(ctx, maxReads); err != nil {
		return nil, err
	}
	return &AuthGuard{lock: l}, nil
}
