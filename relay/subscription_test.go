package relay

import (
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"
)

func TestExitPolicyShouldClose(t *testing.T) {
	now := time.Now()

	require.True(t, PolicyExitOnEose().ShouldClose(true, now, 3, 0, now))
	require.False(t, PolicyExitOnEose().ShouldClose(false, time.Time{}, 3, 0, now))

	dur := PolicyWaitDurationAfterEose(10 * time.Second)
	eoseAt := now.Add(-5 * time.Second)
	require.False(t, dur.ShouldClose(true, eoseAt, 0, 0, now))
	require.True(t, dur.ShouldClose(true, eoseAt, 0, 0, now.Add(6*time.Second)))

	require.True(t, PolicyWaitForEvents(3).ShouldClose(false, time.Time{}, 3, 0, now))
	require.False(t, PolicyWaitForEvents(3).ShouldClose(false, time.Time{}, 2, 0, now))

	require.True(t, PolicyWaitForEventsAfterEose(2).ShouldClose(true, now, 5, 2, now))
	require.False(t, PolicyWaitForEventsAfterEose(2).ShouldClose(false, now, 5, 2, now))

	require.False(t, PolicyNever().ShouldClose(true, now, 1000, 1000, now.Add(time.Hour)))
}

func TestSubscriptionDeliverOnlyMatching(t *testing.T) {
	sub := NewSubscription("s1", nostr.Filters{{Kinds: []int{1}}}, PolicyExitOnEose())

	matching := &nostr.Event{ID: "a", Kind: 1}
	other := &nostr.Event{ID: "b", Kind: 2}

	require.True(t, sub.Matches(matching))
	require.False(t, sub.Matches(other))

	require.True(t, sub.deliver(matching))
	select {
	case ev := <-sub.Events:
		require.Equal(t, "a", ev.ID)
	default:
		t.Fatal("expected delivered event")
	}
}

func TestSubscriptionMarkEoseIdempotent(t *testing.T) {
	sub := NewSubscription("s1", nostr.Filters{{Kinds: []int{1}}}, PolicyExitOnEose())
	at := time.Now()

	sub.markEose(at)
	require.Equal(t, SubEoseSeen, sub.Status())
	require.True(t, sub.eoseSeen)

	sub.markEose(at.Add(time.Minute))
	require.Equal(t, at, sub.eoseAt) // second call is a no-op
}
