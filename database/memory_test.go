package database

import (
	"context"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"
)

func TestSaveEventIsIdempotent(t *testing.T) {
	db := NewMemory()
	ctx := context.Background()

	ev := &nostr.Event{ID: "abc", CreatedAt: 100, Kind: 1}
	require.NoError(t, db.SaveEvent(ctx, ev))
	require.NoError(t, db.SaveEvent(ctx, ev))

	got, ok, err := db.EventByID(ctx, "abc")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ev, got)
}

func TestQueryCanonicalOrder(t *testing.T) {
	db := NewMemory()
	ctx := context.Background()

	older := &nostr.Event{ID: "bbb", CreatedAt: 100, Kind: 1}
	newer := &nostr.Event{ID: "aaa", CreatedAt: 200, Kind: 1}
	tie1 := &nostr.Event{ID: "z", CreatedAt: 150, Kind: 1}
	tie2 := &nostr.Event{ID: "a", CreatedAt: 150, Kind: 1}

	for _, ev := range []*nostr.Event{older, newer, tie1, tie2} {
		require.NoError(t, db.SaveEvent(ctx, ev))
	}

	out, err := db.Query(ctx, nostr.Filter{Kinds: []int{1}})
	require.NoError(t, err)
	require.Len(t, out, 4)
	require.Equal(t, []string{"aaa", "a", "z", "bbb"}, []string{out[0].ID, out[1].ID, out[2].ID, out[3].ID})
}
