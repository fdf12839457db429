package pool

import (
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"
)

func TestBroadcastResolvesSameFiltersEverywhere(t *testing.T) {
	filters := nostr.Filters{{Kinds: []int{1}}}
	target := NewBroadcast(filters)

	resolved := target.Resolve([]string{"wss://a", "wss://b"})
	require.Len(t, resolved, 2)
	require.Equal(t, filters, resolved["wss://a"])
	require.Equal(t, filters, resolved["wss://b"])
}

func TestTargetedResolvesPerRelayFilters(t *testing.T) {
	perRelay := map[string]nostr.Filters{
		"wss://a": {{Kinds: []int{1}}},
		"wss://b": {{Kinds: []int{2}}},
	}
	target := NewTargeted(perRelay)

	resolved := target.Resolve([]string{"wss://a", "wss://b", "wss://c"})
	require.Len(t, resolved, 2)
	require.Equal(t, perRelay["wss://a"], resolved["wss://a"])
	require.Equal(t, perRelay["wss://b"], resolved["wss://b"])
	require.NotContains(t, resolved, "wss://c")
}
