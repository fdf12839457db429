package relayurl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDefaultsPort(t *testing.T) {
	u, err := Parse("wss://relay.example.com")
	require.NoError(t, err)
	require.Equal(t, "relay.example.com", u.Host())
	require.Equal(t, "443", u.Port())
	require.True(t, u.Secure())
	require.False(t, u.IsOnion())
}

func TestParseExplicitPort(t *testing.T) {
	u, err := Parse("ws://relay.example.com:7777/nostr")
	require.NoError(t, err)
	require.Equal(t, "7777", u.Port())
	require.Equal(t, "/nostr", u.Path())
	require.False(t, u.Secure())
}

func TestParseOnion(t *testing.T) {
	u, err := Parse("ws://abc123def.onion")
	require.NoError(t, err)
	require.True(t, u.IsOnion())
}

func TestParseRejectsBadScheme(t *testing.T) {
	_, err := Parse("https://relay.example.com")
	require.ErrorIs(t, err, ErrInvalid)
}

func TestParseRejectsMissingHost(t *testing.T) {
	_, err := Parse("wss://")
	require.ErrorIs(t, err, ErrInvalid)
}

func TestParseNormalizesInternationalizedHost(t *testing.T) {
	u, err := Parse("wss://xn--rel-sla.example")
	require.NoError(t, err)
	require.Equal(t, "xn--rel-sla.example", u.Host())

	v, err := Parse("wss://relä.example")
	require.NoError(t, err)
	require.Equal(t, u.Host(), v.Host())
}
