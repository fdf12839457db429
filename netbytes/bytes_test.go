package netbytes

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUtf8BytesRoundTrip(t *testing.T) {
	u, err := FromString("hello relay")
	require.NoError(t, err)
	require.Equal(t, "hello relay", u.String())
}

func TestUtf8BytesRejectsInvalid(t *testing.T) {
	_, err := NewUtf8Bytes([]byte{0xff, 0xfe, 0xfd})
	require.ErrorIs(t, err, ErrInvalidUTF8)
}

func TestUtf8BytesHashConsistency(t *testing.T) {
	a, err := FromString("sub-id-1")
	require.NoError(t, err)
	b, err := FromString("sub-id-1")
	require.NoError(t, err)

	require.True(t, a.Equal(b))

	m := map[string]int{a.String(): 1}
	_, ok := m[b.String()]
	require.True(t, ok, "keyed lookup by plain string must match a stored Utf8Bytes")
}
