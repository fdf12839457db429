package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTextMessageRoundTrip(t *testing.T) {
	m, err := NewText(`["REQ","sub1",{"kinds":[1]}]`)
	require.NoError(t, err)

	text, ok := m.Text()
	require.True(t, ok)
	require.Equal(t, `["REQ","sub1",{"kinds":[1]}]`, text)
}

func TestPingPongPayloadLimit(t *testing.T) {
	_, err := NewPing(make([]byte, 126))
	require.Error(t, err)

	_, err = NewPing(make([]byte, 125))
	require.NoError(t, err)

	_, err = NewPong(make([]byte, 126))
	require.Error(t, err)

	_, err = NewPong(make([]byte, 125))
	require.NoError(t, err)
}

func TestCloseSinkRejectsFurtherSends(t *testing.T) {
	ch := make(chan Message, 2)
	sink := NewChanSink(ch)

	require.NoError(t, sink.Send(context.Background(), NewClose(nil)))
	err := sink.Send(context.Background(), NewBinary([]byte("x")))
	require.ErrorIs(t, err, ErrSinkClosed)
}
