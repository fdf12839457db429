package relay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"

	"github.com/asmogo/nostrelay/relayurl"
	"github.com/asmogo/nostrelay/runtime"
	"github.com/asmogo/nostrelay/signerx"
	"github.com/asmogo/nostrelay/transport"
)

// loopback wires a Relay directly to an in-process fake server over channel
// transports, skipping TCP/TLS/WS entirely so the FSM and frame dispatch
// can be exercised deterministically.
type loopback struct {
	clientToServer chan transport.Message
	serverToClient chan transport.Message
}

func newLoopback() *loopback {
	return &loopback{
		clientToServer: make(chan transport.Message, 16),
		serverToClient: make(chan transport.Message, 16),
	}
}

func (l *loopback) Connect(context.Context, relayurl.RelayUrl) (*transport.Stream, error) {
	return transport.NewStream(
		transport.NewChanSink(l.clientToServer),
		transport.NewChanSource(l.serverToClient),
	), nil
}

func (l *loopback) SupportPing() bool { return false }

// recvFrame reads the next text frame sent by the client, parsed as a
// generic JSON array with the command label as element 0.
func (l *loopback) recvFrame(t *testing.T, ctx context.Context) []json.RawMessage {
	t.Helper()
	select {
	case msg := <-l.clientToServer:
		text, ok := msg.Text()
		require.True(t, ok)
		var parts []json.RawMessage
		require.NoError(t, json.Unmarshal([]byte(text), &parts))
		return parts
	case <-ctx.Done():
		t.Fatal("timed out waiting for client frame")
		return nil
	}
}

func (l *loopback) sendFrame(t *testing.T, v ...interface{}) {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	msg, err := transport.NewText(string(raw))
	require.NoError(t, err)
	l.serverToClient <- msg
}

func newTestRelay(t *testing.T, lb *loopback, signer Signer) *Relay {
	t.Helper()
	opts := DefaultOptions()
	opts.ConnectionTimeout = 2 * time.Second
	opts.SendTimeout = 2 * time.Second
	opts.PingInterval = 0
	opts.Reconnect = false

	b := NewBuilder("wss://relay.example.com").
		WithRuntime(&runtime.Standard{}).
		WithTransport(lb).
		WithOptions(opts)
	if signer != nil {
		b = b.WithSigner(signer)
	}
	r, err := b.Build()
	require.NoError(t, err)
	return r
}

func TestRelayConnectTransitionsToConnected(t *testing.T) {
	lb := newLoopback()
	r := newTestRelay(t, lb, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Connect(ctx))
	require.Equal(t, StateConnected, r.State())
}

func TestSubscribeSendsReqAndDeliversEvents(t *testing.T) {
	lb := newLoopback()
	r := newTestRelay(t, lb, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Connect(ctx))

	sub, err := r.Subscribe(ctx, nostr.Filters{{Kinds: []int{1}}}, PolicyExitOnEose())
	require.NoError(t, err)

	frame := lb.recvFrame(t, ctx)
	var label, subID string
	require.NoError(t, json.Unmarshal(frame[0], &label))
	require.NoError(t, json.Unmarshal(frame[1], &subID))
	require.Equal(t, "REQ", label)
	require.Equal(t, sub.ID, subID)

	// The inbound pump drops events whose signature does not verify, so the
	// event has to be signed to be delivered.
	ev := nostr.Event{Kind: 1, Content: "hi"}
	require.NoError(t, ev.Sign(nostr.GeneratePrivateKey()))
	lb.sendFrame(t, "EVENT", sub.ID, ev)
	lb.sendFrame(t, "EOSE", sub.ID)

	select {
	case <-sub.Eose:
	case <-ctx.Done():
		t.Fatal("timed out waiting for EOSE")
	}
	// The pump handles EVENT before EOSE, so the event is already buffered.
	select {
	case got := <-sub.Events:
		require.Equal(t, ev.ID, got.ID)
	default:
		t.Fatal("expected the event to be delivered before EOSE")
	}
	require.Equal(t, SubEoseSeen, sub.Status())
	require.True(t, sub.shouldClose(time.Now()))
}

func TestPublishResolvesOnOK(t *testing.T) {
	lb := newLoopback()
	r := newTestRelay(t, lb, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Connect(ctx))

	ev := nostr.Event{ID: "bbbb", Kind: 1}
	outcomeCh := make(chan PublishOutcome, 1)
	errCh := make(chan error, 1)
	go func() {
		outcome, err := r.Publish(ctx, ev)
		outcomeCh <- outcome
		errCh <- err
	}()

	frame := lb.recvFrame(t, ctx)
	var label string
	require.NoError(t, json.Unmarshal(frame[0], &label))
	require.Equal(t, "EVENT", label)

	lb.sendFrame(t, "OK", ev.ID, true, "")

	require.NoError(t, <-errCh)
	outcome := <-outcomeCh
	require.True(t, outcome.Accepted)
}

func TestPublishDeniedWithoutWriteCapability(t *testing.T) {
	lb := newLoopback()
	r := newTestRelay(t, lb, nil)
	r.capabilities = Capabilities{Read: true, Write: false}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Connect(ctx))

	_, err := r.Publish(ctx, nostr.Event{ID: "cccc"})
	require.ErrorIs(t, err, ErrCapabilityDenied)
}

func TestAuthChallengeTriggersSignedAuthFrame(t *testing.T) {
	// a valid 32-byte hex private key
	signer, err := signerx.NewKeypair("3b1e9a2b9f2f6a9e3c4d5e6f7a8b9c0d1e2f3a4b5c6d7e8f9a0b1c2d3e4f5a6b")
	require.NoError(t, err)

	lb := newLoopback()
	r := newTestRelay(t, lb, signer)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Connect(ctx))

	lb.sendFrame(t, "AUTH", "challenge-123")

	frame := lb.recvFrame(t, ctx)
	var label string
	require.NoError(t, json.Unmarshal(frame[0], &label))
	require.Equal(t, "AUTH", label)

	var signed nostr.Event
	require.NoError(t, json.Unmarshal(frame[1], &signed))
	require.Equal(t, 22242, signed.Kind)
	require.Equal(t, signer.PublicKey(), signed.PubKey)

	ok, _ := signed.CheckSignature()
	require.True(t, ok)

	lb.sendFrame(t, "OK", signed.ID, true, "")

	require.Eventually(t, func() bool {
		v, _ := r.lastChallenge.Load().(string)
		return v == "challenge-123"
	}, time.Second, 10*time.Millisecond)
}
