package relay

import (
	"context"

	"github.com/nbd-wtf/go-nostr"

	"github.com/asmogo/nostrelay/relayurl"
	"github.com/asmogo/nostrelay/transport"
)

// Transport is the capability a Relay drives to get a live WsStream. It is
// satisfied by *transport.Driver in production and by fakes in tests.
type Transport interface {
	Connect(ctx context.Context, url relayurl.RelayUrl) (*transport.Stream, error)
	SupportPing() bool
}

// Signer is consumed for NIP-42 AUTH: build and sign the kind=22242 event
// binding relay URL and challenge. Blocking cryptographic work should be
// dispatched via runtime.Runtime.SpawnBlocking by implementations that need
// it; the default signerx implementation is cheap enough not to bother.
type Signer interface {
	PublicKey() string
	SignEvent(ctx context.Context, unsigned nostr.Event) (nostr.Event, error)
}

// Database is the pluggable local event store. Save must be idempotent on
// event id; Query may be served entirely offline.
type Database interface {
	SaveEvent(ctx context.Context, ev *nostr.Event) error
	EventByID(ctx context.Context, id string) (*nostr.Event, bool, error)
	Query(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error)
}

// Decision is the verdict of an AdmitPolicy check.
type Decision struct {
	Allowed bool
	Reason  string
}

func Allow() Decision           { return Decision{Allowed: true} }
func Reject(reason string) Decision { return Decision{Allowed: false, Reason: reason} }

// AdmitPolicy gates connections and events before they reach the sink.
type AdmitPolicy interface {
	AdmitConnection(url relayurl.RelayUrl) Decision
	AdmitEvent(url relayurl.RelayUrl, ev *nostr.Event) Decision
}
