// Package signerx provides relay.Signer implementations. Keypair signs
// events locally with an in-process private key; BuildAuthEvent produces
// the unsigned NIP-42 AUTH event shape: kind 22242, a "relay" tag and a
// "challenge" tag, empty content.
package signerx

import (
	"context"
	"fmt"

	"github.com/nbd-wtf/go-nostr"

	"github.com/asmogo/nostrelay/relay"
)

// Keypair signs with a raw hex private key.
type Keypair struct {
	publicKey  string
	privateKey string
}

// NewKeypair derives the public key from privateKey (hex-encoded, as
// accepted by nbd-wtf/go-nostr) and returns a ready Signer.
func NewKeypair(privateKey string) (*Keypair, error) {
	pub, err := nostr.GetPublicKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("signerx: derive public key: %w", err)
	}
	return &Keypair{publicKey: pub, privateKey: privateKey}, nil
}

func (k *Keypair) PublicKey() string { return k.publicKey }

// SignEvent signs unsigned with the held private key, setting ID, PubKey,
// CreatedAt (if zero) and Sig. The caller is expected to have already
// populated Kind/Tags/Content for the event it wants signed.
func (k *Keypair) SignEvent(_ context.Context, unsigned nostr.Event) (nostr.Event, error) {
	unsigned.PubKey = k.publicKey
	if unsigned.CreatedAt == 0 {
		unsigned.CreatedAt = nostr.Now()
	}
	if err := unsigned.Sign(k.privateKey); err != nil {
		return nostr.Event{}, fmt.Errorf("signerx: sign event: %w", err)
	}
	return unsigned, nil
}

var _ relay.Signer = (*Keypair)(nil)

// BuildAuthEvent constructs the unsigned NIP-42 AUTH event binding relayURL
// and challenge, for callers that want to sign it themselves instead of
// going through a Relay's own AUTH flow.
func BuildAuthEvent(relayURL, challenge string) nostr.Event {
	return relay.NewAuthEvent(relayURL, challenge)
}
