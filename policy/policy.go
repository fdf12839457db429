// Package policy provides relay.AdmitPolicy implementations that gate
// connections and inbound events before a Relay acts on them.
package policy

import (
	"github.com/nbd-wtf/go-nostr"

	"github.com/asmogo/nostrelay/relay"
	"github.com/asmogo/nostrelay/relayurl"
)

// AllowAll admits every connection and every event. relay.Builder does not
// wire it by default: with no policy supplied the Relay's policy is nil,
// which likewise admits everything.
type AllowAll struct{}

func (AllowAll) AdmitConnection(relayurl.RelayUrl) relay.Decision { return relay.Allow() }
func (AllowAll) AdmitEvent(relayurl.RelayUrl, *nostr.Event) relay.Decision { return relay.Allow() }

var _ relay.AdmitPolicy = AllowAll{}

// KindAllowlist admits connections unconditionally and events whose Kind is
// present in Kinds, rejecting everything else. Useful for clients that only
// care about a narrow slice of the protocol.
type KindAllowlist struct {
	Kinds map[int]struct{}
}

// NewKindAllowlist builds a KindAllowlist from the given kinds.
func NewKindAllowlist(kinds ...int) *KindAllowlist {
	set := make(map[int]struct{}, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	return &KindAllowlist{Kinds: set}
}

func (a *KindAllowlist) AdmitConnection(relayurl.RelayUrl) relay.Decision { return relay.Allow() }

func (a *KindAllowlist) AdmitEvent(_ relayurl.RelayUrl, ev *nostr.Event) relay.Decision {
	if _, ok := a.Kinds[ev.Kind]; !ok {
		return relay.Reject("kind not in allowlist")
	}
	return relay.Allow()
}

var _ relay.AdmitPolicy = (*KindAllowlist)(nil)
