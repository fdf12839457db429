package relay

import (
	"fmt"

	"github.com/asmogo/nostrelay/database"
	"github.com/asmogo/nostrelay/relayurl"
	"github.com/asmogo/nostrelay/runtime"
)

// Builder assembles a Relay from a url plus its collaborators. Defaults:
// in-memory database, no signer, no admit-policy, read+write
// capabilities, DefaultOptions.
type Builder struct {
	rawURL       string
	rt           runtime.Runtime
	transport    Transport
	signer       Signer
	database     Database
	admitPolicy  AdmitPolicy
	capabilities Capabilities
	options      Options

	capabilitiesSet bool
	optionsSet      bool
}

// NewBuilder starts a Builder targeting rawURL.
func NewBuilder(rawURL string) *Builder {
	return &Builder{rawURL: rawURL}
}

func (b *Builder) WithRuntime(rt runtime.Runtime) *Builder {
	b.rt = rt
	return b
}

func (b *Builder) WithTransport(t Transport) *Builder {
	b.transport = t
	return b
}

func (b *Builder) WithSigner(s Signer) *Builder {
	b.signer = s
	return b
}

func (b *Builder) WithDatabase(d Database) *Builder {
	b.database = d
	return b
}

func (b *Builder) WithAdmitPolicy(p AdmitPolicy) *Builder {
	b.admitPolicy = p
	return b
}

func (b *Builder) WithCapabilities(c Capabilities) *Builder {
	b.capabilities = c
	b.capabilitiesSet = true
	return b
}

func (b *Builder) WithOptions(o Options) *Builder {
	b.options = o
	b.optionsSet = true
	return b
}

// Build validates the URL and returns a ready-to-Connect Relay, applying
// every documented default for collaborators left unset.
func (b *Builder) Build() (*Relay, error) {
	u, err := relayurl.Parse(b.rawURL)
	if err != nil {
		return nil, fmt.Errorf("relay: builder: %w", err)
	}

	rt := b.rt
	if rt == nil {
		rt = runtime.Default()
	}
	if rt == nil {
		return nil, ErrNoRuntime
	}

	tr := b.transport
	if tr == nil {
		return nil, fmt.Errorf("relay: builder: no transport configured")
	}

	db := b.database
	if db == nil {
		db = database.NewMemory()
	}

	caps := b.capabilities
	if !b.capabilitiesSet {
		caps = DefaultCapabilities()
	}

	opts := b.options
	if !b.optionsSet {
		opts = DefaultOptions()
	}

	return newRelay(u, rt, tr, b.signer, db, b.admitPolicy, caps, opts), nil
}
