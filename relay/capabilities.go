package relay

// Capabilities gates which operations a relay will attempt client-side,
// before anything touches the wire.
type Capabilities struct {
	Read  bool
	Write bool
}

// DefaultCapabilities grants both read and write.
func DefaultCapabilities() Capabilities {
	return Capabilities{Read: true, Write: true}
}
