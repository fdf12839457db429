// Package netbytes provides cheap, cloneable byte containers used on the
// relay pool's hot path: a reference-counted immutable byte buffer (Bytes)
// and a UTF-8-validated wrapper over it (Utf8Bytes).
package netbytes

import (
	"errors"
	"unicode/utf8"
)

// ErrInvalidUTF8 is returned by NewUtf8Bytes when the input is not valid
// UTF-8.
var ErrInvalidUTF8 = errors.New("netbytes: invalid utf-8")

// Bytes is an immutable byte buffer. Go slices already share the
// underlying array on copy, so Bytes is a thin named type: its contract is
// that nobody mutates the backing array after construction. Clone is cheap
// (a slice header copy); callers that need a private, mutable copy should
// use Copy.
type Bytes []byte

// NewBytes takes ownership of b. Callers must not mutate b afterwards.
func NewBytes(b []byte) Bytes {
	return Bytes(b)
}

// Clone returns a shallow copy sharing the same backing array.
func (b Bytes) Clone() Bytes {
	return b
}

// Copy returns a deep copy with a private backing array.
func (b Bytes) Copy() Bytes {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (b Bytes) Len() int { return len(b) }

// Utf8Bytes wraps Bytes with the invariant that its contents are valid
// UTF-8. Hashing and equality are defined byte-wise, which is identical to
// hashing the equivalent string -- this is required so that map lookups
// keyed by plain string match stored Utf8Bytes (see Utf8Bytes.String).
type Utf8Bytes struct {
	b Bytes
}

// NewUtf8Bytes validates b and returns a Utf8Bytes, or ErrInvalidUTF8.
func NewUtf8Bytes(b []byte) (Utf8Bytes, error) {
	if !utf8.Valid(b) {
		return Utf8Bytes{}, ErrInvalidUTF8
	}
	return Utf8Bytes{b: Bytes(b)}, nil
}

// FromString validates and wraps s.
func FromString(s string) (Utf8Bytes, error) {
	return NewUtf8Bytes([]byte(s))
}

// UnsafeFromBytesUnchecked wraps b without validating it. Reserved for
// codec internals that already know the source validated UTF-8 (e.g. a
// WebSocket text frame, which the protocol already constrains to be valid
// UTF-8). Public callers must use NewUtf8Bytes or FromString.
func UnsafeFromBytesUnchecked(b []byte) Utf8Bytes {
	return Utf8Bytes{b: Bytes(b)}
}

// String borrows the contents as a string. Safe because construction
// validated UTF-8 (or the caller asserted it via UnsafeFromBytesUnchecked).
func (u Utf8Bytes) String() string {
	return string(u.b)
}

// Bytes returns the underlying byte buffer.
func (u Utf8Bytes) Bytes() Bytes {
	return u.b
}

func (u Utf8Bytes) Len() int { return len(u.b) }

// Equal compares two Utf8Bytes byte-wise, equivalent to string equality.
func (u Utf8Bytes) Equal(other Utf8Bytes) bool {
	return u.String() == other.String()
}
