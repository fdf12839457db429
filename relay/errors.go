package relay

import (
	"errors"
	"fmt"
)

// Sentinel errors for failure kinds that don't carry a structured
// payload.
var (
	ErrNotConnected     = errors.New("relay: not connected")
	ErrTimedOut         = errors.New("relay: timed out")
	ErrCancelled        = errors.New("relay: cancelled")
	ErrAuthRequired     = errors.New("relay: auth required")
	ErrCapabilityDenied = errors.New("relay: capability denied")
	ErrNoRuntime        = errors.New("relay: no runtime installed")
	ErrNoSigner         = errors.New("relay: no signer installed")
)

// ProtocolError wraps a malformed or unexpected frame.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("relay: protocol error: %s", e.Reason) }

// AuthFailedError is returned when a NIP-42 AUTH attempt is rejected.
type AuthFailedError struct {
	Reason string
}

func (e *AuthFailedError) Error() string { return fmt.Sprintf("relay: auth failed: %s", e.Reason) }

// RejectedError describes an event the relay declined. Publish does not
// return it: a declined event comes back as a PublishOutcome with Accepted
// false and the relay's reason.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string { return fmt.Sprintf("relay: publish rejected: %s", e.Reason) }
