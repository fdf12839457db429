package transport

import (
	"fmt"

	"github.com/asmogo/nostrelay/netbytes"
)

// Kind tags the variant carried by a Message.
type Kind uint8

const (
	KindText Kind = iota
	KindBinary
	KindPing
	KindPong
	KindClose
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindBinary:
		return "binary"
	case KindPing:
		return "ping"
	case KindPong:
		return "pong"
	case KindClose:
		return "close"
	default:
		return "unknown"
	}
}

// maxControlFramePayload is the protocol bound on ping/pong payloads.
const maxControlFramePayload = 125

// CloseFrame is the optional payload of a Close message.
type CloseFrame struct {
	Code   uint16
	Reason netbytes.Utf8Bytes
}

// Message is a tagged WebSocket frame variant: {Text, Binary, Ping, Pong,
// Close}. Exactly one of the payload fields is meaningful, selected by
// Kind.
type Message struct {
	Kind  Kind
	text  netbytes.Utf8Bytes
	data  netbytes.Bytes
	close *CloseFrame
}

// NewText builds a text message.
func NewText(s string) (Message, error) {
	u, err := netbytes.FromString(s)
	if err != nil {
		return Message{}, err
	}
	return Message{Kind: KindText, text: u}, nil
}

// NewBinary builds a binary message.
func NewBinary(b []byte) Message {
	return Message{Kind: KindBinary, data: netbytes.NewBytes(b)}
}

// NewPing builds a ping message. payload must be <= 125 bytes.
func NewPing(payload []byte) (Message, error) {
	if len(payload) > maxControlFramePayload {
		return Message{}, fmt.Errorf("transport: ping payload %d bytes exceeds %d byte limit", len(payload), maxControlFramePayload)
	}
	return Message{Kind: KindPing, data: netbytes.NewBytes(payload)}, nil
}

// NewPong builds a pong message. payload must be <= 125 bytes.
func NewPong(payload []byte) (Message, error) {
	if len(payload) > maxControlFramePayload {
		return Message{}, fmt.Errorf("transport: pong payload %d bytes exceeds %d byte limit", len(payload), maxControlFramePayload)
	}
	return Message{Kind: KindPong, data: netbytes.NewBytes(payload)}, nil
}

// NewClose builds a close message with an optional frame.
func NewClose(frame *CloseFrame) Message {
	return Message{Kind: KindClose, close: frame}
}

// Text returns the text payload and whether Kind == KindText.
func (m Message) Text() (string, bool) {
	if m.Kind != KindText {
		return "", false
	}
	return m.text.String(), true
}

// Data returns the raw payload for Binary/Ping/Pong kinds.
func (m Message) Data() []byte {
	switch m.Kind {
	case KindBinary, KindPing, KindPong:
		return m.data
	default:
		return nil
	}
}

// CloseFrame returns the close frame, if any.
func (m Message) CloseFrame() *CloseFrame {
	if m.Kind != KindClose {
		return nil
	}
	return m.close
}
