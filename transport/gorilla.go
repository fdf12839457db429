package transport

import (
	"context"
	"strings"
	"sync"

	gorilla "github.com/gorilla/websocket"
)

// isReadLimitExceeded reports whether err is gorilla/websocket's read-limit
// error. The library does not export a sentinel for it (it comes back as a
// plain *CloseError-wrapped or bare error depending on version), so this
// matches on the documented message set by Conn.SetReadLimit.
func isReadLimitExceeded(err error) bool {
	return strings.Contains(err.Error(), "read limit exceeded")
}

// gorillaSink adapts *gorilla.Conn to Sink. WriteMessage is not safe for
// concurrent use by multiple goroutines on the same *gorilla.Conn, hence
// the mutex -- besides the relay FSM's outbound pump, pong replies,
// keepalive pings, AUTH frames and Disconnect's close frame are all sent
// on the same sink from other goroutines.
type gorillaSink struct {
	mu     sync.Mutex
	conn   *gorilla.Conn
	closed bool
}

func (s *gorillaSink) Send(ctx context.Context, m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}

	if dl, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(dl)
	}

	switch m.Kind {
	case KindText:
		text, _ := m.Text()
		if err := s.conn.WriteMessage(gorilla.TextMessage, []byte(text)); err != nil {
			return IOError("write text frame", err)
		}
	case KindBinary:
		if err := s.conn.WriteMessage(gorilla.BinaryMessage, m.Data()); err != nil {
			return IOError("write binary frame", err)
		}
	case KindPing:
		if err := s.conn.WriteMessage(gorilla.PingMessage, m.Data()); err != nil {
			return IOError("write ping frame", err)
		}
	case KindPong:
		if err := s.conn.WriteMessage(gorilla.PongMessage, m.Data()); err != nil {
			return IOError("write pong frame", err)
		}
	case KindClose:
		payload := gorilla.FormatCloseMessage(gorilla.CloseNormalClosure, "")
		if cf := m.CloseFrame(); cf != nil {
			payload = gorilla.FormatCloseMessage(int(cf.Code), cf.Reason.String())
		}
		s.closed = true
		if err := s.conn.WriteMessage(gorilla.CloseMessage, payload); err != nil {
			return IOError("write close frame", err)
		}
	}
	return nil
}

// gorillaSource adapts *gorilla.Conn to Source.
type gorillaSource struct {
	conn    *gorilla.Conn
	maxSize int64
}

func (s *gorillaSource) Recv(ctx context.Context) (Message, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = s.conn.SetReadDeadline(dl)
	}

	kind, data, err := s.conn.ReadMessage()
	if err != nil {
		if isReadLimitExceeded(err) {
			return Message{}, PolicyViolationError("message exceeds max_message_size")
		}
		if gorilla.IsCloseError(err) {
			return Message{}, IOError("connection closed by peer", err)
		}
		return Message{}, IOError("read frame", err)
	}

	switch kind {
	case gorilla.TextMessage:
		return NewText(string(data))
	case gorilla.BinaryMessage:
		return NewBinary(data), nil
	case gorilla.PingMessage:
		return NewPing(data)
	case gorilla.PongMessage:
		return NewPong(data)
	case gorilla.CloseMessage:
		return NewClose(nil), nil
	default:
		return Message{}, IOError("unknown frame kind", nil)
	}
}
