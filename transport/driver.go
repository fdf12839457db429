// Package transport implements the WebSocket codec (C3) and the
// connect-time driver (C4): TCP dial, optional SOCKS5, optional TLS, and
// the RFC 6455 handshake, all driven through a runtime.Runtime rather than
// a hardwired executor.
package transport

import (
	"context"
	"crypto/tls"
	"net"
	"net/url"
	"time"

	gorilla "github.com/gorilla/websocket"

	"github.com/asmogo/nostrelay/relayurl"
	"github.com/asmogo/nostrelay/runtime"
)

// Driver connects to relays over WebSocket, optionally through a SOCKS5
// proxy, with TLS for wss:// URLs.
type Driver struct {
	Runtime         runtime.Runtime
	Proxy           *ProxyConfig
	HandshakeTimeout time.Duration
	MaxMessageSize  int64
}

// NewDriver builds a Driver bound to rt. proxy may be nil to disable
// SOCKS5 entirely.
func NewDriver(rt runtime.Runtime, proxy *ProxyConfig) *Driver {
	return &Driver{
		Runtime:          rt,
		Proxy:            proxy,
		HandshakeTimeout: 10 * time.Second,
		MaxMessageSize:   512 * 1024,
	}
}

// SupportPing reports whether this transport supports ping/pong control
// frames. gorilla/websocket always does.
func (d *Driver) SupportPing() bool { return true }

// Connect dials the relay in four steps: TCP, optional SOCKS5, optional
// TLS, then the WebSocket handshake, and returns a ready Stream.
func (d *Driver) Connect(ctx context.Context, u relayurl.RelayUrl) (*Stream, error) {
	if u.IsZero() {
		return nil, IOError("connect: empty relay url", nil)
	}

	rawConn, err := d.dialTCP(ctx, u)
	if err != nil {
		return nil, err
	}

	if u.Secure() {
		rawConn, err = d.wrapTLS(ctx, rawConn, u)
		if err != nil {
			rawConn.Close()
			return nil, err
		}
	}

	return d.handshake(ctx, rawConn, u)
}

func (d *Driver) dialTCP(ctx context.Context, u relayurl.RelayUrl) (net.Conn, error) {
	if d.Proxy.shouldProxy(u.IsOnion()) {
		port, err := parsePort(u.Port())
		if err != nil {
			return nil, IOError("connect: bad port", err)
		}
		return dialSocks5(ctx, d.Runtime, d.Proxy.Addr, u.Host(), port)
	}
	return d.Runtime.TCPConnect(ctx, runtime.Addr{Host: u.Host(), Port: u.Port()})
}

func (d *Driver) wrapTLS(ctx context.Context, conn net.Conn, u relayurl.RelayUrl) (net.Conn, error) {
	cfg := &tls.Config{ServerName: tlsServerName(u.Host())}
	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, TLSError("tls handshake", err)
	}
	return tlsConn, nil
}

// tlsServerName returns the SNI server name: the host itself, whether it
// is a DNS name or a literal IP address (tls.Config accepts both).
func tlsServerName(host string) string {
	return host
}

func (d *Driver) handshake(ctx context.Context, conn net.Conn, u relayurl.RelayUrl) (*Stream, error) {
	dialer := gorilla.Dialer{
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return conn, nil
		},
		HandshakeTimeout: d.HandshakeTimeout,
	}

	// The TCP/TLS dance already happened in Connect via the injected conn;
	// tell gorilla the scheme is plain "ws" so it doesn't attempt a second
	// TLS handshake on top of our already-established (possibly TLS) conn.
	wsURL := &url.URL{Scheme: "ws", Host: net.JoinHostPort(u.Host(), u.Port()), Path: u.Path()}

	ws, _, err := dialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		return nil, HandshakeError("websocket handshake", err)
	}
	ws.SetReadLimit(d.MaxMessageSize)

	return NewStream(&gorillaSink{conn: ws}, &gorillaSource{conn: ws, maxSize: d.MaxMessageSize}), nil
}
