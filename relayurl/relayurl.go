// Package relayurl normalises and inspects Nostr relay WebSocket URLs, so
// that "wss://relay.example.com" and "wss://relay.example.com/" compare
// equal when used as a relay table key. RelayUrl makes that normalisation
// a first-class, comparable value.
package relayurl

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"golang.org/x/net/idna"
)

// ErrInvalid is returned by Parse when the URL cannot be used as a relay
// address: missing host, or a scheme other than ws/wss.
var ErrInvalid = errors.New("relayurl: invalid relay url")

// RelayUrl is a normalised WebSocket relay address: scheme (ws/wss), host
// and port are always recoverable, and the scheme alone determines
// whether the transport driver wraps the connection in TLS.
type RelayUrl struct {
	scheme string // "ws" or "wss"
	host   string
	port   string
	path   string
}

// Parse validates and normalises raw into a RelayUrl.
func Parse(raw string) (RelayUrl, error) {
	raw = strings.TrimSpace(raw)

	scheme, rest, ok := cutScheme(raw)
	if !ok {
		return RelayUrl{}, fmt.Errorf("%w: %q: missing ws/wss scheme", ErrInvalid, raw)
	}

	hostport, path := rest, "/"
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		hostport, path = rest[:idx], rest[idx:]
	}
	if hostport == "" {
		return RelayUrl{}, fmt.Errorf("%w: %q: missing host", ErrInvalid, raw)
	}

	host, port, err := splitHostPort(hostport, scheme)
	if err != nil {
		return RelayUrl{}, fmt.Errorf("%w: %q: %v", ErrInvalid, raw, err)
	}
	host = toASCIIHost(host)

	return RelayUrl{scheme: scheme, host: host, port: port, path: path}, nil
}

// toASCIIHost punycode-encodes internationalized relay hostnames so two
// spellings of the same relay ("relä.example" and "xn--rel-sla.example")
// compare equal. IP literals and .onion addresses are already pure ASCII
// and pass through unchanged; idna.ToASCII only rejects malformed labels,
// in which case the original host is kept rather than failing the parse.
func toASCIIHost(host string) string {
	ascii, err := idna.ToASCII(host)
	if err != nil {
		return host
	}
	return ascii
}

func cutScheme(raw string) (scheme, rest string, ok bool) {
	switch {
	case strings.HasPrefix(raw, "wss://"):
		return "wss", raw[len("wss://"):], true
	case strings.HasPrefix(raw, "ws://"):
		return "ws", raw[len("ws://"):], true
	default:
		return "", "", false
	}
}

func splitHostPort(hostport, scheme string) (host, port string, err error) {
	if strings.Contains(hostport, ":") {
		h, p, err := net.SplitHostPort(hostport)
		if err == nil {
			return h, p, nil
		}
		// net.SplitHostPort rejects bare IPv6 without brackets; fall
		// through to the default-port case below for anything else.
	}
	host = hostport
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = host[1 : len(host)-1]
	}
	if host == "" {
		return "", "", errors.New("empty host")
	}
	if scheme == "wss" {
		return host, "443", nil
	}
	return host, "80", nil
}

// String reconstructs the normalised URL.
func (u RelayUrl) String() string {
	host := u.host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	defaultPort := "80"
	if u.scheme == "wss" {
		defaultPort = "443"
	}
	hostport := host
	if u.port != "" && u.port != defaultPort {
		hostport = net.JoinHostPort(u.host, u.port)
	}
	path := u.path
	if path == "" {
		path = "/"
	}
	return fmt.Sprintf("%s://%s%s", u.scheme, hostport, path)
}

// Scheme returns "ws" or "wss".
func (u RelayUrl) Scheme() string { return u.scheme }

// Host returns the bare host (no port, no brackets).
func (u RelayUrl) Host() string { return u.host }

// Port returns the resolved port, defaulting to 80/443 per scheme.
func (u RelayUrl) Port() string { return u.port }

// Path returns the request path, defaulting to "/".
func (u RelayUrl) Path() string { return u.path }

// Secure reports whether the scheme requires TLS.
func (u RelayUrl) Secure() bool { return u.scheme == "wss" }

// IsOnion reports whether the host is a Tor hidden-service address.
func (u RelayUrl) IsOnion() bool {
	return strings.HasSuffix(u.host, ".onion")
}

// IsZero reports whether this is the zero value (not a parsed URL).
func (u RelayUrl) IsZero() bool { return u.host == "" }
