package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"

	"github.com/asmogo/nostrelay/runtime"
)

// ProxyTarget selects which relays a configured SOCKS5 proxy applies to.
type ProxyTarget int

const (
	// ProxyTargetAll routes every relay connection through the proxy.
	ProxyTargetAll ProxyTarget = iota
	// ProxyTargetOnion routes only .onion relay connections through the
	// proxy, leaving clearnet relays to dial directly.
	ProxyTargetOnion
)

// ProxyConfig configures the optional SOCKS5 proxy used for onion relays
// (or all relays, per Target).
type ProxyConfig struct {
	Addr   string
	Target ProxyTarget
}

const (
	socks5Version    = 0x05
	socks5NoAuth     = 0x00
	socks5CmdConnect = 0x01
	atypIPv4         = 0x01
	atypDomain       = 0x03
	atypIPv6         = 0x04
)

// dialSocks5 performs a no-auth SOCKS5 CONNECT handshake to proxyAddr on
// behalf of host:port, byte for byte per RFC 1928:
//
//	-> 05 01 00
//	<- 05 00
//	-> 05 01 00 <atyp> <addr> <port>
//	<- 05 00 <atyp> <bound addr> <bound port>
func dialSocks5(ctx context.Context, rt runtime.Runtime, proxyAddr, host string, port uint16) (net.Conn, error) {
	proxyHost, proxyPort, err := net.SplitHostPort(proxyAddr)
	if err != nil {
		return nil, IOError("socks5: invalid proxy address", err)
	}
	conn, err := rt.TCPConnect(ctx, runtime.Addr{Host: proxyHost, Port: proxyPort})
	if err != nil {
		return nil, IOError("socks5: dial proxy", err)
	}

	if err := socks5Handshake(conn, host, port); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func socks5Handshake(conn net.Conn, host string, port uint16) error {
	// Greeting: version 5, one method, no-auth.
	if _, err := conn.Write([]byte{socks5Version, 0x01, socks5NoAuth}); err != nil {
		return IOError("socks5: write greeting", err)
	}

	reply := make([]byte, 2)
	if _, err := readFull(conn, reply); err != nil {
		return IOError("socks5: read greeting reply", err)
	}
	if reply[0] != socks5Version || reply[1] != socks5NoAuth {
		return IOError(fmt.Sprintf("socks5: unexpected greeting reply %x", reply), nil)
	}

	req, err := socks5ConnectRequest(host, port)
	if err != nil {
		return err
	}
	if _, err := conn.Write(req); err != nil {
		return IOError("socks5: write connect request", err)
	}

	header := make([]byte, 4)
	if _, err := readFull(conn, header); err != nil {
		return IOError("socks5: read connect reply header", err)
	}
	if header[0] != socks5Version || header[1] != 0x00 {
		return IOError(fmt.Sprintf("socks5: connect failed, reply code %d", header[1]), nil)
	}

	var addrLen int
	switch header[3] {
	case atypIPv4:
		addrLen = 4
	case atypIPv6:
		addrLen = 16
	case atypDomain:
		lenByte := make([]byte, 1)
		if _, err := readFull(conn, lenByte); err != nil {
			return IOError("socks5: read bound domain length", err)
		}
		addrLen = int(lenByte[0])
	default:
		return IOError(fmt.Sprintf("socks5: unknown bound address type %d", header[3]), nil)
	}

	// bound address + 2 bytes of bound port.
	if _, err := readFull(conn, make([]byte, addrLen+2)); err != nil {
		return IOError("socks5: read bound address", err)
	}
	return nil
}

func socks5ConnectRequest(host string, port uint16) ([]byte, error) {
	buf := []byte{socks5Version, socks5CmdConnect, 0x00}

	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			buf = append(buf, atypIPv4)
			buf = append(buf, v4...)
		} else {
			buf = append(buf, atypIPv6)
			buf = append(buf, ip.To16()...)
		}
	} else {
		if len(host) > 255 {
			return nil, IOError("socks5: domain name too long", nil)
		}
		buf = append(buf, atypDomain, byte(len(host)))
		buf = append(buf, host...)
	}

	portBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(portBytes, port)
	buf = append(buf, portBytes...)
	return buf, nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// shouldProxy reports whether url should be dialed through the configured
// proxy: proxy configured AND (target is All, or target is Onion and the
// URL is an onion address).
func (p *ProxyConfig) shouldProxy(isOnion bool) bool {
	if p == nil {
		return false
	}
	return p.Target == ProxyTargetAll || (p.Target == ProxyTargetOnion && isOnion)
}

func parsePort(port string) (uint16, error) {
	v, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("transport: invalid port %q: %w", port, err)
	}
	return uint16(v), nil
}
