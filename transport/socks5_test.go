package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeSocks5Server speaks the server side of the handshake and records the
// raw bytes it received, so the test can assert on bit-exact framing.
func fakeSocks5Server(t *testing.T, conn net.Conn, wantDomain string, wantPort uint16) []byte {
	t.Helper()

	greeting := make([]byte, 3)
	_, err := readFull(conn, greeting)
	require.NoError(t, err)
	require.Equal(t, []byte{0x05, 0x01, 0x00}, greeting)

	_, err = conn.Write([]byte{0x05, 0x00})
	require.NoError(t, err)

	header := make([]byte, 4)
	_, err = readFull(conn, header)
	require.NoError(t, err)
	require.Equal(t, byte(0x05), header[0])
	require.Equal(t, byte(0x01), header[1])
	require.Equal(t, byte(0x03), header[3], "expected DNS address type for onion host")

	lenByte := make([]byte, 1)
	_, err = readFull(conn, lenByte)
	require.NoError(t, err)
	domain := make([]byte, lenByte[0])
	_, err = readFull(conn, domain)
	require.NoError(t, err)
	require.Equal(t, wantDomain, string(domain))

	portBytes := make([]byte, 2)
	_, err = readFull(conn, portBytes)
	require.NoError(t, err)
	gotPort := uint16(portBytes[0])<<8 | uint16(portBytes[1])
	require.Equal(t, wantPort, gotPort)

	// Reply: success, bound address 0.0.0.0:0 (IPv4).
	reply := append([]byte{0x05, 0x00, 0x00, 0x01}, 0, 0, 0, 0, 0, 0)
	_, err = conn.Write(reply)
	require.NoError(t, err)

	all := append(append([]byte{}, greeting...), header...)
	all = append(all, lenByte...)
	all = append(all, domain...)
	all = append(all, portBytes...)
	return all
}

func TestSocks5HandshakeBitExact(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan []byte, 1)
	go func() {
		done <- fakeSocks5Server(t, server, "abc.onion", 443)
	}()

	err := socks5Handshake(client, "abc.onion", 443)
	require.NoError(t, err)

	select {
	case raw := <-done:
		require.Equal(t, byte(0x05), raw[0])
		require.Equal(t, byte(0x01), raw[1])
		require.Equal(t, byte(0x00), raw[2])
	case <-time.After(time.Second):
		t.Fatal("server goroutine did not complete")
	}
}

func TestProxyTargetSelection(t *testing.T) {
	onionOnly := &ProxyConfig{Addr: "127.0.0.1:9050", Target: ProxyTargetOnion}
	require.True(t, onionOnly.shouldProxy(true))
	require.False(t, onionOnly.shouldProxy(false))

	all := &ProxyConfig{Addr: "127.0.0.1:9050", Target: ProxyTargetAll}
	require.True(t, all.shouldProxy(true))
	require.True(t, all.shouldProxy(false))

	var nilProxy *ProxyConfig
	require.False(t, nilProxy.shouldProxy(true))
}
