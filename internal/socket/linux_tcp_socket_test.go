//go:build linux

package socket

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestGetTCP4SockAddr(t *testing.T) {
	sa, addr, err := GetTCP4SockAddr(":8080")
	require.NoError(t, err)
	assert.Equal(t, 8080, sa.Port)
	assert.Equal(t, [4]byte{0, 0, 0, 0}, sa.Addr)
	assert.True(t, addr.IP.Equal(net.IPv4zero))

	_, _, err = GetTCP4SockAddr("[::1]:80")
	assert.Error(t, err)
}

func TestTCP4ListenSocketEphemeralPort(t *testing.T) {
	fd, addr, err := TCP4ListenSocket("127.0.0.1:0", 5, SocketOption{SetSockOpt: SetReuseAddr, Opt: 1})
	require.NoError(t, err)
	defer unix.Close(fd)

	tcpAddr := addr.(*net.TCPAddr)
	assert.NotZero(t, tcpAddr.Port)

	c, err := net.Dial("tcp", tcpAddr.String())
	require.NoError(t, err)
	_ = c.Close()
}

func TestTCP4ListenSocketBindConflict(t *testing.T) {
	fd, addr, err := TCP4ListenSocket("127.0.0.1:0", 5)
	require.NoError(t, err)
	defer unix.Close(fd)

	fd2, _, err := TCP4ListenSocket(addr.String(), 5)
	assert.Error(t, err)
	assert.Equal(t, -1, fd2)
}

func TestSockaddrToTCPAddr(t *testing.T) {
	a := SockaddrToTCPAddr(&unix.SockaddrInet4{Port: 99, Addr: [4]byte{10, 0, 0, 1}}).(*net.TCPAddr)
	assert.Equal(t, "10.0.0.1:99", a.String())
	assert.Nil(t, SockaddrToTCPAddr(&unix.SockaddrUnix{Name: "x"}))
}
