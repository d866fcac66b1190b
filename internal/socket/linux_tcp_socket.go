//go:build linux

package socket

import (
	"bufio"
	"errors"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/Senhnn/shlhttp/tools/logger"
	"golang.org/x/sys/unix"
)

type FD = int

var ipv4InIPv6Prefix = []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xff, 0xff}

// SomaxConn 读取内核允许的最大backlog
func SomaxConn() int {
	fd, err := os.Open("/proc/sys/net/core/somaxconn")
	if err != nil {
		return unix.SOMAXCONN
	}
	defer fd.Close()

	rd := bufio.NewReader(fd)
	line, err := rd.ReadString('\n')
	if err != nil {
		return unix.SOMAXCONN
	}

	f := strings.Fields(line)
	if len(f) < 1 {
		return unix.SOMAXCONN
	}

	n, err := strconv.Atoi(f[0])
	if err != nil || n == 0 {
		return unix.SOMAXCONN
	}
	return n
}

// SocketOption 设置套接字选项
type SocketOption struct {
	SetSockOpt func(int, int) error
	Opt        int
}

// TCP4ListenSocket 新建一个非阻塞监听套接字，任何一步失败都会关闭fd
func TCP4ListenSocket(addr string, backlog int, sockOpts ...SocketOption) (fd FD, netAddr net.Addr, err error) {
	sa, tcpAddr, err := GetTCP4SockAddr(addr)
	if err != nil {
		logger.Error(err)
		return -1, nil, err
	}

	if fd, err = unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP); err != nil {
		err = os.NewSyscallError("socket", err)
		logger.Error(err)
		return -1, nil, err
	}
	defer func() {
		if err != nil {
			_ = unix.Close(fd)
			fd = -1
		}
	}()

	for _, sockOpt := range sockOpts {
		if err = sockOpt.SetSockOpt(fd, sockOpt.Opt); err != nil {
			logger.Error(err)
			return
		}
	}

	// 绑定套接字
	if err = os.NewSyscallError("bind", unix.Bind(fd, sa)); err != nil {
		logger.Error(err)
		return
	}

	// 设置backlog，超过内核上限时由内核截断
	if max := SomaxConn(); backlog > max {
		logger.WarnF("listen backlog %d exceeds somaxconn %d", backlog, max)
	}
	if err = os.NewSyscallError("listen", unix.Listen(fd, backlog)); err != nil {
		logger.Error(err)
		return
	}

	// 端口为0时取内核分配的实际端口
	if tcpAddr.Port == 0 {
		var bound unix.Sockaddr
		if bound, err = unix.Getsockname(fd); err != nil {
			err = os.NewSyscallError("getsockname", err)
			return
		}
		if a, ok := SockaddrToTCPAddr(bound).(*net.TCPAddr); ok {
			tcpAddr.Port = a.Port
		}
	}

	return fd, tcpAddr, nil
}

// GetTCP4SockAddr 获得出IPV4,TCP套接字的地址
func GetTCP4SockAddr(addr string) (sa *unix.SockaddrInet4, tcpAddr *net.TCPAddr, err error) {
	// 解析地址并返回对应结构
	tcpAddr, err = net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return
	}

	if len(tcpAddr.IP) == 0 {
		tcpAddr.IP = net.IPv4zero
	}
	ip4 := tcpAddr.IP.To4()
	if ip4 == nil {
		return &unix.SockaddrInet4{}, tcpAddr, &net.AddrError{Err: "non-IPv4 address", Addr: tcpAddr.IP.String()}
	}

	addr4 := &unix.SockaddrInet4{Port: tcpAddr.Port}
	copy(addr4.Addr[:], ip4)

	return addr4, tcpAddr, nil
}

// SockaddrToTCPAddr 把SockAddr转换为TCPAddr
func SockaddrToTCPAddr(sa unix.Sockaddr) net.Addr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: sockaddrInet4ToIP(sa), Port: sa.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, sa.Addr[:])
		return &net.TCPAddr{IP: ip, Port: sa.Port}
	}
	return nil
}

// 把SockaddrInet4转换成net.IP
func sockaddrInet4ToIP(sa *unix.SockaddrInet4) net.IP {
	ip := make([]byte, 16)
	copy(ip[0:12], ipv4InIPv6Prefix)
	copy(ip[12:16], sa.Addr[:])
	return ip
}

// SetKeepAlivePeriod 设置长连接keep-alive
func SetKeepAlivePeriod(fd, secs int) error {
	if secs <= 0 {
		return errors.New("invalid time duration")
	}
	// 开启keepalive机制
	if err := os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)); err != nil {
		return err
	}
	// 保活探测包的发送间隔
	if err := os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, secs)); err != nil {
		return err
	}
	// 允许的持续空闲时长
	return os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, secs))
}

// SetNoDelay 是否开启nagel算法，如果要提高吞吐量，则设置noDelay=0，如果要强调数据的实时性，则设置noDelay=1
func SetNoDelay(fd, noDelay int) error {
	return os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, noDelay))
}

// SetRecvBuffer 设置套接字的接收缓冲区
func SetRecvBuffer(fd, size int) error {
	return os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, size))
}

// SetSendBuffer 设置套接字的发送缓冲区
func SetSendBuffer(fd, size int) error {
	return os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, size))
}

// SetReuseAddr 开启地址复用，在time_wait等待期间依然可以监听地址端口
func SetReuseAddr(fd, reuseAddr int) error {
	return os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, reuseAddr))
}
