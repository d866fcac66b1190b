//go:build linux

package shlhttp

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"

	"github.com/Senhnn/shlhttp/internal/socket"
	"github.com/Senhnn/shlhttp/tools/logger"
	"golang.org/x/sys/unix"
)

type Listener struct {
	once     sync.Once
	Fd       int
	Addr     net.Addr
	Address  string
	SockOpts []socket.SocketOption
}

// ConvertOptionToSocketOption 监听套接字需要在bind之前设置的选项
func ConvertOptionToSocketOption(options *Options) []socket.SocketOption {
	var sockOpts []socket.SocketOption

	if options.ReuseAddr {
		sockOpt := socket.SocketOption{SetSockOpt: socket.SetReuseAddr, Opt: 1}
		sockOpts = append(sockOpts, sockOpt)
	}
	if options.SocketRecvBuffer > 0 {
		sockOpt := socket.SocketOption{SetSockOpt: socket.SetRecvBuffer, Opt: options.SocketRecvBuffer}
		sockOpts = append(sockOpts, sockOpt)
	}
	if options.SocketSendBuffer > 0 {
		sockOpt := socket.SocketOption{SetSockOpt: socket.SetSendBuffer, Opt: options.SocketSendBuffer}
		sockOpts = append(sockOpts, sockOpt)
	}
	return sockOpts
}

// NewTCP4Listener 按选项创建非阻塞监听套接字
func NewTCP4Listener(options *Options) (l *Listener, err error) {
	addr := net.JoinHostPort(options.Address, strconv.Itoa(options.Port))
	l = &Listener{
		Fd:       -1,
		Address:  addr,
		SockOpts: ConvertOptionToSocketOption(options),
	}
	l.Fd, l.Addr, err = socket.TCP4ListenSocket(addr, options.Backlog, l.SockOpts...)
	if err != nil {
		logger.Error(fmt.Sprintf("NewTCP4Listener create new listener addr:%s, error: %s", addr, err))
		return nil, err
	}
	return l, nil
}

// setupConn 设置accept得到的连接套接字
func setupConn(fd int, options *Options) {
	if options.TCPNoDelay {
		if err := socket.SetNoDelay(fd, 1); err != nil {
			logger.WarnF("fd:%d set TCP_NODELAY error: %v", fd, err)
		}
	}
	if options.TCPKeepAlive > 0 {
		if err := socket.SetKeepAlivePeriod(fd, int(options.TCPKeepAlive.Seconds())); err != nil {
			logger.WarnF("fd:%d set keepalive error: %v", fd, err)
		}
	}
}

func (l *Listener) Close() {
	l.once.Do(func() {
		if l.Fd >= 0 {
			err := unix.Close(l.Fd)
			if err != nil {
				logger.Error(os.NewSyscallError("close", err))
			} else {
				logger.Debug("listener closed:", l.Address)
			}
		}
	})
}
