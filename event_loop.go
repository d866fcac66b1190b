//go:build linux

package shlhttp

import (
	"errors"
	"net"
	"os"
	"runtime"

	"github.com/Senhnn/shlhttp/internal/metrics"
	"github.com/Senhnn/shlhttp/internal/netpoll"
	"github.com/Senhnn/shlhttp/internal/socket"
	"github.com/Senhnn/shlhttp/internal/workerpool"
	"github.com/Senhnn/shlhttp/tools/logger"
	"github.com/Senhnn/shlhttp/tools/shlerror"
	"golang.org/x/sys/unix"
)

// run 事件循环，只在一个goroutine上运行
func (s *Server) run() {
	if s.opts.LockOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}
	defer s.cleanup()

	for {
		events, err := s.poller.Wait(s.opts.PollTimeout)
		if err != nil {
			logger.Error("event-loop is exiting due to error:", err)
			return
		}
		for _, ev := range events {
			s.handleEvent(ev)
		}

		if err = s.poller.RunTasks(); err != nil {
			if errors.Is(err, shlerror.ErrServerShutdown) {
				logger.Info("event-loop is exiting in terms of the demand from user")
				return
			}
			logger.Error("event-loop task error:", err)
		}
	}
}

func (s *Server) handleEvent(ev netpoll.Event) {
	if ev.Fd == s.ln.Fd {
		if ev.Flags&netpoll.HangupError != 0 {
			logger.ErrorF("listener fd:%d reported %s", ev.Fd, ev.Flags)
		}
		if ev.Flags&netpoll.Readable != 0 {
			s.accept()
		}
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.table.byFd(ev.Fd)
	if !ok {
		// 同一批事件里连接已经被关闭
		return
	}

	switch {
	case ev.Flags&netpoll.HangupError != 0:
		s.closeLocked(c, metrics.ReasonHangup)
	case ev.Flags&netpoll.Readable != 0:
		s.onRead(c)
	case ev.Flags&netpoll.Writable != 0:
		s.onWrite(c)
	default:
		logger.WarnF("conn:%d fd:%d unexpected event %s", c.id, c.fd, ev.Flags)
	}
}

// accept 边沿触发下必须一直accept到EAGAIN
func (s *Server) accept() {
	for {
		nfd, sa, err := unix.Accept4(s.ln.Fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			switch {
			case errors.Is(err, unix.EAGAIN):
			case errors.Is(err, unix.EINTR), errors.Is(err, unix.ECONNABORTED):
				continue
			default:
				logger.ErrorF("%v: %v", shlerror.ErrAcceptSocket, os.NewSyscallError("accept4", err))
			}
			return
		}
		remote := socket.SockaddrToTCPAddr(sa)

		s.mu.Lock()
		if s.table.len() >= s.opts.MaxConnections {
			s.mu.Unlock()
			_ = unix.Close(nfd)
			s.opts.Metrics.ConnRejected()
			logger.WarnF("reject connection from %v: %d connections reached", remote, s.opts.MaxConnections)
			continue
		}
		s.open(nfd, remote)
		s.mu.Unlock()
	}
}

// open 把新连接加入连接表并开始计时。调用方持有s.mu
func (s *Server) open(fd int, remote net.Addr) {
	setupConn(fd, s.opts)

	codec := s.factory(fd, remote)
	if codec == nil {
		logger.ErrorF("codec factory returned nil for %v", remote)
		_ = unix.Close(fd)
		return
	}

	c := s.table.insert(fd, remote)
	c.codec = codec
	if err := s.poller.Register(fd, netpoll.Readable|s.connFlags()); err != nil {
		logger.ErrorF("register conn:%d fd:%d error: %v", c.id, fd, err)
		s.table.remove(c)
		c.state = StateClosed
		s.finalize(c)
		return
	}
	s.wheel.AddTimer(c.id, s.opts.IdleTicks, s.onExpire)
	c.state = StateAwaitingRequest

	s.opts.Metrics.ConnAccepted()
	s.opts.Metrics.ActiveConns(s.table.len())
	logger.DebugF("conn:%d fd:%d accepted from %v", c.id, fd, remote)
}

// onRead 刷新空闲计时，连接空闲时投递读请求任务。
// worker处理期间的可读事件被忽略，worker交还连接时重新武装会再次上报
func (s *Server) onRead(c *Conn) {
	s.touch(c)
	if c.busy || c.state != StateAwaitingRequest {
		return
	}
	s.submit(c, StateProcessingRequest, workerpool.HandleRequest)
}

// onWrite 可写时同样刷新空闲计时
func (s *Server) onWrite(c *Conn) {
	s.touch(c)
	if c.busy || c.state != StateAwaitingResponse {
		return
	}
	s.submit(c, StateProcessingResponse, workerpool.HandleResponse)
}

// touch 重新设置超时，不累加
func (s *Server) touch(c *Conn) {
	s.wheel.AddTimer(c.id, s.opts.IdleTicks, s.onExpire)
}

// onExpire 时间轮回调，在时间轮的锁外执行。
// 在s.mu内确认定时器没有被刷新，和touch互斥
func (s *Server) onExpire(id, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.table.conns[id]
	if !s.wheel.Expire(id, gen) || !ok {
		return
	}
	s.closeLocked(c, metrics.ReasonTimeout)
	s.evicted.Add(1)
	logger.DebugF("conn:%d idle timeout", id)
}
