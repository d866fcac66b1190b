package shlhttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Senhnn/shlhttp/internal/metrics"
	"github.com/Senhnn/shlhttp/internal/netpoll"
	"github.com/Senhnn/shlhttp/internal/timewheel"
	"github.com/Senhnn/shlhttp/internal/workerpool"
	"github.com/Senhnn/shlhttp/tools/logger"
	"github.com/Senhnn/shlhttp/tools/shlerror"
)

type Server struct {
	ln      *Listener         // 监听器，监听端口建立连接
	poller  netpoll.Netpoller // 就绪事件多路复用器
	pool    *workerpool.Pool  // 处理请求和响应的线程池
	wheel   *timewheel.Wheel  // 空闲超时
	factory CodecFactory      // 为新连接创建codec
	opts    *Options          // 可设置选项

	mu    sync.Mutex // 保护连接表和连接的可变字段
	table connTable

	evicted      atomic.Uint64      // 超时关闭的连接数
	inShutdown   atomic.Bool        // 已经调用过Stop
	cleanupOnce  sync.Once          // 事件循环退出后只清理一次
	done         chan struct{}      // 清理完成后关闭
	stopTicker   context.CancelFunc // 停止tick驱动
	tickerExited chan struct{}
}

func newServer(factory CodecFactory, opts *Options) (*Server, error) {
	ln, err := NewTCP4Listener(opts)
	if err != nil {
		return nil, err
	}

	poller, err := netpoll.NewEpoller()
	if err != nil {
		ln.Close()
		return nil, err
	}

	s := &Server{
		ln:      ln,
		poller:  poller,
		wheel:   timewheel.New(opts.WheelSize),
		factory: factory,
		opts:    opts,
		table:   newConnTable(),
		done:    make(chan struct{}),
	}

	if err = poller.Register(ln.Fd, netpoll.Readable|netpoll.HangupError|s.listenFlags()); err != nil {
		_ = poller.Close()
		ln.Close()
		return nil, fmt.Errorf("register listener: %w", err)
	}

	s.pool = workerpool.New(opts.NumWorkers, s.handleTask)
	return s, nil
}

func (s *Server) listenFlags() netpoll.Interest {
	if s.opts.ListenEdgeTriggered {
		return netpoll.EdgeTriggered
	}
	return 0
}

// 连接套接字除读写之外始终关注的事件
func (s *Server) connFlags() netpoll.Interest {
	if s.opts.ConnEdgeTriggered {
		return netpoll.HangupError | netpoll.EdgeTriggered
	}
	return netpoll.HangupError
}

// submit 标记连接忙碌并投递任务。调用方持有s.mu
func (s *Server) submit(c *Conn, next ConnState, kind workerpool.TaskKind) {
	c.busy = true
	c.state = next
	// 水平触发下处理期间暂停关注读写，避免事件循环空转
	if !s.opts.ConnEdgeTriggered {
		if err := s.poller.Modify(c.fd, s.connFlags()); err != nil {
			logger.ErrorF("disarm conn:%d fd:%d error: %v", c.id, c.fd, err)
		}
	}
	if err := s.pool.AddTask(workerpool.Task{ConnID: c.id, Kind: kind}); err != nil {
		logger.ErrorF("submit %s for conn:%d error: %v", kind, c.id, err)
		c.busy = false
		s.closeLocked(c, metrics.ReasonShutdown)
		return
	}
	s.opts.Metrics.TaskSubmitted(kind.String())
}

// handleTask worker入口，先按id重新查找连接
func (s *Server) handleTask(t workerpool.Task) {
	s.mu.Lock()
	c, ok := s.table.conns[t.ConnID]
	if !ok {
		// 任务排队期间连接被关闭
		if c, ok = s.table.detached[t.ConnID]; ok {
			c.busy = false
			s.finalize(c)
		}
		s.mu.Unlock()
		return
	}
	codec := c.codec
	s.mu.Unlock()

	switch t.Kind {
	case workerpool.HandleRequest:
		s.handleRequest(c, codec)
	case workerpool.HandleResponse:
		s.handleResponse(c, codec)
	}
}

func (s *Server) handleRequest(c *Conn, codec Codec) {
	if err := codec.Read(); err != nil && !errors.Is(err, shlerror.ErrWouldBlock) {
		if !errors.Is(err, io.EOF) {
			logger.DebugF("conn:%d read error: %v", c.id, err)
		}
		s.releaseAndClose(c, metrics.ReasonPeer)
		return
	}

	status := codec.ProcessRequest()
	if status == NoRequest {
		s.release(c, StateAwaitingRequest, netpoll.Readable)
		return
	}
	if !codec.ProcessResponse(status) {
		s.releaseAndClose(c, metrics.ReasonProtocol)
		return
	}
	s.release(c, StateAwaitingResponse, netpoll.Writable)
}

func (s *Server) handleResponse(c *Conn, codec Codec) {
	interest, err := codec.Write()
	if err != nil {
		logger.DebugF("conn:%d write error: %v", c.id, err)
		s.releaseAndClose(c, metrics.ReasonPeer)
		return
	}
	if interest&netpoll.Writable != 0 {
		s.release(c, StateAwaitingResponse, netpoll.Writable)
		return
	}
	if !codec.KeepAlive() {
		s.releaseAndClose(c, metrics.ReasonComplete)
		return
	}

	// 下一个请求已经在codec的缓冲里，不会再有可读事件
	if b, ok := codec.(Buffered); ok && b.Buffered() {
		s.mu.Lock()
		closed := c.state == StateClosed
		if !closed {
			c.state = StateProcessingRequest
		}
		s.mu.Unlock()
		if closed {
			s.releaseAndClose(c, metrics.ReasonShutdown)
			return
		}
		s.handleRequest(c, codec)
		return
	}
	s.release(c, StateAwaitingRequest, netpoll.Readable)
}

// closeAllConnections 关闭所有连接，在事件循环上执行
func (s *Server) closeAllConnections(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.table.conns {
		s.closeLocked(c, reason)
	}
}

// cleanup 事件循环退出后释放所有资源
func (s *Server) cleanup() {
	s.cleanupOnce.Do(func() {
		s.closeAllConnections(metrics.ReasonShutdown)
		s.ln.Close()

		if s.stopTicker != nil {
			s.stopTicker()
			select {
			case <-s.tickerExited:
			case <-time.After(time.Second):
				logger.Warn("timewheel ticker did not exit in time")
			}
		}
		// 等待正在执行的任务结束，之后不会再有人使用poller
		s.pool.Close()

		if err := s.poller.Close(); err != nil {
			logger.Error("failed to close poller when stopping server:", err)
		}
		close(s.done)
		logger.Info("server stopped:", s.ln.Address)
	})
}
