// Package shlhttp 单reactor、线程池和时间轮组成的TCP/HTTP服务器核心。
//
// 事件循环独占epoll，负责accept和分发读写就绪；请求的读取、解析和响应发送在线程池中执行；
// 时间轮按tick关闭空闲连接。协议由Codec实现，见internal/httpcodec。
package shlhttp

import (
	"context"
	"net"

	"github.com/Senhnn/shlhttp/internal/metrics"
	"github.com/Senhnn/shlhttp/tools/logger"
	"github.com/Senhnn/shlhttp/tools/shlerror"
)

// Run 创建监听套接字、epoll、线程池和时间轮，并在后台启动事件循环。
// 启动失败时返回错误，不会留下任何运行中的goroutine
func Run(factory CodecFactory, opts ...OptionFunc) (*Server, error) {
	if factory == nil {
		return nil, shlerror.ErrNilCodecFactory
	}
	// 整理选项参数
	options := LoadOptions(opts...)
	if err := options.normalize(); err != nil {
		logger.Error("Run err:", err)
		return nil, err
	}

	s, err := newServer(factory, options)
	if err != nil {
		logger.Error("Run err:", err)
		return nil, err
	}

	s.startTicker(options.TickInterval)
	go s.run()

	logger.InfoF("server listening on %s, max connections:%d, workers:%d, idle ticks:%d",
		s.Addr(), options.MaxConnections, options.NumWorkers, options.IdleTicks)
	return s, nil
}

// Serve 阻塞直到服务器完全停止
func (s *Server) Serve() {
	<-s.done
}

// Done 服务器完全停止后关闭
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Stop 关闭所有连接并停止事件循环、线程池和tick驱动，等待完成或ctx结束。
// 重复调用返回ErrServerInShutdown
func (s *Server) Stop(ctx context.Context) error {
	if !s.inShutdown.CompareAndSwap(false, true) {
		return shlerror.ErrServerInShutdown
	}

	// 在事件循环上关闭连接，返回ErrServerShutdown使循环退出
	err := s.poller.Trigger(func(_ interface{}) error {
		s.closeAllConnections(metrics.ReasonShutdown)
		return shlerror.ErrServerShutdown
	}, nil)
	if err != nil {
		// 事件循环已经因为错误退出
		logger.Warn("failed to trigger shutdown task:", err)
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tick 时间轮走一格，返回本次超时关闭的连接数
func (s *Server) Tick() int {
	before := s.evicted.Load()
	s.wheel.Tick()
	n := int(s.evicted.Load() - before)
	s.opts.Metrics.Tick(n)
	return n
}

// Addr 实际监听的地址
func (s *Server) Addr() net.Addr {
	return s.ln.Addr
}

// Options 服务器使用的选项
func (s *Server) Options() Options {
	return *s.opts
}
