package shlhttp

import (
	"fmt"
	"time"

	"github.com/Senhnn/shlhttp/internal/metrics"
	"github.com/Senhnn/shlhttp/internal/workerpool"
	"github.com/Senhnn/shlhttp/tools/shlerror"
)

// 默认参数
const (
	DefaultBacklog        = 5
	DefaultMaxConnections = 1024
	DefaultNumWorkers     = workerpool.DefaultWorkers
	DefaultPollTimeout    = 100 * time.Millisecond
	DefaultWheelSize      = 60
	DefaultTickInterval   = time.Second
	DefaultIdleTicks      = 60
)

type Options struct {
	// Address 绑定的IPv4地址，空表示所有地址
	Address string

	// Port 监听端口，必须设置；0表示由内核分配（测试用）
	Port    int
	portSet bool

	// Backlog listen队列长度
	Backlog int

	// MaxConnections 同时存活的最大连接数，超过的新连接直接关闭
	MaxConnections int

	// NumWorkers 线程池worker数量
	NumWorkers int

	// PollTimeout 每次epoll_wait最长等待时间
	PollTimeout time.Duration

	// WheelSize 时间轮格子数
	WheelSize int

	// TickInterval 时间轮走一格的间隔，0表示不启动定时驱动，由调用方手动Tick
	TickInterval time.Duration

	// IdleTicks 连接空闲多少个tick后关闭，小于1按1处理
	IdleTicks int

	// ListenEdgeTriggered 监听套接字是否使用边沿触发
	ListenEdgeTriggered bool

	// ConnEdgeTriggered 连接套接字是否使用边沿触发
	ConnEdgeTriggered bool

	// 是否需要给socket设置SO_REUSEADDR
	ReuseAddr bool

	// 是否开启Nagle算法，true表示不开启，false表示开启
	TCPNoDelay bool

	// TCPKeepAlive 设置tcp连接的保活时间
	TCPKeepAlive time.Duration

	// SocketRecvBuffer 设置socket读缓冲区
	SocketRecvBuffer int

	// SocketSendBuffer 设置socket写缓冲区
	SocketSendBuffer int

	// 事件循环goroutine绑定到线程
	LockOSThread bool

	// Metrics 指标收集器，nil时不记录
	Metrics metrics.Collector
}

type OptionFunc = func(*Options)

// LoadOptions 在默认值上依次应用options，返回最终的Options结构
func LoadOptions(options ...OptionFunc) *Options {
	opts := &Options{
		Backlog:             DefaultBacklog,
		MaxConnections:      DefaultMaxConnections,
		NumWorkers:          DefaultNumWorkers,
		PollTimeout:         DefaultPollTimeout,
		WheelSize:           DefaultWheelSize,
		TickInterval:        DefaultTickInterval,
		IdleTicks:           DefaultIdleTicks,
		ListenEdgeTriggered: true,
		ConnEdgeTriggered:   true,
	}
	for _, option := range options {
		option(opts)
	}
	return opts
}

// 校验并规范化
func (o *Options) normalize() error {
	if !o.portSet || o.Port < 0 || o.Port > 65535 {
		return fmt.Errorf("%w: %d", shlerror.ErrInvalidPort, o.Port)
	}
	if o.Backlog < 1 {
		return fmt.Errorf("%w: backlog %d", shlerror.ErrInvalidOption, o.Backlog)
	}
	if o.MaxConnections < 1 {
		return fmt.Errorf("%w: max connections %d", shlerror.ErrInvalidOption, o.MaxConnections)
	}
	if o.NumWorkers < 1 {
		return fmt.Errorf("%w: workers %d", shlerror.ErrInvalidOption, o.NumWorkers)
	}
	if o.WheelSize < 1 {
		return fmt.Errorf("%w: wheel size %d", shlerror.ErrInvalidOption, o.WheelSize)
	}
	if o.TickInterval < 0 {
		return fmt.Errorf("%w: tick interval %v", shlerror.ErrInvalidOption, o.TickInterval)
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = DefaultPollTimeout
	}
	if o.IdleTicks < 1 {
		o.IdleTicks = 1
	}
	if o.Metrics == nil {
		o.Metrics = metrics.Noop()
	}
	return nil
}

// WithOptions 手动设置所有选项
func WithOptions(options Options) OptionFunc {
	return func(opts *Options) {
		*opts = options
		opts.portSet = opts.portSet || options.Port != 0
	}
}

// WithAddress 绑定地址
func WithAddress(address string) OptionFunc {
	return func(opts *Options) {
		opts.Address = address
	}
}

// WithPort 监听端口
func WithPort(port int) OptionFunc {
	return func(opts *Options) {
		opts.Port = port
		opts.portSet = true
	}
}

// WithBacklog listen队列长度
func WithBacklog(backlog int) OptionFunc {
	return func(opts *Options) {
		opts.Backlog = backlog
	}
}

// WithMaxConnections 最大连接数
func WithMaxConnections(n int) OptionFunc {
	return func(opts *Options) {
		opts.MaxConnections = n
	}
}

// WithNumWorkers 线程池大小
func WithNumWorkers(n int) OptionFunc {
	return func(opts *Options) {
		opts.NumWorkers = n
	}
}

// WithPollTimeout epoll_wait超时
func WithPollTimeout(d time.Duration) OptionFunc {
	return func(opts *Options) {
		opts.PollTimeout = d
	}
}

// WithWheelSize 时间轮格子数
func WithWheelSize(n int) OptionFunc {
	return func(opts *Options) {
		opts.WheelSize = n
	}
}

// WithTickInterval 时间轮tick间隔，0关闭定时驱动
func WithTickInterval(d time.Duration) OptionFunc {
	return func(opts *Options) {
		opts.TickInterval = d
	}
}

// WithIdleTicks 空闲超时的tick数
func WithIdleTicks(n int) OptionFunc {
	return func(opts *Options) {
		opts.IdleTicks = n
	}
}

// WithEdgeTriggered 分别设置监听套接字和连接套接字的触发方式
func WithEdgeTriggered(listen, conn bool) OptionFunc {
	return func(opts *Options) {
		opts.ListenEdgeTriggered = listen
		opts.ConnEdgeTriggered = conn
	}
}

// WithLockOSThread 事件循环是否锁线程
func WithLockOSThread(lockOSThread bool) OptionFunc {
	return func(opts *Options) {
		opts.LockOSThread = lockOSThread
	}
}

// WithReuseAddr 设置SO_REUSEADDR
func WithReuseAddr(reuseAddr bool) OptionFunc {
	return func(opts *Options) {
		opts.ReuseAddr = reuseAddr
	}
}

// WithTCPKeepAlive 设置tcp保活时间
func WithTCPKeepAlive(tcpKeepAlive time.Duration) OptionFunc {
	return func(opts *Options) {
		opts.TCPKeepAlive = tcpKeepAlive
	}
}

// WithTCPNoDelay 关闭Nagle算法
func WithTCPNoDelay(tcpNoDelay bool) OptionFunc {
	return func(opts *Options) {
		opts.TCPNoDelay = tcpNoDelay
	}
}

// WithSocketRecvBuffer 设置套接字接收缓冲区大小
func WithSocketRecvBuffer(recvBuf int) OptionFunc {
	return func(opts *Options) {
		opts.SocketRecvBuffer = recvBuf
	}
}

// WithSocketSendBuffer 设置套接字发送缓冲区大小
func WithSocketSendBuffer(sendBuf int) OptionFunc {
	return func(opts *Options) {
		opts.SocketSendBuffer = sendBuf
	}
}

// WithMetrics 设置指标收集器
func WithMetrics(c metrics.Collector) OptionFunc {
	return func(opts *Options) {
		opts.Metrics = c
	}
}
