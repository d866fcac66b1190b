package shlerror

import "errors"

var (
	// ErrServerShutdown 服务器准备关闭，事件循环收到后退出
	ErrServerShutdown = errors.New("server is going to be shutdown")
	// ErrServerInShutdown 当服务器重复关闭时发生该错误
	ErrServerInShutdown = errors.New("server is in shutdown")
	// ErrAcceptSocket 接受新连接错误
	ErrAcceptSocket = errors.New("accept a new connection error")
	// ErrInvalidPort 端口不在1-65535范围内
	ErrInvalidPort = errors.New("invalid tcp port")
	// ErrInvalidOption 选项取值非法
	ErrInvalidOption = errors.New("invalid server option")
	// ErrNilCodecFactory 没有提供编解码器
	ErrNilCodecFactory = errors.New("codec factory is nil")
	// ErrPoolClosed 线程池已关闭，不再接收任务
	ErrPoolClosed = errors.New("worker pool is closed")
	// ErrWouldBlock 非阻塞读写暂时没有数据
	ErrWouldBlock = errors.New("operation would block")
	// ErrConnClosed 连接已经关闭
	ErrConnClosed = errors.New("connection is closed")
)
