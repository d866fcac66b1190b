package shlhttp

import (
	"net"

	"github.com/Senhnn/shlhttp/internal/netpoll"
)

// Interest 写操作之后需要关注的事件
type Interest = netpoll.Interest

const (
	// InterestRead 响应已全部发出
	InterestRead = netpoll.Readable
	// InterestWrite 发送缓冲区满，还有数据没发完
	InterestWrite = netpoll.Writable
)

// RequestStatus 解析请求的结果
type RequestStatus int

const (
	// NoRequest 数据不足以组成一个请求
	NoRequest RequestStatus = iota
	// Complete 解析出一个完整请求
	Complete
	// Malformed 请求格式错误
	Malformed
)

func (s RequestStatus) String() string {
	switch s {
	case NoRequest:
		return "no-request"
	case Complete:
		return "complete"
	case Malformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Codec 连接上的协议编解码器。同一时刻只有一个worker调用同一个Codec
type Codec interface {
	// Fd 连接的文件描述符
	Fd() int
	// Read 非阻塞读到EAGAIN。nil表示读到了数据，ErrWouldBlock表示没有新数据，
	// io.EOF或其他错误表示连接需要关闭
	Read() error
	// ProcessRequest 从已读数据中解析请求
	ProcessRequest() RequestStatus
	// ProcessResponse 为请求准备响应，false表示无法响应，连接将被关闭
	ProcessResponse(RequestStatus) bool
	// Write 发送响应。InterestWrite表示还有剩余，InterestRead表示已发完
	Write() (Interest, error)
	// KeepAlive 响应发完后是否保持连接
	KeepAlive() bool
	// Release 连接关闭时释放资源，之后不会再被调用
	Release()
}

// Buffered 可选接口，Codec的读缓冲里已有下一个请求时返回true。
// 边沿触发下这些数据不会再产生可读事件，响应发完后直接处理
type Buffered interface {
	Buffered() bool
}

// CodecFactory 为新连接创建Codec
type CodecFactory func(fd int, remote net.Addr) Codec
