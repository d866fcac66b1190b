package httpcodec

import (
	"bytes"
	"errors"
	"io"
	"net"
	"os"

	"github.com/Senhnn/shlhttp"
	shlio "github.com/Senhnn/shlhttp/internal/io"
	"github.com/Senhnn/shlhttp/tools/logger"
	"github.com/Senhnn/shlhttp/tools/shlerror"
	"golang.org/x/sys/unix"
)

const readChunk = 4096

// codec 单个连接的读缓冲、当前请求和待发送的响应
// 同一时刻只会有一个worker操作同一个codec，不需要加锁
type codec struct {
	fd     int
	remote net.Addr
	srv    *FileServer

	in []byte

	req       *request
	keepAlive bool

	header []byte
	body   []byte
	iov    [][]byte
}

var _ shlhttp.Codec = (*codec)(nil)

func (c *codec) Fd() int {
	return c.fd
}

// Read 非阻塞读到EAGAIN为止，对端关闭时返回io.EOF
func (c *codec) Read() error {
	got := 0
	var chunk [readChunk]byte
	for len(c.in) <= c.srv.maxSize {
		n, err := unix.Read(c.fd, chunk[:])
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if errors.Is(err, unix.EAGAIN) {
				break
			}
			return os.NewSyscallError("read", err)
		}
		if n == 0 {
			return io.EOF
		}
		c.in = append(c.in, chunk[:n]...)
		got += n
	}
	if got == 0 {
		return shlerror.ErrWouldBlock
	}
	return nil
}

// ProcessRequest 从读缓冲中取出一个完整请求
func (c *codec) ProcessRequest() shlhttp.RequestStatus {
	if len(c.in) == 0 {
		return shlhttp.NoRequest
	}
	req, size, st := parseRequest(c.in)
	switch st {
	case parseBad:
		c.in = c.in[:0]
		return shlhttp.Malformed
	case parseIncomplete:
		if len(c.in) > c.srv.maxSize {
			c.in = c.in[:0]
			return shlhttp.Malformed
		}
		return shlhttp.NoRequest
	}

	// 剩余字节属于下一个请求（pipelining）
	rest := copy(c.in, c.in[size:])
	c.in = c.in[:rest]
	c.req = req
	return shlhttp.Complete
}

// ProcessResponse 根据请求结果准备响应，返回false表示没有可发送的响应
func (c *codec) ProcessResponse(status shlhttp.RequestStatus) bool {
	switch status {
	case shlhttp.Malformed:
		c.keepAlive = false
		c.setResponse(c.srv.errorResponse(400, false))
		logger.DebugF("httpcodec: malformed request from %v", c.remote)
		return true
	case shlhttp.Complete:
		if c.req == nil {
			return false
		}
		c.keepAlive = c.req.keepAlive
		resp := c.srv.respond(c.req, c.keepAlive)
		logger.DebugF("httpcodec: %v %s %s -> %d", c.remote, c.req.method, c.req.target, resp.code)
		c.req = nil
		c.setResponse(resp)
		return true
	default:
		return false
	}
}

func (c *codec) setResponse(r *response) {
	c.header = r.header
	c.body = r.body
	c.iov = append(c.iov[:0], c.header, c.body)
}

// Write 用writev发送响应；发送缓冲区满时返回InterestWrite，全部发完返回InterestRead
func (c *codec) Write() (shlhttp.Interest, error) {
	for shlio.Remaining(c.iov) > 0 {
		n, err := shlio.Writev(c.fd, c.iov)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if errors.Is(err, unix.EAGAIN) {
				return shlhttp.InterestWrite, nil
			}
			return 0, os.NewSyscallError("writev", err)
		}
		c.iov = shlio.Advance(c.iov, n)
	}
	c.iov = c.iov[:0]
	c.header, c.body = nil, nil
	return shlhttp.InterestRead, nil
}

func (c *codec) KeepAlive() bool {
	return c.keepAlive
}

// Buffered 读缓冲里已经有完整的请求头
func (c *codec) Buffered() bool {
	return bytes.Contains(c.in, crlf2)
}

func (c *codec) Release() {
	c.in = nil
	c.req = nil
	c.header, c.body, c.iov = nil, nil, nil
}
