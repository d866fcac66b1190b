package shlhttp

import (
	"net"
	"os"

	"github.com/Senhnn/shlhttp/internal/metrics"
	"github.com/Senhnn/shlhttp/internal/netpoll"
	"github.com/Senhnn/shlhttp/tools/logger"
	"golang.org/x/sys/unix"
)

// ConnState 连接所处的阶段
type ConnState int

const (
	StateNew ConnState = iota
	StateAwaitingRequest
	StateProcessingRequest
	StateAwaitingResponse
	StateProcessingResponse
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateAwaitingRequest:
		return "awaiting-request"
	case StateProcessingRequest:
		return "processing-request"
	case StateAwaitingResponse:
		return "awaiting-response"
	case StateProcessingResponse:
		return "processing-response"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn 连接表中的一项。除id、fd、remoteAddr外的字段都由Server.mu保护
type Conn struct {
	id         uint64   // 单调递增，不复用
	fd         int      // 文件描述符
	remoteAddr net.Addr // 远端地址
	codec      Codec

	state ConnState
	busy  bool // 有worker正在处理该连接
}

// connTable id到连接的映射，以及fd到id的索引
type connTable struct {
	conns  map[uint64]*Conn
	fdToID map[int]uint64
	nextID uint64

	// 已关闭但worker还持有的连接，fd等worker释放时再关闭
	detached map[uint64]*Conn
}

func newConnTable() connTable {
	return connTable{
		conns:    make(map[uint64]*Conn),
		fdToID:   make(map[int]uint64),
		detached: make(map[uint64]*Conn),
	}
}

func (t *connTable) insert(fd int, remote net.Addr) *Conn {
	t.nextID++
	c := &Conn{
		id:         t.nextID,
		fd:         fd,
		remoteAddr: remote,
		state:      StateNew,
	}
	t.conns[c.id] = c
	t.fdToID[fd] = c.id
	return c
}

func (t *connTable) byFd(fd int) (*Conn, bool) {
	id, ok := t.fdToID[fd]
	if !ok {
		return nil, false
	}
	c, ok := t.conns[id]
	return c, ok
}

func (t *connTable) remove(c *Conn) {
	delete(t.conns, c.id)
	// fd可能已经被新连接复用，只删除属于自己的索引
	if id, ok := t.fdToID[c.fd]; ok && id == c.id {
		delete(t.fdToID, c.fd)
	}
}

func (t *connTable) len() int {
	return len(t.conns)
}

// closeLocked 关闭连接，重复调用无效果。调用方持有s.mu。
// worker正在处理时只摘除连接，fd由worker释放连接时关闭，避免worker操作被复用的fd
func (s *Server) closeLocked(c *Conn, reason string) {
	if c.state == StateClosed {
		return
	}
	c.state = StateClosed
	s.table.remove(c)

	if err := s.poller.Unregister(c.fd); err != nil {
		logger.ErrorF("unregister conn:%d fd:%d error: %v", c.id, c.fd, err)
	}
	s.wheel.Remove(c.id)

	s.opts.Metrics.ConnClosed(reason)
	s.opts.Metrics.ActiveConns(s.table.len())
	logger.DebugF("conn:%d fd:%d remote:%v closed, reason: %s", c.id, c.fd, c.remoteAddr, reason)

	if c.busy {
		s.table.detached[c.id] = c
		return
	}
	s.finalize(c)
}

// closeConn 按id关闭连接，连接不存在时返回false
func (s *Server) closeConn(id uint64, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.table.conns[id]
	if !ok {
		return false
	}
	s.closeLocked(c, reason)
	return true
}

// 释放codec并关闭fd
func (s *Server) finalize(c *Conn) {
	delete(s.table.detached, c.id)
	if c.codec != nil {
		c.codec.Release()
		c.codec = nil
	}
	if err := unix.Close(c.fd); err != nil {
		logger.Error(os.NewSyscallError("close", err))
	}
}

// release worker处理完成，交还连接。连接在处理期间被关闭时在这里关闭fd
func (s *Server) release(c *Conn, next ConnState, interest netpoll.Interest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.busy = false
	if c.state == StateClosed {
		s.finalize(c)
		return
	}
	c.state = next
	// 边沿触发下MOD会重新评估就绪状态，处理期间到达的数据会再次上报
	if err := s.poller.Modify(c.fd, interest|s.connFlags()); err != nil {
		logger.ErrorF("re-arm conn:%d fd:%d error: %v", c.id, c.fd, err)
		s.closeLocked(c, metrics.ReasonHangup)
	}
}

// releaseAndClose worker处理完成后关闭连接
func (s *Server) releaseAndClose(c *Conn, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.busy = false
	if c.state == StateClosed {
		s.finalize(c)
		return
	}
	s.closeLocked(c, reason)
}

// ConnState 查询连接状态，连接不存在时返回false
func (s *Server) ConnState(id uint64) (ConnState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.table.conns[id]
	if !ok {
		return StateClosed, false
	}
	return c.state, true
}

// ActiveConns 当前连接数
func (s *Server) ActiveConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.len()
}

// Conns 当前所有连接的id
func (s *Server) Conns() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint64, 0, s.table.len())
	for id := range s.table.conns {
		ids = append(ids, id)
	}
	return ids
}
