package shlhttp

import (
	"context"
	"errors"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Senhnn/shlhttp/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// gateCodec 的Read在gate关闭前一直阻塞，用来让worker停在任务中间
type gateCodec struct {
	fd      int
	entered chan struct{}
	gate    chan struct{}

	reads    atomic.Int32
	released atomic.Int32
}

func (c *gateCodec) Fd() int { return c.fd }

func (c *gateCodec) Read() error {
	c.reads.Add(1)
	select {
	case c.entered <- struct{}{}:
	default:
	}
	<-c.gate
	buf := make([]byte, 64)
	for {
		n, err := unix.Read(c.fd, buf)
		if n <= 0 || err != nil {
			if err != nil && !errors.Is(err, unix.EAGAIN) {
				return err
			}
			return nil
		}
	}
}

func (c *gateCodec) ProcessRequest() RequestStatus { return NoRequest }

func (c *gateCodec) ProcessResponse(RequestStatus) bool { return false }

func (c *gateCodec) Write() (Interest, error) { return InterestRead, nil }

func (c *gateCodec) KeepAlive() bool { return false }

func (c *gateCodec) Release() { c.released.Add(1) }

type gateRecorder struct {
	gate   chan struct{}
	mu     sync.Mutex
	codecs []*gateCodec
}

func newGateRecorder() *gateRecorder {
	return &gateRecorder{gate: make(chan struct{})}
}

func (r *gateRecorder) factory(fd int, _ net.Addr) Codec {
	c := &gateCodec{fd: fd, entered: make(chan struct{}, 1), gate: r.gate}
	r.mu.Lock()
	r.codecs = append(r.codecs, c)
	r.mu.Unlock()
	return c
}

func (r *gateRecorder) codec(i int) *gateCodec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.codecs[i]
}

func startGateServer(t *testing.T, rec *gateRecorder, opts ...OptionFunc) *Server {
	t.Helper()
	base := []OptionFunc{
		WithAddress("127.0.0.1"),
		WithPort(0),
		WithTickInterval(0),
		WithPollTimeout(10 * time.Millisecond),
	}
	s, err := Run(rec.factory, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() {
		// 先放行阻塞的worker，Stop才能等到线程池退出
		select {
		case <-rec.gate:
		default:
			close(rec.gate)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func expectOpen(t *testing.T, c net.Conn) {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, err := c.Read(make([]byte, 1))
	var ne net.Error
	require.True(t, errors.As(err, &ne) && ne.Timeout(), "connection closed early: %v", err)
}

func detachedLen(s *Server) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.table.detached)
}

func TestCloseWhileTaskRunning(t *testing.T) {
	rec := newGateRecorder()
	s := startGateServer(t, rec, WithNumWorkers(2))

	cli := dial(t, s)
	waitActive(t, s, 1)
	id := s.Conns()[0]
	codec := rec.codec(0)

	_, err := cli.Write([]byte("a"))
	require.NoError(t, err)
	select {
	case <-codec.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("request task not started")
	}

	// 任务进行中再次可读，不会投递第二个任务
	_, err = cli.Write([]byte("b"))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, uint64(1), s.pool.Stats().Submitted)
	st, ok := s.ConnState(id)
	require.True(t, ok)
	assert.Equal(t, StateProcessingRequest, st)

	require.True(t, s.closeConn(id, metrics.ReasonShutdown))
	_, ok = s.ConnState(id)
	assert.False(t, ok)
	assert.Equal(t, 0, s.ActiveConns())

	// worker还持有连接，fd不能关闭
	assert.Equal(t, 1, detachedLen(s))
	assert.Zero(t, codec.released.Load())
	expectOpen(t, cli)

	close(rec.gate)
	require.Eventually(t, func() bool { return codec.released.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	expectClosed(t, cli)
	assert.Zero(t, detachedLen(s))
	assert.Equal(t, int32(1), codec.reads.Load())
	assert.Equal(t, uint64(1), s.pool.Stats().Submitted)

	// 重复关闭不会再次释放
	assert.False(t, s.closeConn(id, metrics.ReasonShutdown))
	assert.Equal(t, int32(1), codec.released.Load())
}

func TestCloseWhileTaskQueued(t *testing.T) {
	rec := newGateRecorder()
	s := startGateServer(t, rec, WithNumWorkers(1))

	busy := dial(t, s)
	waitActive(t, s, 1)
	queued := dial(t, s)
	waitActive(t, s, 2)
	first, second := rec.codec(0), rec.codec(1)

	// 唯一的worker阻塞在第一个连接上
	_, err := busy.Write([]byte("a"))
	require.NoError(t, err)
	select {
	case <-first.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("request task not started")
	}

	_, err = queued.Write([]byte("b"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.pool.Stats().Pending == 1 }, 2*time.Second, 5*time.Millisecond)

	ids := s.Conns()
	require.Len(t, ids, 2)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	require.True(t, s.closeConn(ids[1], metrics.ReasonShutdown))
	assert.Equal(t, 1, detachedLen(s))
	expectOpen(t, queued)

	close(rec.gate)
	require.Eventually(t, func() bool { return second.released.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	expectClosed(t, queued)
	assert.Zero(t, second.reads.Load(), "task for a closed connection must not run")
	assert.Zero(t, detachedLen(s))

	// 第一个连接不受影响
	assert.Equal(t, 1, s.ActiveConns())
	assert.Zero(t, first.released.Load())
}
