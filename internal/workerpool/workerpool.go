// Package workerpool 固定数量worker消费FIFO任务队列。
package workerpool

import (
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/Senhnn/shlhttp/tools/logger"
	"github.com/Senhnn/shlhttp/tools/shlerror"
	"github.com/eapache/queue"
)

// DefaultWorkers 默认worker数量
const DefaultWorkers = 20

// TaskKind 任务类型
type TaskKind uint8

const (
	// HandleRequest 读取并处理请求
	HandleRequest TaskKind = iota
	// HandleResponse 发送响应
	HandleResponse
)

func (k TaskKind) String() string {
	switch k {
	case HandleRequest:
		return "handle-request"
	case HandleResponse:
		return "handle-response"
	default:
		return "unknown"
	}
}

// Task 只携带连接id，执行时再到连接表里查找连接
type Task struct {
	ConnID uint64
	Kind   TaskKind
}

// Handler 执行任务的回调，由worker goroutine调用
type Handler func(Task)

// Stats 线程池统计
type Stats struct {
	Workers   int
	Submitted uint64
	Completed uint64
	Pending   int
}

// Pool 固定大小的线程池
type Pool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	tasks   *queue.Queue
	closed  bool
	handler Handler
	workers int
	wg      sync.WaitGroup

	submitted atomic.Uint64
	completed atomic.Uint64
}

// New 创建并启动workers个worker，workers<=0时使用DefaultWorkers
func New(workers int, handler Handler) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	p := &Pool{
		tasks:   queue.New(),
		handler: handler,
		workers: workers,
	}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.work(i)
	}
	return p
}

// AddTask 任务入队并唤醒一个空闲worker
func (p *Pool) AddTask(t Task) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return shlerror.ErrPoolClosed
	}
	p.tasks.Add(t)
	p.mu.Unlock()

	p.submitted.Add(1)
	p.cond.Signal()
	return nil
}

// Close 不再接收新任务，等待已入队的任务执行完毕。可以重复调用
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.wg.Wait()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.cond.Broadcast()
	p.wg.Wait()
}

// Stats 返回统计快照
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	pending := p.tasks.Length()
	p.mu.Unlock()
	return Stats{
		Workers:   p.workers,
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Pending:   pending,
	}
}

func (p *Pool) work(idx int) {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for p.tasks.Length() == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.tasks.Length() == 0 {
			// closed且队列已空
			p.mu.Unlock()
			return
		}
		t := p.tasks.Remove().(Task)
		p.mu.Unlock()

		p.run(idx, t)
	}
}

func (p *Pool) run(idx int, t Task) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorF("worker %d task %s conn:%d panic: %v\n%s", idx, t.Kind, t.ConnID, r, debug.Stack())
		}
		p.completed.Add(1)
	}()
	p.handler(t)
}
