//go:build linux

package netpoll

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/Senhnn/shlhttp/tools/logger"
	"github.com/Senhnn/shlhttp/tools/shlerror"
	"github.com/Senhnn/shlhttp/tools/task_queue"
	"golang.org/x/sys/unix"
)

// Epoller 需要实现 Netpoller 接口
type Epoller struct {
	epfd       int                       // epoll fd
	eventFd    int                       // EventFd用于唤醒wait
	eventFdBuf []byte                    // EventFd的buffer
	events     []unix.EpollEvent         // epoll_wait的输出缓冲
	ready      []Event                   // 返回给调用方的就绪列表，下一次Wait复用
	urgent     task_queue.AsyncTaskQueue // 其他goroutine投递的任务
	wakeUpCall int32                     // 0：不被唤醒，1：被唤醒
	closed     int32
}

// NewEpoller 创建并初始化 Epoller
func NewEpoller() (*Epoller, error) {
	e := &Epoller{epfd: -1, eventFd: -1}
	if err := e.init(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Epoller) init() (err error) {
	// EPOLL_CLOEXEC：fork出的子进程不继承epoll实例
	if e.epfd, err = unix.EpollCreate1(unix.EPOLL_CLOEXEC); err != nil {
		logger.Error("epoller open error! err:", err)
		return os.NewSyscallError("epoll_create1", err)
	}

	// eventFd的write操作增加计数器，read操作读出并清零
	// EFD_NONBLOCK：计数器为0时read返回EAGAIN而不是阻塞
	if e.eventFd, err = unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC); err != nil {
		_ = unix.Close(e.epfd)
		logger.Error("Eventfd open error! err:", err)
		return os.NewSyscallError("eventfd", err)
	}
	e.eventFdBuf = make([]byte, 8)
	if err = e.Register(e.eventFd, Readable); err != nil {
		_ = e.Close()
		logger.ErrorF("Eventfd add read err:%s", err.Error())
		return err
	}

	e.events = make([]unix.EpollEvent, maxEvents)
	e.ready = make([]Event, 0, maxEvents)
	e.urgent = task_queue.NewLockFreeTaskQueue()
	return nil
}

// Register 注册fd的关注事件
func (e *Epoller) Register(fd int, interest Interest) error {
	err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Fd: int32(fd), Events: interest.toEpoll()})
	if err != nil {
		logger.ErrorF("Register epfd:%d add fd:%d interest:%s err:%v", e.epfd, fd, interest, err)
		return os.NewSyscallError("epoll_ctl add", err)
	}
	return nil
}

// Modify 更新fd的关注事件
func (e *Epoller) Modify(fd int, interest Interest) error {
	err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Fd: int32(fd), Events: interest.toEpoll()})
	if err != nil {
		logger.ErrorF("Modify epfd:%d fd:%d interest:%s err:%v", e.epfd, fd, interest, err)
		return os.NewSyscallError("epoll_ctl mod", err)
	}
	return nil
}

// Unregister 从Epoller中删除fd
func (e *Epoller) Unregister(fd int) error {
	err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err != nil {
		logger.ErrorF("epfd:%d delete fd:%d error:%v", e.epfd, fd, err)
		return os.NewSyscallError("epoll_ctl del", err)
	}
	return nil
}

// Wait 等待就绪事件，eventFd的唤醒不会出现在返回列表里
func (e *Epoller) Wait(timeout time.Duration) ([]Event, error) {
	msec := -1
	if timeout >= 0 {
		msec = int(timeout / time.Millisecond)
	}
	e.ready = e.ready[:0]

	n, err := unix.EpollWait(e.epfd, e.events, msec)
	if err != nil {
		// unix.EINTR：这个调用被信号打断，视为超时
		if errors.Is(err, unix.EINTR) {
			return e.ready, nil
		}
		logger.ErrorF("Poll error occurs in epoll: %v", err)
		return nil, os.NewSyscallError("epoll_wait", err)
	}

	for i := 0; i < n; i++ {
		ev := &e.events[i]
		fd := int(ev.Fd)
		if fd == e.eventFd {
			_, _ = unix.Read(e.eventFd, e.eventFdBuf)
			continue
		}
		e.ready = append(e.ready, Event{Fd: fd, Flags: fromEpoll(ev.Events)})
	}
	return e.ready, nil
}

// 用于给eventFd唤醒
var eventFdNtfData = [8]byte{0, 0, 0, 0, 0, 0, 0, 1}

// Trigger 把任务放入紧急队列中，然后唤醒正在等待的轮询器去执行任务
func (e *Epoller) Trigger(fn task_queue.TaskFunc, arg interface{}) error {
	if atomic.LoadInt32(&e.closed) == 1 {
		return shlerror.ErrServerInShutdown
	}
	task := task_queue.GetTask()
	task.Run, task.Arg = fn, arg
	e.urgent.Enqueue(task)
	return e.wake()
}

func (e *Epoller) wake() error {
	if !atomic.CompareAndSwapInt32(&e.wakeUpCall, 0, 1) {
		return nil
	}
	if _, err := unix.Write(e.eventFd, eventFdNtfData[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
		return os.NewSyscallError("write", err)
	}
	return nil
}

// RunTasks 执行紧急队列中的任务，ErrServerShutdown会中断执行并返回给调用方
func (e *Epoller) RunTasks() error {
	atomic.StoreInt32(&e.wakeUpCall, 0)
	for i := 0; i < MaxTasksOnce; i++ {
		task := e.urgent.Dequeue()
		if task == nil {
			return nil
		}
		err := task.Run(task.Arg)
		task_queue.PutTask(task)
		switch {
		case err == nil:
		case errors.Is(err, shlerror.ErrServerShutdown):
			return err
		default:
			logger.Warn("Polling exec task error:", err)
		}
	}
	// 还有剩余任务，唤醒下一轮wait继续处理
	if !e.urgent.IsEmpty() {
		return e.wake()
	}
	return nil
}

// Close 关闭 Epoller
func (e *Epoller) Close() error {
	if !atomic.CompareAndSwapInt32(&e.closed, 0, 1) {
		return nil
	}
	err := os.NewSyscallError("close", unix.Close(e.epfd))
	if err1 := os.NewSyscallError("close", unix.Close(e.eventFd)); err == nil {
		err = err1
	}
	if err != nil {
		return fmt.Errorf("close epoller: %w", err)
	}
	return nil
}

var _ Netpoller = (*Epoller)(nil)
