package netpoll

import (
	"time"

	"github.com/Senhnn/shlhttp/tools/task_queue"
)

// Netpoller 就绪事件多路复用器
type Netpoller interface {
	// Register 注册fd及关注事件
	Register(fd int, interest Interest) error
	// Modify 修改fd的关注事件，边沿触发下同时起到重新武装的作用
	Modify(fd int, interest Interest) error
	// Unregister 删除fd
	Unregister(fd int) error
	// Wait 阻塞至多timeout，超时返回空列表而不是错误
	Wait(timeout time.Duration) ([]Event, error)
	// Trigger 添加紧急任务并唤醒正在wait的轮询器
	Trigger(task_queue.TaskFunc, interface{}) error
	// RunTasks 在轮询goroutine上执行排队的任务
	RunTasks() error
	// Close 关闭多路复用器
	Close() error
}
