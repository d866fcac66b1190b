package task_queue

import "sync"

// TaskFunc 投递给事件循环执行的回调
type TaskFunc func(interface{}) error

// Task 包含回调函数和入参，Run(Arg)
type Task struct {
	Run TaskFunc
	Arg interface{}
}

var taskPool = sync.Pool{New: func() interface{} { return new(Task) }}

// GetTask 从缓存池获取Task
func GetTask() *Task {
	return taskPool.Get().(*Task)
}

// PutTask 清空后放回缓存池
func PutTask(task *Task) {
	task.Run, task.Arg = nil, nil
	taskPool.Put(task)
}

// AsyncTaskQueue 多生产者单消费者任务队列
type AsyncTaskQueue interface {
	Enqueue(*Task)
	Dequeue() *Task
	IsEmpty() bool
	Len() int
}
