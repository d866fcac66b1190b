package task_queue

import "sync/atomic"

// lockFreeTaskQueue Michael-Scott无锁队列，head始终指向哨兵节点
type lockFreeTaskQueue struct {
	head   atomic.Pointer[node]
	tail   atomic.Pointer[node]
	length atomic.Int32
}

type node struct {
	value *Task
	next  atomic.Pointer[node]
}

func NewLockFreeTaskQueue() AsyncTaskQueue {
	q := &lockFreeTaskQueue{}
	sentinel := &node{}
	q.head.Store(sentinel)
	q.tail.Store(sentinel)
	return q
}

func (q *lockFreeTaskQueue) Enqueue(task *Task) {
	n := &node{value: task}
	for {
		tail := q.tail.Load()
		next := tail.next.Load()
		if tail != q.tail.Load() {
			// tail已被其他生产者移动，重新开始
			continue
		}
		if next != nil {
			// 帮助落后的tail前进
			q.tail.CompareAndSwap(tail, next)
			continue
		}
		if tail.next.CompareAndSwap(nil, n) {
			q.tail.CompareAndSwap(tail, n)
			q.length.Add(1)
			return
		}
	}
}

func (q *lockFreeTaskQueue) Dequeue() *Task {
	for {
		head := q.head.Load()
		tail := q.tail.Load()
		next := head.next.Load()
		if head != q.head.Load() {
			continue
		}
		if next == nil {
			return nil
		}
		if head == tail {
			q.tail.CompareAndSwap(tail, next)
			continue
		}
		task := next.value
		if q.head.CompareAndSwap(head, next) {
			next.value = nil
			q.length.Add(-1)
			return task
		}
	}
}

// IsEmpty 判断队列是否为空
func (q *lockFreeTaskQueue) IsEmpty() bool {
	return q.length.Load() == 0
}

func (q *lockFreeTaskQueue) Len() int {
	return int(q.length.Load())
}
