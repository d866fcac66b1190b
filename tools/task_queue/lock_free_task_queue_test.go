package task_queue_test

import (
	"sync"
	"testing"

	"github.com/Senhnn/shlhttp/tools/task_queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockFreeTaskQueueFIFO(t *testing.T) {
	q := task_queue.NewLockFreeTaskQueue()
	assert.True(t, q.IsEmpty())
	assert.Nil(t, q.Dequeue())

	for i := 0; i < 3; i++ {
		task := task_queue.GetTask()
		task.Arg = i
		q.Enqueue(task)
	}
	require.Equal(t, 3, q.Len())
	for i := 0; i < 3; i++ {
		task := q.Dequeue()
		require.NotNil(t, task)
		assert.Equal(t, i, task.Arg)
		task_queue.PutTask(task)
	}
	assert.True(t, q.IsEmpty())
}

func TestLockFreeTaskQueueConcurrentProducers(t *testing.T) {
	const producers, perProducer = 4, 5000
	q := task_queue.NewLockFreeTaskQueue()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(&task_queue.Task{})
			}
		}()
	}

	got := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		if task := q.Dequeue(); task != nil {
			got++
			continue
		}
		select {
		case <-done:
			for q.Dequeue() != nil {
				got++
			}
			assert.Equal(t, producers*perProducer, got)
			return
		default:
		}
	}
}
