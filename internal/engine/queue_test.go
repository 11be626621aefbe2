package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func namedTask(name string) task {
	return task{name: name, fn: func(context.Context) error { return nil }}
}

func TestTaskQueue_EnqueueDequeue(t *testing.T) {
	q := newTaskQueue()

	ok := q.Enqueue(namedTask("restore"))
	require.True(t, ok, "enqueue should succeed")

	got, ok := q.TryDequeue()
	require.True(t, ok, "dequeue should succeed")
	assert.Equal(t, "restore", got.name)
}

func TestTaskQueue_FIFO(t *testing.T) {
	q := newTaskQueue()

	for _, name := range []string{"A", "B", "C"} {
		q.Enqueue(namedTask(name))
	}

	for _, want := range []string{"A", "B", "C"} {
		got, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, got.name)
	}
}

func TestTaskQueue_TryDequeue_Empty(t *testing.T) {
	q := newTaskQueue()

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestTaskQueue_WaitSignalsEnqueue(t *testing.T) {
	q := newTaskQueue()

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Enqueue(namedTask("late"))
	}()

	select {
	case _, ok := <-q.Wait():
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("wait did not signal")
	}
	got, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "late", got.name)
}

func TestTaskQueue_Close(t *testing.T) {
	q := newTaskQueue()
	q.Enqueue(namedTask("pending"))

	pending := q.Close()
	require.Len(t, pending, 1)
	assert.Equal(t, "pending", pending[0].name)

	_, ok := <-q.Wait()
	assert.False(t, ok, "signal channel should be closed")

	assert.False(t, q.Enqueue(namedTask("after")), "enqueue after close should return false")
	assert.Nil(t, q.Close(), "second close is a no-op")
}

func TestTaskQueue_Len(t *testing.T) {
	q := newTaskQueue()

	assert.Equal(t, 0, q.Len())
	q.Enqueue(namedTask("1"))
	q.Enqueue(namedTask("2"))
	assert.Equal(t, 2, q.Len())

	q.TryDequeue()
	assert.Equal(t, 1, q.Len())
	q.TryDequeue()
	assert.Equal(t, 0, q.Len())
}

func TestTaskQueue_ThreadSafe(t *testing.T) {
	q := newTaskQueue()

	const producers = 10
	const tasksPerProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < tasksPerProducer; i++ {
				q.Enqueue(namedTask("t"))
			}
		}()
	}
	wg.Wait()

	received := 0
	for {
		if _, ok := q.TryDequeue(); !ok {
			break
		}
		received++
	}
	assert.Equal(t, producers*tasksPerProducer, received)
}
