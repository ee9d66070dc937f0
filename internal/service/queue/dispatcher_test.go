package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnboundedRunsEveryTask(t *testing.T) {
	d := NewDispatcher(0, 0)
	d.Start(context.Background())

	var ran atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		require.NoError(t, d.Enqueue(Task{JobID: "j", Run: func(context.Context) {
			defer wg.Done()
			ran.Add(1)
		}}))
	}
	wg.Wait()
	d.Stop()

	assert.Equal(t, int32(25), ran.Load())
	assert.Equal(t, 0, d.WorkerCount())
	assert.Equal(t, 0, d.QueueCapacity())
}

func TestPoolRejectsWhenFull(t *testing.T) {
	d := NewDispatcher(1, 1)
	d.Start(context.Background())
	defer d.Stop()

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, d.Enqueue(Task{JobID: "a", Run: func(context.Context) {
		close(started)
		<-release
	}}))
	<-started

	require.NoError(t, d.Enqueue(Task{JobID: "b", Run: func(context.Context) {}}))
	assert.ErrorIs(t, d.Enqueue(Task{JobID: "c"}), ErrQueueFull)
	assert.Equal(t, 1, d.QueueSize())
	assert.Equal(t, 1, d.Active())

	close(release)
}

func TestEnqueueAfterStop(t *testing.T) {
	for _, workers := range []int{0, 2} {
		d := NewDispatcher(workers, 4)
		d.Start(context.Background())
		d.Stop()
		d.Stop()
		assert.ErrorIs(t, d.Enqueue(Task{JobID: "x"}), ErrDispatcherStopped)
	}
}

func TestStopWaitsForUnboundedTasks(t *testing.T) {
	d := NewDispatcher(0, 0)
	d.Start(context.Background())

	var finished atomic.Bool
	require.NoError(t, d.Enqueue(Task{Run: func(context.Context) {
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
	}}))
	d.Stop()
	assert.True(t, finished.Load())
}

func TestStopCancelsQueuedTasks(t *testing.T) {
	d := NewDispatcher(1, 4)
	d.Start(context.Background())

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, d.Enqueue(Task{JobID: "a", Run: func(context.Context) {
		close(started)
		<-release
	}}))
	<-started

	var ran, canceled atomic.Int32
	for _, id := range []string{"b", "c"} {
		require.NoError(t, d.Enqueue(Task{
			JobID:  id,
			Run:    func(context.Context) { ran.Add(1) },
			Cancel: func() { canceled.Add(1) },
		}))
	}

	stopped := make(chan struct{})
	go func() {
		d.Stop()
		close(stopped)
	}()
	require.Eventually(t, func() bool {
		select {
		case <-d.stopCh:
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)

	close(release)
	<-stopped

	assert.Zero(t, ran.Load())
	assert.Equal(t, int32(2), canceled.Load())
	assert.Zero(t, d.QueueSize())
}
