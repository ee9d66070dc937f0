// Package queue schedules album jobs onto background workers.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

var (
	// ErrQueueFull is returned when the job queue is at capacity.
	ErrQueueFull = errors.New("job queue is full")
	// ErrDispatcherStopped is returned when trying to enqueue after dispatcher is stopped.
	ErrDispatcherStopped = errors.New("dispatcher has been stopped")
)

// Task is one unit of background work.
type Task struct {
	JobID string
	Run   func(ctx context.Context)
	// Cancel is called instead of Run when the task is dropped at shutdown.
	Cancel func()
}

// Dispatcher runs tasks either on a fixed worker pool fed by a bounded
// queue, or, with zero workers, on a fresh goroutine per task.
type Dispatcher struct {
	taskChan   chan Task
	workerWg   sync.WaitGroup
	numWorkers int
	stopped    atomic.Bool
	active     atomic.Int32
	stopCh     chan struct{}
	baseCtx    context.Context
	mu         sync.RWMutex
}

// NewDispatcher creates a Dispatcher. numWorkers <= 0 selects the unbounded
// goroutine-per-task mode.
func NewDispatcher(numWorkers, queueSize int) *Dispatcher {
	if numWorkers < 0 {
		numWorkers = 0
	}
	if queueSize < 1 {
		queueSize = 10
	}

	d := &Dispatcher{
		numWorkers: numWorkers,
		stopCh:     make(chan struct{}),
		baseCtx:    context.Background(),
	}
	if numWorkers > 0 {
		d.taskChan = make(chan Task, queueSize)
	}
	return d
}

// Start starts the worker pool.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	d.baseCtx = ctx
	d.mu.Unlock()

	if d.numWorkers == 0 {
		slog.Info("Starting dispatcher", "mode", "goroutine-per-job")
		return
	}

	slog.Info("Starting dispatcher",
		"workers", d.numWorkers,
		"queue_size", cap(d.taskChan),
	)
	for i := 0; i < d.numWorkers; i++ {
		d.workerWg.Add(1)
		go d.worker(ctx, i)
	}
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.workerWg.Done()

	slog.Debug("Worker started", "worker_id", id)

	for {
		select {
		case <-d.stopCh:
			slog.Debug("Worker stopping (stop signal)", "worker_id", id)
			return
		default:
		}

		select {
		case task, ok := <-d.taskChan:
			if !ok {
				slog.Debug("Worker stopping (channel closed)", "worker_id", id)
				return
			}
			slog.Debug("Worker processing job", "worker_id", id, "job_id", task.JobID)
			d.run(ctx, task)

		case <-ctx.Done():
			slog.Debug("Worker stopping (context canceled)", "worker_id", id)
			return

		case <-d.stopCh:
			slog.Debug("Worker stopping (stop signal)", "worker_id", id)
			return
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, task Task) {
	d.active.Add(1)
	defer d.active.Add(-1)
	if task.Run != nil {
		task.Run(ctx)
	}
}

// Enqueue schedules a task. With a worker pool it returns ErrQueueFull when
// the queue is at capacity.
func (d *Dispatcher) Enqueue(task Task) error {
	if d.stopped.Load() {
		return ErrDispatcherStopped
	}

	if d.numWorkers == 0 {
		d.mu.RLock()
		defer d.mu.RUnlock()
		if d.stopped.Load() {
			return ErrDispatcherStopped
		}
		ctx := d.baseCtx

		d.workerWg.Add(1)
		go func() {
			defer d.workerWg.Done()
			d.run(ctx, task)
		}()
		return nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped.Load() {
		return ErrDispatcherStopped
	}

	select {
	case d.taskChan <- task:
		slog.Debug("Job enqueued",
			"job_id", task.JobID,
			"queue_size", len(d.taskChan),
		)
		return nil
	default:
		slog.Warn("Queue is full",
			"job_id", task.JobID,
			"queue_size", len(d.taskChan),
		)
		return ErrQueueFull
	}
}

// Stop stops accepting tasks and waits for running workers. Tasks still
// queued are dropped and their Cancel hook is called.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped.Swap(true) {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	slog.Info("Stopping dispatcher...")
	close(d.stopCh)
	d.workerWg.Wait()

	dropped := d.drain()
	slog.Info("Dispatcher stopped", "dropped", dropped)
}

func (d *Dispatcher) drain() int {
	if d.taskChan == nil {
		return 0
	}
	n := 0
	for {
		select {
		case task := <-d.taskChan:
			n++
			if task.Cancel != nil {
				task.Cancel()
			}
		default:
			return n
		}
	}
}

// QueueSize returns the number of tasks waiting for a worker.
func (d *Dispatcher) QueueSize() int {
	if d.taskChan == nil {
		return 0
	}
	return len(d.taskChan)
}

// QueueCapacity returns the maximum capacity of the queue, 0 when unbounded.
func (d *Dispatcher) QueueCapacity() int {
	if d.taskChan == nil {
		return 0
	}
	return cap(d.taskChan)
}

// Active returns the number of tasks currently running.
func (d *Dispatcher) Active() int {
	return int(d.active.Load())
}

// WorkerCount returns the number of pooled workers, 0 when unbounded.
func (d *Dispatcher) WorkerCount() int {
	return d.numWorkers
}
