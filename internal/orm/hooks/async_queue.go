package hooks

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrQueueNotStarted is returned by Enqueue before Start
	ErrQueueNotStarted = errors.New("queue not started")
	// ErrQueueShutdown is returned by Enqueue after Shutdown or Stop
	ErrQueueShutdown = errors.New("queue shutdown")
)

// AsyncTask is work run after a commit, outside the session
type AsyncTask struct {
	Name string
	Fn   func(ctx context.Context) error
}

// AsyncQueue runs tasks on a fixed pool of workers
type AsyncQueue struct {
	tasks       chan AsyncTask
	workerCount int
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	logger      *zap.Logger
	started     bool
	shutdown    bool
	mu          sync.RWMutex
}

// NewAsyncQueue creates a queue with the given worker count and buffer size
func NewAsyncQueue(workerCount, buffer int, logger *zap.Logger) *AsyncQueue {
	if workerCount <= 0 {
		workerCount = 4
	}
	if buffer <= 0 {
		buffer = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &AsyncQueue{
		tasks:       make(chan AsyncTask, buffer),
		workerCount: workerCount,
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger.Named("hooks"),
	}
}

// Start starts the worker pool
func (q *AsyncQueue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started {
		return
	}
	for i := 0; i < q.workerCount; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.started = true
}

func (q *AsyncQueue) worker(id int) {
	defer q.wg.Done()

	for {
		select {
		case <-q.ctx.Done():
			return
		case task, ok := <-q.tasks:
			if !ok {
				return
			}
			q.run(id, task)
		}
	}
}

func (q *AsyncQueue) run(id int, task AsyncTask) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("panic in async task", zap.Int("worker", id), zap.String("task", task.Name), zap.Any("panic", r))
		}
	}()

	if err := task.Fn(q.ctx); err != nil {
		q.logger.Warn("async task failed", zap.Int("worker", id), zap.String("task", task.Name), zap.Error(err))
	}
}

// Enqueue adds a task to the queue, blocking while the buffer is full
func (q *AsyncQueue) Enqueue(task AsyncTask) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if !q.started {
		return ErrQueueNotStarted
	}
	if q.shutdown {
		return ErrQueueShutdown
	}

	select {
	case q.tasks <- task:
		return nil
	case <-q.ctx.Done():
		return ErrQueueShutdown
	}
}

// Shutdown stops accepting tasks and waits for queued ones to finish
func (q *AsyncQueue) Shutdown() {
	q.mu.Lock()
	if !q.started || q.shutdown {
		q.mu.Unlock()
		return
	}
	q.shutdown = true
	close(q.tasks)
	q.mu.Unlock()

	q.wg.Wait()
}

// Stop cancels running tasks and returns without draining the queue
func (q *AsyncQueue) Stop() {
	q.cancel()

	q.mu.Lock()
	q.shutdown = true
	q.mu.Unlock()

	q.wg.Wait()
}
