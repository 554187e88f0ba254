package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"harvester/metrics"
	"harvester/util/goroutine"

	"go.uber.org/zap"
)

// DefaultStopTimeout bounds how long Stop waits for in-flight tasks
const DefaultStopTimeout = 30 * time.Second

// Task is one unit of work. ctx is cancelled when the pool stops.
type Task func(ctx context.Context)

// WorkerPool runs tasks on a fixed number of goroutines fed by a bounded queue.
// Each task processes one event start to finish; no ordering is kept between tasks.
type WorkerPool struct {
	name        string
	workers     int
	queueSize   int
	stopTimeout time.Duration
	taskCh      chan Task
	wg          sync.WaitGroup
	logger      *zap.SugaredLogger
	ctx         context.Context
	cancel      context.CancelFunc
	running     bool
	mu          sync.RWMutex
}

// NewWorkerPool creates a pool bound to parent. Workers start on Start.
func NewWorkerPool(parent context.Context, name string, workers, queueSize int, logger *zap.SugaredLogger) *WorkerPool {
	if name == "" {
		name = "default"
	}
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(parent)
	return &WorkerPool{
		name:        name,
		workers:     workers,
		queueSize:   queueSize,
		stopTimeout: DefaultStopTimeout,
		taskCh:      make(chan Task, queueSize),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start launches the workers. Calling it twice is a no-op.
func (wp *WorkerPool) Start() error {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.running {
		return nil
	}
	if wp.ctx.Err() != nil {
		return ErrWorkerPoolNotRunning
	}

	wp.running = true
	wp.logger.Infow("Starting worker pool", "pool", wp.name, "workers", wp.workers, "queue_size", wp.queueSize)
	metrics.WorkerPoolActiveWorkers.WithLabelValues(wp.name).Set(float64(wp.workers))

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	return nil
}

// Stop drains queued tasks and waits for the workers, up to the stop timeout.
// Tasks still running after the timeout are abandoned.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if !wp.running {
		wp.mu.Unlock()
		return
	}
	wp.running = false
	close(wp.taskCh)
	wp.mu.Unlock()

	wp.logger.Infow("Stopping worker pool", "pool", wp.name)

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.cancel()
		metrics.WorkerPoolActiveWorkers.WithLabelValues(wp.name).Set(0)
		wp.logger.Infow("Worker pool stopped", "pool", wp.name)
	case <-time.After(wp.stopTimeout):
		wp.cancel()
		wp.logger.Errorw("Worker pool shutdown timed out, goroutines leaked",
			"pool", wp.name,
			"timeout", wp.stopTimeout)
		metrics.WorkerPoolActiveWorkers.WithLabelValues(wp.name).Set(-1)
	}
}

// Submit queues task without blocking. ErrWorkerPoolQueueFull is returned
// when the queue has no room.
func (wp *WorkerPool) Submit(task Task) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if !wp.running {
		return ErrWorkerPoolNotRunning
	}

	select {
	case wp.taskCh <- task:
		metrics.WorkerPoolQueueSize.WithLabelValues(wp.name).Set(float64(len(wp.taskCh)))
		return nil
	default:
		return ErrWorkerPoolQueueFull
	}
}

// SubmitWait queues task, waiting until there is room or ctx is done
func (wp *WorkerPool) SubmitWait(ctx context.Context, task Task) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if !wp.running {
		return ErrWorkerPoolNotRunning
	}

	select {
	case wp.taskCh <- task:
		metrics.WorkerPoolQueueSize.WithLabelValues(wp.name).Set(float64(len(wp.taskCh)))
		return nil
	case <-ctx.Done():
		return ErrWorkerPoolTimeout
	}
}

// Stats returns a snapshot of the pool state
func (wp *WorkerPool) Stats() WorkerPoolStats {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	return WorkerPoolStats{
		Name:        wp.name,
		Workers:     wp.workers,
		Running:     wp.running,
		QueuedTasks: len(wp.taskCh),
		Capacity:    cap(wp.taskCh),
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	defer goroutine.Recover("worker-pool-"+wp.name, wp.logger)

	for task := range wp.taskCh {
		wp.run(id, task)
	}
}

func (wp *WorkerPool) run(id int, task Task) {
	defer goroutine.RecoverWith("worker-task-"+wp.name, wp.logger, func(interface{}) {
		wp.logger.Warnw("Task panicked, worker continues", "pool", wp.name, "worker_id", id)
	})
	task(wp.ctx)
	metrics.WorkerPoolTasksProcessed.WithLabelValues(wp.name).Inc()
	metrics.WorkerPoolQueueSize.WithLabelValues(wp.name).Set(float64(len(wp.taskCh)))
}

// WorkerPoolStats is a point-in-time view of a WorkerPool
type WorkerPoolStats struct {
	Name        string `json:"name"`
	Workers     int    `json:"workers"`
	Running     bool   `json:"running"`
	QueuedTasks int    `json:"queued_tasks"`
	Capacity    int    `json:"capacity"`
}

var (
	ErrWorkerPoolNotRunning = errors.New("worker pool is not running")
	ErrWorkerPoolQueueFull  = errors.New("worker pool task queue is full")
	ErrWorkerPoolTimeout    = errors.New("worker pool task submission timed out")
)
