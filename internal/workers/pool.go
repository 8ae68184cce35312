// Package workers provides a bounded goroutine pool used to parallelize
// independent, CPU-bound work — currently the Monte Carlo resampling
// trials in internal/montecarlo.
package workers

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task represents a unit of work to be processed.
type Task interface {
	Execute() error
}

// TaskFunc adapts a function to Task.
type TaskFunc func() error

func (f TaskFunc) Execute() error { return f() }

// Pool manages a pool of worker goroutines pulling from a shared queue.
type Pool struct {
	logger *zap.Logger
	config *PoolConfig

	taskQueue chan Task
	workers   []*worker
	wg        sync.WaitGroup

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc

	metrics *PoolMetrics
}

// PoolConfig configures the worker pool.
type PoolConfig struct {
	Name            string
	NumWorkers      int
	QueueSize       int
	TaskTimeout     time.Duration
	ShutdownTimeout time.Duration
	PanicRecovery   bool
}

// DefaultPoolConfig returns a pool sized to the host's CPU count, suitable
// for CPU-bound resampling work.
func DefaultPoolConfig(name string) *PoolConfig {
	numCPU := runtime.NumCPU()
	return &PoolConfig{
		Name:            name,
		NumWorkers:      numCPU,
		QueueSize:       10000,
		TaskTimeout:     30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		PanicRecovery:   true,
	}
}

// PoolMetrics tracks pool throughput and failure counts.
type PoolMetrics struct {
	TasksSubmitted int64
	TasksCompleted int64
	TasksFailed    int64
	TasksTimeout   int64
	PanicRecovered int64

	startTime time.Time
}

// NewPoolMetrics creates a new metrics tracker.
func NewPoolMetrics() *PoolMetrics {
	return &PoolMetrics{startTime: time.Now()}
}

// GetThroughput returns completed tasks per second since the metrics were
// created (NewPool creates them).
func (m *PoolMetrics) GetThroughput() float64 {
	elapsed := time.Since(m.startTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(atomic.LoadInt64(&m.TasksCompleted)) / elapsed
}

// GetStats returns a snapshot of current metrics.
func (m *PoolMetrics) GetStats() PoolStats {
	return PoolStats{
		TasksSubmitted: atomic.LoadInt64(&m.TasksSubmitted),
		TasksCompleted: atomic.LoadInt64(&m.TasksCompleted),
		TasksFailed:    atomic.LoadInt64(&m.TasksFailed),
		TasksTimeout:   atomic.LoadInt64(&m.TasksTimeout),
		PanicRecovered: atomic.LoadInt64(&m.PanicRecovered),
		Throughput:     m.GetThroughput(),
		Uptime:         time.Since(m.startTime),
	}
}

// PoolStats is an immutable snapshot of PoolMetrics.
type PoolStats struct {
	TasksSubmitted int64         `json:"tasksSubmitted"`
	TasksCompleted int64         `json:"tasksCompleted"`
	TasksFailed    int64         `json:"tasksFailed"`
	TasksTimeout   int64         `json:"tasksTimeout"`
	PanicRecovered int64         `json:"panicRecovered"`
	Throughput     float64       `json:"throughput"`
	Uptime         time.Duration `json:"uptime"`
}

type worker struct {
	id     int
	pool   *Pool
	logger *zap.Logger
}

// NewPool creates a worker pool. A nil config falls back to
// DefaultPoolConfig("default").
func NewPool(logger *zap.Logger, config *PoolConfig) *Pool {
	if config == nil {
		config = DefaultPoolConfig("default")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		logger:    logger,
		config:    config,
		taskQueue: make(chan Task, config.QueueSize),
		workers:   make([]*worker, config.NumWorkers),
		ctx:       ctx,
		cancel:    cancel,
		metrics:   NewPoolMetrics(),
	}
}

// Start launches every worker goroutine. A second call is a no-op.
func (p *Pool) Start() {
	if p.running.Swap(true) {
		return
	}

	p.logger.Debug("starting worker pool",
		zap.String("name", p.config.Name),
		zap.Int("workers", p.config.NumWorkers),
		zap.Int("queueSize", p.config.QueueSize),
	)

	for i := 0; i < p.config.NumWorkers; i++ {
		w := &worker{id: i, pool: p, logger: p.logger.With(zap.Int("workerID", i))}
		p.workers[i] = w
		p.wg.Add(1)
		go w.run()
	}
}

func (w *worker) run() {
	defer w.pool.wg.Done()

	for {
		select {
		case <-w.pool.ctx.Done():
			return
		case task, ok := <-w.pool.taskQueue:
			if !ok {
				return
			}
			w.executeTask(task)
		}
	}
}

func (w *worker) executeTask(task Task) {
	ctx, cancel := context.WithTimeout(w.pool.ctx, w.pool.config.TaskTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		var err error
		if w.pool.config.PanicRecovery {
			defer func() {
				if r := recover(); r != nil {
					atomic.AddInt64(&w.pool.metrics.PanicRecovered, 1)
					w.logger.Error("worker recovered from panic", zap.Any("panic", r))
					err = &PanicError{Recovered: r}
				}
				done <- err
			}()
		}
		err = task.Execute()
		if !w.pool.config.PanicRecovery {
			done <- err
		}
	}()

	select {
	case err := <-done:
		if err != nil {
			atomic.AddInt64(&w.pool.metrics.TasksFailed, 1)
			w.logger.Debug("task failed", zap.Error(err))
		} else {
			atomic.AddInt64(&w.pool.metrics.TasksCompleted, 1)
		}
	case <-ctx.Done():
		atomic.AddInt64(&w.pool.metrics.TasksTimeout, 1)
		w.logger.Warn("task timed out", zap.Duration("timeout", w.pool.config.TaskTimeout))
	}
}

// Submit enqueues task without blocking, returning ErrQueueFull if the
// queue is saturated or ErrPoolStopped if the pool is not running.
func (p *Pool) Submit(task Task) error {
	if !p.running.Load() {
		return ErrPoolStopped
	}
	select {
	case p.taskQueue <- task:
		atomic.AddInt64(&p.metrics.TasksSubmitted, 1)
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitWait submits task and blocks until it completes, returning its error.
func (p *Pool) SubmitWait(task Task) error {
	if !p.running.Load() {
		return ErrPoolStopped
	}

	done := make(chan error, 1)
	wrapper := TaskFunc(func() error {
		err := task.Execute()
		done <- err
		return err
	})

	if err := p.Submit(wrapper); err != nil {
		return err
	}
	return <-done
}

// SubmitFunc submits fn as a Task.
func (p *Pool) SubmitFunc(fn func() error) error {
	return p.Submit(TaskFunc(fn))
}

// Stop cancels the pool context and waits up to ShutdownTimeout for every
// worker to exit; tasks still in the queue are not guaranteed to run. A
// second call is a no-op.
func (p *Pool) Stop() error {
	if !p.running.Swap(false) {
		return nil
	}

	p.logger.Debug("stopping worker pool", zap.String("name", p.config.Name))
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(p.config.ShutdownTimeout):
		p.logger.Warn("worker pool shutdown timed out", zap.String("name", p.config.Name))
		return ErrShutdownTimeout
	}
}

// QueueLength returns the number of tasks currently queued.
func (p *Pool) QueueLength() int {
	return len(p.taskQueue)
}

// IsRunning reports whether the pool is accepting submissions.
func (p *Pool) IsRunning() bool {
	return p.running.Load()
}

// Stats returns a snapshot of the pool's metrics.
func (p *Pool) Stats() PoolStats {
	return p.metrics.GetStats()
}

var (
	ErrPoolStopped     = &PoolError{Message: "pool is stopped"}
	ErrQueueFull       = &PoolError{Message: "task queue is full"}
	ErrShutdownTimeout = &PoolError{Message: "shutdown timed out"}
)

// PoolError is a sentinel pool-level error.
type PoolError struct {
	Message string
}

func (e *PoolError) Error() string { return e.Message }

// PanicError wraps a value recovered from a panicking task.
type PanicError struct {
	Recovered any
}

func (e *PanicError) Error() string { return "panic recovered" }
