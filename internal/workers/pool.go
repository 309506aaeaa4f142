// Package workers provides a fixed-size goroutine pool for independent tasks.
package workers

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task represents a unit of work to be processed
type Task interface {
	Execute(ctx context.Context) error
}

// TaskFunc is a function that can be used as a Task
type TaskFunc func(ctx context.Context) error

func (f TaskFunc) Execute(ctx context.Context) error { return f(ctx) }

// Pool manages a pool of worker goroutines
type Pool struct {
	logger *zap.Logger
	config *PoolConfig

	// Worker management
	mu        sync.RWMutex
	taskQueue chan *job
	wg        sync.WaitGroup

	// State
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc

	metrics *PoolMetrics
}

// job pairs a task with the channel its outcome is delivered on
type job struct {
	task Task
	done chan error
}

// PoolConfig configures the worker pool
type PoolConfig struct {
	Name            string        // Pool name for logging
	NumWorkers      int           // Number of worker goroutines
	QueueSize       int           // Size of the task queue
	TaskTimeout     time.Duration // Bounded wait per task; 0 waits indefinitely
	ShutdownTimeout time.Duration // Timeout for graceful shutdown
	PanicRecovery   bool          // Enable panic recovery in workers
}

// DefaultPoolConfig returns one worker per CPU, no task timeout.
func DefaultPoolConfig(name string) *PoolConfig {
	return &PoolConfig{
		Name:            name,
		NumWorkers:      runtime.NumCPU(),
		QueueSize:       1024,
		TaskTimeout:     0,
		ShutdownTimeout: 30 * time.Second,
		PanicRecovery:   true,
	}
}

// PoolMetrics tracks pool performance
type PoolMetrics struct {
	mu sync.Mutex

	TasksSubmitted atomic.Int64
	TasksCompleted atomic.Int64
	TasksFailed    atomic.Int64
	TasksTimeout   atomic.Int64
	PanicRecovered atomic.Int64

	// Latency ring buffer
	latencies  []int64
	latencyIdx int
	filled     int

	startTime time.Time
}

// NewPoolMetrics creates a new metrics tracker
func NewPoolMetrics() *PoolMetrics {
	return &PoolMetrics{
		latencies: make([]int64, 4096),
		startTime: time.Now(),
	}
}

// RecordLatency records task execution latency
func (m *PoolMetrics) RecordLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.latencies[m.latencyIdx] = int64(d)
	m.latencyIdx = (m.latencyIdx + 1) % len(m.latencies)
	if m.filled < len(m.latencies) {
		m.filled++
	}
}

// P99Latency returns the 99th percentile of recorded latencies
func (m *PoolMetrics) P99Latency() time.Duration {
	m.mu.Lock()
	sorted := make([]int64, m.filled)
	copy(sorted, m.latencies[:m.filled])
	m.mu.Unlock()

	if len(sorted) == 0 {
		return 0
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted)) * 0.99)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return time.Duration(sorted[idx])
}

// Stats returns current metrics
func (m *PoolMetrics) Stats() PoolStats {
	uptime := time.Since(m.startTime)
	completed := m.TasksCompleted.Load()

	var throughput float64
	if secs := uptime.Seconds(); secs > 0 {
		throughput = float64(completed) / secs
	}

	return PoolStats{
		TasksSubmitted: m.TasksSubmitted.Load(),
		TasksCompleted: completed,
		TasksFailed:    m.TasksFailed.Load(),
		TasksTimeout:   m.TasksTimeout.Load(),
		PanicRecovered: m.PanicRecovered.Load(),
		P99Latency:     m.P99Latency(),
		Throughput:     throughput,
		Uptime:         uptime,
	}
}

// PoolStats contains pool statistics
type PoolStats struct {
	TasksSubmitted int64         `json:"tasks_submitted"`
	TasksCompleted int64         `json:"tasks_completed"`
	TasksFailed    int64         `json:"tasks_failed"`
	TasksTimeout   int64         `json:"tasks_timeout"`
	PanicRecovered int64         `json:"panic_recovered"`
	P99Latency     time.Duration `json:"p99_latency"`
	Throughput     float64       `json:"throughput"`
	Uptime         time.Duration `json:"uptime"`
}

// NewPool creates a new worker pool
func NewPool(logger *zap.Logger, config *PoolConfig) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config == nil {
		config = DefaultPoolConfig("default")
	}
	if config.NumWorkers <= 0 {
		config.NumWorkers = 1
	}
	if config.QueueSize < 0 {
		config.QueueSize = 0
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		logger:    logger,
		config:    config,
		taskQueue: make(chan *job, config.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
		metrics:   NewPoolMetrics(),
	}
}

// Start initializes and starts all workers
func (p *Pool) Start() {
	if p.running.Swap(true) {
		return // Already running
	}

	p.logger.Debug("starting worker pool",
		zap.String("name", p.config.Name),
		zap.Int("workers", p.config.NumWorkers),
		zap.Int("queue_size", p.config.QueueSize),
	)

	for i := 0; i < p.config.NumWorkers; i++ {
		p.wg.Add(1)
		go p.work(p.logger.With(zap.Int("worker_id", i)))
	}
}

// work drains the queue until it is closed or the pool is cancelled
func (p *Pool) work(logger *zap.Logger) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case j, ok := <-p.taskQueue:
			if !ok {
				return
			}
			j.done <- p.execute(logger, j.task)
		}
	}
}

// execute runs a single task with optional timeout and panic recovery
func (p *Pool) execute(logger *zap.Logger, task Task) error {
	start := time.Now()

	ctx := p.ctx
	if p.config.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(p.ctx, p.config.TaskTimeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		if p.config.PanicRecovery {
			defer func() {
				if r := recover(); r != nil {
					p.metrics.PanicRecovered.Add(1)
					logger.Error("worker recovered from panic", zap.Any("panic", r))
					done <- &PanicError{Recovered: r}
				}
			}()
		}
		done <- task.Execute(ctx)
	}()

	var err error
	if p.config.TaskTimeout > 0 {
		select {
		case err = <-done:
		case <-ctx.Done():
			p.metrics.TasksTimeout.Add(1)
			logger.Warn("task timed out", zap.Duration("timeout", p.config.TaskTimeout))
			return ErrTaskTimeout
		}
	} else {
		err = <-done
	}

	p.metrics.RecordLatency(time.Since(start))
	if err != nil {
		p.metrics.TasksFailed.Add(1)
		logger.Debug("task failed", zap.Error(err))
	} else {
		p.metrics.TasksCompleted.Add(1)
	}
	return err
}

// Submit enqueues a task, blocking while the queue is full. The returned
// channel receives the task outcome exactly once.
func (p *Pool) Submit(ctx context.Context, task Task) (<-chan error, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.running.Load() {
		return nil, ErrPoolStopped
	}

	j := &job{task: task, done: make(chan error, 1)}
	select {
	case p.taskQueue <- j:
		p.metrics.TasksSubmitted.Add(1)
		return j.done, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.ctx.Done():
		return nil, ErrPoolStopped
	}
}

// SubmitWait submits a task and waits for its outcome
func (p *Pool) SubmitWait(ctx context.Context, task Task) error {
	done, err := p.Submit(ctx, task)
	if err != nil {
		return err
	}
	return <-done
}

// Stop closes the queue, lets workers finish queued tasks, and cancels them
// if they do not finish within the shutdown timeout.
func (p *Pool) Stop() error {
	p.mu.Lock()
	if !p.running.Swap(false) {
		p.mu.Unlock()
		return nil // Already stopped
	}
	close(p.taskQueue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.logger.Debug("worker pool stopped", zap.String("name", p.config.Name))
		return nil

	case <-time.After(p.config.ShutdownTimeout):
		p.cancel()
		p.logger.Warn("worker pool shutdown timed out",
			zap.String("name", p.config.Name),
			zap.Duration("timeout", p.config.ShutdownTimeout),
		)
		return ErrShutdownTimeout
	}
}

// QueueLength returns the current number of queued tasks
func (p *Pool) QueueLength() int {
	return len(p.taskQueue)
}

// IsRunning returns whether the pool is running
func (p *Pool) IsRunning() bool {
	return p.running.Load()
}

// Stats returns current pool statistics
func (p *Pool) Stats() PoolStats {
	return p.metrics.Stats()
}

// Errors
var (
	ErrPoolStopped     = &PoolError{Message: "pool is stopped"}
	ErrTaskTimeout     = &PoolError{Message: "task timed out"}
	ErrShutdownTimeout = &PoolError{Message: "shutdown timed out"}
)

// PoolError represents a pool error
type PoolError struct {
	Message string
}

func (e *PoolError) Error() string { return e.Message }

// PanicError represents a recovered panic
type PanicError struct {
	Recovered interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic recovered: %v", e.Recovered)
}
