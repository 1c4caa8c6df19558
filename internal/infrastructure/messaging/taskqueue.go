package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/felipe0410/enrolment-sub004/internal/domain/shared"
	"github.com/felipe0410/enrolment-sub004/pkg/circuitbreaker"
	"github.com/felipe0410/enrolment-sub004/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// TASK QUEUE
// The dependency gate and the reconciler fan work out as tasks so that
// one event never turns into one unbounded unit of work. The queue is
// in-process with a bounded buffer; a circuit breaker guards the
// publish side so producers fail fast instead of blocking when workers
// fall behind, and exhausted tasks land in a dead letter queue for
// inspection. Delivery is at-least-once: a worker crash between
// processing and acknowledgment re-runs the task, which every handler
// tolerates.
// ══════════════════════════════════════════════════════════════════════════════

// TaskQueueConfig contains configuration for the TaskQueue.
type TaskQueueConfig struct {
	// Workers is the number of concurrent task workers.
	Workers int

	// BufferSize is the queue capacity; publishes beyond it fail fast.
	BufferSize int

	// EnqueueTimeout bounds how long a publish waits for buffer space
	// before counting as a failure against the circuit breaker.
	EnqueueTimeout time.Duration

	// MaxAttempts is the per-task execution attempt cap.
	MaxAttempts int

	// DeadLetterSize caps the dead letter queue.
	DeadLetterSize int

	// Logger for structured logging.
	Logger *slog.Logger
}

// DefaultTaskQueueConfig returns sensible defaults.
func DefaultTaskQueueConfig() TaskQueueConfig {
	return TaskQueueConfig{
		Workers:        10,
		BufferSize:     1024,
		EnqueueTimeout: 200 * time.Millisecond,
		MaxAttempts:    5,
		DeadLetterSize: 1000,
	}
}

// TaskQueue is a bounded in-process task queue with retrying workers.
// It implements shared.TaskPublisher.
type TaskQueue struct {
	queue    chan shared.Task
	handlers map[shared.TaskType]shared.TaskHandler

	retrier *retry.Retrier
	breaker *circuitbreaker.CircuitBreaker
	deadQ   *TaskDeadLetterQueue
	metrics *TaskQueueMetrics

	enqueueTimeout time.Duration
	workers        int

	logger *slog.Logger
	mu     sync.RWMutex
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTaskQueue creates a new TaskQueue. Call Start to begin processing.
func NewTaskQueue(config TaskQueueConfig) *TaskQueue {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Workers <= 0 {
		config.Workers = 10
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 1024
	}
	if config.EnqueueTimeout <= 0 {
		config.EnqueueTimeout = 200 * time.Millisecond
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &TaskQueue{
		queue:    make(chan shared.Task, config.BufferSize),
		handlers: make(map[shared.TaskType]shared.TaskHandler),
		retrier: retry.New(
			retry.WithMaxAttempts(config.MaxAttempts),
			retry.WithInitialDelay(100*time.Millisecond),
			retry.WithMaxDelay(5*time.Second),
			retry.WithRetryIf(func(err error) bool {
				// Corrupt data never heals on retry; everything else is
				// assumed transient.
				return !retry.IsPermanent(err) && !shared.IsDataIntegrity(err)
			}),
		),
		breaker: circuitbreaker.New("task-queue",
			circuitbreaker.WithFailureThreshold(10),
			circuitbreaker.WithTimeout(5*time.Second),
		),
		deadQ:          NewTaskDeadLetterQueue(config.DeadLetterSize),
		metrics:        NewTaskQueueMetrics(),
		enqueueTimeout: config.EnqueueTimeout,
		workers:        config.Workers,
		logger:         config.Logger.With("component", "task_queue"),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Register binds a handler to a task type. Tasks with no handler are
// dropped with an error log.
func (q *TaskQueue) Register(taskType shared.TaskType, handler shared.TaskHandler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[taskType] = handler
	return nil
}

// PublishTask implements shared.TaskPublisher. The enqueue goes through
// the circuit breaker: when workers cannot keep up, producers get an
// immediate error instead of piling onto a queue that will not drain.
func (q *TaskQueue) PublishTask(taskType shared.TaskType, payload interface{}) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return ErrTaskQueueClosed
	}
	q.mu.RUnlock()

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal task payload: %w", err)
	}
	task := shared.Task{
		ID:         uuid.NewString(),
		Type:       taskType,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	}

	err = q.breaker.Execute(q.ctx, func(ctx context.Context) error {
		select {
		case q.queue <- task:
			return nil
		case <-time.After(q.enqueueTimeout):
			return ErrTaskQueueFull
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil {
		q.logger.Error("task enqueue failed", "task_type", taskType, "error", err)
		return err
	}

	q.metrics.RecordEnqueue(taskType)
	return nil
}

// Start launches the worker pool.
func (q *TaskQueue) Start() {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.logger.Info("task queue started", "workers", q.workers)
}

func (q *TaskQueue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case task := <-q.queue:
			q.process(task)
		}
	}
}

func (q *TaskQueue) process(task shared.Task) {
	q.mu.RLock()
	handler, ok := q.handlers[task.Type]
	q.mu.RUnlock()
	if !ok {
		q.logger.Error("no handler for task type, dropping", "task_type", task.Type, "task_id", task.ID)
		return
	}

	start := time.Now()
	attempts := 0
	err := q.retrier.Do(q.ctx, func(ctx context.Context) error {
		attempts++
		task.Attempt = attempts
		return q.safeHandle(handler, task)
	})

	q.metrics.RecordExecution(task.Type, time.Since(start), err == nil)
	if err == nil {
		if attempts > 1 {
			q.logger.Info("task succeeded after retry",
				"task_type", task.Type, "task_id", task.ID, "attempts", attempts)
		}
		return
	}

	q.deadQ.Add(FailedTask{
		Task:     task,
		Error:    err.Error(),
		Attempts: attempts,
		FailedAt: time.Now().UTC(),
	})
	q.logger.Error("task failed permanently",
		"task_type", task.Type,
		"task_id", task.ID,
		"attempts", attempts,
		"error", err,
	)
}

// safeHandle runs the handler with panic recovery so one bad task
// cannot take a worker down.
func (q *TaskQueue) safeHandle(handler shared.TaskHandler, task shared.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("task handler panic",
				"task_type", task.Type,
				"task_id", task.ID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("task handler panic: %v", r)
		}
	}()
	return handler(task)
}

// Stop drains in-flight work and shuts the queue down.
func (q *TaskQueue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
	q.logger.Info("task queue stopped", "pending", len(q.queue), "dead_lettered", q.deadQ.Size())
}

// DeadLetters returns the dead letter queue.
func (q *TaskQueue) DeadLetters() *TaskDeadLetterQueue {
	return q.deadQ
}

// Metrics returns the queue metrics.
func (q *TaskQueue) Metrics() *TaskQueueMetrics {
	return q.metrics
}

// ══════════════════════════════════════════════════════════════════════════════
// DEAD LETTER QUEUE
// ══════════════════════════════════════════════════════════════════════════════

// FailedTask is a task whose retries were exhausted.
type FailedTask struct {
	Task     shared.Task
	Error    string
	Attempts int
	FailedAt time.Time
}

// TaskDeadLetterQueue stores tasks that failed processing, oldest first.
type TaskDeadLetterQueue struct {
	mu      sync.RWMutex
	entries []FailedTask
	maxSize int
}

// NewTaskDeadLetterQueue creates a new dead letter queue.
func NewTaskDeadLetterQueue(maxSize int) *TaskDeadLetterQueue {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &TaskDeadLetterQueue{
		entries: make([]FailedTask, 0),
		maxSize: maxSize,
	}
}

// Add appends an entry, evicting the oldest at capacity.
func (q *TaskDeadLetterQueue) Add(entry FailedTask) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) >= q.maxSize {
		q.entries = q.entries[1:]
	}
	q.entries = append(q.entries, entry)
}

// Entries returns a copy of all entries.
func (q *TaskDeadLetterQueue) Entries() []FailedTask {
	q.mu.RLock()
	defer q.mu.RUnlock()
	result := make([]FailedTask, len(q.entries))
	copy(result, q.entries)
	return result
}

// Pop removes and returns the oldest entry, for callers that drain the
// queue to inspect or re-publish failed tasks.
func (q *TaskDeadLetterQueue) Pop() (FailedTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return FailedTask{}, false
	}
	entry := q.entries[0]
	q.entries = q.entries[1:]
	return entry, true
}

// Size returns the current queue size.
func (q *TaskDeadLetterQueue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.entries)
}

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// TaskQueueMetrics tracks queue throughput.
type TaskQueueMetrics struct {
	mu sync.RWMutex

	EnqueuedTotal map[shared.TaskType]int64
	Processed     int64
	Failures      int64
	TotalDuration time.Duration
}

// NewTaskQueueMetrics creates a new metrics tracker.
func NewTaskQueueMetrics() *TaskQueueMetrics {
	return &TaskQueueMetrics{
		EnqueuedTotal: make(map[shared.TaskType]int64),
	}
}

// RecordEnqueue records a successful enqueue.
func (m *TaskQueueMetrics) RecordEnqueue(taskType shared.TaskType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EnqueuedTotal[taskType]++
}

// RecordExecution records a finished task.
func (m *TaskQueueMetrics) RecordExecution(taskType shared.TaskType, duration time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Processed++
	m.TotalDuration += duration
	if !success {
		m.Failures++
	}
}

// ErrTaskQueueClosed is returned when publishing to a stopped queue.
var ErrTaskQueueClosed = errors.New("task queue is closed")

// ErrTaskQueueFull is returned when the buffer stays full past the
// enqueue timeout.
var ErrTaskQueueFull = errors.New("task queue is full")
