package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/spigell/fit-analyzer/internal/logger"
)

var (
	// ErrQueueFull is returned by Enqueue when no buffer slot is free.
	ErrQueueFull = errors.New("queue is full")
	// ErrQueueClosed is returned by Enqueue after Shutdown.
	ErrQueueClosed = errors.New("queue is shut down")
)

// Task is one queued job run.
type Task struct {
	ID          uuid.UUID
	Token       string
	SubmittedAt time.Time
}

// Handler runs a task. The context is cancelled when the job timeout
// elapses or shutdown gives up waiting.
type Handler func(ctx context.Context, task Task)

// DropHandler is told about tasks that were accepted but never run because
// the queue stopped first.
type DropHandler func(ctx context.Context, task Task, err error)

// Queue dispatches tasks to handlers with bounded concurrency.
type Queue struct {
	handler Handler
	onDrop  DropHandler
	logger  *zap.Logger
	workers int64
	timeout time.Duration

	ch   chan Task
	sem  *semaphore.Weighted
	wg   sync.WaitGroup
	once sync.Once

	base   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// Option configures a Queue.
type Option func(*Queue)

func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = int64(n)
		}
	}
}

func WithQueueSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.ch = make(chan Task, n)
		}
	}
}

func WithJobTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func WithDropHandler(fn DropHandler) Option {
	return func(q *Queue) {
		q.onDrop = fn
	}
}

// NewQueue starts a dispatcher feeding handler.
func NewQueue(handler Handler, logger *zap.Logger, opts ...Option) *Queue {
	q := &Queue{
		handler: handler,
		logger:  logger,
		workers: 4,
		timeout: 15 * time.Minute,
		ch:      make(chan Task, 64),
	}
	for _, o := range opts {
		o(q)
	}
	q.sem = semaphore.NewWeighted(q.workers)
	q.base, q.cancel = context.WithCancel(context.Background())
	q.start()
	return q
}

func (q *Queue) start() {
	q.once.Do(func() {
		q.wg.Add(1)
		go q.dispatch()
	})
}

func (q *Queue) dispatch() {
	defer q.wg.Done()

	for task := range q.ch {
		if err := q.sem.Acquire(q.base, 1); err != nil {
			q.logger.Warn("dropping task, queue stopped", zap.String(logger.FieldJobToken, task.Token), zap.Error(err))
			q.drop(task, err)
			continue
		}

		q.wg.Add(1)
		go func(t Task) {
			defer q.wg.Done()
			defer q.sem.Release(1)
			q.run(t)
		}(task)
	}
}

func (q *Queue) run(task Task) {
	ctx, cancel := context.WithTimeout(q.base, q.timeout)
	defer cancel()

	log := q.logger.With(zap.String(logger.FieldJobToken, task.Token), zap.String("task_id", task.ID.String()))
	log.Info("task started", zap.Duration("waited", time.Since(task.SubmittedAt)))

	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked", zap.Any("panic", r))
		}
	}()

	q.handler(ctx, task)
	log.Info("task finished")
}

func (q *Queue) drop(task Task, err error) {
	if q.onDrop == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("drop handler panicked", zap.String(logger.FieldJobToken, task.Token), zap.Any("panic", r))
		}
	}()
	q.onDrop(context.Background(), task, err)
}

// Enqueue schedules a run for token without blocking.
func (q *Queue) Enqueue(_ context.Context, token string) (Task, error) {
	task := Task{ID: uuid.New(), Token: token, SubmittedAt: time.Now()}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return Task{}, ErrQueueClosed
	}

	select {
	case q.ch <- task:
		q.logger.Debug("task queued", zap.String(logger.FieldJobToken, token), zap.Int("depth", len(q.ch)))
		return task, nil
	default:
		q.logger.Warn("queue full, rejecting task", zap.String(logger.FieldJobToken, token), zap.Int("capacity", cap(q.ch)))
		return Task{}, ErrQueueFull
	}
}

// Shutdown stops intake and waits for running tasks. When ctx ends first
// the running tasks are cancelled and ctx's error is returned.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-done:
		q.cancel()
		q.logger.Info("queue drained, shutdown complete")
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		q.logger.Warn("shutdown interrupted, running tasks cancelled")
		return ctx.Err()
	}
}
