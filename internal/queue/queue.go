// Package queue runs background tasks on a fixed pool of workers, detached
// from the request that scheduled them.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vbonduro/vowselect/internal/logging"
)

var (
	ErrFull   = errors.New("queue full")
	ErrClosed = errors.New("queue closed")
)

// Task is one unit of background work. Run receives the worker context,
// which is cancelled on shutdown; tasks still queued at that point are run
// with the cancelled context so they can record that they were abandoned.
type Task struct {
	Name string
	Run  func(ctx context.Context)
}

type Queue struct {
	tasks   chan Task
	workers int
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	once   sync.Once
}

func New(size, workers int, logger *slog.Logger) *Queue {
	if size <= 0 {
		size = 1
	}
	if workers <= 0 {
		workers = 1
	}
	return &Queue{
		tasks:   make(chan Task, size),
		workers: workers,
		logger:  logging.Component(logger, "queue"),
	}
}

// Start launches the workers. ctx is handed to every task.
func (q *Queue) Start(ctx context.Context) {
	for i := range q.workers {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
}

// Enqueue schedules t without blocking.
func (q *Queue) Enqueue(t Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return fmt.Errorf("cannot enqueue %s: %w", t.Name, ErrClosed)
	}
	select {
	case q.tasks <- t:
		return nil
	default:
		return fmt.Errorf("cannot enqueue %s: %w", t.Name, ErrFull)
	}
}

// Len returns the number of tasks waiting for a worker.
func (q *Queue) Len() int {
	return len(q.tasks)
}

// Shutdown stops accepting tasks and waits for the workers to drain the queue.
func (q *Queue) Shutdown() {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.tasks)
		q.mu.Unlock()
		q.wg.Wait()
	})
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	for t := range q.tasks {
		q.run(ctx, id, t)
	}
}

func (q *Queue) run(ctx context.Context, id int, t Task) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("task panicked", "task", t.Name, "worker", id, "panic", r)
		}
	}()
	q.logger.Debug("task started", "task", t.Name, "worker", id)
	t.Run(ctx)
	q.logger.Debug("task finished", "task", t.Name, "worker", id)
}
