// Package queue delivers ingestion tasks to workers, either in process or
// through RabbitMQ.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"prototype-versions-backend/internal/logger"
	"prototype-versions-backend/internal/models"
)

// Handler processes one task. A returned error means the task may be
// delivered again.
type Handler func(ctx context.Context, task models.IngestTask) error

var ErrPoolClosed = errors.New("worker pool is closed")

// WorkerPool runs tasks on a fixed number of goroutines fed by a buffered
// channel. Tasks still buffered at shutdown are dropped; the stale sweep
// fails their versions.
type WorkerPool struct {
	tasks   chan models.IngestTask
	handler Handler
	workers int
	log     *logger.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewWorkerPool(workers, buffer int, handler Handler, log *logger.Logger) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if buffer < 0 {
		buffer = 0
	}
	return &WorkerPool{
		tasks:   make(chan models.IngestTask, buffer),
		handler: handler,
		workers: workers,
		log:     log.With("component", "WorkerPool"),
	}
}

func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work(ctx, i)
	}
	p.log.Info("worker pool started", "workers", p.workers)
}

func (p *WorkerPool) work(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			p.run(ctx, id, task)
		}
	}
}

func (p *WorkerPool) run(ctx context.Context, id int, task models.IngestTask) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("task handler panic", "worker", id, "version_id", task.VersionID, "panic", r)
		}
	}()
	if err := p.handler(ctx, task); err != nil {
		p.log.Error("task failed", "worker", id, "version_id", task.VersionID, "error", err)
	}
}

// Dispatch blocks while the buffer is full, until ctx is done.
func (p *WorkerPool) Dispatch(ctx context.Context, task models.IngestTask) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to dispatch task: %w", ctx.Err())
	}
}

// Close stops accepting tasks and waits for the workers to drain the
// buffer. Workers also stop when the Start context is cancelled.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Info("worker pool stopped")
}
