package crawler

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

type job func(ctx context.Context)

// WorkerPool runs jobs on a fixed number of goroutines fed by a bounded queue.
type WorkerPool struct {
	ctx    context.Context
	cancel context.CancelFunc
	jobs   chan job
	group  *errgroup.Group
}

// NewWorkerPool creates a pool with the given concurrency and queue size.
func NewWorkerPool(parent context.Context, concurrency, queueSize int) (*WorkerPool, error) {
	if concurrency <= 0 || queueSize <= 0 {
		return nil, errors.New("worker pool requires positive concurrency and queue size")
	}
	ctx, cancel := context.WithCancel(parent)
	group, _ := errgroup.WithContext(ctx)
	pool := &WorkerPool{
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(chan job, queueSize),
		group:  group,
	}
	for i := 0; i < concurrency; i++ {
		group.Go(pool.work)
	}
	return pool, nil
}

func (p *WorkerPool) work() error {
	for {
		select {
		case <-p.ctx.Done():
			return nil
		case fn, ok := <-p.jobs:
			if !ok {
				return nil
			}
			fn(p.ctx)
		}
	}
}

// Submit schedules a job, blocking while the queue is full.
func (p *WorkerPool) Submit(ctx context.Context, fn job) error {
	select {
	case <-p.ctx.Done():
		return p.ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	case p.jobs <- fn:
		return nil
	}
}

// Wait stops accepting jobs, lets the queued ones finish and waits for the workers.
func (p *WorkerPool) Wait() {
	close(p.jobs)
	_ = p.group.Wait()
	p.cancel()
}
