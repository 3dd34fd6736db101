package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrPoolClosed is returned by Submit once the pool has been closed.
var ErrPoolClosed = errors.New("transfer: worker pool closed")

const (
	// minWorkers is the floor for the worker count: one per scheduler stage.
	minWorkers = 4
	// taskBuffer bounds how many submitted tasks may wait for a worker.
	taskBuffer = 64
)

// Pool is a fixed set of goroutines executing submitted tasks. Schedulers
// hand their stage drains to a shared Pool.
type Pool struct {
	logger *slog.Logger
	tasks  chan func(context.Context)
	g      *errgroup.Group
	ctx    context.Context

	mu     sync.RWMutex
	closed bool
}

// NewPool starts workers goroutines (at least 4) that run until ctx is
// canceled or Close is called.
func NewPool(ctx context.Context, workers int, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}

	if workers < minWorkers {
		workers = minWorkers
	}

	g, gctx := errgroup.WithContext(ctx)

	p := &Pool{
		logger: logger,
		tasks:  make(chan func(context.Context), taskBuffer),
		g:      g,
		ctx:    gctx,
	}

	for range workers {
		g.Go(func() error {
			p.worker(gctx)
			return nil
		})
	}

	logger.Debug("worker pool started", slog.Int("workers", workers))

	return p
}

// Submit queues fn for execution. It blocks while the task buffer is full.
func (p *Pool) Submit(ctx context.Context, fn func(context.Context)) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.tasks <- fn:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("transfer: submitting task: %w", ctx.Err())
	case <-p.ctx.Done():
		return ErrPoolClosed
	}
}

// Close stops accepting tasks, lets queued tasks finish and waits for the
// workers to exit.
func (p *Pool) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()

	if err := p.g.Wait(); err != nil {
		return fmt.Errorf("transfer: worker pool: %w", err)
	}

	return nil
}

func (p *Pool) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn, ok := <-p.tasks:
			if !ok {
				return
			}

			p.safeRun(ctx, fn)
		}
	}
}

// safeRun wraps a task with panic recovery so one bad task doesn't take the
// process down.
func (p *Pool) safeRun(ctx context.Context, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker: panic in task", slog.Any("panic", r))
		}
	}()

	fn(ctx)
}
