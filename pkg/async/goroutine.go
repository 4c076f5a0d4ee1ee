package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/AOT-Technologies/m8flow/pkg/observability"
)

// Go runs fn in a goroutine with a timeout, panic recovery, and error
// logging. Use it instead of a bare `go func()` for fire-and-forget
// work such as cache invalidation.
func Go(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, name string, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				logger.WithFields(map[string]any{
					"task":  name,
					"panic": fmt.Sprint(r),
					"stack": string(debug.Stack()),
				}).Error("background task panicked")
			}
		}()

		if err := fn(ctx); err != nil {
			logger.WithError(err).WithField("task", name).Warn("background task failed")
		}
	}()
}

// Pool is a bounded worker pool with per-task timeouts and panic
// recovery. Errors are collected on a buffered channel; when the buffer
// is full further errors are logged and dropped.
type Pool struct {
	workers  int
	name     string
	timeout  time.Duration
	logger   *observability.Logger
	workCh   chan func(context.Context) error
	doneCh   chan struct{}
	errCh    chan error
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// NewPool starts workers goroutines consuming submitted tasks.
func NewPool(ctx context.Context, logger *observability.Logger, workers int, name string, timeout time.Duration) *Pool {
	ctx, cancel := context.WithCancel(ctx)
	p := &Pool{
		workers: workers,
		name:    name,
		timeout: timeout,
		logger:  logger,
		workCh:  make(chan func(context.Context) error, workers*2),
		doneCh:  make(chan struct{}),
		errCh:   make(chan error, workers*10),
		ctx:     ctx,
		cancel:  cancel,
	}

	go func() {
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				p.worker()
			}()
		}
		wg.Wait()
		close(p.doneCh)
	}()

	return p
}

// Submit queues a task. It fails once the pool has shut down.
func (p *Pool) Submit(fn func(context.Context) error) error {
	select {
	case <-p.doneCh:
		return fmt.Errorf("worker pool %q shut down", p.name)
	default:
	}

	// Shutdown may close workCh between the check above and the send.
	defer func() { recover() }()

	select {
	case p.workCh <- fn:
		return nil
	case <-p.doneCh:
		return fmt.Errorf("worker pool %q shut down", p.name)
	}
}

// Shutdown drains queued tasks, waiting up to timeout for workers to
// finish. Safe to call more than once.
func (p *Pool) Shutdown(timeout time.Duration) error {
	var err error
	p.stopOnce.Do(func() {
		func() {
			defer func() { recover() }() // channel may already be closed
			close(p.workCh)
		}()

		select {
		case <-p.doneCh:
			p.cancel()
		case <-time.After(timeout):
			p.cancel()
			err = fmt.Errorf("worker pool %q shutdown timed out after %v", p.name, timeout)
		}
	})
	return err
}

// Errors returns the channel collecting task errors.
func (p *Pool) Errors() <-chan error {
	return p.errCh
}

func (p *Pool) worker() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case fn, ok := <-p.workCh:
			if !ok {
				return
			}
			p.runTask(fn)
		}
	}
}

func (p *Pool) runTask(fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithFields(map[string]any{
				"pool":  p.name,
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			}).Error("pool task panicked")
			p.report(fmt.Errorf("panic: %v", r))
		}
	}()

	if err := fn(ctx); err != nil {
		p.report(err)
	}
}

func (p *Pool) report(err error) {
	select {
	case p.errCh <- err:
	default:
		p.logger.WithError(err).WithField("pool", p.name).Warn("error channel full, dropping error")
	}
}

// Batch runs fn over items with a bounded pool and returns every error
// encountered. It blocks until all items are processed or ctx is done.
func Batch[T any](ctx context.Context, logger *observability.Logger, items []T, workers int, name string, timeout time.Duration,
	fn func(context.Context, T) error) []error {

	pool := NewPool(ctx, logger, workers, name, timeout)

	for _, item := range items {
		item := item
		if err := pool.Submit(func(ctx context.Context) error {
			return fn(ctx, item)
		}); err != nil {
			return []error{err}
		}
	}

	close(pool.workCh)
	<-pool.doneCh
	pool.cancel()

	var errs []error
	for {
		select {
		case err := <-pool.errCh:
			errs = append(errs, err)
		default:
			return errs
		}
	}
}
