// Package worker provides goroutine pool management.
//
// Naked goroutines are avoided: fan-out work such as creating a client's
// default roles goes through a Pool with context propagation.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"nexaauth.io/provisioner/internal/pkg/logger"
)

// ErrPoolClosed is returned when submitting to a closed pool.
var ErrPoolClosed = errors.New("worker pool is closed")

// Task is a context-aware task function.
type Task func(ctx context.Context)

// Pool wraps ants.Pool with context-aware submission.
type Pool struct {
	pool *ants.Pool
	name string
}

// Stats is a point-in-time snapshot of pool occupancy.
type Stats struct {
	Running int `json:"running"`
	Free    int `json:"free"`
	Cap     int `json:"cap"`
}

// NewPool creates a named pool with a fixed number of workers.
func NewPool(name string, size int) (*Pool, error) {
	panicHandler := func(p interface{}) {
		logger.Error("Worker panic recovered",
			zap.String("pool", name),
			zap.Any("panic", p),
			zap.Stack("stack"),
		)
	}

	p, err := ants.NewPool(size,
		ants.WithPanicHandler(panicHandler),
		ants.WithNonblocking(false),
		ants.WithExpiryDuration(10*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &Pool{pool: p, name: name}, nil
}

// Name returns the pool name used in logs.
func (p *Pool) Name() string {
	return p.name
}

// Submit submits a context-aware task.
// The task receives the caller's context and SHOULD check ctx.Done() at blocking points.
// If context is already cancelled, returns ctx.Err() immediately without submitting.
// A task whose context is cancelled while it waits in the queue is dropped.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	err := p.pool.Submit(func() {
		select {
		case <-ctx.Done():
			logger.Debug("Task skipped: context cancelled",
				zap.String("pool", p.name),
				zap.Error(ctx.Err()),
			)
			return
		default:
		}
		task(ctx)
	})
	if errors.Is(err, ants.ErrPoolClosed) {
		return ErrPoolClosed
	}
	return err
}

// Shutdown releases the pool, waiting up to timeout for running tasks.
func (p *Pool) Shutdown(timeout time.Duration) {
	if err := p.pool.ReleaseTimeout(timeout); err != nil {
		logger.Warn("Worker pool shutdown timeout",
			zap.String("pool", p.name),
			zap.Error(err),
		)
	}
}

// Stats returns pool occupancy for observability.
func (p *Pool) Stats() Stats {
	return Stats{
		Running: p.pool.Running(),
		Free:    p.pool.Free(),
		Cap:     p.pool.Cap(),
	}
}

// Batch runs independent tasks on a pool and collects one error per task
// in submission order. A nil *Pool runs every task inline.
type Batch struct {
	pool *Pool
	ctx  context.Context

	wg   sync.WaitGroup
	mu   sync.Mutex
	errs []error
}

// NewBatch starts an empty batch bound to ctx.
func (p *Pool) NewBatch(ctx context.Context) *Batch {
	return &Batch{pool: p, ctx: ctx}
}

// Go schedules fn. Unlike Submit, a task cancelled while queued still
// reports ctx.Err() so Wait never loses a slot.
func (b *Batch) Go(fn func(ctx context.Context) error) {
	b.mu.Lock()
	idx := len(b.errs)
	b.errs = append(b.errs, nil)
	b.mu.Unlock()

	run := func() {
		defer b.wg.Done()
		if err := b.ctx.Err(); err != nil {
			b.set(idx, err)
			return
		}
		b.set(idx, fn(b.ctx))
	}

	b.wg.Add(1)
	if b.pool == nil {
		run()
		return
	}
	if err := b.pool.pool.Submit(run); err != nil {
		if errors.Is(err, ants.ErrPoolClosed) {
			err = ErrPoolClosed
		}
		b.set(idx, err)
		b.wg.Done()
	}
}

// Wait blocks until every scheduled task has finished.
func (b *Batch) Wait() []error {
	b.wg.Wait()
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]error, len(b.errs))
	copy(out, b.errs)
	return out
}

func (b *Batch) set(idx int, err error) {
	b.mu.Lock()
	b.errs[idx] = err
	b.mu.Unlock()
}
