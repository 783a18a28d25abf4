package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var ErrPoolClosed = errors.New("worker pool closed")

type job struct {
	ctx context.Context
	run func()
}

// Pool is a fixed set of workers fed by a buffered queue. Submissions beyond
// the queue capacity block until a slot frees up or their context ends.
type Pool struct {
	size    int
	jobs    chan job
	quit    chan struct{}
	running atomic.Int32
	wg      sync.WaitGroup
	once    sync.Once
}

func NewPool(size, queueCapacity int) *Pool {
	if size <= 0 {
		size = DefaultPoolSize()
	}
	if queueCapacity < 0 {
		queueCapacity = 0
	}
	p := &Pool{
		size: size,
		jobs: make(chan job, queueCapacity),
		quit: make(chan struct{}),
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.quit:
			return
		case j := <-p.jobs:
			// expired while queued: nobody is waiting for it
			if j.ctx.Err() != nil {
				continue
			}
			p.running.Add(1)
			j.run()
			p.running.Add(-1)
		}
	}
}

// Submit queues fn. It returns the context error if ctx ends first.
func (p *Pool) Submit(ctx context.Context, fn func()) error {
	select {
	case <-p.quit:
		return ErrPoolClosed
	default:
	}

	select {
	case p.jobs <- job{ctx: ctx, run: fn}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrPoolClosed
	}
}

func (p *Pool) Size() int {
	return p.size
}

func (p *Pool) Running() int {
	return int(p.running.Load())
}

func (p *Pool) Queued() int {
	return len(p.jobs)
}

// Close stops the workers once their current job returns.
func (p *Pool) Close() {
	p.once.Do(func() {
		close(p.quit)
	})
	p.wg.Wait()
}
