package worker

import (
	"context"
	"sync"
	"sync/atomic"
)

// Pool bounds concurrent goroutines using a semaphore.
type Pool struct {
	sem    chan struct{}
	wg     sync.WaitGroup
	active atomic.Int64
}

func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: make(chan struct{}, size)}
}

func (p *Pool) Submit(ctx context.Context, fn func()) error {
	select {
	case p.sem <- struct{}{}:
		p.wg.Add(1)
		p.active.Add(1)
		go func() {
			defer func() {
				p.active.Add(-1)
				<-p.sem
				p.wg.Done()
			}()
			fn()
		}()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Active reports how many submitted functions are still running.
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// Size is the pool's concurrency bound.
func (p *Pool) Size() int {
	return cap(p.sem)
}

func (p *Pool) Wait() {
	p.wg.Wait()
}
