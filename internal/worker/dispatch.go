package worker

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/opsdesk/opsdesk/pkg/log"
)

// Dispatcher runs executions enqueued by request handlers in the
// background, sharing the worker pool's bound.
type Dispatcher struct {
	ctx    context.Context
	runner ExecutionRunner
	pool   *Pool
	wg     sync.WaitGroup
}

// NewDispatcher runs executions under ctx until it is cancelled.
func NewDispatcher(ctx context.Context, r ExecutionRunner, pool *Pool) *Dispatcher {
	if pool == nil {
		pool = NewPool(1)
	}
	return &Dispatcher{ctx: ctx, runner: r, pool: pool}
}

// Dispatch returns immediately; the executions run once the pool has room.
func (d *Dispatcher) Dispatch(ids ...uuid.UUID) {
	if d == nil {
		return
	}
	for _, id := range ids {
		d.wg.Add(1)
		go func(id uuid.UUID) {
			defer d.wg.Done()

			done := make(chan struct{})
			if err := d.pool.Submit(d.ctx, func() {
				defer close(done)
				if _, err := d.runner.Run(d.ctx, id); err != nil {
					log.Error("background execution failed", "execution_id", id, "error", err)
				}
			}); err != nil {
				log.Warn("background execution not started", "execution_id", id, "error", err)
				return
			}
			<-done
		}(id)
	}
}

// Wait blocks until every dispatched execution finished.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}
