package worker

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/opsdesk/opsdesk/internal/trigger"
)

// PendingSource lists executions that are ready to run.
type PendingSource interface {
	FindPending(ctx context.Context, limit int) ([]trigger.Pending, error)
}

// QueueClaimer hands out pending executions one at a time. An execution
// stays reserved on this node until Release, so a slow run is not handed
// out twice; the runner's status claim still decides across nodes.
type QueueClaimer struct {
	source PendingSource
	batch  int

	mu       sync.Mutex
	buffer   []trigger.Pending
	inflight map[uuid.UUID]struct{}
}

func NewQueueClaimer(source PendingSource, batch int) *QueueClaimer {
	if source == nil {
		panic("worker claimer requires a pending source")
	}
	if batch <= 0 {
		batch = trigger.DefaultBatch
	}
	return &QueueClaimer{
		source:   source,
		batch:    batch,
		inflight: map[uuid.UUID]struct{}{},
	}
}

// ClaimNext returns the next pending execution, or nil when none is ready.
func (c *QueueClaimer) ClaimNext(ctx context.Context) (*trigger.Pending, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	empty := len(c.buffer) == 0
	c.mu.Unlock()

	if empty {
		found, err := c.source.FindPending(ctx, c.batch)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.buffer = append(c.buffer, found...)
		c.mu.Unlock()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.buffer) > 0 {
		next := c.buffer[0]
		c.buffer = c.buffer[1:]

		if _, busy := c.inflight[next.Execution.ID]; busy {
			continue
		}
		c.inflight[next.Execution.ID] = struct{}{}
		return &next, nil
	}
	return nil, nil
}

// Release frees a reservation made by ClaimNext.
func (c *QueueClaimer) Release(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, id)
}

// InFlight reports how many executions are reserved.
func (c *QueueClaimer) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}
