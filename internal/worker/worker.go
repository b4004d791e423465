package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/opsdesk/opsdesk/internal/runner"
	"github.com/opsdesk/opsdesk/internal/trigger"
	"github.com/opsdesk/opsdesk/pkg/log"
)

type Claimer interface {
	ClaimNext(ctx context.Context) (*trigger.Pending, error)
}

type Releaser interface {
	Release(id uuid.UUID)
}

// ExecutionRunner runs one execution by id.
type ExecutionRunner interface {
	Run(ctx context.Context, id uuid.UUID) (*runner.Result, error)
}

type Executor func(ctx context.Context, pending *trigger.Pending)

type Worker struct {
	claimer      Claimer
	pool         *Pool
	pollInterval time.Duration
	executor     Executor
}

func NewWorker(claimer Claimer, pool *Pool, pollInterval time.Duration, executor Executor) *Worker {
	if claimer == nil {
		panic("worker requires execution claimer")
	}
	if pool == nil {
		pool = NewPool(1)
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if executor == nil {
		executor = func(context.Context, *trigger.Pending) {}
	}

	return &Worker{
		claimer:      claimer,
		pool:         pool,
		pollInterval: pollInterval,
		executor:     executor,
	}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.pool.Wait()
			return nil
		default:
		}

		pending, err := w.claimer.ClaimNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.pool.Wait()
				return nil
			}
			log.Error("failed to claim next execution", "error", err)
		}

		if err != nil || pending == nil {
			if sleepErr := sleepWithContext(ctx, w.pollInterval); sleepErr != nil {
				w.pool.Wait()
				return nil
			}
			continue
		}

		if err := w.pool.Submit(ctx, func() {
			defer w.release(pending)
			w.executor(ctx, pending)
		}); err != nil {
			w.release(pending)
			if ctx.Err() != nil {
				w.pool.Wait()
				return nil
			}
			return err
		}
	}
}

func (w *Worker) release(p *trigger.Pending) {
	if r, ok := w.claimer.(Releaser); ok {
		r.Release(p.Execution.ID)
	}
}

// RunnerExecutor runs each claimed execution through r and logs the outcome.
func RunnerExecutor(r ExecutionRunner) Executor {
	return func(ctx context.Context, p *trigger.Pending) {
		result, err := r.Run(ctx, p.Execution.ID)
		if err != nil {
			log.Error("execution run failed", "execution_id", p.Execution.ID, "trigger", p.Trigger.TriggerName, "error", err)
			return
		}
		if result.Skipped {
			log.Debug("execution already claimed", "execution_id", p.Execution.ID)
		}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
