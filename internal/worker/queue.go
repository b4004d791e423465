package worker

import (
	"context"
	"sync"

	"github.com/opsdesk/opsdesk/internal/models"
	"github.com/opsdesk/opsdesk/pkg/log"
)

// Summary counts the outcomes of one queue pass.
type Summary struct {
	Found     int `json:"found"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// ProcessQueue runs one bounded pass over the pending executions and waits
// for all of them. Individual execution failures are counted, not returned.
func ProcessQueue(ctx context.Context, source PendingSource, r ExecutionRunner, pool *Pool, limit int) (Summary, error) {
	pending, err := source.FindPending(ctx, limit)
	if err != nil {
		return Summary{}, err
	}
	if pool == nil {
		pool = NewPool(1)
	}

	var (
		mu      sync.Mutex
		summary = Summary{Found: len(pending)}
	)
	for i := range pending {
		p := pending[i]
		if err := pool.Submit(ctx, func() {
			result, err := r.Run(ctx, p.Execution.ID)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				summary.Errors++
				log.Error("execution run failed", "execution_id", p.Execution.ID, "error", err)
			case result.Skipped:
				summary.Skipped++
			case result.Status == models.ExecutionStatusCompleted:
				summary.Completed++
			default:
				summary.Failed++
			}
		}); err != nil {
			pool.Wait()
			return summary, err
		}
	}
	pool.Wait()

	log.Info("automation queue processed",
		"found", summary.Found, "completed", summary.Completed,
		"failed", summary.Failed, "skipped", summary.Skipped, "errors", summary.Errors)
	return summary, nil
}
