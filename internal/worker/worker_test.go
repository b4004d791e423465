package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/opsdesk/opsdesk/internal/models"
	"github.com/opsdesk/opsdesk/internal/runner"
	"github.com/opsdesk/opsdesk/internal/trigger"
	"github.com/stretchr/testify/require"
)

func pendingExecution() trigger.Pending {
	return trigger.Pending{
		Trigger:   &models.AutomationTrigger{ID: uuid.New(), TriggerName: "reply"},
		Execution: &models.AutomationExecution{ID: uuid.New(), Status: models.ExecutionStatusPending},
	}
}

func TestWorkerRunExecutesClaimedExecutions(t *testing.T) {
	var executed int32
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	first, second := pendingExecution(), pendingExecution()
	claimer := &sequenceClaimer{
		responses: []claimerResponse{
			{pending: &first},
			{pending: &second},
		},
	}

	worker := NewWorker(claimer, NewPool(2), time.Millisecond, func(_ context.Context, _ *trigger.Pending) {
		if atomic.AddInt32(&executed, 1) == 2 {
			cancel()
		}
	})

	require.NoError(t, worker.Run(ctx))
	require.Equal(t, int32(2), atomic.LoadInt32(&executed))
	require.ElementsMatch(t, []uuid.UUID{first.Execution.ID, second.Execution.ID}, claimer.releasedIDs())
}

func TestWorkerRunContinuesAfterClaimErrors(t *testing.T) {
	var executed int32
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	p := pendingExecution()
	claimer := &sequenceClaimer{
		responses: []claimerResponse{
			{err: errors.New("transient database failure")},
			{pending: &p},
		},
	}

	worker := NewWorker(claimer, NewPool(1), time.Millisecond, func(_ context.Context, _ *trigger.Pending) {
		atomic.AddInt32(&executed, 1)
		cancel()
	})

	require.NoError(t, worker.Run(ctx))
	require.Equal(t, int32(1), atomic.LoadInt32(&executed))
}

func TestQueueClaimerReservesUntilRelease(t *testing.T) {
	a, b := pendingExecution(), pendingExecution()
	source := &staticSource{pending: []trigger.Pending{a, b}}
	claimer := NewQueueClaimer(source, 5)
	ctx := context.Background()

	got, err := claimer.ClaimNext(ctx)
	require.NoError(t, err)
	require.Equal(t, a.Execution.ID, got.Execution.ID)

	got, err = claimer.ClaimNext(ctx)
	require.NoError(t, err)
	require.Equal(t, b.Execution.ID, got.Execution.ID)
	require.Equal(t, 2, claimer.InFlight())

	// both are still reserved, so a refetch yields nothing new
	got, err = claimer.ClaimNext(ctx)
	require.NoError(t, err)
	require.Nil(t, got)

	claimer.Release(a.Execution.ID)
	got, err = claimer.ClaimNext(ctx)
	require.NoError(t, err)
	require.Equal(t, a.Execution.ID, got.Execution.ID)
	require.Equal(t, 5, source.lastLimit)
}

func TestProcessQueueCountsOutcomes(t *testing.T) {
	pending := []trigger.Pending{pendingExecution(), pendingExecution(), pendingExecution(), pendingExecution()}
	outcomes := map[uuid.UUID]fakeOutcome{
		pending[0].Execution.ID: {result: &runner.Result{Status: models.ExecutionStatusCompleted}},
		pending[1].Execution.ID: {result: &runner.Result{Status: models.ExecutionStatusFailed}},
		pending[2].Execution.ID: {result: &runner.Result{Skipped: true}},
		pending[3].Execution.ID: {err: errors.New("persist finish: database is closed")},
	}

	summary, err := ProcessQueue(context.Background(), &staticSource{pending: pending}, &fakeRunner{outcomes: outcomes}, NewPool(2), 10)
	require.NoError(t, err)
	require.Equal(t, Summary{Found: 4, Completed: 1, Failed: 1, Skipped: 1, Errors: 1}, summary)
}

func TestProcessQueueSurfacesSourceErrors(t *testing.T) {
	_, err := ProcessQueue(context.Background(), &staticSource{err: errors.New("no database")}, &fakeRunner{}, nil, 10)
	require.Error(t, err)
}

type claimerResponse struct {
	pending *trigger.Pending
	err     error
}

type sequenceClaimer struct {
	mu        sync.Mutex
	responses []claimerResponse
	released  []uuid.UUID
}

func (s *sequenceClaimer) ClaimNext(context.Context) (*trigger.Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.responses) == 0 {
		return nil, nil
	}

	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp.pending, resp.err
}

func (s *sequenceClaimer) Release(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = append(s.released, id)
}

func (s *sequenceClaimer) releasedIDs() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uuid.UUID(nil), s.released...)
}

type staticSource struct {
	pending   []trigger.Pending
	err       error
	lastLimit int
}

func (s *staticSource) FindPending(_ context.Context, limit int) ([]trigger.Pending, error) {
	s.lastLimit = limit
	return s.pending, s.err
}

type fakeOutcome struct {
	result *runner.Result
	err    error
}

type fakeRunner struct {
	outcomes map[uuid.UUID]fakeOutcome
}

func (f *fakeRunner) Run(_ context.Context, id uuid.UUID) (*runner.Result, error) {
	o := f.outcomes[id]
	return o.result, o.err
}
