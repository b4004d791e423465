package execution

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/opsdesk/opsdesk/internal/models"
	"github.com/opsdesk/opsdesk/internal/testutil"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedEmailExecution(t *testing.T, db *gorm.DB) (*models.AutomationTrigger, *models.Email, *models.AutomationExecution) {
	t.Helper()

	trigger := testutil.Trigger("reply-"+uuid.NewString()[:8], models.TriggerTypeEmailReceived, "send_auto_reply", nil)
	email := &models.Email{
		ID:               uuid.New(),
		MessageID:        "<" + uuid.NewString() + "@mail>",
		EmployeeEmail:    "agent@example.com",
		Subject:          "Hello",
		AutomationStatus: models.AutomationStatusPending,
	}
	exec := testutil.PendingExecution(trigger, email.ID.String(), time.Now().UTC())
	testutil.MustCreate(t, db, trigger, email, exec)
	return trigger, email, exec
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to models.ExecutionStatus
		ok       bool
	}{
		{models.ExecutionStatusPending, models.ExecutionStatusRunning, true},
		{models.ExecutionStatusRunning, models.ExecutionStatusCompleted, true},
		{models.ExecutionStatusRunning, models.ExecutionStatusFailed, true},
		{models.ExecutionStatusPending, models.ExecutionStatusCompleted, false},
		{models.ExecutionStatusPending, models.ExecutionStatusFailed, false},
		{models.ExecutionStatusRunning, models.ExecutionStatusPending, false},
		{models.ExecutionStatusCompleted, models.ExecutionStatusRunning, false},
		{models.ExecutionStatusFailed, models.ExecutionStatusPending, false},
		{models.ExecutionStatusCompleted, models.ExecutionStatusFailed, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.ok, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestStoreClaimIsCompareAndSwap(t *testing.T) {
	db := testutil.OpenTestDB(t)
	t.Cleanup(func() { testutil.CloseDB(db) })

	_, _, exec := seedEmailExecution(t, db)
	store := NewStore(db)

	claimed, err := store.Claim(context.Background(), exec.ID, "node-a")
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusRunning, claimed.Status)
	require.Equal(t, "node-a", claimed.ClaimedBy)
	require.NotNil(t, claimed.StartedAt)

	_, err = store.Claim(context.Background(), exec.ID, "node-b")
	require.ErrorIs(t, err, ErrConflict)

	stored, err := store.Get(context.Background(), exec.ID)
	require.NoError(t, err)
	require.Equal(t, "node-a", stored.ClaimedBy)
}

func TestStoreClaimRefusesSecondRunningExecutionForSource(t *testing.T) {
	db := testutil.OpenTestDB(t)
	t.Cleanup(func() { testutil.CloseDB(db) })

	trigger, email, first := seedEmailExecution(t, db)
	second := testutil.PendingExecution(trigger, email.ID.String(), time.Now().UTC())
	testutil.MustCreate(t, db, second)

	store := NewStore(db)
	_, err := store.Claim(context.Background(), first.ID, "node-a")
	require.NoError(t, err)

	_, err = store.Claim(context.Background(), second.ID, "node-b")
	require.ErrorIs(t, err, ErrConflict)

	stored, err := store.Get(context.Background(), second.ID)
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusPending, stored.Status)
}

func TestStoreFinishFlipsEventAndIsTerminal(t *testing.T) {
	db := testutil.OpenTestDB(t)
	t.Cleanup(func() { testutil.CloseDB(db) })

	_, email, exec := seedEmailExecution(t, db)
	store := NewStore(db)
	ctx := context.Background()

	_, err := store.Claim(ctx, exec.ID, "node-a")
	require.NoError(t, err)

	actions := []models.ActionRecord{{Action: "sent_reply", Result: map[string]any{"message_id": "m-1"}, At: time.Now().UTC()}}
	require.NoError(t, store.AppendActions(ctx, exec.ID, actions))

	completedAt, err := store.Finish(ctx, exec.ID, Outcome{
		Status:     models.ExecutionStatusCompleted,
		Actions:    actions,
		SourceType: models.TriggerTypeEmailReceived,
		SourceID:   email.ID.String(),
	})
	require.NoError(t, err)
	require.NotNil(t, completedAt)

	stored, err := store.Get(ctx, exec.ID)
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusCompleted, stored.Status)
	require.Len(t, stored.ActionsTaken, 1)
	require.Equal(t, "sent_reply", stored.ActionsTaken[0].Action)
	require.NotNil(t, stored.CompletedAt)

	var event models.Email
	require.NoError(t, db.First(&event, "id = ?", email.ID).Error)
	require.Equal(t, models.AutomationStatusCompleted, event.AutomationStatus)
	require.NotNil(t, event.AutomationProcessedAt)

	// terminal executions never change again
	_, err = store.Finish(ctx, exec.ID, Outcome{Status: models.ExecutionStatusFailed, Error: "late"})
	require.ErrorIs(t, err, ErrConflict)
	require.ErrorIs(t, store.AppendActions(ctx, exec.ID, nil), ErrConflict)

	again, err := store.Get(ctx, exec.ID)
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusCompleted, again.Status)
	require.Nil(t, again.ErrorMessage)
	require.True(t, stored.CompletedAt.Equal(*again.CompletedAt))
}

func TestStoreFinishRequiresRunning(t *testing.T) {
	db := testutil.OpenTestDB(t)
	t.Cleanup(func() { testutil.CloseDB(db) })

	_, _, exec := seedEmailExecution(t, db)
	store := NewStore(db)

	_, err := store.Finish(context.Background(), exec.ID, Outcome{Status: models.ExecutionStatusCompleted})
	require.ErrorIs(t, err, ErrConflict)

	_, err = store.Finish(context.Background(), exec.ID, Outcome{Status: models.ExecutionStatusPending})
	require.Error(t, err)
}

func TestStoreRetryCreatesNewAttempt(t *testing.T) {
	db := testutil.OpenTestDB(t)
	t.Cleanup(func() { testutil.CloseDB(db) })

	_, email, exec := seedEmailExecution(t, db)
	store := NewStore(db)
	ctx := context.Background()

	_, err := store.Retry(ctx, exec.ID, "emp-1")
	require.ErrorIs(t, err, ErrNotRetryable)

	_, err = store.Claim(ctx, exec.ID, "node-a")
	require.NoError(t, err)
	_, err = store.Finish(ctx, exec.ID, Outcome{
		Status:       models.ExecutionStatusFailed,
		FailedAction: "send_reply",
		Error:        "smtp unavailable",
		SourceType:   models.TriggerTypeEmailReceived,
		SourceID:     email.ID.String(),
	})
	require.NoError(t, err)

	retried, err := store.Retry(ctx, exec.ID, "emp-1")
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusPending, retried.Status)
	require.Equal(t, 2, retried.Attempt)
	require.Equal(t, exec.ID, *retried.RetryOf)
	require.Equal(t, "emp-1", retried.TriggeredBy)

	var event models.Email
	require.NoError(t, db.First(&event, "id = ?", email.ID).Error)
	require.Equal(t, models.AutomationStatusPending, event.AutomationStatus)

	original, err := store.Get(ctx, exec.ID)
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusFailed, original.Status)
	require.Equal(t, "smtp unavailable", *original.ErrorMessage)

	_, err = store.Retry(ctx, exec.ID, "emp-1")
	require.ErrorIs(t, err, ErrNotRetryable)

	_, err = store.Retry(ctx, uuid.New(), "emp-1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStoreListFilters(t *testing.T) {
	db := testutil.OpenTestDB(t)
	t.Cleanup(func() { testutil.CloseDB(db) })

	trigger, email, _ := seedEmailExecution(t, db)
	done := testutil.PendingExecution(trigger, email.ID.String(), time.Now().UTC().Add(time.Minute))
	done.Status = models.ExecutionStatusCompleted
	testutil.MustCreate(t, db, done)

	store := NewStore(db)
	all, err := store.List(context.Background(), &ListRequest{TriggerID: trigger.ID.String()})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, done.ID, all[0].ID)

	completed, err := store.List(context.Background(), &ListRequest{Status: "COMPLETED"})
	require.NoError(t, err)
	require.Len(t, completed, 1)

	_, err = store.List(context.Background(), &ListRequest{TriggerID: "not-a-uuid"})
	require.Error(t, err)
}

func TestStoreSurfacesPersistenceError(t *testing.T) {
	db := testutil.OpenTestDB(t)

	_, _, exec := seedEmailExecution(t, db)
	store := NewStore(db, WithRetry(1, time.Millisecond))
	_, err := store.Claim(context.Background(), exec.ID, "node-a")
	require.NoError(t, err)

	testutil.CloseDB(db)

	err = store.AppendActions(context.Background(), exec.ID, []models.ActionRecord{{Action: "sent_reply"}})
	require.Error(t, err)
	require.True(t, IsPersistenceError(err))
}

func TestStoreClaimDoesNotReadAfterUpdate(t *testing.T) {
	db := testutil.OpenTestDB(t)
	t.Cleanup(func() { testutil.CloseDB(db) })

	_, _, exec := seedEmailExecution(t, db)

	var updated atomic.Bool
	require.NoError(t, db.Callback().Update().After("gorm:update").Register("test:mark_updated", func(tx *gorm.DB) {
		if tx.Error == nil && tx.RowsAffected > 0 {
			updated.Store(true)
		}
	}))
	require.NoError(t, db.Callback().Query().Before("gorm:query").Register("test:reset_after_update", func(tx *gorm.DB) {
		if updated.Load() {
			_ = tx.AddError(errors.New("connection reset"))
		}
	}))

	store := NewStore(db)
	claimed, err := store.Claim(context.Background(), exec.ID, "node-a")
	require.NoError(t, err)
	require.True(t, updated.Load())
	require.Equal(t, exec.ID, claimed.ID)
	require.Equal(t, models.ExecutionStatusRunning, claimed.Status)
	require.Equal(t, "node-a", claimed.ClaimedBy)
	require.NotNil(t, claimed.StartedAt)

	updated.Store(false)
	stored, err := store.Get(context.Background(), exec.ID)
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusRunning, stored.Status)
}

func TestStoreClaimUnknownExecutionIsConflict(t *testing.T) {
	db := testutil.OpenTestDB(t)
	t.Cleanup(func() { testutil.CloseDB(db) })

	_, err := NewStore(db).Claim(context.Background(), uuid.New(), "node-a")
	require.ErrorIs(t, err, ErrConflict)
}
