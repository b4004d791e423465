package callback

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/opsdesk/opsdesk/internal/metrics"
	mtestutil "github.com/opsdesk/opsdesk/internal/metrics/testutil"
	"github.com/opsdesk/opsdesk/internal/models"
	"github.com/opsdesk/opsdesk/internal/testutil"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedFinished(t *testing.T, db *gorm.DB, notifyURL string) (*models.AutomationExecution, *models.AutomationTrigger) {
	t.Helper()

	trigger := testutil.Trigger("notify-"+uuid.NewString()[:8], models.TriggerTypeEmailReceived, "send_auto_reply", nil)
	trigger.NotifyURL = notifyURL

	started := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	completed := started.Add(2 * time.Second)
	msg := "send_reply: mail unavailable"

	exec := testutil.PendingExecution(trigger, uuid.NewString(), started)
	exec.Status = models.ExecutionStatusFailed
	exec.FailedAction = "send_reply"
	exec.ErrorMessage = &msg
	exec.StartedAt = &started
	exec.CompletedAt = &completed

	testutil.MustCreate(t, db, trigger, exec)
	return exec, trigger
}

// steppingClock returns strictly increasing timestamps.
func steppingClock() func() time.Time {
	var n atomic.Int64
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return func() time.Time {
		return base.Add(time.Duration(n.Add(1)) * time.Second)
	}
}

func TestDispatchNotificationSuccess(t *testing.T) {
	db := testutil.OpenTestDB(t)
	defer testutil.CloseDB(db)

	var received atomic.Bool
	var receivedMeta Metadata

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() { _ = r.Body.Close() }()
		received.Store(true)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		if err := json.NewDecoder(r.Body).Decode(&receivedMeta); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	exec, trigger := seedFinished(t, db, server.URL)

	before := mtestutil.CounterValue(t, metrics.CallbacksTotal, string(models.CallbackStatusSucceeded))

	dispatcher := NewDispatcher(db, time.Second)
	dispatcher.WithHTTPClient(server.Client())

	require.NoError(t, dispatcher.Dispatch(context.Background(), exec, trigger))

	require.True(t, received.Load(), "callback should have been sent")
	require.Equal(t, exec.ID, receivedMeta.ExecutionID)
	require.Equal(t, trigger.TriggerName, receivedMeta.TriggerName)
	require.Equal(t, "failed", receivedMeta.Status)
	require.Equal(t, "send_reply", receivedMeta.FailedAction)
	require.Equal(t, "send_reply: mail unavailable", receivedMeta.Error)

	history, err := dispatcher.History(context.Background(), exec.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, models.CallbackStatusSucceeded, history[0].Status)
	require.NotNil(t, history[0].CompletedAt)

	require.Equal(t, before+1, mtestutil.CounterValue(t, metrics.CallbacksTotal, string(models.CallbackStatusSucceeded)))
}

func TestDispatchWithoutNotifyURLIsNoop(t *testing.T) {
	db := testutil.OpenTestDB(t)
	defer testutil.CloseDB(db)

	exec, trigger := seedFinished(t, db, "")

	require.NoError(t, NewDispatcher(db, time.Second).Dispatch(context.Background(), exec, trigger))
	testutil.AssertCount(t, db, &models.Callback{}, 0)
}

func TestDispatchRejectsOpenExecution(t *testing.T) {
	db := testutil.OpenTestDB(t)
	defer testutil.CloseDB(db)

	exec, trigger := seedFinished(t, db, "http://127.0.0.1:1/hook")
	exec.Status = models.ExecutionStatusRunning

	require.Error(t, NewDispatcher(db, time.Second).Dispatch(context.Background(), exec, trigger))
	testutil.AssertCount(t, db, &models.Callback{}, 0)
}

func TestRetryFailedCallbacks(t *testing.T) {
	db := testutil.OpenTestDB(t)
	defer testutil.CloseDB(db)

	var attempt int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() { _ = r.Body.Close() }()
		if atomic.AddInt32(&attempt, 1) == 1 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	exec, trigger := seedFinished(t, db, server.URL)

	dispatcher := NewDispatcher(db, time.Second)
	dispatcher.now = steppingClock()
	dispatcher.WithHTTPClient(server.Client())

	err := dispatcher.Dispatch(context.Background(), exec, trigger)
	require.Error(t, err)
	require.Contains(t, err.Error(), "webhook responded 500: boom")

	require.NoError(t, dispatcher.RetryFailed(context.Background(), exec.ID))
	require.Equal(t, int32(2), atomic.LoadInt32(&attempt))

	history, err := dispatcher.History(context.Background(), exec.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, models.CallbackStatusFailed, history[0].Status)
	require.Contains(t, history[0].Error, "boom")
	require.Equal(t, models.CallbackStatusSucceeded, history[1].Status)

	// the latest delivery succeeded, so there is nothing left to retry
	require.NoError(t, dispatcher.RetryFailed(context.Background(), exec.ID))
	require.Equal(t, int32(2), atomic.LoadInt32(&attempt))
}
