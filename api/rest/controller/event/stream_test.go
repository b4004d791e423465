package event

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/opsdesk/opsdesk/internal/event"
	"github.com/stretchr/testify/require"
)

func TestStreamDeliversMatchingEvents(t *testing.T) {
	bus := event.New()
	ctrl := New(bus)
	ctrl.keepAlive = 20 * time.Millisecond

	e := echo.New()
	e.GET("/events", ctrl.Stream)
	srv := httptest.NewServer(e)
	defer srv.Close()

	execID := uuid.New()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events?execution_id="+execID.String()+"&types=execution_completed", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get(echo.HeaderContentType))

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	// the first ping means the subscription is registered
	require.Equal(t, ": ping", <-lines)

	bus.Publish(event.Event{Type: event.TypeExecutionStarted, ExecutionID: execID, Timestamp: time.Now()})
	bus.Publish(event.Event{Type: event.TypeExecutionCompleted, ExecutionID: uuid.New(), Timestamp: time.Now()})
	bus.Publish(event.Event{Type: event.TypeExecutionCompleted, ExecutionID: execID, Timestamp: time.Now()})

	for line := range lines {
		if strings.HasPrefix(line, "event: ") {
			require.Equal(t, "event: execution_completed", line)
			data := <-lines
			require.True(t, strings.HasPrefix(data, "data: "))
			require.Contains(t, data, execID.String())
			return
		}
	}
	t.Fatal("stream ended without an event")
}

func TestStreamRejectsBadFilter(t *testing.T) {
	e := echo.New()
	e.GET("/events", New(event.New()).Stream)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events?trigger_id=nope", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
